package telephony

import (
	"context"
	"errors"
)

var (
	// ErrCallNotFound means the provider rejected the call id.
	ErrCallNotFound = errors.New("telephony: call not found")

	// ErrProvider wraps any other provider-side failure; the provider's own
	// message is attached where available.
	ErrProvider = errors.New("telephony: provider request failed")
)

// Account carries the per-tenant provider credentials for a single request.
// Credentials are resolved per operation by the caller; this package never
// caches them.
type Account struct {
	SID       string
	AuthToken string
}

// CallInfo is the provider's view of a call's lifecycle.
// Times and duration are passed through as provider-formatted strings;
// this subsystem does not interpret them.
type CallInfo struct {
	SID       string
	Status    string
	StartTime string
	EndTime   string
	Duration  string
}

// Provider defines the carrier control operations used by business logic.
//
// Rules:
// - No provider REST calls outside telephony adapters.
// - Keep request/response types provider-agnostic where practical.
type Provider interface {
	// CreateCall places an outbound call from `from` to `to`; the carrier
	// fetches call-control markup from callbackURL once the call connects.
	// Returns the provider-assigned call SID.
	CreateCall(ctx context.Context, acct Account, from, to, callbackURL string) (string, error)

	// CompleteCall transitions an in-progress call to completed (hangs up).
	CompleteCall(ctx context.Context, acct Account, callSID string) error

	// FetchCall returns current call metadata.
	FetchCall(ctx context.Context, acct Account, callSID string) (CallInfo, error)
}
