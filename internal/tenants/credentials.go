package tenants

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrTenantNotFound = errors.New("tenants: tenant not found")

	// ErrIncompleteCredentials means the tenant record exists but at least
	// one of the five required fields is empty. Partial sets are treated as
	// absent: no call may be placed and no relay opened with them.
	ErrIncompleteCredentials = errors.New("tenants: missing required credentials")
)

// CredentialSet is the full set of telephony and voice-AI credentials a
// tenant needs before any call can involve them.
type CredentialSet struct {
	TenantID string

	TwilioAccountSID string
	TwilioAuthToken  string
	PhoneNumber      string

	ElevenLabsAPIKey  string
	ElevenLabsAgentID string
}

// Complete reports whether all five required fields are present.
func (s CredentialSet) Complete() bool {
	return strings.TrimSpace(s.TwilioAccountSID) != "" &&
		strings.TrimSpace(s.TwilioAuthToken) != "" &&
		strings.TrimSpace(s.PhoneNumber) != "" &&
		strings.TrimSpace(s.ElevenLabsAPIKey) != "" &&
		strings.TrimSpace(s.ElevenLabsAgentID) != ""
}

// Store abstracts the tenant credential store. Reads only.
type Store interface {
	GetCredentials(ctx context.Context, tenantID string) (CredentialSet, error)
}

// Resolver fetches and validates a tenant's credential set. It performs no
// caching: the initiator and the relay each fetch fresh on every use.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

func (r *Resolver) Resolve(ctx context.Context, tenantID string) (CredentialSet, error) {
	if strings.TrimSpace(tenantID) == "" {
		return CredentialSet{}, ErrTenantNotFound
	}

	set, err := r.store.GetCredentials(ctx, tenantID)
	if err != nil {
		return CredentialSet{}, err
	}
	if !set.Complete() {
		return CredentialSet{}, ErrIncompleteCredentials
	}
	return set, nil
}
