package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"voice-relay/internal/telephony"
	"voice-relay/internal/tenants"
)

var (
	// ErrValidation means a required request field was absent.
	ErrValidation = errors.New("calls: missing required fields")

	// ErrTooManyCalls means the tenant is at its concurrent-call cap.
	ErrTooManyCalls = errors.New("calls: concurrent call limit reached")
)

// Service orchestrates outbound call placement, status, and termination.
// Credentials are resolved fresh on every operation; nothing is cached.
type Service struct {
	resolver *tenants.Resolver
	provider telephony.Provider
	limiter  SlotLimiter
	registry Registry

	// baseURL is this process's externally reachable URL; the carrier
	// fetches call-control markup from it.
	baseURL string

	log *slog.Logger
}

func NewService(resolver *tenants.Resolver, provider telephony.Provider, limiter SlotLimiter, registry Registry, baseURL string, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		resolver: resolver,
		provider: provider,
		limiter:  limiter,
		registry: registry,
		baseURL:  strings.TrimRight(baseURL, "/"),
		log:      log,
	}
}

// Place resolves the tenant's credentials and asks the carrier to create an
// outbound call; tenant id, prompt, and first message ride the callback URL
// so the markup responder can thread them into the media stream.
// Returns the provider-assigned call SID.
func (s *Service) Place(ctx context.Context, tenantID, number, prompt, firstMessage string) (string, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(number) == "" {
		return "", ErrValidation
	}

	creds, err := s.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return "", err
	}

	if s.limiter != nil {
		ok, err := s.limiter.Acquire(ctx, tenantID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", ErrTooManyCalls
		}
	}

	q := url.Values{}
	q.Set("user_id", tenantID)
	q.Set("prompt", prompt)
	q.Set("first_message", firstMessage)
	callbackURL := fmt.Sprintf("%s/outbound-call-twiml?%s", s.baseURL, q.Encode())

	sid, err := s.provider.CreateCall(ctx, telephony.Account{
		SID:       creds.TwilioAccountSID,
		AuthToken: creds.TwilioAuthToken,
	}, creds.PhoneNumber, number, callbackURL)
	if err != nil {
		if s.limiter != nil {
			if relErr := s.limiter.Release(ctx, tenantID); relErr != nil {
				s.log.Warn("call slot release failed", "tenant_id", tenantID, "err", relErr)
			}
		}
		return "", err
	}

	// The registry entry guards the acquired slot from here on; the relay
	// session re-registers the same key when the stream starts.
	if s.registry != nil {
		if err := s.registry.RegisterActive(ctx, sid, tenantID); err != nil {
			s.log.Warn("active-call register failed", "call_sid", sid, "err", err)
		}
	}

	s.log.Info("outbound call placed", "tenant_id", tenantID, "call_sid", sid, "to", number)
	return sid, nil
}

// End asks the carrier to transition the call to completed and frees the
// tenant's call slot.
func (s *Service) End(ctx context.Context, tenantID, callSID string) error {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(callSID) == "" {
		return ErrValidation
	}

	creds, err := s.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return err
	}

	if err := s.provider.CompleteCall(ctx, telephony.Account{
		SID:       creds.TwilioAccountSID,
		AuthToken: creds.TwilioAuthToken,
	}, callSID); err != nil {
		return err
	}

	s.releaseCall(ctx, tenantID, callSID)
	s.log.Info("outbound call ended", "tenant_id", tenantID, "call_sid", callSID)
	return nil
}

// Status fetches current call metadata from the carrier.
func (s *Service) Status(ctx context.Context, tenantID, callSID string) (telephony.CallInfo, error) {
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(callSID) == "" {
		return telephony.CallInfo{}, ErrValidation
	}

	creds, err := s.resolver.Resolve(ctx, tenantID)
	if err != nil {
		return telephony.CallInfo{}, err
	}

	return s.provider.FetchCall(ctx, telephony.Account{
		SID:       creds.TwilioAccountSID,
		AuthToken: creds.TwilioAuthToken,
	}, callSID)
}

// releaseCall clears the registry entry and, only when this caller removed
// it, the tenant's call slot. The relay session runs the same sequence when
// the media stream closes, so between the two paths one placed call frees
// exactly one slot. Failures are logged only, the provider-side hangup
// already succeeded.
func (s *Service) releaseCall(ctx context.Context, tenantID, callSID string) {
	if s.registry != nil {
		removed, err := s.registry.UnregisterActive(ctx, callSID)
		if err != nil {
			s.log.Warn("active-call unregister failed", "call_sid", callSID, "err", err)
			return
		}
		if !removed {
			return
		}
	}
	if s.limiter != nil {
		if err := s.limiter.Release(ctx, tenantID); err != nil {
			s.log.Warn("call slot release failed", "tenant_id", tenantID, "err", err)
		}
	}
}
