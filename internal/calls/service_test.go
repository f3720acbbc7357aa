package calls

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"voice-relay/internal/telephony"
	"voice-relay/internal/tenants"
)

type fakeProvider struct {
	createdFrom string
	createdTo   string
	createdURL  string
	createErr   error

	completed []string
	info      telephony.CallInfo
}

func (f *fakeProvider) CreateCall(_ context.Context, _ telephony.Account, from, to, callbackURL string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	f.createdFrom, f.createdTo, f.createdURL = from, to, callbackURL
	return "CA123", nil
}

func (f *fakeProvider) CompleteCall(_ context.Context, _ telephony.Account, callSID string) error {
	f.completed = append(f.completed, callSID)
	return nil
}

func (f *fakeProvider) FetchCall(_ context.Context, _ telephony.Account, _ string) (telephony.CallInfo, error) {
	return f.info, nil
}

type fakeLimiter struct {
	full     bool
	acquired int
	released int
}

func (f *fakeLimiter) Acquire(context.Context, string) (bool, error) {
	if f.full {
		return false, nil
	}
	f.acquired++
	return true, nil
}

func (f *fakeLimiter) Release(context.Context, string) error {
	f.released++
	return nil
}

func newTestService(provider telephony.Provider, limiter SlotLimiter) *Service {
	return newTestServiceWithRegistry(provider, limiter, NewMemoryRegistry())
}

func newTestServiceWithRegistry(provider telephony.Provider, limiter SlotLimiter, registry Registry) *Service {
	store := tenants.NewMemoryStore()
	store.Put(tenants.CredentialSet{
		TenantID:          "t1",
		TwilioAccountSID:  "AC1",
		TwilioAuthToken:   "tok",
		PhoneNumber:       "+15555550100",
		ElevenLabsAPIKey:  "key",
		ElevenLabsAgentID: "agent",
	})
	return NewService(tenants.NewResolver(store), provider, limiter, registry, "https://relay.example.com", nil)
}

func TestPlaceBuildsCallbackURL(t *testing.T) {
	p := &fakeProvider{}
	svc := newTestService(p, nil)

	sid, err := svc.Place(context.Background(), "t1", "+15555550123", "you are a scheduler", "hi there")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if sid != "CA123" {
		t.Fatalf("unexpected sid %q", sid)
	}
	if p.createdFrom != "+15555550100" || p.createdTo != "+15555550123" {
		t.Fatalf("unexpected from/to %q %q", p.createdFrom, p.createdTo)
	}

	u, err := url.Parse(p.createdURL)
	if err != nil {
		t.Fatalf("callback url: %v", err)
	}
	if u.Path != "/outbound-call-twiml" {
		t.Fatalf("unexpected path %q", u.Path)
	}
	q := u.Query()
	if q.Get("user_id") != "t1" || q.Get("prompt") != "you are a scheduler" || q.Get("first_message") != "hi there" {
		t.Fatalf("unexpected query %q", u.RawQuery)
	}
}

func TestPlaceValidatesRequiredFields(t *testing.T) {
	svc := newTestService(&fakeProvider{}, nil)

	if _, err := svc.Place(context.Background(), "", "+15555550123", "p", "f"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing tenant, got %v", err)
	}
	if _, err := svc.Place(context.Background(), "t1", "", "p", "f"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing number, got %v", err)
	}
}

func TestPlaceIncompleteCredentialsSkipsProvider(t *testing.T) {
	p := &fakeProvider{}
	store := tenants.NewMemoryStore()
	set := tenants.CredentialSet{
		TenantID:         "t1",
		TwilioAccountSID: "AC1",
		TwilioAuthToken:  "tok",
		PhoneNumber:      "+15555550100",
		ElevenLabsAPIKey: "key",
		// ElevenLabsAgentID intentionally missing
	}
	store.Put(set)
	svc := NewService(tenants.NewResolver(store), p, nil, NewMemoryRegistry(), "https://relay.example.com", nil)

	_, err := svc.Place(context.Background(), "t1", "+15555550123", "p", "f")
	if !errors.Is(err, tenants.ErrIncompleteCredentials) {
		t.Fatalf("expected ErrIncompleteCredentials, got %v", err)
	}
	if p.createdURL != "" {
		t.Fatalf("expected no provider request, got %q", p.createdURL)
	}
}

func TestPlaceRespectsConcurrencyCap(t *testing.T) {
	svc := newTestService(&fakeProvider{}, &fakeLimiter{full: true})
	if _, err := svc.Place(context.Background(), "t1", "+15555550123", "p", "f"); !errors.Is(err, ErrTooManyCalls) {
		t.Fatalf("expected ErrTooManyCalls, got %v", err)
	}
}

func TestPlaceReleasesSlotOnProviderFailure(t *testing.T) {
	lim := &fakeLimiter{}
	svc := newTestService(&fakeProvider{createErr: telephony.ErrProvider}, lim)

	if _, err := svc.Place(context.Background(), "t1", "+15555550123", "p", "f"); !errors.Is(err, telephony.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if lim.acquired != 1 || lim.released != 1 {
		t.Fatalf("expected acquire+release, got %d/%d", lim.acquired, lim.released)
	}
}

func TestEndCompletesAndReleases(t *testing.T) {
	p := &fakeProvider{}
	lim := &fakeLimiter{}
	svc := newTestService(p, lim)

	sid, err := svc.Place(context.Background(), "t1", "+15555550123", "p", "f")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if err := svc.End(context.Background(), "t1", sid); err != nil {
		t.Fatalf("end: %v", err)
	}
	if len(p.completed) != 1 || p.completed[0] != sid {
		t.Fatalf("expected CompleteCall for %s, got %v", sid, p.completed)
	}
	if lim.acquired != 1 || lim.released != 1 {
		t.Fatalf("expected one acquire and one release, got %d/%d", lim.acquired, lim.released)
	}
}

func TestPlaceRegistersActiveCall(t *testing.T) {
	reg := NewMemoryRegistry()
	svc := newTestServiceWithRegistry(&fakeProvider{}, nil, reg)

	sid, err := svc.Place(context.Background(), "t1", "+15555550123", "p", "f")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	owner, err := reg.ActiveTenant(context.Background(), sid)
	if err != nil {
		t.Fatalf("active tenant: %v", err)
	}
	if owner != "t1" {
		t.Fatalf("expected %s registered to t1, got %q", sid, owner)
	}
}

func TestEndReleasesSlotOnlyOnce(t *testing.T) {
	p := &fakeProvider{}
	lim := &fakeLimiter{}
	svc := newTestService(p, lim)

	sid, err := svc.Place(context.Background(), "t1", "+15555550123", "p", "f")
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := svc.End(context.Background(), "t1", sid); err != nil {
			t.Fatalf("end %d: %v", i, err)
		}
	}
	if lim.acquired != 1 || lim.released != 1 {
		t.Fatalf("expected one acquire and one release, got %d/%d", lim.acquired, lim.released)
	}
}

func TestStatusReturnsProviderMetadata(t *testing.T) {
	p := &fakeProvider{info: telephony.CallInfo{SID: "CA123", Status: "completed", Duration: "42"}}
	svc := newTestService(p, nil)

	info, err := svc.Status(context.Background(), "t1", "CA123")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if info.Status != "completed" || info.Duration != "42" {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestEndValidation(t *testing.T) {
	svc := newTestService(&fakeProvider{}, nil)
	if err := svc.End(context.Background(), "t1", " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
