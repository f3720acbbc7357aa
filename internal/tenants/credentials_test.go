package tenants

import (
	"context"
	"errors"
	"testing"
)

func completeSet(tenantID string) CredentialSet {
	return CredentialSet{
		TenantID:          tenantID,
		TwilioAccountSID:  "AC123",
		TwilioAuthToken:   "tok",
		PhoneNumber:       "+15555550100",
		ElevenLabsAPIKey:  "el-key",
		ElevenLabsAgentID: "agent-1",
	}
}

func TestResolveReturnsCompleteSet(t *testing.T) {
	store := NewMemoryStore()
	store.Put(completeSet("t1"))

	r := NewResolver(store)
	set, err := r.Resolve(context.Background(), "t1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if set.PhoneNumber != "+15555550100" || set.ElevenLabsAgentID != "agent-1" {
		t.Fatalf("unexpected set: %+v", set)
	}
}

func TestResolveUnknownTenant(t *testing.T) {
	r := NewResolver(NewMemoryStore())
	if _, err := r.Resolve(context.Background(), "nope"); !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestResolveEmptyTenantID(t *testing.T) {
	r := NewResolver(NewMemoryStore())
	if _, err := r.Resolve(context.Background(), "  "); !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}
}

func TestResolveRejectsAnyMissingField(t *testing.T) {
	blank := func(mutate func(*CredentialSet)) CredentialSet {
		set := completeSet("t1")
		mutate(&set)
		return set
	}

	cases := map[string]CredentialSet{
		"account sid": blank(func(s *CredentialSet) { s.TwilioAccountSID = "" }),
		"auth token":  blank(func(s *CredentialSet) { s.TwilioAuthToken = "" }),
		"number":      blank(func(s *CredentialSet) { s.PhoneNumber = " " }),
		"api key":     blank(func(s *CredentialSet) { s.ElevenLabsAPIKey = "" }),
		"agent id":    blank(func(s *CredentialSet) { s.ElevenLabsAgentID = "" }),
	}

	for name, set := range cases {
		store := NewMemoryStore()
		store.Put(set)
		r := NewResolver(store)
		if _, err := r.Resolve(context.Background(), "t1"); !errors.Is(err, ErrIncompleteCredentials) {
			t.Fatalf("%s: expected ErrIncompleteCredentials, got %v", name, err)
		}
	}
}
