package tenants

import (
	"context"
	"database/sql"
	"errors"
)

// PGStore reads tenant credential sets from Postgres.
//
// Assumes the following table exists:
//
//	CREATE TABLE tenants (
//	    id                   TEXT PRIMARY KEY,
//	    twilio_account_sid   TEXT NOT NULL DEFAULT '',
//	    twilio_auth_token    TEXT NOT NULL DEFAULT '',
//	    phone_number         TEXT NOT NULL DEFAULT '',
//	    elevenlabs_api_key   TEXT NOT NULL DEFAULT '',
//	    elevenlabs_agent_id  TEXT NOT NULL DEFAULT '',
//	    created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) GetCredentials(ctx context.Context, tenantID string) (CredentialSet, error) {
	const q = `
SELECT id, twilio_account_sid, twilio_auth_token, phone_number, elevenlabs_api_key, elevenlabs_agent_id
FROM tenants
WHERE id = $1
`
	var set CredentialSet
	if err := s.db.QueryRowContext(ctx, q, tenantID).Scan(
		&set.TenantID,
		&set.TwilioAccountSID,
		&set.TwilioAuthToken,
		&set.PhoneNumber,
		&set.ElevenLabsAPIKey,
		&set.ElevenLabsAgentID,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CredentialSet{}, ErrTenantNotFound
		}
		return CredentialSet{}, err
	}
	return set, nil
}
