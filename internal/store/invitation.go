package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// InvitationStore remembers which invitation tokens were already accepted.
// Tokens are stored as fingerprints only.
type InvitationStore struct {
	db DBTX
}

func NewInvitationStore(db DBTX) *InvitationStore {
	return &InvitationStore{db: db}
}

// Lookup returns the household an accepted fingerprint resolved to.
func (s *InvitationStore) Lookup(ctx context.Context, fingerprint string) (string, bool, error) {
	var householdID string
	err := s.db.QueryRowContext(ctx,
		`SELECT household_id FROM accepted_invitations WHERE fingerprint = ?`, fingerprint,
	).Scan(&householdID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup invitation: %w", err)
	}
	return householdID, true, nil
}

func (s *InvitationStore) Record(ctx context.Context, fingerprint, householdID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accepted_invitations (fingerprint, household_id, accepted_at) VALUES (?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET household_id = excluded.household_id, accepted_at = excluded.accepted_at`,
		fingerprint, householdID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record invitation: %w", err)
	}
	return nil
}

// DeleteByHousehold forgets every invitation accepted for a household, so
// the same link can be used to join again after leaving.
func (s *InvitationStore) DeleteByHousehold(ctx context.Context, householdID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM accepted_invitations WHERE household_id = ?`, householdID)
	if err != nil {
		return fmt.Errorf("delete invitations: %w", err)
	}
	return nil
}
