package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dukerupert/livinlog/internal/model"
)

// ShareStore caches the backend share record of each household locally.
type ShareStore struct {
	db DBTX
}

func NewShareStore(db DBTX) *ShareStore {
	return &ShareStore{db: db}
}

const shareCols = `id, household_id, title, thumbnail, url, permission, owner_scope, created_at, updated_at`

func scanShare(sc scanner) (*model.ShareRecord, error) {
	var s model.ShareRecord
	var perm, owner string
	if err := sc.Scan(&s.ID, &s.HouseholdID, &s.Title, &s.Thumbnail, &s.URL, &perm, &owner, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Permission = model.Permission(perm)
	s.Owner = model.Scope(owner)
	return &s, nil
}

func (s *ShareStore) GetByHousehold(ctx context.Context, householdID string) (*model.ShareRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shareCols+` FROM shares WHERE household_id = ?`, householdID)
	rec, err := scanShare(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get share: %w", err)
	}
	return rec, nil
}

// Put stores rec as the share of its household, replacing any previous
// record for that household.
func (s *ShareStore) Put(ctx context.Context, rec model.ShareRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shares (`+shareCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(household_id) DO UPDATE SET
		   id = excluded.id, title = excluded.title, thumbnail = excluded.thumbnail, url = excluded.url,
		   permission = excluded.permission, owner_scope = excluded.owner_scope, updated_at = excluded.updated_at`,
		rec.ID, rec.HouseholdID, rec.Title, rec.Thumbnail, rec.URL, string(rec.Permission), string(rec.Owner),
		rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("put share: %w", err)
	}
	return nil
}

func (s *ShareStore) DeleteByHousehold(ctx context.Context, householdID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM shares WHERE household_id = ?`, householdID)
	if err != nil {
		return fmt.Errorf("delete share: %w", err)
	}
	return nil
}
