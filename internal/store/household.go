package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/livinlog/internal/model"
)

type HouseholdStore struct {
	db    DBTX
	scope model.Scope
}

func NewHouseholdStore(db DBTX, scope model.Scope) *HouseholdStore {
	return &HouseholdStore{db: db, scope: scope}
}

// HouseholdFilter narrows a household listing. Zero fields match everything.
type HouseholdFilter struct {
	ID           string
	NameContains string
	CreatedAfter time.Time
	Limit        int
}

const householdCols = `id, name, created_at, updated_at`

func (s *HouseholdStore) scanHousehold(sc scanner) (*model.Household, error) {
	var h model.Household
	if err := sc.Scan(&h.ID, &h.Name, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return nil, err
	}
	h.Scope = s.scope
	return &h, nil
}

// Insert writes a household that already carries its durable ID.
func (s *HouseholdStore) Insert(ctx context.Context, h *model.Household) error {
	if h.ID == "" {
		return fmt.Errorf("insert household: missing id")
	}
	now := time.Now().UTC()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = now
	}
	h.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO households (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		h.ID, h.Name, h.CreatedAt.UTC(), h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert household: %w", err)
	}
	h.Scope = s.scope
	return nil
}

// Upsert inserts the household or overwrites its mutable fields. The id and
// creation time of an existing row never change.
func (s *HouseholdStore) Upsert(ctx context.Context, h model.Household) error {
	if h.ID == "" {
		return fmt.Errorf("upsert household: missing id")
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	if h.UpdatedAt.IsZero() {
		h.UpdatedAt = h.CreatedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO households (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		h.ID, h.Name, h.CreatedAt.UTC(), h.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert household: %w", err)
	}
	return nil
}

func (s *HouseholdStore) UpdateName(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE households SET name = ?, updated_at = ? WHERE id = ?`,
		name, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update household: %w", err)
	}
	return nil
}

func (s *HouseholdStore) GetByID(ctx context.Context, id string) (*model.Household, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+householdCols+` FROM households WHERE id = ?`, id)
	h, err := s.scanHousehold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get household: %w", err)
	}
	return h, nil
}

// List returns matching households, most recently created first.
func (s *HouseholdStore) List(ctx context.Context, f HouseholdFilter) ([]model.Household, error) {
	var (
		where []string
		args  []any
	)
	if f.ID != "" {
		where = append(where, "id = ?")
		args = append(args, f.ID)
	}
	if f.NameContains != "" {
		where = append(where, "name LIKE ?")
		args = append(args, "%"+f.NameContains+"%")
	}
	if !f.CreatedAfter.IsZero() {
		where = append(where, "created_at > ?")
		args = append(args, f.CreatedAfter.UTC())
	}

	query := `SELECT ` + householdCols + ` FROM households`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list households: %w", err)
	}
	defer rows.Close()

	var households []model.Household
	for rows.Next() {
		h, err := s.scanHousehold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan household: %w", err)
		}
		households = append(households, *h)
	}
	return households, rows.Err()
}

func (s *HouseholdStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM households WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete household: %w", err)
	}
	return nil
}
