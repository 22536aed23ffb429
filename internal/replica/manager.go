// Package replica owns the owner and recipient stores and decides which
// physical file a read or write targets.
package replica

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/dukerupert/livinlog/internal/database"
	"github.com/dukerupert/livinlog/internal/model"
	"github.com/dukerupert/livinlog/internal/store"
)

// File names are part of the on-disk contract. Renaming either one orphans
// every existing user's data.
const (
	OwnerFileName     = "livinlog-owner.v1.sqlite"
	RecipientFileName = "livinlog-shared.v1.sqlite"
)

var ErrInitFailed = errors.New("replica initialization failed")

type Config struct {
	Dir         string
	ContainerID string
}

// Manager holds both replicas. Either both are open or Open failed.
type Manager struct {
	owner     *Replica
	recipient *Replica
	logger    *slog.Logger
}

// FileName returns the stable file name of the replica with the given scope.
func FileName(scope model.Scope) string {
	if scope == model.ScopeRecipient {
		return RecipientFileName
	}
	return OwnerFileName
}

// Open opens the owner and recipient replicas under cfg.Dir. Any failure
// closes whatever was opened and returns an error wrapping ErrInitFailed.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ContainerID == "" {
		return nil, fmt.Errorf("%w: container id is required", ErrInitFailed)
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: create data dir: %v", ErrInitFailed, err)
	}

	owner, err := openReplica(ctx, model.ScopeOwner, cfg)
	if err != nil {
		return nil, err
	}
	recipient, err := openReplica(ctx, model.ScopeRecipient, cfg)
	if err != nil {
		owner.close()
		return nil, err
	}

	logger.Info("replicas open", "owner", owner.path, "recipient", recipient.path, "container", cfg.ContainerID)
	return &Manager{owner: owner, recipient: recipient, logger: logger}, nil
}

func openReplica(ctx context.Context, scope model.Scope, cfg Config) (*Replica, error) {
	path := filepath.Join(cfg.Dir, FileName(scope))
	db, err := database.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s replica: %v", ErrInitFailed, scope, err)
	}
	r := newReplica(scope, path, db)
	if err := r.bindContainer(ctx, cfg.ContainerID); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrInitFailed, err)
	}
	return r, nil
}

// Resolve returns the replica for scope.
func (m *Manager) Resolve(scope model.Scope) (*Replica, error) {
	switch scope {
	case model.ScopeOwner:
		return m.owner, nil
	case model.ScopeRecipient:
		return m.recipient, nil
	default:
		return nil, fmt.Errorf("unknown replica scope %q", scope)
	}
}

func (m *Manager) Owner() *Replica { return m.owner }

func (m *Manager) Recipient() *Replica { return m.recipient }

func (m *Manager) replicas(scopes []model.Scope) ([]*Replica, error) {
	if len(scopes) == 0 {
		return []*Replica{m.owner, m.recipient}, nil
	}
	var out []*Replica
	for _, s := range scopes {
		r, err := m.Resolve(s)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// FindHouseholds searches the given replicas, or both when none are named.
// Results are newest first; a household present in both replicas is
// reported once, from the owner replica.
func (m *Manager) FindHouseholds(ctx context.Context, f store.HouseholdFilter, scopes ...model.Scope) ([]model.Household, error) {
	reps, err := m.replicas(scopes)
	if err != nil {
		return nil, err
	}

	perReplica := f
	perReplica.Limit = 0

	seen := make(map[string]bool)
	var all []model.Household
	for _, r := range reps {
		list, err := r.Households.List(ctx, perReplica)
		if err != nil {
			return nil, fmt.Errorf("%s replica: %w", r.scope, err)
		}
		for _, h := range list {
			if seen[h.ID] {
				continue
			}
			seen[h.ID] = true
			all = append(all, h)
		}
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}
	return all, nil
}

// LocateHousehold finds the household with id and the replica that holds it.
// It returns nil, nil, nil when no replica has it.
func (m *Manager) LocateHousehold(ctx context.Context, id string) (*model.Household, *Replica, error) {
	for _, r := range []*Replica{m.owner, m.recipient} {
		h, err := r.Households.GetByID(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("%s replica: %w", r.scope, err)
		}
		if h != nil {
			return h, r, nil
		}
	}
	return nil, nil, nil
}

// Members returns the members of a household from the replica that holds it.
func (m *Manager) Members(ctx context.Context, householdID string) ([]model.Member, error) {
	_, r, err := m.LocateHousehold(ctx, householdID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, nil
	}
	return r.Members.ListByHousehold(ctx, householdID)
}

func (m *Manager) Close() error {
	return errors.Join(m.owner.close(), m.recipient.close())
}
