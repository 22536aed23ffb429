package selection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dukerupert/livinlog/internal/model"
	"github.com/dukerupert/livinlog/internal/replica"
)

const DefaultMemberName = "Me"

var ErrNotInHousehold = errors.New("member is not in the selected household")

// StateStore is where the reconciler keeps the current selection.
type StateStore interface {
	Load() (model.SelectionState, error)
	Save(model.SelectionState) error
	Clear() error
}

type Reconciler struct {
	replicas *replica.Manager
	store    StateStore
	logger   *slog.Logger
	mu       sync.Mutex
}

func NewReconciler(replicas *replica.Manager, store StateStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		replicas: replicas,
		store:    store,
		logger:   logger.With("component", "selection"),
	}
}

// Reconcile makes h the selected household and guarantees it has a selected
// member, creating a default member when the household has none. Running it
// again without intervening changes writes nothing.
func (rc *Reconciler) Reconcile(ctx context.Context, h model.Household) (model.SelectionState, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	r, err := rc.replicaFor(ctx, h)
	if err != nil {
		return model.SelectionState{}, err
	}

	prev, err := rc.store.Load()
	if err != nil {
		return model.SelectionState{}, err
	}

	var memberID string
	err = r.Write(ctx, func(tx *replica.Tx) error {
		n, err := tx.Members.CountByHousehold(ctx, h.ID)
		if err != nil {
			return err
		}
		if n == 0 {
			m := &model.Member{ID: uuid.NewString(), HouseholdID: h.ID, DisplayName: DefaultMemberName}
			if err := tx.Members.Insert(ctx, m); err != nil {
				return err
			}
			rc.logger.Info("default member created", "household_id", h.ID, "member_id", m.ID)
		}

		members, err := tx.Members.ListByHousehold(ctx, h.ID)
		if err != nil {
			return err
		}
		if len(members) == 0 {
			return fmt.Errorf("household %s has no members", h.ID)
		}
		memberID = members[0].ID
		for _, m := range members {
			if m.ID == prev.MemberID {
				memberID = m.ID
				break
			}
		}
		return nil
	})
	if err != nil {
		return model.SelectionState{}, fmt.Errorf("reconcile members: %w", err)
	}

	next := model.SelectionState{HouseholdID: h.ID, MemberID: memberID}
	if next == prev {
		return next, nil
	}
	if err := rc.store.Save(next); err != nil {
		return model.SelectionState{}, err
	}
	rc.logger.Info("selection updated", "household_id", next.HouseholdID, "member_id", next.MemberID)
	return next, nil
}

func (rc *Reconciler) replicaFor(ctx context.Context, h model.Household) (*replica.Replica, error) {
	if h.Scope.Valid() {
		return rc.replicas.Resolve(h.Scope)
	}
	_, r, err := rc.replicas.LocateHousehold(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("household %s not found", h.ID)
	}
	return r, nil
}

// Select records memberID as the selected member if it belongs to the
// selected household.
func (rc *Reconciler) Select(ctx context.Context, memberID string) (model.SelectionState, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	cur, err := rc.store.Load()
	if err != nil {
		return model.SelectionState{}, err
	}
	_, r, err := rc.replicas.LocateHousehold(ctx, cur.HouseholdID)
	if err != nil {
		return model.SelectionState{}, err
	}
	if r == nil {
		return model.SelectionState{}, fmt.Errorf("%w: no household selected", ErrNotInHousehold)
	}
	m, err := r.Members.GetByID(ctx, memberID)
	if err != nil {
		return model.SelectionState{}, err
	}
	if m == nil || m.HouseholdID != cur.HouseholdID {
		return model.SelectionState{}, fmt.Errorf("%w: %s", ErrNotInHousehold, memberID)
	}
	next := model.SelectionState{HouseholdID: cur.HouseholdID, MemberID: memberID}
	if err := rc.store.Save(next); err != nil {
		return model.SelectionState{}, err
	}
	return next, nil
}

func (rc *Reconciler) Current() (model.SelectionState, error) {
	return rc.store.Load()
}

// Clear forgets the selection.
func (rc *Reconciler) Clear() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.store.Clear()
}
