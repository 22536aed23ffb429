// Package share creates, refreshes and stops the cloud share attached to a
// household.
package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/livinlog/internal/cloud"
	"github.com/dukerupert/livinlog/internal/events"
	"github.com/dukerupert/livinlog/internal/model"
	"github.com/dukerupert/livinlog/internal/replica"
)

var (
	ErrHouseholdNotFound   = errors.New("household not found")
	ErrShareCreationFailed = errors.New("share creation failed")
	ErrShareNil            = errors.New("backend returned no share")
	ErrPersistTimeout      = errors.New("share persistence timed out")
	ErrNotOwner            = errors.New("household is owned by another account")
)

const (
	DefaultPersistTimeout = 10 * time.Second
	DefaultTitle          = "Household"
)

// Share states reported by LastStatus.
const (
	StatusShared  = "shared"
	StatusPending = "pending"
	StatusStopped = "stopped"
	StatusFailed  = "failed"
)

// Status is the outcome of the most recent share operation on a household.
type Status struct {
	State   string    `json:"state"`
	ShareID string    `json:"share_id,omitempty"`
	Error   string    `json:"error,omitempty"`
	At      time.Time `json:"at"`
}

type Config struct {
	// Policy is applied when a share is created. Refreshing an existing
	// share leaves its permission alone.
	Policy         model.Permission
	PersistTimeout time.Duration
	DefaultTitle   string
}

type Coordinator struct {
	replicas *replica.Manager
	backend  cloud.Backend
	bus      *events.Bus
	logger   *slog.Logger
	cfg      Config

	locks *keyedMutex
	group singleflight.Group

	statusMu sync.Mutex
	statuses map[string]Status
}

func NewCoordinator(replicas *replica.Manager, backend cloud.Backend, bus *events.Bus, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Policy == "" {
		cfg.Policy = model.PermissionInviteOnly
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultPersistTimeout
	}
	if cfg.DefaultTitle == "" {
		cfg.DefaultTitle = DefaultTitle
	}
	return &Coordinator{
		replicas: replicas,
		backend:  backend,
		bus:      bus,
		logger:   logger.With("component", "share"),
		cfg:      cfg,
		locks:    newKeyedMutex(),
		statuses: make(map[string]Status),
	}
}

// FetchOrCreate returns the share for h, creating it if the backend has
// none. A household without an ID is first given one and committed to the
// owner replica; h is updated in place.
//
// Concurrent calls for the same household and name share a single in-flight
// call. Calls for the same household are otherwise serialized, so a
// household never ends up with two shares.
func (c *Coordinator) FetchOrCreate(ctx context.Context, h *model.Household) (*model.ShareRecord, error) {
	if h == nil {
		return nil, ErrHouseholdNotFound
	}
	ctx = context.WithoutCancel(ctx)

	if h.ID == "" {
		if err := c.commitNew(ctx, h); err != nil {
			return nil, err
		}
	}

	id, name := h.ID, h.Name
	v, err, _ := c.group.Do(id+"\x00"+name, func() (any, error) {
		unlock := c.locks.Lock(id)
		defer unlock()
		return c.fetchOrCreate(ctx, id, name)
	})
	if err != nil {
		c.recordFailure(id, err)
		return nil, err
	}
	rec := *v.(*model.ShareRecord)
	c.setStatus(id, Status{State: StatusShared, ShareID: rec.ID})
	return &rec, nil
}

func (c *Coordinator) commitNew(ctx context.Context, h *model.Household) error {
	h.ID = uuid.NewString()
	err := c.replicas.Owner().Write(ctx, func(tx *replica.Tx) error {
		return tx.Households.Insert(ctx, h)
	})
	if err != nil {
		h.ID = ""
		return fmt.Errorf("commit household: %w", err)
	}
	c.logger.Info("household committed", "household_id", h.ID)
	return nil
}

func (c *Coordinator) fetchOrCreate(ctx context.Context, id, name string) (*model.ShareRecord, error) {
	h, r, err := c.flush(ctx, id, name)
	if err != nil {
		return nil, err
	}

	existing, err := c.backend.FetchShare(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch share: %w", err)
	}

	if existing != nil {
		rec := *existing
		if r.Scope() == model.ScopeOwner {
			rec.Title = c.title(h)
			rec.Thumbnail = model.Monogram(rec.Title)
			saved, err := c.persist(ctx, r, rec)
			if err != nil {
				return nil, err
			}
			rec = *saved
		} else if err := c.cache(ctx, r, rec); err != nil {
			return nil, err
		}
		c.publish(rec, "refreshed")
		return &rec, nil
	}

	if r.Scope() != model.ScopeOwner {
		return nil, fmt.Errorf("%w: %w", ErrShareCreationFailed, ErrNotOwner)
	}

	members, err := r.Members.ListByHousehold(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	title := c.title(h)
	created, err := c.backend.CreateShare(ctx, cloud.CreateShareRequest{
		Scope:      model.ScopeOwner,
		Household:  *h,
		Members:    members,
		Title:      title,
		Thumbnail:  model.Monogram(title),
		Permission: c.cfg.Policy,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrShareCreationFailed, err)
	}
	if created == nil {
		return nil, ErrShareNil
	}
	c.logger.Info("share created", "household_id", id, "share_id", created.ID, "permission", created.Permission)

	saved, err := c.persist(ctx, r, *created)
	if err != nil {
		return nil, err
	}
	c.publish(*saved, "created")
	return saved, nil
}

// flush loads the household and writes a pending rename to the owner
// replica before the backend sees it.
func (c *Coordinator) flush(ctx context.Context, id, name string) (*model.Household, *replica.Replica, error) {
	h, r, err := c.replicas.LocateHousehold(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("locate household: %w", err)
	}
	if h == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrHouseholdNotFound, id)
	}
	if r.Scope() == model.ScopeOwner && name != "" && name != h.Name {
		err := r.Write(ctx, func(tx *replica.Tx) error {
			return tx.Households.UpdateName(ctx, id, name)
		})
		if err != nil {
			return nil, nil, fmt.Errorf("flush household: %w", err)
		}
		h.Name = name
	}
	return h, r, nil
}

func (c *Coordinator) title(h *model.Household) string {
	if h.Name == "" {
		return c.cfg.DefaultTitle
	}
	return h.Name
}

type persistResult struct {
	rec *model.ShareRecord
	err error
}

// persist saves rec through the backend and caches the result in r. The
// backend call cannot be cancelled; if it outlives PersistTimeout the caller
// gets ErrPersistTimeout and a late success only updates the cache.
func (c *Coordinator) persist(ctx context.Context, r *replica.Replica, rec model.ShareRecord) (*model.ShareRecord, error) {
	done := make(chan persistResult, 1)
	go func() {
		saved, err := c.backend.SaveShare(ctx, rec)
		done <- persistResult{rec: saved, err: err}
	}()

	timer := time.NewTimer(c.cfg.PersistTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("persist share: %w", res.err)
		}
		if res.rec == nil {
			return nil, ErrShareNil
		}
		if err := c.cache(ctx, r, *res.rec); err != nil {
			return nil, err
		}
		return res.rec, nil
	case <-timer.C:
		c.logger.Warn("share persistence timed out", "household_id", rec.HouseholdID, "share_id", rec.ID, "timeout", c.cfg.PersistTimeout)
		c.setStatus(rec.HouseholdID, Status{State: StatusPending, ShareID: rec.ID, Error: ErrPersistTimeout.Error()})
		go c.awaitLate(ctx, r, rec, done)
		return nil, ErrPersistTimeout
	}
}

func (c *Coordinator) awaitLate(ctx context.Context, r *replica.Replica, rec model.ShareRecord, done <-chan persistResult) {
	res := <-done
	if res.err != nil {
		c.logger.Warn("late share persistence failed", "household_id", rec.HouseholdID, "error", res.err)
		c.setStatus(rec.HouseholdID, Status{State: StatusFailed, ShareID: rec.ID, Error: res.err.Error()})
		return
	}
	if res.rec == nil {
		return
	}
	if err := c.cache(ctx, r, *res.rec); err != nil {
		c.logger.Warn("caching late share failed", "share_id", res.rec.ID, "error", err)
		return
	}
	c.setStatus(res.rec.HouseholdID, Status{State: StatusShared, ShareID: res.rec.ID})
	c.logger.Info("late share persistence completed", "household_id", res.rec.HouseholdID, "share_id", res.rec.ID)
}

func (c *Coordinator) cache(ctx context.Context, r *replica.Replica, rec model.ShareRecord) error {
	err := r.Write(ctx, func(tx *replica.Tx) error {
		return tx.Shares.Put(ctx, rec)
	})
	if err != nil {
		return fmt.Errorf("cache share: %w", err)
	}
	return nil
}

func (c *Coordinator) publish(rec model.ShareRecord, action string) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.New(events.ShareChanged, rec.HouseholdID, map[string]any{
		"action":     action,
		"share_id":   rec.ID,
		"url":        rec.URL,
		"permission": string(rec.Permission),
	}))
}

// StopSharing deletes the household's share from the backend and drops the
// cached copy. The backend is asked which share is live, so a share whose
// local cache write never landed is still stopped. It returns the stopped
// share, or nil if the household was not shared. The next FetchOrCreate
// creates a new share.
func (c *Coordinator) StopSharing(ctx context.Context, householdID string) (*model.ShareRecord, error) {
	ctx = context.WithoutCancel(ctx)

	unlock := c.locks.Lock(householdID)
	defer unlock()

	r, err := c.locate(ctx, householdID)
	if err != nil {
		return nil, err
	}
	if r.Scope() != model.ScopeOwner {
		return nil, ErrNotOwner
	}
	return c.stop(ctx, r, householdID)
}

// RemoveHousehold runs remove, the local deletion of a household, while no
// other share operation on it can start. An owned household stops sharing
// first; a household shared with us is only removed locally. It returns the
// share that was stopped, if any.
func (c *Coordinator) RemoveHousehold(ctx context.Context, householdID string, remove func(ctx context.Context) error) (*model.ShareRecord, error) {
	ctx = context.WithoutCancel(ctx)

	unlock := c.locks.Lock(householdID)
	defer unlock()

	r, err := c.locate(ctx, householdID)
	if err != nil {
		return nil, err
	}
	var stopped *model.ShareRecord
	if r.Scope() == model.ScopeOwner {
		if stopped, err = c.stop(ctx, r, householdID); err != nil {
			return nil, err
		}
	}
	if err := remove(ctx); err != nil {
		return stopped, err
	}

	c.statusMu.Lock()
	delete(c.statuses, householdID)
	c.statusMu.Unlock()
	return stopped, nil
}

// stop must be called with the household's lock held.
func (c *Coordinator) stop(ctx context.Context, r *replica.Replica, householdID string) (*model.ShareRecord, error) {
	rec, err := c.backend.FetchShare(ctx, householdID)
	if err != nil {
		return nil, fmt.Errorf("fetch share: %w", err)
	}
	if rec != nil {
		if err := c.backend.DeleteShare(ctx, rec.ID); err != nil {
			return nil, fmt.Errorf("delete share: %w", err)
		}
	}
	err = r.Write(ctx, func(tx *replica.Tx) error {
		return tx.Shares.DeleteByHousehold(ctx, householdID)
	})
	if err != nil {
		return nil, fmt.Errorf("drop cached share: %w", err)
	}
	if rec == nil {
		return nil, nil
	}

	c.logger.Info("sharing stopped", "household_id", householdID, "share_id", rec.ID)
	c.setStatus(householdID, Status{State: StatusStopped, ShareID: rec.ID})
	c.publish(*rec, "stopped")
	return rec, nil
}

func (c *Coordinator) locate(ctx context.Context, householdID string) (*replica.Replica, error) {
	_, r, err := c.replicas.LocateHousehold(ctx, householdID)
	if err != nil {
		return nil, fmt.Errorf("locate household: %w", err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrHouseholdNotFound, householdID)
	}
	return r, nil
}

// ResetPolicy changes the permission of an existing share.
func (c *Coordinator) ResetPolicy(ctx context.Context, householdID string, p model.Permission) (*model.ShareRecord, error) {
	if _, err := model.ParsePermission(string(p)); err != nil || p == "" {
		return nil, fmt.Errorf("reset policy: invalid permission %q", p)
	}
	ctx = context.WithoutCancel(ctx)

	unlock := c.locks.Lock(householdID)
	defer unlock()

	r, err := c.locate(ctx, householdID)
	if err != nil {
		return nil, err
	}
	if r.Scope() != model.ScopeOwner {
		return nil, ErrNotOwner
	}

	existing, err := c.backend.FetchShare(ctx, householdID)
	if err != nil {
		return nil, fmt.Errorf("fetch share: %w", err)
	}
	if existing == nil {
		return nil, ErrShareNil
	}
	rec := *existing
	rec.Permission = p
	saved, err := c.persist(ctx, r, rec)
	if err != nil {
		return nil, err
	}
	c.setStatus(householdID, Status{State: StatusShared, ShareID: saved.ID})
	c.logger.Info("share policy reset", "household_id", householdID, "permission", p)
	c.publish(*saved, "policy")
	return saved, nil
}

// Lookup returns the locally cached share for a household, or nil.
func (c *Coordinator) Lookup(ctx context.Context, householdID string) (*model.ShareRecord, error) {
	r, err := c.locate(ctx, householdID)
	if err != nil {
		return nil, err
	}
	return r.Shares.GetByHousehold(ctx, householdID)
}

// LastStatus reports the outcome of the most recent share operation on the
// household since startup.
func (c *Coordinator) LastStatus(householdID string) (Status, bool) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	st, ok := c.statuses[householdID]
	return st, ok
}

func (c *Coordinator) setStatus(householdID string, st Status) {
	st.At = time.Now().UTC()
	c.statusMu.Lock()
	c.statuses[householdID] = st
	c.statusMu.Unlock()
}

func (c *Coordinator) recordFailure(householdID string, err error) {
	// A timed-out persist has already recorded itself as pending and may
	// have completed since.
	if errors.Is(err, ErrPersistTimeout) || errors.Is(err, ErrHouseholdNotFound) {
		return
	}
	c.setStatus(householdID, Status{State: StatusFailed, Error: err.Error()})
}
