// Package router decides which top-level screen the application shows.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/livinlog/internal/cloud"
	"github.com/dukerupert/livinlog/internal/events"
	"github.com/dukerupert/livinlog/internal/model"
	"github.com/dukerupert/livinlog/internal/replica"
	"github.com/dukerupert/livinlog/internal/store"
)

type State string

const (
	StateLoading         State = "loading"
	StateSyncUnavailable State = "sync_unavailable"
	StateOnboarding      State = "onboarding"
	StateMain            State = "main"
)

// Trigger names what caused an evaluation.
type Trigger string

const (
	TriggerStart              Trigger = "start"
	TriggerRetry              Trigger = "retry"
	TriggerOnboardingComplete Trigger = "onboarding_complete"
	TriggerHouseholdChanged   Trigger = "household_changed"
	TriggerRemoteStoreChanged Trigger = "remote_store_changed"
)

const DefaultAccountTimeout = 10 * time.Second

// AccountChecker reports whether the sync account can be used.
type AccountChecker interface {
	AccountStatus(ctx context.Context) (cloud.AccountStatus, error)
}

// Selector keeps the selected household and member valid.
type Selector interface {
	Reconcile(ctx context.Context, h model.Household) (model.SelectionState, error)
	Clear() error
}

// Snapshot is the router's view for the UI.
type Snapshot struct {
	State     State                `json:"state"`
	Household *model.Household     `json:"household,omitempty"`
	Selection model.SelectionState `json:"selection"`
	Trigger   Trigger              `json:"trigger,omitempty"`
	Error     string               `json:"error,omitempty"`
	At        time.Time            `json:"at"`
}

type Router struct {
	replicas       *replica.Manager
	account        AccountChecker
	selector       Selector
	bus            *events.Bus
	logger         *slog.Logger
	accountTimeout time.Duration

	evalMu sync.Mutex

	mu   sync.RWMutex
	snap Snapshot
}

func New(replicas *replica.Manager, account AccountChecker, selector Selector, bus *events.Bus, accountTimeout time.Duration, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if accountTimeout <= 0 {
		accountTimeout = DefaultAccountTimeout
	}
	return &Router{
		replicas:       replicas,
		account:        account,
		selector:       selector,
		bus:            bus,
		logger:         logger.With("component", "router"),
		accountTimeout: accountTimeout,
		snap:           Snapshot{State: StateLoading, At: time.Now().UTC()},
	}
}

func (r *Router) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := r.snap
	if snap.Household != nil {
		h := *snap.Household
		snap.Household = &h
	}
	return snap
}

func (r *Router) State() State {
	return r.Snapshot().State
}

// Evaluate runs the routing decision and returns the resulting state. The
// result depends only on the account status and replica contents. On a
// local error the state is left as it was and the error is returned.
func (r *Router) Evaluate(ctx context.Context, trig Trigger) (State, error) {
	r.evalMu.Lock()
	defer r.evalMu.Unlock()

	current := r.State()
	if trig == TriggerRemoteStoreChanged && current != StateOnboarding {
		r.logger.Debug("remote change ignored", "state", current)
		return current, nil
	}

	if err := r.checkAccount(ctx); err != nil {
		r.logger.Warn("sync account unavailable", "trigger", trig, "error", err)
		if cerr := r.selector.Clear(); cerr != nil {
			return r.fail(trig, fmt.Errorf("clear selection: %w", cerr))
		}
		r.set(Snapshot{State: StateSyncUnavailable, Trigger: trig, Error: err.Error()})
		return StateSyncUnavailable, nil
	}

	found, err := r.replicas.FindHouseholds(ctx, store.HouseholdFilter{Limit: 1})
	if err != nil {
		return r.fail(trig, fmt.Errorf("find households: %w", err))
	}
	if len(found) == 0 {
		if err := r.selector.Clear(); err != nil {
			return r.fail(trig, fmt.Errorf("clear selection: %w", err))
		}
		r.set(Snapshot{State: StateOnboarding, Trigger: trig})
		return StateOnboarding, nil
	}

	h := found[0]
	sel, err := r.selector.Reconcile(ctx, h)
	if err != nil {
		return r.fail(trig, err)
	}
	r.set(Snapshot{State: StateMain, Household: &h, Selection: sel, Trigger: trig})
	return StateMain, nil
}

// checkAccount asks the backend for the account status and gives up after
// accountTimeout. A slow backend call is left to finish on its own.
func (r *Router) checkAccount(ctx context.Context) error {
	type result struct {
		status cloud.AccountStatus
		err    error
	}
	done := make(chan result, 1)
	go func() {
		s, err := r.account.AccountStatus(context.WithoutCancel(ctx))
		done <- result{s, err}
	}()

	timer := time.NewTimer(r.accountTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("%w: %w", cloud.ErrAccountUnavailable, res.err)
		}
		if res.status != cloud.StatusAvailable {
			return fmt.Errorf("%w: %s", cloud.ErrAccountUnavailable, res.status)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: status check timed out", cloud.ErrAccountUnavailable)
	}
}

func (r *Router) fail(trig Trigger, err error) (State, error) {
	r.mu.Lock()
	r.snap.Error = err.Error()
	r.snap.Trigger = trig
	state := r.snap.State
	r.mu.Unlock()
	r.logger.Error("route evaluation failed", "trigger", trig, "state", state, "error", err)
	return state, err
}

func (r *Router) set(next Snapshot) {
	next.At = time.Now().UTC()

	r.mu.Lock()
	prev := r.snap
	r.snap = next
	r.mu.Unlock()

	if prev.State == next.State && householdID(prev.Household) == householdID(next.Household) {
		return
	}
	r.logger.Info("route changed", "from", prev.State, "to", next.State, "household_id", householdID(next.Household), "trigger", next.Trigger)
	if r.bus != nil {
		r.bus.Publish(events.New(events.RouteChanged, householdID(next.Household), map[string]any{
			"state": string(next.State),
			"from":  string(prev.State),
		}))
	}
}

func householdID(h *model.Household) string {
	if h == nil {
		return ""
	}
	return h.ID
}

// Run evaluates once for application start and then re-evaluates whenever
// a household or remote store change arrives on the bus. It returns when
// ctx is done.
func (r *Router) Run(ctx context.Context) {
	ch := r.bus.Subscribe(ctx)

	if _, err := r.Evaluate(ctx, TriggerStart); err != nil {
		r.logger.Error("initial route evaluation failed", "error", err)
	}

	for ev := range ch {
		var trig Trigger
		switch ev.Type {
		case events.HouseholdChanged:
			trig = TriggerHouseholdChanged
		case events.RemoteStoreChanged:
			trig = TriggerRemoteStoreChanged
		default:
			continue
		}
		if _, err := r.Evaluate(ctx, trig); err != nil {
			r.logger.Error("route evaluation failed", "trigger", trig, "error", err)
		}
	}
}
