// Package invite accepts inbound share invitations into the recipient
// replica.
package invite

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/dukerupert/livinlog/internal/cloud"
	"github.com/dukerupert/livinlog/internal/events"
	"github.com/dukerupert/livinlog/internal/model"
	"github.com/dukerupert/livinlog/internal/replica"
)

var ErrAcceptFailed = errors.New("invitation could not be accepted")

const DefaultAcceptTimeout = 10 * time.Second

type State string

const (
	StateIdle               State = "idle"
	StateInvitationReceived State = "invitation_received"
	StateAccepting          State = "accepting"
	StateAccepted           State = "accepted"
	StateFailed             State = "failed"
)

// Status is what the flow reports to the UI. State is the live state;
// Outcome is the result of the most recent attempt.
type Status struct {
	State       State     `json:"state"`
	Outcome     State     `json:"outcome,omitempty"`
	HouseholdID string    `json:"household_id,omitempty"`
	Failure     string    `json:"failure,omitempty"`
	At          time.Time `json:"at,omitempty"`
}

type Flow struct {
	replicas *replica.Manager
	backend  cloud.Backend
	bus      *events.Bus
	logger   *slog.Logger
	timeout  time.Duration

	acceptMu sync.Mutex

	mu     sync.Mutex
	status Status
}

func NewFlow(replicas *replica.Manager, backend cloud.Backend, bus *events.Bus, timeout time.Duration, logger *slog.Logger) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultAcceptTimeout
	}
	return &Flow{
		replicas: replicas,
		backend:  backend,
		bus:      bus,
		logger:   logger.With("component", "invite"),
		timeout:  timeout,
		status:   Status{State: StateIdle},
	}
}

// Fingerprint identifies a token without revealing it.
func Fingerprint(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *Flow) State() State {
	return f.Status().State
}

// LastFailure returns the reason the most recent attempt failed, if it did.
func (f *Flow) LastFailure() string {
	s := f.Status()
	if s.Outcome != StateFailed {
		return ""
	}
	return s.Failure
}

func (f *Flow) setState(s State) {
	f.mu.Lock()
	f.status.State = s
	f.mu.Unlock()
}

func (f *Flow) finish(outcome State, householdID, failure string) {
	f.mu.Lock()
	f.status = Status{
		State:       StateIdle,
		Outcome:     outcome,
		HouseholdID: householdID,
		Failure:     failure,
		At:          time.Now().UTC(),
	}
	f.mu.Unlock()
}

// Accept accepts the invitation identified by token into the recipient
// replica and returns the id of the shared household. Accepts run one at a
// time. A token that was already accepted is not sent to the backend again.
func (f *Flow) Accept(ctx context.Context, token string) (string, error) {
	if token == "" {
		f.fail("", "empty invitation token")
		return "", fmt.Errorf("%w: empty token", ErrAcceptFailed)
	}
	ctx = context.WithoutCancel(ctx)
	fp := Fingerprint(token)
	log := f.logger.With("fingerprint", fp[:16])

	f.acceptMu.Lock()
	defer f.acceptMu.Unlock()

	f.setState(StateInvitationReceived)
	log.Info("invitation received")

	recipient := f.replicas.Recipient()
	hid, seen, err := recipient.Invitations.Lookup(ctx, fp)
	if err != nil {
		f.fail("", err.Error())
		return "", fmt.Errorf("%w: %w", ErrAcceptFailed, err)
	}
	if seen {
		log.Info("invitation already accepted", "household_id", hid)
		f.publish(events.HouseholdChanged, hid, map[string]any{"duplicate": true})
		f.finish(StateAccepted, hid, "")
		return hid, nil
	}

	f.setState(StateAccepting)
	sink := &recipientSink{replica: recipient, fingerprint: fp}
	done := make(chan error, 1)
	go func() {
		done <- f.backend.AcceptInvitation(ctx, token, sink)
	}()

	timer := time.NewTimer(f.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			log.Warn("invitation accept failed", "error", err)
			f.fail("", err.Error())
			return "", fmt.Errorf("%w: %w", ErrAcceptFailed, err)
		}
		hid := sink.householdID()
		log.Info("invitation accepted", "household_id", hid)
		f.publish(events.HouseholdChanged, hid, nil)
		f.finish(StateAccepted, hid, "")
		return hid, nil
	case <-timer.C:
		log.Warn("invitation accept timed out", "timeout", f.timeout)
		go f.awaitLate(log, sink, done)
		f.fail("", "timed out waiting for the sync service")
		return "", fmt.Errorf("%w: timed out after %s", ErrAcceptFailed, f.timeout)
	}
}

func (f *Flow) awaitLate(log *slog.Logger, sink *recipientSink, done <-chan error) {
	if err := <-done; err != nil {
		log.Warn("late invitation accept failed", "error", err)
		return
	}
	log.Info("late invitation accept completed", "household_id", sink.householdID())
	f.publish(events.RemoteStoreChanged, sink.householdID(), map[string]any{"scope": string(model.ScopeRecipient)})
}

func (f *Flow) fail(householdID, reason string) {
	f.publish(events.InviteFailed, householdID, map[string]any{"reason": reason})
	f.finish(StateFailed, householdID, reason)
}

func (f *Flow) publish(t events.Type, householdID string, extra map[string]any) {
	if f.bus != nil {
		f.bus.Publish(events.New(t, householdID, extra))
	}
}

// recipientSink applies backend snapshots to the recipient replica and
// remembers the token that produced them.
type recipientSink struct {
	replica     *replica.Replica
	fingerprint string

	mu  sync.Mutex
	hid string
}

func (s *recipientSink) Scope() model.Scope { return s.replica.Scope() }

func (s *recipientSink) ApplySnapshot(ctx context.Context, snap cloud.Snapshot) error {
	err := s.replica.Write(ctx, func(tx *replica.Tx) error {
		if err := tx.ApplySnapshot(ctx, snap); err != nil {
			return err
		}
		if err := tx.Invitations.Record(ctx, s.fingerprint, snap.Household.ID); err != nil {
			return fmt.Errorf("record invitation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.hid = snap.Household.ID
	s.mu.Unlock()
	return nil
}

func (s *recipientSink) householdID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hid
}
