// Package household implements the local household and member operations
// behind onboarding and the member screens.
package household

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/livinlog/internal/events"
	"github.com/dukerupert/livinlog/internal/model"
	"github.com/dukerupert/livinlog/internal/replica"
)

var (
	ErrNotFound       = errors.New("household not found")
	ErrMemberNotFound = errors.New("member not found")
	ErrLastMember     = errors.New("a household needs at least one member")
	ErrInvalidName    = errors.New("name must not be empty")
)

const defaultDisplayName = "Me"

// Sharing is the part of the share coordinator needed to delete a shared
// household.
type Sharing interface {
	RemoveHousehold(ctx context.Context, householdID string, remove func(ctx context.Context) error) (*model.ShareRecord, error)
}

type Service struct {
	replicas *replica.Manager
	sharing  Sharing
	bus      *events.Bus
	logger   *slog.Logger
}

func NewService(replicas *replica.Manager, sharing Sharing, bus *events.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		replicas: replicas,
		sharing:  sharing,
		bus:      bus,
		logger:   logger.With("component", "household"),
	}
}

// Create commits a new household with its first member to the owner
// replica.
func (s *Service) Create(ctx context.Context, name, displayName string) (*model.Household, *model.Member, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, ErrInvalidName
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = defaultDisplayName
	}

	h := &model.Household{ID: uuid.NewString(), Name: name}
	m := &model.Member{ID: uuid.NewString(), HouseholdID: h.ID, DisplayName: displayName}
	err := s.replicas.Owner().Write(ctx, func(tx *replica.Tx) error {
		if err := tx.Households.Insert(ctx, h); err != nil {
			return err
		}
		return tx.Members.Insert(ctx, m)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("create household: %w", err)
	}

	s.logger.Info("household created", "household_id", h.ID)
	s.publish(h.ID, map[string]any{"action": "created"})
	return h, m, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Household, error) {
	h, _, err := s.locate(ctx, id)
	return h, err
}

// Rename changes a household's name. The share title follows on the next
// share refresh.
func (s *Service) Rename(ctx context.Context, id, name string) (*model.Household, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	h, r, err := s.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	err = r.Write(ctx, func(tx *replica.Tx) error {
		return tx.Households.UpdateName(ctx, id, name)
	})
	if err != nil {
		return nil, fmt.Errorf("rename household: %w", err)
	}
	h.Name = name
	s.publish(id, map[string]any{"action": "renamed"})
	return h, nil
}

func (s *Service) Members(ctx context.Context, householdID string) ([]model.Member, error) {
	_, r, err := s.locate(ctx, householdID)
	if err != nil {
		return nil, err
	}
	return r.Members.ListByHousehold(ctx, householdID)
}

func (s *Service) AddMember(ctx context.Context, householdID, displayName string) (*model.Member, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return nil, ErrInvalidName
	}
	_, r, err := s.locate(ctx, householdID)
	if err != nil {
		return nil, err
	}

	m := &model.Member{ID: uuid.NewString(), HouseholdID: householdID, DisplayName: displayName}
	err = r.Write(ctx, func(tx *replica.Tx) error {
		return tx.Members.Insert(ctx, m)
	})
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	s.publish(householdID, map[string]any{"action": "member_added", "member_id": m.ID})
	return m, nil
}

// RemoveMember deletes a member unless it is the last one.
func (s *Service) RemoveMember(ctx context.Context, householdID, memberID string) error {
	_, r, err := s.locate(ctx, householdID)
	if err != nil {
		return err
	}

	err = r.Write(ctx, func(tx *replica.Tx) error {
		m, err := tx.Members.GetByID(ctx, memberID)
		if err != nil {
			return err
		}
		if m == nil || m.HouseholdID != householdID {
			return ErrMemberNotFound
		}
		n, err := tx.Members.CountByHousehold(ctx, householdID)
		if err != nil {
			return err
		}
		if n <= 1 {
			return ErrLastMember
		}
		return tx.Members.Delete(ctx, householdID, memberID)
	})
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	s.publish(householdID, map[string]any{"action": "member_removed", "member_id": memberID})
	return nil
}

// Delete removes a household from this device. An owned household stops
// sharing first so participants lose access; a household shared with us is
// only dropped locally, which is how leaving works.
func (s *Service) Delete(ctx context.Context, id string) error {
	_, r, err := s.locate(ctx, id)
	if err != nil {
		return err
	}

	action := "left"
	if r.Scope() == model.ScopeOwner {
		action = "deleted"
	}

	stopped, err := s.sharing.RemoveHousehold(ctx, id, func(ctx context.Context) error {
		err := r.Write(ctx, func(tx *replica.Tx) error {
			if err := tx.Invitations.DeleteByHousehold(ctx, id); err != nil {
				return err
			}
			if err := tx.Shares.DeleteByHousehold(ctx, id); err != nil {
				return err
			}
			return tx.Households.Delete(ctx, id)
		})
		if err != nil {
			return fmt.Errorf("delete household: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log := s.logger.With("household_id", id, "action", action)
	if stopped != nil {
		log = log.With("share_id", stopped.ID)
	}
	log.Info("household removed")
	s.publish(id, map[string]any{"action": action})
	return nil
}

func (s *Service) locate(ctx context.Context, id string) (*model.Household, *replica.Replica, error) {
	h, r, err := s.replicas.LocateHousehold(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if h == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return h, r, nil
}

func (s *Service) publish(householdID string, extra map[string]any) {
	if s.bus != nil {
		s.bus.Publish(events.New(events.HouseholdChanged, householdID, extra))
	}
}
