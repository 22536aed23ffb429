// Package cloud defines the boundary to the cloud sync backend: account
// status, share objects and invitation acceptance. The backend's own
// replication protocol is not modelled here.
package cloud

import (
	"context"
	"errors"

	"github.com/dukerupert/livinlog/internal/model"
)

var ErrAccountUnavailable = errors.New("cloud account unavailable")

// ErrInvitationNotFound is returned when the backend does not recognise an
// invitation token.
var ErrInvitationNotFound = errors.New("invitation not found")

// AccountStatus mirrors the account states a sync backend reports.
type AccountStatus string

const (
	StatusAvailable              AccountStatus = "available"
	StatusNoAccount              AccountStatus = "noAccount"
	StatusRestricted             AccountStatus = "restricted"
	StatusTemporarilyUnavailable AccountStatus = "temporarilyUnavailable"
	StatusCouldNotDetermine      AccountStatus = "couldNotDetermine"
)

// Snapshot is the household data the backend replicates into a replica when
// an invitation is accepted.
type Snapshot struct {
	Share     model.ShareRecord `json:"share"`
	Household model.Household   `json:"household"`
	Members   []model.Member    `json:"members"`
}

// Sink is a local store the backend can replicate records into.
type Sink interface {
	Scope() model.Scope
	ApplySnapshot(ctx context.Context, snap Snapshot) error
}

// CreateShareRequest describes a new share rooted at a household.
type CreateShareRequest struct {
	Scope      model.Scope      `json:"scope"`
	Household  model.Household  `json:"household"`
	Members    []model.Member   `json:"members"`
	Title      string           `json:"title"`
	Thumbnail  string           `json:"thumbnail"`
	Permission model.Permission `json:"permission"`
}

// Backend is the set of remote primitives the coordinator relies on. Every
// method may block on the network. None of them can be cancelled once the
// request has been submitted.
type Backend interface {
	// ContainerID identifies the backend instance every call is bound to.
	ContainerID() string
	AccountStatus(ctx context.Context) (AccountStatus, error)
	// FetchShare returns nil, nil when the household has no share.
	FetchShare(ctx context.Context, householdID string) (*model.ShareRecord, error)
	// CreateShare may return nil, nil if the backend accepted the request
	// without producing a share object.
	CreateShare(ctx context.Context, req CreateShareRequest) (*model.ShareRecord, error)
	SaveShare(ctx context.Context, rec model.ShareRecord) (*model.ShareRecord, error)
	DeleteShare(ctx context.Context, shareID string) error
	// AcceptInvitation accepts the invitation identified by token and
	// replicates the shared household into the given sink.
	AcceptInvitation(ctx context.Context, token string, into Sink) error
}
