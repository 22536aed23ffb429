package replica

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/dukerupert/livinlog/internal/cloud"
	"github.com/dukerupert/livinlog/internal/model"
	"github.com/dukerupert/livinlog/internal/store"
)

// Replica is one physical store. Reads use the pooled connection directly;
// writes are funnelled through Write one at a time.
type Replica struct {
	scope   model.Scope
	path    string
	db      *sql.DB
	writeMu sync.Mutex

	Households  *store.HouseholdStore
	Members     *store.MemberStore
	Shares      *store.ShareStore
	Invitations *store.InvitationStore
}

func newReplica(scope model.Scope, path string, db *sql.DB) *Replica {
	return &Replica{
		scope:       scope,
		path:        path,
		db:          db,
		Households:  store.NewHouseholdStore(db, scope),
		Members:     store.NewMemberStore(db),
		Shares:      store.NewShareStore(db),
		Invitations: store.NewInvitationStore(db),
	}
}

// Tx exposes the stores bound to a single write transaction.
type Tx struct {
	Households  *store.HouseholdStore
	Members     *store.MemberStore
	Shares      *store.ShareStore
	Invitations *store.InvitationStore
}

func (r *Replica) Scope() model.Scope { return r.scope }

func (r *Replica) Path() string { return r.path }

// Write runs fn inside a transaction. Writes to the same replica execute one
// at a time in submission order; the transaction is committed, and therefore
// flushed to disk, before Write returns.
func (r *Replica) Write(ctx context.Context, fn func(tx *Tx) error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &Tx{
		Households:  store.NewHouseholdStore(sqlTx, r.scope),
		Members:     store.NewMemberStore(sqlTx),
		Shares:      store.NewShareStore(sqlTx),
		Invitations: store.NewInvitationStore(sqlTx),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// ApplySnapshot replicates backend data into this replica. It upserts by id,
// so applying the same snapshot twice leaves a single copy.
func (r *Replica) ApplySnapshot(ctx context.Context, snap cloud.Snapshot) error {
	if snap.Household.ID == "" {
		return fmt.Errorf("apply snapshot: household has no id")
	}
	return r.Write(ctx, func(tx *Tx) error {
		return tx.ApplySnapshot(ctx, snap)
	})
}

// ApplySnapshot upserts the snapshot's household, its members and its share
// within the transaction. Members of other households are skipped.
func (tx *Tx) ApplySnapshot(ctx context.Context, snap cloud.Snapshot) error {
	if snap.Household.ID == "" {
		return fmt.Errorf("apply snapshot: household has no id")
	}
	if err := tx.Households.Upsert(ctx, snap.Household); err != nil {
		return err
	}
	for _, m := range snap.Members {
		if m.HouseholdID != snap.Household.ID {
			continue
		}
		if err := tx.Members.Upsert(ctx, m); err != nil {
			return err
		}
	}
	if snap.Share.ID != "" {
		if err := tx.Shares.Put(ctx, snap.Share); err != nil {
			return err
		}
	}
	return nil
}

func (r *Replica) bindContainer(ctx context.Context, containerID string) error {
	var bound string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM replica_meta WHERE key = 'container_id'`).Scan(&bound)
	if errors.Is(err, sql.ErrNoRows) {
		_, err = r.db.ExecContext(ctx, `INSERT INTO replica_meta (key, value) VALUES ('container_id', ?)`, containerID)
		if err != nil {
			return fmt.Errorf("bind container: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read container binding: %w", err)
	}
	if bound != containerID {
		return fmt.Errorf("%s replica is bound to container %q, configured %q", r.scope, bound, containerID)
	}
	return nil
}

func (r *Replica) close() error {
	return r.db.Close()
}

var _ cloud.Sink = (*Replica)(nil)
