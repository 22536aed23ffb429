// Package selection keeps the selected household and member consistent with
// replica contents.
package selection

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dukerupert/livinlog/internal/model"
)

const FileName = "selection.db"

var (
	selectionBucket = []byte("selection")

	keyHousehold = []byte("selected_household_id")
	keyMember    = []byte("selected_member_id")
)

// Store persists the selection in a bbolt file kept apart from the
// replicas. A missing key means nothing is selected.
type Store struct {
	db *bolt.DB
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create selection directory: %w", err)
	}
	db, err := bolt.Open(dbPath, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open selection store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(selectionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create selection bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Load() (model.SelectionState, error) {
	var st model.SelectionState
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(selectionBucket)
		st.HouseholdID = string(b.Get(keyHousehold))
		st.MemberID = string(b.Get(keyMember))
		return nil
	})
	if err != nil {
		return model.SelectionState{}, fmt.Errorf("load selection: %w", err)
	}
	return st, nil
}

// Save overwrites both keys. An empty field removes its key.
func (s *Store) Save(st model.SelectionState) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(selectionBucket)
		if err := putOrDelete(b, keyHousehold, st.HouseholdID); err != nil {
			return err
		}
		return putOrDelete(b, keyMember, st.MemberID)
	})
	if err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	return nil
}

func (s *Store) Clear() error {
	return s.Save(model.SelectionState{})
}

func putOrDelete(b *bolt.Bucket, key []byte, value string) error {
	if value == "" {
		return b.Delete(key)
	}
	return b.Put(key, []byte(value))
}
