package store

import (
	"context"
	"testing"
	"time"

	"github.com/dukerupert/livinlog/internal/model"
)

func TestSharePutReplacesPerHousehold(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	hs := NewHouseholdStore(db, model.ScopeOwner)
	ss := NewShareStore(db)

	if err := hs.Insert(ctx, &model.Household{ID: "h1", Name: "Home"}); err != nil {
		t.Fatalf("insert household: %v", err)
	}

	now := time.Now().UTC()
	first := model.ShareRecord{ID: "s1", HouseholdID: "h1", Title: "Home", Permission: model.PermissionInviteOnly, Owner: model.ScopeOwner, CreatedAt: now, UpdatedAt: now}
	if err := ss.Put(ctx, first); err != nil {
		t.Fatalf("put: %v", err)
	}
	second := first
	second.ID = "s2"
	second.Title = "Renamed"
	if err := ss.Put(ctx, second); err != nil {
		t.Fatalf("put again: %v", err)
	}

	got, err := ss.GetByHousehold(ctx, "h1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "s2" || got.Title != "Renamed" {
		t.Errorf("got %+v, want id s2 title Renamed", got)
	}
	if got.Permission != model.PermissionInviteOnly {
		t.Errorf("permission = %q", got.Permission)
	}

	if err := ss.DeleteByHousehold(ctx, "h1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = ss.GetByHousehold(ctx, "h1")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete")
	}
}

func TestInvitationRecordAndLookup(t *testing.T) {
	ctx := context.Background()
	is := NewInvitationStore(setupTestDB(t))

	_, ok, err := is.Lookup(ctx, "fp")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if ok {
		t.Error("expected unknown fingerprint")
	}

	if err := is.Record(ctx, "fp", "h1"); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := is.Record(ctx, "fp", "h1"); err != nil {
		t.Fatalf("record twice: %v", err)
	}

	hid, ok, err := is.Lookup(ctx, "fp")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !ok || hid != "h1" {
		t.Errorf("lookup = (%q, %v), want (h1, true)", hid, ok)
	}
}

func TestInvitationDeleteByHousehold(t *testing.T) {
	ctx := context.Background()
	is := NewInvitationStore(setupTestDB(t))

	is.Record(ctx, "fp1", "h1")
	is.Record(ctx, "fp2", "h2")
	if err := is.DeleteByHousehold(ctx, "h1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, ok, _ := is.Lookup(ctx, "fp1"); ok {
		t.Error("fp1 should be forgotten")
	}
	if _, ok, _ := is.Lookup(ctx, "fp2"); !ok {
		t.Error("fp2 should remain")
	}
}
