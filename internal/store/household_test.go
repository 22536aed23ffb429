package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukerupert/livinlog/internal/database"
	"github.com/dukerupert/livinlog/internal/model"
)

func setupTestDB(t *testing.T) DBTX {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestHouseholdInsertAndGet(t *testing.T) {
	ctx := context.Background()
	hs := NewHouseholdStore(setupTestDB(t), model.ScopeOwner)

	h := &model.Household{ID: "h1", Name: "Smith Family"}
	if err := hs.Insert(ctx, h); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if h.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}

	got, err := hs.GetByID(ctx, "h1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Smith Family" {
		t.Errorf("name = %q, want %q", got.Name, "Smith Family")
	}
	if got.Scope != model.ScopeOwner {
		t.Errorf("scope = %q, want %q", got.Scope, model.ScopeOwner)
	}
}

func TestHouseholdInsertRequiresID(t *testing.T) {
	hs := NewHouseholdStore(setupTestDB(t), model.ScopeOwner)
	if err := hs.Insert(context.Background(), &model.Household{Name: "No ID"}); err == nil {
		t.Error("expected error for household without id")
	}
}

func TestHouseholdGetByIDNotFound(t *testing.T) {
	hs := NewHouseholdStore(setupTestDB(t), model.ScopeOwner)

	h, err := hs.GetByID(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if h != nil {
		t.Error("expected nil for nonexistent household")
	}
}

func TestHouseholdUpsertKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	hs := NewHouseholdStore(setupTestDB(t), model.ScopeRecipient)

	t0 := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	if err := hs.Upsert(ctx, model.Household{ID: "h1", Name: "Old", CreatedAt: t0}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := hs.Upsert(ctx, model.Household{ID: "h1", Name: "New", CreatedAt: t0.Add(time.Hour)}); err != nil {
		t.Fatalf("upsert again: %v", err)
	}

	list, err := hs.List(ctx, HouseholdFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 household, got %d", len(list))
	}
	if list[0].Name != "New" {
		t.Errorf("name = %q, want %q", list[0].Name, "New")
	}
	if !list[0].CreatedAt.Equal(t0) {
		t.Errorf("created_at = %v, want %v", list[0].CreatedAt, t0)
	}
}

func TestHouseholdListNewestFirst(t *testing.T) {
	ctx := context.Background()
	hs := NewHouseholdStore(setupTestDB(t), model.ScopeOwner)

	base := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	for i, name := range []string{"First", "Second", "Third"} {
		h := &model.Household{ID: name, Name: name, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := hs.Insert(ctx, h); err != nil {
			t.Fatalf("insert %s: %v", name, err)
		}
	}

	list, err := hs.List(ctx, HouseholdFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].Name != "Third" || list[2].Name != "First" {
		t.Errorf("unexpected order: %+v", list)
	}

	limited, err := hs.List(ctx, HouseholdFilter{Limit: 1})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 || limited[0].Name != "Third" {
		t.Errorf("limited = %+v, want [Third]", limited)
	}

	filtered, err := hs.List(ctx, HouseholdFilter{NameContains: "eco"})
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Name != "Second" {
		t.Errorf("filtered = %+v, want [Second]", filtered)
	}

	after, err := hs.List(ctx, HouseholdFilter{CreatedAfter: base})
	if err != nil {
		t.Fatalf("list after: %v", err)
	}
	if len(after) != 2 {
		t.Errorf("expected 2 households after base, got %d", len(after))
	}
}

func TestHouseholdUpdateNameAndDelete(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	hs := NewHouseholdStore(db, model.ScopeOwner)
	ms := NewMemberStore(db)

	if err := hs.Insert(ctx, &model.Household{ID: "h1", Name: "Old Name"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := ms.Insert(ctx, &model.Member{ID: "m1", HouseholdID: "h1", DisplayName: "Me"}); err != nil {
		t.Fatalf("insert member: %v", err)
	}

	if err := hs.UpdateName(ctx, "h1", "New Name"); err != nil {
		t.Fatalf("update: %v", err)
	}
	h, err := hs.GetByID(ctx, "h1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if h.Name != "New Name" {
		t.Errorf("name = %q, want %q", h.Name, "New Name")
	}

	if err := hs.Delete(ctx, "h1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	count, err := ms.CountByHousehold(ctx, "h1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Errorf("expected members to cascade, got %d", count)
	}
}
