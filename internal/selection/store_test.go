package selection

import (
	"path/filepath"
	"testing"

	"github.com/dukerupert/livinlog/internal/model"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open selection store: %v", err)
	}
	return s, path
}

func TestStoreMissingKeysMeanNoSelection(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	st, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !st.Empty() {
		t.Errorf("expected empty selection, got %+v", st)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	s, path := openTestStore(t)
	want := model.SelectionState{HouseholdID: "h1", MemberID: "m1"}
	if err := s.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}
	s.Close()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestStoreLastWriteWins(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	s.Save(model.SelectionState{HouseholdID: "h1", MemberID: "m1"})
	s.Save(model.SelectionState{HouseholdID: "h2"})

	got, err := s.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.HouseholdID != "h2" || got.MemberID != "" {
		t.Errorf("got %+v", got)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, _ = s.Load()
	if !got.Empty() {
		t.Errorf("after clear: %+v", got)
	}
}
