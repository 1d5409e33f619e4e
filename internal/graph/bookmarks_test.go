package graph

import (
	"testing"

	"github.com/jjkit/jjkit/internal/jjerr"
)

func TestValidateBookmarkName(t *testing.T) {
	valid := []string{"main", "feature/x", "v1.2.3", "work_in-progress"}
	for _, name := range valid {
		if err := ValidateBookmarkName(name); err != nil {
			t.Errorf("expected %q valid, got %v", name, err)
		}
	}

	invalid := []string{"", "has space", "at@sign", "col:on", "til~de", "car^et", "ques?tion", "st*ar", "tab\tname", "café"}
	for _, name := range invalid {
		if err := ValidateBookmarkName(name); !jjerr.IsKind(err, jjerr.InvalidArgument) {
			t.Errorf("expected %q invalid, got %v", name, err)
		}
	}
}

func TestBookmarkNameRemotePairUnique(t *testing.T) {
	s := NewBookmarkSet()

	if _, err := s.Create("main", "", "c1", false); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := s.Create("main", "", "c2", false); !jjerr.IsKind(err, jjerr.AlreadyExists) {
		t.Errorf("expected ALREADY_EXISTS, got %v", err)
	}
	// Same name on a remote is a distinct bookmark.
	if _, err := s.Create("main", "origin", "c1", true); err != nil {
		t.Errorf("remote bookmark with same name should be allowed: %v", err)
	}
}

func TestBookmarkSetUpsertAndDelete(t *testing.T) {
	s := NewBookmarkSet()

	if _, err := s.Set("main", "", "c1", false); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := s.Set("main", "", "c2", false); err != nil {
		t.Fatalf("Set (move) failed: %v", err)
	}
	b, err := s.Get("main", "")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if b.Target != "c2" {
		t.Errorf("expected moved target c2, got %s", b.Target)
	}

	if err := s.Delete("main", ""); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete("main", ""); !jjerr.IsKind(err, jjerr.NotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestBookmarksMarshalRoundTrip(t *testing.T) {
	s := NewBookmarkSet()
	_, _ = s.Create("main", "", "c1", false)
	_, _ = s.Create("main", "origin", "c1", true)
	_, _ = s.Create("dev", "", "c2", false)

	data, err := s.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	loaded, err := LoadBookmarks(data)
	if err != nil {
		t.Fatalf("LoadBookmarks failed: %v", err)
	}
	if len(loaded.List()) != 3 {
		t.Fatalf("expected 3 bookmarks after round trip, got %d", len(loaded.List()))
	}
	remote, err := loaded.Get("main", "origin")
	if err != nil {
		t.Fatalf("remote bookmark lost: %v", err)
	}
	if !remote.Tracked {
		t.Error("tracked flag lost in round trip")
	}
}

func TestRetarget(t *testing.T) {
	s := NewBookmarkSet()
	_, _ = s.Create("a", "", "old", false)
	_, _ = s.Create("b", "", "old", false)
	_, _ = s.Create("c", "", "other", false)

	if n := s.Retarget("old", "new"); n != 2 {
		t.Errorf("expected 2 retargeted, got %d", n)
	}
	if got := len(s.ByTarget("new")); got != 2 {
		t.Errorf("expected 2 bookmarks on new target, got %d", got)
	}
}
