package storage

import (
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/jjkit/jjkit/internal/jjerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(afero.NewMemMapFs(), "/repo/.jj")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("graph.json", []byte(`{"changes":{}}`)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	data, err := s.Get("graph.json")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(data) != `{"changes":{}}` {
		t.Errorf("unexpected content: %s", data)
	}
}

func TestGetMissingKey(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("nope.json")
	if !jjerr.IsKind(err, jjerr.NotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestPutLeavesNoTempFile(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("bookmarks.json", []byte("{}")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	keys, err := s.List("")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	for _, k := range keys {
		if strings.HasSuffix(k, ".tmp") {
			t.Errorf("temp file leaked: %s", k)
		}
	}
}

func TestAppendIsLineOriented(t *testing.T) {
	s := newTestStore(t)

	if err := s.Append("oplog.jsonl", []byte(`{"op":1}`)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append("oplog.jsonl", []byte(`{"op":2}`+"\n")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	data, err := s.Get("oplog.jsonl")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 records, got %d: %q", len(lines), data)
	}
	if lines[0] != `{"op":1}` || lines[1] != `{"op":2}` {
		t.Errorf("unexpected records: %v", lines)
	}
}

func TestListPrefix(t *testing.T) {
	s := newTestStore(t)

	for _, k := range []string{"graph.json", "workspaces/default/working-copy.json", "workspaces/alt/working-copy.json"} {
		if err := s.Put(k, []byte("{}")); err != nil {
			t.Fatalf("Put %s failed: %v", k, err)
		}
	}

	keys, err := s.List("workspaces/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 workspace keys, got %v", keys)
	}
	if keys[0] != "workspaces/alt/working-copy.json" {
		t.Errorf("expected sorted keys, got %v", keys)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("conflicts.json", []byte("{}")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Delete("conflicts.json"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if s.Exists("conflicts.json") {
		t.Error("key still exists after delete")
	}
	// Deleting twice is fine.
	if err := s.Delete("conflicts.json"); err != nil {
		t.Errorf("second delete failed: %v", err)
	}
}

func TestLockExcludesSecondHolder(t *testing.T) {
	s := newTestStore(t)

	release, err := s.Lock()
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		release2, err := s.Lock()
		if err == nil {
			release2()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while first still held")
	default:
	}

	release()
	<-acquired
}

func TestCacheInvalidatedOnPut(t *testing.T) {
	s := newTestStore(t)

	if err := s.Put("graph.json", []byte("v1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	s.CachePut("graph.json", "parsed-v1")

	if err := s.Put("graph.json", []byte("v2")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if v, ok := s.CacheGet("graph.json"); ok && v == "parsed-v1" {
		t.Error("stale artifact survived a write")
	}
}
