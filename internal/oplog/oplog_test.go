package oplog

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/google/go-cmp/cmp"

	"github.com/jjkit/jjkit/internal/jjerr"
	"github.com/jjkit/jjkit/internal/storage"
)

func newTestLog(t *testing.T) (*Log, *storage.Store) {
	t.Helper()
	store, err := storage.Open(afero.NewMemMapFs(), "/repo/.jj")
	if err != nil {
		t.Fatalf("storage.Open failed: %v", err)
	}
	l, err := Open(store)
	if err != nil {
		t.Fatalf("oplog.Open failed: %v", err)
	}
	return l, store
}

// commitOp is a helper running one staged write through a transaction.
func commitOp(t *testing.T, l *Log, ts int64, kind string, writes map[string][]byte) *Operation {
	t.Helper()
	txn := l.Begin()
	for k, v := range writes {
		if err := txn.Stage(k, v); err != nil {
			t.Fatalf("Stage failed: %v", err)
		}
	}
	op, err := txn.Commit(ts, "alice@example.com", kind, kind, map[string]any{"n": ts}, nil)
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	return op
}

func TestCommitAppendsAndFlushes(t *testing.T) {
	l, store := newTestLog(t)

	op := commitOp(t, l, 1000, "init", map[string][]byte{
		"graph.json": []byte(`{"v":1}`),
	})
	if l.Head() != op.ID {
		t.Errorf("head not advanced")
	}
	if l.Len() != 1 {
		t.Errorf("expected 1 op, got %d", l.Len())
	}

	data, err := store.Get("graph.json")
	if err != nil || string(data) != `{"v":1}` {
		t.Errorf("buffered write not flushed: %q, %v", data, err)
	}
	if _, err := store.Get(Key); err != nil {
		t.Errorf("op log file missing: %v", err)
	}
}

func TestRollbackDiscardsWrites(t *testing.T) {
	l, store := newTestLog(t)

	txn := l.Begin()
	if err := txn.Stage("graph.json", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	txn.Rollback()

	if store.Exists("graph.json") {
		t.Error("rolled-back write reached disk")
	}
	if l.Len() != 0 {
		t.Error("rolled-back op recorded")
	}
	if _, err := txn.Commit(1, "u", "k", "", nil, nil); !jjerr.IsKind(err, jjerr.ValidationError) {
		t.Errorf("commit after rollback should fail, got %v", err)
	}
}

func TestReopenRestoresHead(t *testing.T) {
	l, store := newTestLog(t)
	commitOp(t, l, 1000, "init", map[string][]byte{"graph.json": []byte(`{"v":1}`)})
	op2 := commitOp(t, l, 2000, "describe", map[string][]byte{"graph.json": []byte(`{"v":2}`)})

	reopened, err := Open(store)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if reopened.Head() != op2.ID {
		t.Errorf("head lost on reopen")
	}
	if reopened.Len() != 2 {
		t.Errorf("expected 2 ops, got %d", reopened.Len())
	}
	if got, _ := reopened.Get(op2.ID); got.Parents[0] != l.ops[0].ID {
		t.Errorf("parent chain broken: %+v", got.Parents)
	}
}

func TestUndoStateReversesViews(t *testing.T) {
	l, _ := newTestLog(t)
	commitOp(t, l, 1000, "init", map[string][]byte{"graph.json": []byte(`{"v":1}`)})
	commitOp(t, l, 2000, "describe", map[string][]byte{"graph.json": []byte(`{"v":2}`)})
	commitOp(t, l, 3000, "new", map[string][]byte{
		"graph.json":        []byte(`{"v":3}`),
		"working-copy.json": []byte(`{"current":"x"}`),
	})

	state, undone, _, err := l.UndoState(1)
	if err != nil {
		t.Fatalf("UndoState failed: %v", err)
	}
	if len(undone) != 1 || undone[0].Kind != "new" {
		t.Errorf("wrong ops undone: %+v", undone)
	}
	if string(state["graph.json"]) != `{"v":2}` {
		t.Errorf("graph not reverted: %s", state["graph.json"])
	}
	if _, ok := state["working-copy.json"]; ok {
		t.Error("file created by undone op should be gone")
	}

	state, _, _, err = l.UndoState(2)
	if err != nil {
		t.Fatalf("UndoState(2) failed: %v", err)
	}
	if string(state["graph.json"]) != `{"v":1}` {
		t.Errorf("two-step undo wrong: %s", state["graph.json"])
	}

	if _, _, _, err := l.UndoState(3); !jjerr.IsKind(err, jjerr.InvalidArgument) {
		t.Errorf("undoing past the initial op should fail, got %v", err)
	}
}

func TestReplayState(t *testing.T) {
	l, _ := newTestLog(t)
	op1 := commitOp(t, l, 1000, "init", map[string][]byte{"graph.json": []byte(`{"v":1}`)})
	commitOp(t, l, 2000, "describe", map[string][]byte{"graph.json": []byte(`{"v":2}`)})

	state, err := l.ReplayState(op1.ID)
	if err != nil {
		t.Fatalf("ReplayState failed: %v", err)
	}
	if string(state["graph.json"]) != `{"v":1}` {
		t.Errorf("replay through op1 = %s", state["graph.json"])
	}
}

func TestAbandonRelinksChildren(t *testing.T) {
	l, _ := newTestLog(t)
	op1 := commitOp(t, l, 1000, "init", map[string][]byte{"graph.json": []byte(`{"v":1}`)})
	op2 := commitOp(t, l, 2000, "describe", map[string][]byte{"graph.json": []byte(`{"v":2}`)})
	op3 := commitOp(t, l, 3000, "new", map[string][]byte{"working-copy.json": []byte(`{"current":"x"}`)})

	if err := l.Abandon(op2.ID); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}
	if l.Head() != op3.ID {
		t.Errorf("head should remain op3")
	}
	got, err := l.Get(op3.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if diff := cmp.Diff([]string{op1.ID}, got.Parents); diff != "" {
		t.Errorf("op3 not relinked (-want +got):\n%s", diff)
	}

	// Replay through op3 now lacks op2's effect.
	state, err := l.ReplayState(op3.ID)
	if err != nil {
		t.Fatalf("ReplayState failed: %v", err)
	}
	if string(state["graph.json"]) != `{"v":1}` {
		t.Errorf("abandoned op effect survived replay: %s", state["graph.json"])
	}
	if string(state["working-copy.json"]) != `{"current":"x"}` {
		t.Errorf("op3 effect lost: %s", state["working-copy.json"])
	}
}

func TestAbandonInitialOpFails(t *testing.T) {
	l, _ := newTestLog(t)
	op1 := commitOp(t, l, 1000, "init", map[string][]byte{"graph.json": []byte(`{"v":1}`)})

	if err := l.Abandon(op1.ID); !jjerr.IsKind(err, jjerr.Conflict) {
		t.Errorf("expected CONFLICT, got %v", err)
	}
}

func TestAbandonTargetedOpFails(t *testing.T) {
	l, _ := newTestLog(t)
	commitOp(t, l, 1000, "init", map[string][]byte{"graph.json": []byte(`{"v":1}`)})
	op2 := commitOp(t, l, 2000, "describe", map[string][]byte{"graph.json": []byte(`{"v":2}`)})

	// An undo record that targets op2.
	txn := l.Begin()
	if err := txn.Stage("graph.json", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}
	if _, err := txn.Commit(3000, "alice@example.com", "undo", "undo 1 operation",
		map[string]any{"undone": []string{op2.ID}}, nil); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	if err := l.Abandon(op2.ID); !jjerr.IsKind(err, jjerr.Conflict) {
		t.Errorf("expected CONFLICT for targeted op, got %v", err)
	}
}

func TestRevertState(t *testing.T) {
	l, _ := newTestLog(t)
	commitOp(t, l, 1000, "init", map[string][]byte{"graph.json": []byte(`{"v":1}`), "bookmarks.json": []byte(`{"b":1}`)})
	op2 := commitOp(t, l, 2000, "bookmark", map[string][]byte{"bookmarks.json": []byte(`{"b":2}`)})
	commitOp(t, l, 3000, "describe", map[string][]byte{"graph.json": []byte(`{"v":3}`)})

	state, target, err := l.RevertState(op2.ID)
	if err != nil {
		t.Fatalf("RevertState failed: %v", err)
	}
	if target.ID != op2.ID {
		t.Errorf("wrong target")
	}
	// op2's effect is inverted, op3's stands.
	if string(state["bookmarks.json"]) != `{"b":1}` {
		t.Errorf("bookmarks not reverted: %s", state["bookmarks.json"])
	}
	if string(state["graph.json"]) != `{"v":3}` {
		t.Errorf("later op clobbered: %s", state["graph.json"])
	}
}

func TestOpIDDeterministicAcrossLogs(t *testing.T) {
	build := func() string {
		l, _ := newTestLog(t)
		op := commitOp(t, l, 12345, "init", map[string][]byte{"graph.json": []byte(`{}`)})
		return op.ID
	}
	if a, b := build(), build(); a != b {
		t.Errorf("same inputs gave different op ids: %s vs %s", a, b)
	}
}
