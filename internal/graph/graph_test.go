package graph

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jjkit/jjkit/internal/jjerr"
)

func sig(ts int64) Signature {
	return Signature{Name: "Alice", Email: "alice@example.com", Timestamp: ts}
}

func testGraph(t *testing.T) *Graph {
	t.Helper()
	root := &Change{ChangeID: "root0000", Committer: sig(0)}
	return New(root)
}

// mustCreate inserts a change with a synthetic id and fails the test on
// error.
func mustCreate(t *testing.T, g *Graph, id string, ts int64, parents ...string) {
	t.Helper()
	if _, err := g.Create(id, parents, "change "+id, sig(ts), sig(ts)); err != nil {
		t.Fatalf("Create %s failed: %v", id, err)
	}
}

func TestCreateValidatesParents(t *testing.T) {
	g := testGraph(t)
	mustCreate(t, g, "aaaa", 10, "root0000")

	if _, err := g.Create("bbbb", nil, "", sig(20), sig(20)); !jjerr.IsKind(err, jjerr.InvalidArgument) {
		t.Errorf("expected INVALID_ARGUMENT for no parents, got %v", err)
	}
	if _, err := g.Create("bbbb", []string{"missing"}, "", sig(20), sig(20)); !jjerr.IsKind(err, jjerr.InvalidArgument) {
		t.Errorf("expected INVALID_ARGUMENT for missing parent, got %v", err)
	}
	// Antichain violation: root is an ancestor of aaaa.
	if _, err := g.Create("bbbb", []string{"root0000", "aaaa"}, "", sig(20), sig(20)); !jjerr.IsKind(err, jjerr.InvalidArgument) {
		t.Errorf("expected INVALID_ARGUMENT for non-antichain parents, got %v", err)
	}
	if _, err := g.Create("aaaa", []string{"root0000"}, "", sig(20), sig(20)); !jjerr.IsKind(err, jjerr.AlreadyExists) {
		t.Errorf("expected ALREADY_EXISTS for duplicate id, got %v", err)
	}
}

func TestCreateClampsCommitterTimestamp(t *testing.T) {
	g := testGraph(t)
	mustCreate(t, g, "aaaa", 100, "root0000")

	c, err := g.Create("bbbb", []string{"aaaa"}, "", sig(50), sig(50))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if c.Committer.Timestamp != 100 {
		t.Errorf("expected committer timestamp clamped to 100, got %d", c.Committer.Timestamp)
	}
}

func TestAbandonedParentRejected(t *testing.T) {
	g := testGraph(t)
	mustCreate(t, g, "aaaa", 10, "root0000")
	if err := g.Abandon("aaaa"); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}

	if _, err := g.Create("bbbb", []string{"aaaa"}, "", sig(20), sig(20)); !jjerr.IsKind(err, jjerr.InvalidArgument) {
		t.Errorf("expected INVALID_ARGUMENT for abandoned parent, got %v", err)
	}
}

func TestSetParentsDetectsCycles(t *testing.T) {
	g := testGraph(t)
	mustCreate(t, g, "aaaa", 10, "root0000")
	mustCreate(t, g, "bbbb", 20, "aaaa")
	mustCreate(t, g, "cccc", 30, "bbbb")

	err := g.SetParents("aaaa", []string{"cccc"})
	if !jjerr.IsKind(err, jjerr.ValidationError) {
		t.Errorf("expected VALIDATION_ERROR for cycle, got %v", err)
	}
	if err := g.SetParents("aaaa", []string{"aaaa"}); !jjerr.IsKind(err, jjerr.ValidationError) {
		t.Errorf("expected VALIDATION_ERROR for self-parent, got %v", err)
	}
}

func TestSetCommitAppendsEvolution(t *testing.T) {
	g := testGraph(t)
	mustCreate(t, g, "aaaa", 10, "root0000")

	for i, commit := range []string{"c1", "c2", "c3"} {
		if err := g.SetCommit("aaaa", commit); err != nil {
			t.Fatalf("SetCommit %d failed: %v", i, err)
		}
	}
	c, _ := g.Get("aaaa")
	if c.CommitID != "c3" {
		t.Errorf("expected current commit c3, got %s", c.CommitID)
	}
	if diff := cmp.Diff([]string{"c1", "c2"}, c.Evolution); diff != "" {
		t.Errorf("evolution mismatch (-want +got):\n%s", diff)
	}
}

func TestResolvePrefix(t *testing.T) {
	g := testGraph(t)
	mustCreate(t, g, "abcd1111", 10, "root0000")
	mustCreate(t, g, "abce2222", 20, "root0000")

	if id, err := g.Resolve("abcd"); err != nil || id != "abcd1111" {
		t.Errorf("Resolve(abcd) = %q, %v", id, err)
	}
	if _, err := g.Resolve("abc"); !jjerr.IsKind(err, jjerr.InvalidArgument) {
		t.Errorf("expected ambiguity error, got %v", err)
	}
	if _, err := g.Resolve("zzzz"); !jjerr.IsKind(err, jjerr.NotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestMarshalLoadRoundTrip(t *testing.T) {
	g := testGraph(t)
	mustCreate(t, g, "aaaa", 10, "root0000")
	mustCreate(t, g, "bbbb", 20, "aaaa")
	_ = g.SetCommit("bbbb", "commit1")
	_ = g.SetWorkingCopy("bbbb")

	data, err := g.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if data[len(data)-1] != '\n' {
		t.Error("graph file must be LF-terminated")
	}

	loaded, err := Load(data)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	data2, err := loaded.Marshal()
	if err != nil {
		t.Fatalf("re-Marshal failed: %v", err)
	}
	if diff := cmp.Diff(string(data), string(data2)); diff != "" {
		t.Errorf("serialisation not stable (-first +second):\n%s", diff)
	}
	if loaded.WorkingCopy() != "bbbb" {
		t.Errorf("working copy pointer lost: %s", loaded.WorkingCopy())
	}
}

// TestAcyclicityUnderRandomMutations drives random create/re-parent
// sequences and verifies the parent relation never gains a cycle.
func TestAcyclicityUnderRandomMutations(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 20; round++ {
		g := testGraph(t)
		ids := []string{"root0000"}

		for i := 0; i < 40; i++ {
			switch rng.Intn(3) {
			case 0, 1: // create on a random non-abandoned change
				parent := ids[rng.Intn(len(ids))]
				if c, _ := g.Get(parent); c.Flags.Abandoned {
					continue
				}
				id := fmt.Sprintf("ch%02d%02d", round, i)
				if _, err := g.Create(id, []string{parent}, "", sig(int64(i)), sig(int64(i))); err == nil {
					ids = append(ids, id)
				}
			case 2: // random re-parent; errors are fine, cycles are not
				child := ids[rng.Intn(len(ids))]
				parent := ids[rng.Intn(len(ids))]
				_ = g.SetParents(child, []string{parent})
			}
		}

		for _, id := range ids {
			c, err := g.Get(id)
			if err != nil {
				continue
			}
			for _, p := range c.Parents {
				if g.IsAncestor(id, p) {
					t.Fatalf("round %d: cycle via %s -> %s", round, id, p)
				}
			}
		}
	}
}
