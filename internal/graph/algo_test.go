package graph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// diamond builds root -> a -> {b, c} -> d.
func diamond(t *testing.T) *Graph {
	t.Helper()
	g := testGraph(t)
	mustCreate(t, g, "aaaa", 10, "root0000")
	mustCreate(t, g, "bbbb", 20, "aaaa")
	mustCreate(t, g, "cccc", 30, "aaaa")
	mustCreate(t, g, "dddd", 40, "bbbb", "cccc")
	return g
}

func setOf(ids ...string) map[string]bool {
	s := make(map[string]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

func TestAncestorsDescendants(t *testing.T) {
	g := diamond(t)

	anc := g.Ancestors("dddd")
	for _, id := range []string{"dddd", "bbbb", "cccc", "aaaa", "root0000"} {
		if !anc[id] {
			t.Errorf("ancestors(dddd) missing %s", id)
		}
	}

	desc := g.Descendants("aaaa")
	if len(desc) != 4 {
		t.Errorf("descendants(aaaa) = %v, want 4 members", desc)
	}
	if desc["root0000"] {
		t.Error("descendants(aaaa) must not contain the root")
	}
}

func TestHeadsAndRoots(t *testing.T) {
	g := diamond(t)

	heads := g.Heads(nil)
	if diff := cmp.Diff([]string{"dddd"}, heads); diff != "" {
		t.Errorf("heads mismatch (-want +got):\n%s", diff)
	}

	sub := setOf("bbbb", "cccc", "dddd")
	roots := g.Roots(sub)
	if diff := cmp.Diff([]string{"bbbb", "cccc"}, roots); diff != "" {
		t.Errorf("roots mismatch (-want +got):\n%s", diff)
	}
}

func TestCommonAncestor(t *testing.T) {
	g := diamond(t)

	lca, err := g.CommonAncestor("bbbb", "cccc")
	if err != nil {
		t.Fatalf("CommonAncestor failed: %v", err)
	}
	if lca != "aaaa" {
		t.Errorf("expected aaaa, got %s", lca)
	}

	// An ancestor of the other side is the answer itself.
	lca, err = g.CommonAncestor("aaaa", "dddd")
	if err != nil {
		t.Fatalf("CommonAncestor failed: %v", err)
	}
	if lca != "aaaa" {
		t.Errorf("expected aaaa, got %s", lca)
	}
}

func TestCommonAncestorTieBreak(t *testing.T) {
	// Criss-cross: two common ancestors with equal depth.
	g := testGraph(t)
	mustCreate(t, g, "p1aa", 10, "root0000")
	mustCreate(t, g, "p2aa", 10, "root0000")
	mustCreate(t, g, "left", 20, "p1aa", "p2aa")
	mustCreate(t, g, "rite", 20, "p1aa", "p2aa")

	lca, err := g.CommonAncestor("left", "rite")
	if err != nil {
		t.Fatalf("CommonAncestor failed: %v", err)
	}
	// Equal timestamps: lexicographically smaller id wins.
	if lca != "p1aa" {
		t.Errorf("expected p1aa by lexicographic tie-break, got %s", lca)
	}
}

func TestRange(t *testing.T) {
	g := diamond(t)

	r := g.Range("aaaa", "dddd")
	want := setOf("bbbb", "cccc", "dddd")
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("range mismatch (-want +got):\n%s", diff)
	}
}

func TestConnectedFillsGaps(t *testing.T) {
	g := diamond(t)

	out := g.Connected(setOf("aaaa", "dddd"))
	for _, id := range []string{"aaaa", "bbbb", "cccc", "dddd"} {
		if !out[id] {
			t.Errorf("connected missing %s", id)
		}
	}
	if out["root0000"] {
		t.Error("connected must not include the root")
	}
}

func TestTopoSortNewestFirst(t *testing.T) {
	g := diamond(t)

	order := g.TopoSort(setOf("root0000", "aaaa", "bbbb", "cccc", "dddd"))
	want := []string{"dddd", "cccc", "bbbb", "aaaa", "root0000"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("topo order mismatch (-want +got):\n%s", diff)
	}

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	for _, id := range order {
		c, _ := g.Get(id)
		for _, p := range c.Parents {
			if pp, ok := pos[p]; ok && pp < pos[id] {
				t.Errorf("parent %s sorted before child %s", p, id)
			}
		}
	}
}

func TestTopoSortTimestampTieBreak(t *testing.T) {
	g := testGraph(t)
	mustCreate(t, g, "aaaa", 10, "root0000")
	// Two siblings with identical timestamps: id ascending.
	mustCreate(t, g, "zzzz", 20, "aaaa")
	mustCreate(t, g, "mmmm", 20, "aaaa")

	order := g.TopoSort(setOf("zzzz", "mmmm"))
	if diff := cmp.Diff([]string{"mmmm", "zzzz"}, order); diff != "" {
		t.Errorf("tie-break mismatch (-want +got):\n%s", diff)
	}
}
