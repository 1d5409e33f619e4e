package revset

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jjkit/jjkit/internal/graph"
	"github.com/jjkit/jjkit/internal/jjerr"
)

// buildContext creates a small repository:
//
//	root <- a1 (alice) <- b1 (bob) <- a2 (alice, empty) <- b2 (bob, merge of a2+side)
//	              \- side (alice)
func buildContext(t *testing.T) *Context {
	t.Helper()
	now := time.UnixMilli(1_700_000_000_000)

	sig := func(name string, offset int64) graph.Signature {
		return graph.Signature{Name: name, Email: name + "@example.com", Timestamp: now.UnixMilli() + offset}
	}

	g := graph.New(&graph.Change{ChangeID: "root000000", Committer: graph.Signature{}})
	mk := func(id string, author graph.Signature, desc string, parents ...string) {
		t.Helper()
		if _, err := g.Create(id, parents, desc, author, author); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	mk("a1aaaaaaaa", sig("alice", 1000), "first feature", "root000000")
	mk("sideaaaaaa", sig("alice", 1500), "side work", "a1aaaaaaaa")
	mk("b1bbbbbbbb", sig("bob", 2000), "bob fixes", "a1aaaaaaaa")
	mk("a2aaaaaaaa", sig("alice", 3000), "", "b1bbbbbbbb")
	mk("b2bbbbbbbb", sig("bob", 4000), "merge work", "a2aaaaaaaa", "sideaaaaaa")
	_ = g.SetFlags("a2aaaaaaaa", graph.Flags{Empty: true})
	_ = g.SetWorkingCopy("b2bbbbbbbb")

	bm := graph.NewBookmarkSet()
	_, _ = bm.Create("main", "", "b1bbbbbbbb", false)

	return &Context{
		Graph:       g,
		Bookmarks:   bm,
		WorkingCopy: "b2bbbbbbbb",
		UserEmail:   "alice@example.com",
		Now:         now.Add(5 * time.Hour),
	}
}

func ids(t *testing.T, ctx *Context, src string) []string {
	t.Helper()
	out, err := Eval(ctx, src)
	if err != nil {
		t.Fatalf("Eval(%q) failed: %v", src, err)
	}
	return out
}

func TestEvalAtoms(t *testing.T) {
	ctx := buildContext(t)

	if got := ids(t, ctx, "@"); len(got) != 1 || got[0] != "b2bbbbbbbb" {
		t.Errorf("@ = %v", got)
	}
	if got := ids(t, ctx, "main"); len(got) != 1 || got[0] != "b1bbbbbbbb" {
		t.Errorf("bookmark symbol = %v", got)
	}
	if got := ids(t, ctx, "a1aa"); len(got) != 1 || got[0] != "a1aaaaaaaa" {
		t.Errorf("prefix = %v", got)
	}
	if _, err := Eval(ctx, "nope123"); !jjerr.IsKind(err, jjerr.NotFound) {
		t.Errorf("expected NOT_FOUND for unknown symbol, got %v", err)
	}
}

func TestEvalParentChildShorthand(t *testing.T) {
	ctx := buildContext(t)

	got := ids(t, ctx, "@-")
	want := []string{"a2aaaaaaaa", "sideaaaaaa"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("@- mismatch (-want +got):\n%s", diff)
	}

	if got := ids(t, ctx, "@--"); len(got) != 2 {
		// grandparents: b1 (via a2) and a1 (via side)
		t.Errorf("@-- = %v", got)
	}

	if got := ids(t, ctx, "a1aaaaaaaa+"); len(got) != 2 {
		t.Errorf("children = %v", got)
	}
}

func TestEvalSetAlgebra(t *testing.T) {
	ctx := buildContext(t)

	// A | B == B | A
	ab := ids(t, ctx, "ancestors(@) | mine()")
	ba := ids(t, ctx, "mine() | ancestors(@)")
	if diff := cmp.Diff(ab, ba); diff != "" {
		t.Errorf("union not commutative:\n%s", diff)
	}

	// A & A == A
	a := ids(t, ctx, "mine()")
	aa := ids(t, ctx, "mine() & mine()")
	if diff := cmp.Diff(a, aa); diff != "" {
		t.Errorf("intersection not idempotent:\n%s", diff)
	}

	// A ~ A == none()
	if got := ids(t, ctx, "mine() ~ mine()"); len(got) != 0 {
		t.Errorf("A ~ A = %v, want empty", got)
	}

	// ancestors(heads(all())) == all()
	lhs := ids(t, ctx, "ancestors(heads(all()))")
	rhs := ids(t, ctx, "all()")
	if diff := cmp.Diff(rhs, lhs); diff != "" {
		t.Errorf("ancestors(heads(all())) != all():\n%s", diff)
	}
}

func TestEvalFilters(t *testing.T) {
	ctx := buildContext(t)

	mine := ids(t, ctx, "mine()")
	for _, id := range mine {
		c, _ := ctx.Graph.Get(id)
		if c.Author.Email != "alice@example.com" {
			t.Errorf("mine() returned %s by %s", id, c.Author.Email)
		}
	}

	if got := ids(t, ctx, "empty()"); len(got) != 1 || got[0] != "a2aaaaaaaa" {
		t.Errorf("empty() = %v", got)
	}

	if got := ids(t, ctx, "merge()"); len(got) != 1 || got[0] != "b2bbbbbbbb" {
		t.Errorf("merge() = %v", got)
	}

	if got := ids(t, ctx, `author("bob")`); len(got) != 2 {
		t.Errorf("author(bob) = %v", got)
	}

	if got := ids(t, ctx, `description("feature")`); len(got) != 1 || got[0] != "a1aaaaaaaa" {
		t.Errorf("description = %v", got)
	}

	if got := ids(t, ctx, `description(re:"^bob")`); len(got) != 1 || got[0] != "b1bbbbbbbb" {
		t.Errorf("regex description = %v", got)
	}
}

func TestEvalOrderIsNewestFirstTopological(t *testing.T) {
	ctx := buildContext(t)

	got := ids(t, ctx, "all()")
	if got[0] != "b2bbbbbbbb" {
		t.Errorf("newest change must come first: %v", got)
	}
	pos := make(map[string]int)
	for i, id := range got {
		pos[id] = i
	}
	for _, id := range got {
		c, _ := ctx.Graph.Get(id)
		for _, p := range c.Parents {
			if pp, ok := pos[p]; ok && pp < pos[id] {
				t.Errorf("parent %s before child %s", p, id)
			}
		}
	}
}

func TestEvalTimeFunctions(t *testing.T) {
	ctx := buildContext(t)

	// Everything is within the last 7 days of ctx.Now.
	if got := ids(t, ctx, "last(7d)"); len(got) != len(ids(t, ctx, "all()"))-1 {
		// root has timestamp 0 and falls outside.
		t.Errorf("last(7d) = %v", got)
	}

	if got := ids(t, ctx, "last(2)"); len(got) != 2 {
		t.Errorf("last(2) = %v", got)
	}
	if got := ids(t, ctx, "latest(3)"); len(got) != 3 {
		t.Errorf("latest(3) = %v", got)
	}

	if got := ids(t, ctx, `since("2001-01-01")`); len(got) != 5 {
		t.Errorf("since(2001) = %v", got)
	}
}

func TestEvalGraphFunctions(t *testing.T) {
	ctx := buildContext(t)

	lca := ids(t, ctx, "common_ancestor(a2aaaaaaaa, sideaaaaaa)")
	if len(lca) != 1 || lca[0] != "a1aaaaaaaa" {
		t.Errorf("common_ancestor = %v", lca)
	}

	r := ids(t, ctx, "range(a1aaaaaaaa, a2aaaaaaaa)")
	want := []string{"a2aaaaaaaa", "b1bbbbbbbb"}
	if diff := cmp.Diff(want, r); diff != "" {
		t.Errorf("range mismatch (-want +got):\n%s", diff)
	}

	between := ids(t, ctx, "between(a1aaaaaaaa, b2bbbbbbbb)")
	if len(between) < 4 {
		t.Errorf("between = %v", between)
	}

	if got := ids(t, ctx, "heads(all())"); len(got) != 1 || got[0] != "b2bbbbbbbb" {
		t.Errorf("heads = %v", got)
	}

	if got := ids(t, ctx, "bookmarks()"); len(got) != 1 || got[0] != "b1bbbbbbbb" {
		t.Errorf("bookmarks() = %v", got)
	}
	if got := ids(t, ctx, `bookmark("main")`); len(got) != 1 || got[0] != "b1bbbbbbbb" {
		t.Errorf("bookmark(main) = %v", got)
	}
}

func TestEvalScenarioQuery(t *testing.T) {
	ctx := buildContext(t)

	// Alice's non-empty recent changes, newest first.
	got := ids(t, ctx, "mine() & ~empty() & last(7d)")
	want := []string{"sideaaaaaa", "a1aaaaaaaa"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("scenario query mismatch (-want +got):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	ctx := buildContext(t)

	cases := []string{
		"",
		"mine(",
		"mine() |",
		"(mine()",
		"mine() extra()",
		`description(`,
		"$bogus",
	}
	for _, src := range cases {
		if _, err := Eval(ctx, src); !jjerr.IsKind(err, jjerr.ParseError) {
			t.Errorf("Eval(%q): expected PARSE_ERROR, got %v", src, err)
		}
	}
}

func TestArityAndTypeErrors(t *testing.T) {
	ctx := buildContext(t)

	cases := []string{
		"latest()",
		"ancestors()",
		"ancestors(@, @)",
		`latest("three")`,
		"bogusfn()",
		"common_ancestor(all(), @)",
	}
	for _, src := range cases {
		if _, err := Eval(ctx, src); !jjerr.IsKind(err, jjerr.InvalidArgument) {
			t.Errorf("Eval(%q): expected INVALID_ARGUMENT, got %v", src, err)
		}
	}
}

func TestParseErrorCarriesPosition(t *testing.T) {
	_, err := Parse("mine() $ x")
	if !jjerr.IsKind(err, jjerr.ParseError) {
		t.Fatalf("expected PARSE_ERROR, got %v", err)
	}
	if jjerr.ContextValue(err, "position") == "" {
		t.Error("parse error missing position context")
	}
}

func TestGlobPattern(t *testing.T) {
	cases := []struct {
		pattern, text string
		want          bool
	}{
		{"glob:*.go", "main.go", true},
		{"glob:*.go", "pkg/main.go", false},
		{"glob:**/*.go", "pkg/sub/main.go", true},
		{"glob:src/**", "src/a/b/c.txt", true},
		{"glob:src/**", "lib/a.txt", false},
	}
	for _, tc := range cases {
		if got := MatchPattern(tc.pattern, tc.text); got != tc.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", tc.pattern, tc.text, got, tc.want)
		}
	}
}
