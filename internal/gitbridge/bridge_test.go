package gitbridge

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jjkit/jjkit/internal/graph"
	"github.com/jjkit/jjkit/internal/ids"
)

func newTestBridge(t *testing.T) *Bridge {
	t.Helper()
	b, err := NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory failed: %v", err)
	}
	return b
}

func sig(ts int64) graph.Signature {
	return graph.Signature{Name: "Alice", Email: "alice@example.com", Timestamp: ts}
}

func TestBlobRoundTrip(t *testing.T) {
	b := newTestBridge(t)

	id, err := b.PutBlob([]byte("hello jj\n"))
	if err != nil {
		t.Fatalf("PutBlob failed: %v", err)
	}
	if len(id) != 40 {
		t.Errorf("expected sha1 hex, got %q", id)
	}
	content, err := b.GetBlob(id)
	if err != nil {
		t.Fatalf("GetBlob failed: %v", err)
	}
	if string(content) != "hello jj\n" {
		t.Errorf("content mangled: %q", content)
	}
}

func TestTreeRoundTrip(t *testing.T) {
	b := newTestBridge(t)

	blobA, _ := b.PutBlob([]byte("a"))
	blobB, _ := b.PutBlob([]byte("b"))
	tree := map[string]string{
		"top.txt":        blobA,
		"dir/nested.txt": blobB,
		"dir/sub/x.txt":  blobA,
	}

	hash, err := b.WriteTree(tree)
	if err != nil {
		t.Fatalf("WriteTree failed: %v", err)
	}
	back, err := b.ReadTree(hash)
	if err != nil {
		t.Fatalf("ReadTree failed: %v", err)
	}
	if diff := cmp.Diff(tree, back); diff != "" {
		t.Errorf("tree round trip mismatch (-want +got):\n%s", diff)
	}

	// Same content hashes to the same tree.
	hash2, err := b.WriteTree(tree)
	if err != nil {
		t.Fatalf("second WriteTree failed: %v", err)
	}
	if hash != hash2 {
		t.Errorf("tree write not deterministic: %s vs %s", hash, hash2)
	}
}

func TestProjectChangeAndReadBack(t *testing.T) {
	b := newTestBridge(t)

	blob, _ := b.PutBlob([]byte("content\n"))
	changeID := strings.Repeat("ab", 32)
	c := &graph.Change{
		ChangeID:    changeID,
		Description: "my change\n\nwith body",
		Author:      sig(1000),
		Committer:   sig(2000),
		Tree:        map[string]string{"f.txt": blob},
	}

	commitID, err := b.ProjectChange(c, nil)
	if err != nil {
		t.Fatalf("ProjectChange failed: %v", err)
	}

	info, err := b.ReadCommit(commitID)
	if err != nil {
		t.Fatalf("ReadCommit failed: %v", err)
	}
	if info.ChangeID != changeID {
		t.Errorf("trailer change id = %q, want %q", info.ChangeID, changeID)
	}
	if info.Description != "my change\n\nwith body" {
		t.Errorf("description mangled: %q", info.Description)
	}
	if info.Author.Timestamp != 1000 || info.Committer.Timestamp != 2000 {
		t.Errorf("signatures mangled: %+v %+v", info.Author, info.Committer)
	}

	// Reverse-lookup ref exists.
	got, err := b.ResolveRef(changeRefPrefix + ids.Short(changeID))
	if err != nil || got != commitID {
		t.Errorf("change ref = %q, %v", got, err)
	}
}

func TestTrailerFormat(t *testing.T) {
	msg := messageWithTrailer("subject line", "deadbeef")
	if !strings.HasSuffix(msg, "\n\nChange-Id: deadbeef\n") {
		t.Errorf("trailer not blank-line separated: %q", msg)
	}

	desc, id := splitTrailer(msg)
	if desc != "subject line" || id != "deadbeef" {
		t.Errorf("splitTrailer = %q, %q", desc, id)
	}

	desc, id = splitTrailer("no trailer here\n")
	if desc != "no trailer here" || id != "" {
		t.Errorf("splitTrailer without trailer = %q, %q", desc, id)
	}
}

func TestRefOperations(t *testing.T) {
	b := newTestBridge(t)

	blob, _ := b.PutBlob([]byte("x"))
	c := &graph.Change{ChangeID: strings.Repeat("cd", 32), Tree: map[string]string{"f": blob}, Author: sig(1), Committer: sig(1)}
	commitID, err := b.ProjectChange(c, nil)
	if err != nil {
		t.Fatalf("ProjectChange failed: %v", err)
	}

	if err := b.UpdateRef("refs/heads/main", commitID); err != nil {
		t.Fatalf("UpdateRef failed: %v", err)
	}
	refs, err := b.ListRefs("refs/heads/")
	if err != nil {
		t.Fatalf("ListRefs failed: %v", err)
	}
	if refs["refs/heads/main"] != commitID {
		t.Errorf("ref not listed: %v", refs)
	}
	if err := b.DeleteRef("refs/heads/main"); err != nil {
		t.Fatalf("DeleteRef failed: %v", err)
	}
	refs, _ = b.ListRefs("refs/heads/")
	if len(refs) != 0 {
		t.Errorf("ref not deleted: %v", refs)
	}
}

// buildProjectedGraph creates root <- a <- b, projects both, and
// bookmarks b as main.
func buildProjectedGraph(t *testing.T, b *Bridge) (*graph.Graph, *graph.BookmarkSet, string, string) {
	t.Helper()
	root := &graph.Change{ChangeID: strings.Repeat("00", 32)}
	g := graph.New(root)

	blobA, _ := b.PutBlob([]byte("alpha\n"))
	blobB, _ := b.PutBlob([]byte("beta\n"))

	aID := strings.Repeat("aa", 32)
	bID := strings.Repeat("bb", 32)
	ca, err := g.Create(aID, []string{root.ChangeID}, "change a", sig(1000), sig(1000))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	ca.Tree = map[string]string{"a.txt": blobA}
	commitA, err := b.ProjectChange(ca, nil)
	if err != nil {
		t.Fatalf("ProjectChange a failed: %v", err)
	}
	_ = g.SetCommit(aID, commitA)

	cb, err := g.Create(bID, []string{aID}, "change b", sig(2000), sig(2000))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	cb.Tree = map[string]string{"a.txt": blobA, "b.txt": blobB}
	commitB, err := b.ProjectChange(cb, []string{commitA})
	if err != nil {
		t.Fatalf("ProjectChange b failed: %v", err)
	}
	_ = g.SetCommit(bID, commitB)

	bm := graph.NewBookmarkSet()
	_, _ = bm.Create("main", "", bID, false)
	return g, bm, aID, bID
}

func TestExportThenFreshImportIsIsomorphic(t *testing.T) {
	b := newTestBridge(t)
	g, bm, aID, bID := buildProjectedGraph(t, b)

	if _, err := b.Export(g, bm); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	// Fresh metadata over the same Git store.
	freshRoot := &graph.Change{ChangeID: strings.Repeat("11", 32)}
	fresh := graph.New(freshRoot)
	freshBM := graph.NewBookmarkSet()

	result, err := b.Import(fresh, freshBM, ids.NewChangeID)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", result.Warnings)
	}

	// Change IDs come back through the trailer.
	for _, id := range []string{aID, bID} {
		if !fresh.Has(id) {
			t.Errorf("change %s not recovered from trailer", ids.Short(id))
		}
	}
	cb, _ := fresh.Get(bID)
	if len(cb.Parents) != 1 || cb.Parents[0] != aID {
		t.Errorf("parent linkage lost: %v", cb.Parents)
	}

	mainBM, err := freshBM.Get("main", "")
	if err != nil || mainBM.Target != bID {
		t.Errorf("bookmark not recovered: %+v, %v", mainBM, err)
	}
}

func TestImportWithoutTrailerAssignsFreshID(t *testing.T) {
	b := newTestBridge(t)

	// Hand-write a commit without a trailer.
	blob, _ := b.PutBlob([]byte("raw\n"))
	tree, _ := b.WriteTree(map[string]string{"r.txt": blob})
	commitID, err := b.rawCommit("raw commit\n", tree, nil)
	if err != nil {
		t.Fatalf("rawCommit failed: %v", err)
	}
	if err := b.UpdateRef("refs/heads/raw", commitID); err != nil {
		t.Fatalf("UpdateRef failed: %v", err)
	}

	g := graph.New(&graph.Change{ChangeID: strings.Repeat("00", 32)})
	bm := graph.NewBookmarkSet()
	result, err := b.Import(g, bm, ids.NewChangeID)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(result.NewChanges) != 1 {
		t.Fatalf("expected 1 new change, got %v", result.NewChanges)
	}
	imported, _ := g.Get(result.NewChanges[0])
	if imported.Description != "raw commit" {
		t.Errorf("description = %q", imported.Description)
	}
	if imported.Parents[0] != g.RootID() {
		t.Errorf("parentless commit must attach to root")
	}
}

func TestImportMalformedTrailerWarns(t *testing.T) {
	b := newTestBridge(t)

	blob, _ := b.PutBlob([]byte("x\n"))
	tree, _ := b.WriteTree(map[string]string{"x.txt": blob})
	commitID, err := b.rawCommit("bad\n\nChange-Id: not-hex\n", tree, nil)
	if err != nil {
		t.Fatalf("rawCommit failed: %v", err)
	}
	_ = b.UpdateRef("refs/heads/bad", commitID)

	g := graph.New(&graph.Change{ChangeID: strings.Repeat("00", 32)})
	bm := graph.NewBookmarkSet()
	result, err := b.Import(g, bm, ids.NewChangeID)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(result.Warnings) != 1 {
		t.Errorf("expected 1 warning, got %v", result.Warnings)
	}
	if len(result.NewChanges) != 1 {
		t.Errorf("expected fresh change despite bad trailer")
	}
}

func TestExportRemovesDeletedBookmarkRefs(t *testing.T) {
	b := newTestBridge(t)
	g, bm, _, bID := buildProjectedGraph(t, b)

	if _, err := b.Export(g, bm); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	_, _ = bm.Create("feature", "", bID, false)
	if _, err := b.Export(g, bm); err != nil {
		t.Fatalf("second Export failed: %v", err)
	}
	if err := bm.Delete("feature", ""); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	result, err := b.Export(g, bm)
	if err != nil {
		t.Fatalf("third Export failed: %v", err)
	}
	if len(result.Removed) != 1 || result.Removed[0] != "feature" {
		t.Errorf("removed = %v", result.Removed)
	}
	if _, err := b.ResolveRef("refs/heads/feature"); err == nil {
		t.Error("deleted bookmark ref still resolvable")
	}
}
