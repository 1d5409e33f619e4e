package revindex

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jjkit/jjkit/internal/graph"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestUpsertAndSearch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	rows := []Row{
		{ChangeID: "aaaa", AuthorName: "Alice", AuthorEmail: "alice@example.com", Description: "fix parser", CommitterMS: 1000},
		{ChangeID: "bbbb", AuthorName: "Bob", AuthorEmail: "bob@example.com", Description: "add export", CommitterMS: 2000},
		{ChangeID: "cccc", AuthorName: "Alice", AuthorEmail: "alice@example.com", Description: "abandoned work", CommitterMS: 3000, Abandoned: true},
	}
	for _, r := range rows {
		if err := db.Upsert(ctx, r); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	got, err := db.SearchAuthor(ctx, "alice")
	if err != nil {
		t.Fatalf("SearchAuthor failed: %v", err)
	}
	if len(got) != 1 || got[0] != "aaaa" {
		t.Errorf("SearchAuthor = %v (abandoned rows must be excluded)", got)
	}

	got, err = db.SearchDescription(ctx, "EXPORT")
	if err != nil {
		t.Fatalf("SearchDescription failed: %v", err)
	}
	if len(got) != 1 || got[0] != "bbbb" {
		t.Errorf("SearchDescription = %v", got)
	}

	got, err = db.Since(ctx, 1500)
	if err != nil {
		t.Fatalf("Since failed: %v", err)
	}
	if len(got) != 1 || got[0] != "bbbb" {
		t.Errorf("Since = %v", got)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	r := Row{ChangeID: "aaaa", Description: "v1", CommitterMS: 1}
	if err := db.Upsert(ctx, r); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	r.Description = "v2"
	if err := db.Upsert(ctx, r); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	n, err := db.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row after upsert, got %d", n)
	}
	got, _ := db.SearchDescription(ctx, "v2")
	if len(got) != 1 {
		t.Errorf("updated description not found")
	}
}

func TestRebuildFromGraph(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	// Stale row that the rebuild must drop.
	if err := db.Upsert(ctx, Row{ChangeID: "stale", Description: "gone"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	g := graph.New(&graph.Change{ChangeID: "root0000"})
	sig := graph.Signature{Name: "Alice", Email: "alice@example.com", Timestamp: 1000}
	if _, err := g.Create("aaaa0000", []string{"root0000"}, "real change", sig, sig); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := db.RebuildFrom(ctx, g); err != nil {
		t.Fatalf("RebuildFrom failed: %v", err)
	}

	n, _ := db.Count(ctx)
	if n != 2 {
		t.Errorf("expected 2 rows after rebuild, got %d", n)
	}
	if got, _ := db.SearchDescription(ctx, "gone"); len(got) != 0 {
		t.Error("stale row survived rebuild")
	}
	if got, _ := db.SearchDescription(ctx, "real"); len(got) != 1 {
		t.Error("graph row missing after rebuild")
	}
}
