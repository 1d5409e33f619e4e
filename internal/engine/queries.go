package engine

import (
	"context"
	"io"
	"sort"

	"github.com/jjkit/jjkit/internal/graph"
	"github.com/jjkit/jjkit/internal/jjerr"
	"github.com/jjkit/jjkit/internal/revset"
)

// Read-side queries. Reads bypass the operation log entirely and answer
// from a consistent snapshot of the in-memory state taken under the
// read lock.

// LogEntry is one row of a log query.
type LogEntry struct {
	ChangeID      string
	CommitID      string
	Description   string
	Author        graph.Signature
	Committer     graph.Signature
	Parents       []string
	Bookmarks     []string
	IsWorkingCopy bool
	Empty         bool
	HasConflict   bool
	Abandoned     bool
}

// revsetContext builds the evaluator context over the current state.
// Callers must hold at least the read lock.
func (r *Repo) revsetContext() *revset.Context {
	return &revset.Context{
		Graph:       r.graph,
		Bookmarks:   r.bookmarks,
		WorkingCopy: r.wc.Current(),
		UserEmail:   r.cfg.UserEmail,
		Now:         r.cfg.now(),
		FileMatch: func(c *graph.Change, pattern string) bool {
			for _, p := range r.changedPaths(c) {
				if revset.MatchPattern(pattern, p) {
					return true
				}
			}
			return false
		},
	}
}

// changedPaths returns the paths a change modifies relative to its
// parent merge tree, sorted.
func (r *Repo) changedPaths(c *graph.Change) []string {
	base := r.parentMergeTree(c.Parents)
	var out []string
	for p, blob := range c.Tree {
		if base[p] != blob {
			out = append(out, p)
		}
	}
	for p := range base {
		if _, ok := c.Tree[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Log evaluates a revset (default all()) and returns entries in
// topological newest-first order.
func (r *Repo) Log(revsetSrc string) ([]LogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if revsetSrc == "" {
		revsetSrc = "all()"
	}
	ids, err := revset.Eval(r.revsetContext(), revsetSrc)
	if err != nil {
		return nil, err
	}

	out := make([]LogEntry, 0, len(ids))
	for _, id := range ids {
		c, err := r.graph.Get(id)
		if err != nil {
			return nil, err
		}
		entry := LogEntry{
			ChangeID:      c.ChangeID,
			CommitID:      c.CommitID,
			Description:   c.Description,
			Author:        c.Author,
			Committer:     c.Committer,
			Parents:       append([]string(nil), c.Parents...),
			IsWorkingCopy: id == r.wc.Current(),
			Empty:         c.Flags.Empty,
			HasConflict:   c.Flags.HasConflict,
			Abandoned:     c.Flags.Abandoned,
		}
		for _, b := range r.bookmarks.ByTarget(id) {
			entry.Bookmarks = append(entry.Bookmarks, b.Key())
		}
		out = append(out, entry)
	}
	return out, nil
}

// StatusInfo summarises the working copy.
type StatusInfo struct {
	WorkingCopy LogEntry
	Dirty       []string
	Conflicts   int
}

// Status reports the working-copy change, the paths dirty since the
// last snapshot, and the number of unresolved conflicts. It records
// nothing.
func (r *Repo) Status(ctx context.Context) (*StatusInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, err := r.graph.Get(r.wc.Current())
	if err != nil {
		return nil, err
	}
	dirty, err := r.wc.ScanDirty(ctx)
	if err != nil {
		return nil, err
	}

	entry := LogEntry{
		ChangeID:      c.ChangeID,
		CommitID:      c.CommitID,
		Description:   c.Description,
		Author:        c.Author,
		Committer:     c.Committer,
		Parents:       append([]string(nil), c.Parents...),
		IsWorkingCopy: true,
		Empty:         c.Flags.Empty,
		HasConflict:   c.Flags.HasConflict,
	}
	for _, b := range r.bookmarks.ByTarget(c.ChangeID) {
		entry.Bookmarks = append(entry.Bookmarks, b.Key())
	}
	return &StatusInfo{
		WorkingCopy: entry,
		Dirty:       dirty,
		Conflicts:   r.conflicts.Len(),
	}, nil
}

// DiffEntry is one changed path of a change.
type DiffEntry struct {
	Path   string
	Status byte // 'A' added, 'M' modified, 'D' deleted
}

// Diff lists what a change modifies relative to its parents.
func (r *Repo) Diff(rev string) ([]DiffEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, err := r.resolveSingle(rev)
	if err != nil {
		return nil, err
	}
	c, err := r.graph.Get(id)
	if err != nil {
		return nil, err
	}
	base := r.parentMergeTree(c.Parents)

	var out []DiffEntry
	for p, blob := range c.Tree {
		prev, ok := base[p]
		switch {
		case !ok:
			out = append(out, DiffEntry{Path: p, Status: 'A'})
		case prev != blob:
			out = append(out, DiffEntry{Path: p, Status: 'M'})
		}
	}
	for p := range base {
		if _, ok := c.Tree[p]; !ok {
			out = append(out, DiffEntry{Path: p, Status: 'D'})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// ReadFile returns a file's content at a revision.
func (r *Repo) ReadFile(rev, path string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readFileLocked(rev, path)
}

func (r *Repo) readFileLocked(rev, path string) ([]byte, error) {
	id, err := r.resolveSingle(rev)
	if err != nil {
		return nil, err
	}
	c, err := r.graph.Get(id)
	if err != nil {
		return nil, err
	}
	blob, ok := c.Tree[path]
	if !ok {
		return nil, jjerr.Newf(jjerr.NotFound, "no such file %q in change", path).
			With("path", path).
			With("change_id", id)
	}
	return r.bridge.GetBlob(blob)
}

// ReadFileStream returns a pull-based reader over a file at a revision;
// the engine never buffers the whole content.
func (r *Repo) ReadFileStream(rev, path string) (io.ReadCloser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, err := r.resolveSingle(rev)
	if err != nil {
		return nil, err
	}
	c, err := r.graph.Get(id)
	if err != nil {
		return nil, err
	}
	blob, ok := c.Tree[path]
	if !ok {
		return nil, jjerr.Newf(jjerr.NotFound, "no such file %q in change", path).
			With("path", path).
			With("change_id", id)
	}
	return r.bridge.BlobReader(blob)
}

// ObslogEntry is one historical commit of a change.
type ObslogEntry struct {
	CommitID string
	Current  bool
}

// Obslog lists the commits a change has occupied, newest first.
func (r *Repo) Obslog(rev string) ([]ObslogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, err := r.resolveSingle(rev)
	if err != nil {
		return nil, err
	}
	c, err := r.graph.Get(id)
	if err != nil {
		return nil, err
	}

	var out []ObslogEntry
	if c.CommitID != "" {
		out = append(out, ObslogEntry{CommitID: c.CommitID, Current: true})
	}
	for i := len(c.Evolution) - 1; i >= 0; i-- {
		out = append(out, ObslogEntry{CommitID: c.Evolution[i]})
	}
	return out, nil
}

// Change returns a read-only copy of one change.
func (r *Repo) Change(rev string) (*graph.Change, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, err := r.resolveSingle(rev)
	if err != nil {
		return nil, err
	}
	c, err := r.graph.Get(id)
	if err != nil {
		return nil, err
	}
	return c.Clone(), nil
}

// WorkingCopyID returns the change the working copy points at.
func (r *Repo) WorkingCopyID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wc.Current()
}
