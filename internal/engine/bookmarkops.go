package engine

import (
	"context"
	"fmt"

	"github.com/jjkit/jjkit/internal/ids"
	"github.com/jjkit/jjkit/internal/oplog"
)

// BookmarkSet creates or moves a local bookmark to the given revision.
func (r *Repo) BookmarkSet(ctx context.Context, name, rev string) (*oplog.Operation, error) {
	return r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		id, err := r.resolveSingle(rev)
		if err != nil {
			return nil, err
		}
		prevTarget := ""
		if existing, err := r.bookmarks.Get(name, ""); err == nil {
			prevTarget = existing.Target
			if prevTarget == id {
				return nil, nil
			}
		}
		if _, err := r.bookmarks.Set(name, "", id, false); err != nil {
			return nil, err
		}
		return &opSpec{
			kind:        "bookmark-set",
			description: fmt.Sprintf("point bookmark %s to %s", name, ids.Short(id)),
			payload:     map[string]any{"name": name, "target": id},
			inverse:     map[string]any{"prev_target": prevTarget},
		}, nil
	})
}

// BookmarkDelete removes a local bookmark.
func (r *Repo) BookmarkDelete(ctx context.Context, name string) (*oplog.Operation, error) {
	return r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		b, err := r.bookmarks.Get(name, "")
		if err != nil {
			return nil, err
		}
		prevTarget := b.Target
		if err := r.bookmarks.Delete(name, ""); err != nil {
			return nil, err
		}
		return &opSpec{
			kind:        "bookmark-delete",
			description: fmt.Sprintf("delete bookmark %s", name),
			payload:     map[string]any{"name": name},
			inverse:     map[string]any{"prev_target": prevTarget},
		}, nil
	})
}

// BookmarkTrack marks a remote bookmark as tracked.
func (r *Repo) BookmarkTrack(ctx context.Context, name, remote string) (*oplog.Operation, error) {
	return r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		b, err := r.bookmarks.Get(name, remote)
		if err != nil {
			return nil, err
		}
		if b.Tracked {
			return nil, nil
		}
		b.Tracked = true
		return &opSpec{
			kind:        "bookmark-track",
			description: fmt.Sprintf("track bookmark %s@%s", name, remote),
			payload:     map[string]any{"name": name, "remote": remote},
			inverse:     map[string]any{"prev_tracked": false},
		}, nil
	})
}

// Bookmarks returns all bookmarks, local and remote.
func (r *Repo) Bookmarks() []BookmarkInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []BookmarkInfo
	for _, b := range r.bookmarks.List() {
		out = append(out, BookmarkInfo{
			Name:    b.Name,
			Remote:  b.Remote,
			Target:  b.Target,
			Tracked: b.Tracked,
		})
	}
	return out
}

// BookmarkInfo is the read-side view of a bookmark.
type BookmarkInfo struct {
	Name    string
	Remote  string
	Target  string
	Tracked bool
}
