package engine

import (
	"context"
	"fmt"

	"github.com/jjkit/jjkit/internal/conflict"
	"github.com/jjkit/jjkit/internal/graph"
	"github.com/jjkit/jjkit/internal/ids"
	"github.com/jjkit/jjkit/internal/oplog"
	"github.com/jjkit/jjkit/internal/revset"
)

// Conflicts returns the unresolved conflicts, sorted by path.
func (r *Repo) Conflicts() []*conflict.Conflict {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*conflict.Conflict, 0, r.conflicts.Len())
	for _, c := range r.conflicts.List() {
		out = append(out, c.Clone())
	}
	return out
}

// Markers renders a conflict with the requested marker style.
func (r *Repo) Markers(conflictID string, style conflict.Style) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, err := r.conflicts.Get(conflictID)
	if err != nil {
		return nil, err
	}
	return conflict.FormatMarkers(c, style)
}

// Resolve settles one conflict, by strategy or with explicit content
// (content non-nil wins). The owning change's tree is updated and the
// conflict removed; the has_conflict flag clears when the change's
// conflict set empties.
func (r *Repo) Resolve(ctx context.Context, conflictID string, strategy conflict.Strategy, content []byte) (*oplog.Operation, error) {
	return r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		spec, err := r.resolveOne(ctx, conflictID, strategy, content)
		if err != nil {
			return nil, err
		}
		return spec, nil
	})
}

func (r *Repo) resolveOne(ctx context.Context, conflictID string, strategy conflict.Strategy, content []byte) (*opSpec, error) {
	c, err := r.conflicts.Get(conflictID)
	if err != nil {
		return nil, err
	}

	resolved := content
	exists := true
	if resolved == nil {
		resolved, exists, err = c.Resolve(strategy)
		if err != nil {
			return nil, err
		}
	}

	owner, err := r.graph.Get(c.ChangeID)
	if err != nil {
		return nil, err
	}
	newTree := copyTree(owner.Tree)
	if exists {
		blob, err := r.bridge.PutBlob(resolved)
		if err != nil {
			return nil, err
		}
		newTree[c.Path] = blob
	} else {
		delete(newTree, c.Path)
	}

	if err := r.rewriteChange(ctx, c.ChangeID, graph.Patch{Tree: newTree}); err != nil {
		return nil, err
	}
	if err := r.conflicts.Remove(conflictID); err != nil {
		return nil, err
	}
	if len(r.conflicts.ByChange(c.ChangeID)) == 0 {
		owner.Flags.HasConflict = false
	}

	if r.wc.Current() == c.ChangeID {
		if err := r.wc.Materialize(newTree); err != nil {
			return nil, err
		}
	}

	return &opSpec{
		kind:        "resolve",
		description: fmt.Sprintf("resolve conflict on %s in %s", c.Path, ids.Short(c.ChangeID)),
		payload:     map[string]any{"conflict_id": conflictID, "path": c.Path, "strategy": string(strategy)},
		inverse:     map[string]any{"conflict": conflictID},
	}, nil
}

// ResolveMany bulk-applies a strategy to every conflict whose path
// matches the filter (empty filter means all). Returns the number
// resolved.
func (r *Repo) ResolveMany(ctx context.Context, strategy conflict.Strategy, pathFilter string) (int, *oplog.Operation, error) {
	resolved := 0
	op, err := r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		var targets []string
		for _, c := range r.conflicts.List() {
			if pathFilter == "" || revset.MatchPattern(pathFilter, c.Path) {
				targets = append(targets, c.ID)
			}
		}
		if len(targets) == 0 {
			return nil, nil
		}
		for _, id := range targets {
			if _, err := r.resolveOne(ctx, id, strategy, nil); err != nil {
				return nil, err
			}
			resolved++
		}
		return &opSpec{
			kind:        "resolve-many",
			description: fmt.Sprintf("resolve %d conflicts with %s", len(targets), strategy),
			payload:     map[string]any{"strategy": string(strategy), "count": len(targets), "filter": pathFilter},
			inverse:     map[string]any{"conflicts": targets},
		}, nil
	})
	if err != nil {
		return 0, nil, err
	}
	return resolved, op, nil
}
