package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/jjkit/jjkit/internal/event"
	"github.com/jjkit/jjkit/internal/graph"
	"github.com/jjkit/jjkit/internal/ids"
	"github.com/jjkit/jjkit/internal/jjerr"
	"github.com/jjkit/jjkit/internal/oplog"
	"github.com/jjkit/jjkit/internal/revset"
)

// snapshotLocked folds any dirty working-copy state into the current
// change before a mutation proceeds. Runs under the writer lock.
func (r *Repo) snapshotLocked(ctx context.Context) error {
	tree, _, err := r.wc.Snapshot(ctx)
	if err != nil {
		return err
	}
	c, err := r.graph.Get(r.wc.Current())
	if err != nil {
		return err
	}
	if treesEqual(tree, c.Tree) {
		return nil
	}
	return r.rewriteChange(ctx, r.wc.Current(), graph.Patch{Tree: tree})
}

// resolveSingle resolves a revset to exactly one change. "@" and empty
// mean the working copy.
func (r *Repo) resolveSingle(rev string) (string, error) {
	if rev == "" || rev == "@" {
		return r.wc.Current(), nil
	}
	out, err := revset.Eval(r.revsetContext(), rev)
	if err != nil {
		return "", err
	}
	if len(out) != 1 {
		return "", jjerr.Newf(jjerr.InvalidArgument, "revset %q matches %d changes, need exactly one", rev, len(out)).
			With("revset", rev)
	}
	return out[0], nil
}

// Describe sets the description of a change (default the working copy).
// Re-describing with the same text is a no-op.
func (r *Repo) Describe(ctx context.Context, rev, text string) (*oplog.Operation, error) {
	return r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		id, err := r.resolveSingle(rev)
		if err != nil {
			return nil, err
		}
		c, err := r.graph.Get(id)
		if err != nil {
			return nil, err
		}
		if c.Flags.Abandoned {
			return nil, jjerr.Newf(jjerr.InvalidArgument, "cannot describe abandoned change %s", ids.Short(id))
		}
		prev := c.Description
		if prev == text {
			return nil, nil
		}
		if err := r.rewriteChange(ctx, id, graph.Patch{Description: &text}); err != nil {
			return nil, err
		}
		return &opSpec{
			kind:        "describe",
			description: fmt.Sprintf("describe change %s", ids.Short(id)),
			payload:     map[string]any{"change_id": id, "description": text},
			inverse:     map[string]any{"prev_description": prev},
		}, nil
	})
}

// NewChange creates a change on the given parents (default the working
// copy) and moves the working copy onto it.
func (r *Repo) NewChange(ctx context.Context, parentRevs []string, description string) (string, *oplog.Operation, error) {
	var newID string
	op, err := r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		parents, err := r.resolveParents(parentRevs)
		if err != nil {
			return nil, err
		}

		id, err := r.cfg.newID()
		if err != nil {
			return nil, err
		}
		sig := r.cfg.signature()
		c, err := r.graph.Create(id, parents, description, sig, sig)
		if err != nil {
			return nil, err
		}
		c.Tree = r.parentMergeTree(parents)
		if err := r.project(id); err != nil {
			return nil, err
		}

		prevWC := r.wc.Current()
		if err := r.graph.SetWorkingCopy(id); err != nil {
			return nil, err
		}
		r.wc.SetCurrent(id)
		if err := r.wc.Materialize(c.Tree); err != nil {
			return nil, err
		}

		newID = id
		return &opSpec{
			kind:        "new",
			description: fmt.Sprintf("new change %s", ids.Short(id)),
			payload:     map[string]any{"change_id": id, "parents": parents, "description": description},
			inverse:     map[string]any{"prev_working_copy": prevWC},
		}, nil
	})
	return newID, op, err
}

func (r *Repo) resolveParents(parentRevs []string) ([]string, error) {
	if len(parentRevs) == 0 {
		return []string{r.wc.Current()}, nil
	}
	parents := make([]string, 0, len(parentRevs))
	for _, rev := range parentRevs {
		id, err := r.resolveSingle(rev)
		if err != nil {
			return nil, err
		}
		parents = append(parents, id)
	}
	return parents, nil
}

// Edit moves the working copy onto an existing change. Dirty state
// snapshots into the current change first; the target's tree is then
// materialised.
func (r *Repo) Edit(ctx context.Context, rev string) (*oplog.Operation, error) {
	return r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		id, err := r.resolveSingle(rev)
		if err != nil {
			return nil, err
		}
		c, err := r.graph.Get(id)
		if err != nil {
			return nil, err
		}
		if c.Flags.Abandoned {
			return nil, jjerr.Newf(jjerr.InvalidArgument, "cannot edit abandoned change %s", ids.Short(id))
		}
		if c.IsRoot() {
			return nil, jjerr.New(jjerr.InvalidArgument, "cannot edit the root change")
		}
		prev := r.wc.Current()
		if id == prev {
			return nil, nil
		}
		if err := r.graph.SetWorkingCopy(id); err != nil {
			return nil, err
		}
		r.wc.SetCurrent(id)
		if err := r.wc.Materialize(c.Tree); err != nil {
			return nil, err
		}
		return &opSpec{
			kind:        "edit",
			description: fmt.Sprintf("edit change %s", ids.Short(id)),
			payload:     map[string]any{"change_id": id},
			inverse:     map[string]any{"prev_working_copy": prev},
		}, nil
	})
}

// Abandon marks a change abandoned, rebases its descendants onto its
// parents, retargets bookmarks, and drops its conflicts.
func (r *Repo) Abandon(ctx context.Context, rev string) (*oplog.Operation, error) {
	return r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		id, err := r.resolveSingle(rev)
		if err != nil {
			return nil, err
		}
		c, err := r.graph.Get(id)
		if err != nil {
			return nil, err
		}
		if c.IsRoot() {
			return nil, jjerr.New(jjerr.InvalidArgument, "cannot abandon the root change")
		}
		if c.Flags.Abandoned {
			return nil, nil
		}
		prevFlags := c.Flags

		plan := r.planRebase(id)
		if err := r.graph.Abandon(id); err != nil {
			return nil, err
		}

		// Children move onto the abandoned change's parents.
		for _, child := range r.graph.Children(id) {
			cc, err := r.graph.Get(child)
			if err != nil {
				return nil, err
			}
			newParents := replaceParent(cc.Parents, id, c.Parents)
			if err := r.graph.SetParents(child, newParents); err != nil {
				return nil, err
			}
		}
		if err := r.applyRebase(ctx, plan); err != nil {
			return nil, err
		}

		dropped := r.conflicts.RemoveForChange(id)
		c.Flags.HasConflict = false
		r.bookmarks.Retarget(id, c.Parents[0])

		// A working copy on the abandoned change falls back to its
		// first parent.
		if r.wc.Current() == id {
			parent, err := r.graph.Get(c.Parents[0])
			if err != nil {
				return nil, err
			}
			if err := r.graph.SetWorkingCopy(parent.ChangeID); err != nil {
				return nil, err
			}
			r.wc.SetCurrent(parent.ChangeID)
			if err := r.wc.Materialize(parent.Tree); err != nil {
				return nil, err
			}
		}

		return &opSpec{
			kind:        "abandon",
			description: fmt.Sprintf("abandon change %s", ids.Short(id)),
			payload:     map[string]any{"change_id": id, "dropped_conflicts": dropped},
			inverse: map[string]any{"prev_flags": map[string]any{
				"abandoned":    prevFlags.Abandoned,
				"empty":        prevFlags.Empty,
				"has_conflict": prevFlags.HasConflict,
			}},
		}, nil
	})
}

// replaceParent substitutes old with replacement (deduplicated, order
// preserved) in a parent list.
func replaceParent(parents []string, old string, replacement []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range parents {
		if p == old {
			for _, rep := range replacement {
				if !seen[rep] {
					out = append(out, rep)
					seen[rep] = true
				}
			}
			continue
		}
		if !seen[p] {
			out = append(out, p)
			seen[p] = true
		}
	}
	return out
}

// Rebase moves source (and its descendants) onto destination. The
// change ID is preserved; a new commit is produced.
func (r *Repo) Rebase(ctx context.Context, sourceRev, destRev string) (*oplog.Operation, error) {
	return r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		source, err := r.resolveSingle(sourceRev)
		if err != nil {
			return nil, err
		}
		dest, err := r.resolveSingle(destRev)
		if err != nil {
			return nil, err
		}
		sc, err := r.graph.Get(source)
		if err != nil {
			return nil, err
		}
		if sc.IsRoot() {
			return nil, jjerr.New(jjerr.InvalidArgument, "cannot rebase the root change")
		}
		prevParents := append([]string(nil), sc.Parents...)

		plan := r.planRebaseIncluding(source)
		if err := r.graph.SetParents(source, []string{dest}); err != nil {
			return nil, err
		}
		if err := r.applyRebase(ctx, plan); err != nil {
			return nil, err
		}

		return &opSpec{
			kind:        "rebase",
			description: fmt.Sprintf("rebase change %s onto %s", ids.Short(source), ids.Short(dest)),
			payload:     map[string]any{"change_id": source, "destination": dest},
			inverse:     map[string]any{"prev_parents": prevParents},
		}, nil
	})
}

// Move is a thin alias for Rebase, kept for source compatibility.
func (r *Repo) Move(ctx context.Context, sourceRev, destRev string) (*oplog.Operation, error) {
	return r.Rebase(ctx, sourceRev, destRev)
}

// MergeResult reports what a merge produced.
type MergeResult struct {
	ChangeID     string
	HasConflicts bool
	ConflictIDs  []string
}

// Merge creates a change whose parents are the sources, three-way
// merging their trees. Conflicts do not fail the merge; they are
// recorded against the new change.
func (r *Repo) Merge(ctx context.Context, sourceRevs []string, description string) (*MergeResult, *oplog.Operation, error) {
	result := &MergeResult{}
	op, err := r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		if len(sourceRevs) < 2 {
			return nil, jjerr.New(jjerr.InvalidArgument, "merge needs at least two sources")
		}
		sources, err := r.resolveParents(sourceRevs)
		if err != nil {
			return nil, err
		}

		if err := r.bus.Emit(event.PreMerge, event.Payload{"sources": sources}); err != nil {
			if jjerr.KindOf(err) == "" {
				err = jjerr.Wrap(jjerr.PreHookRejected, "pre-merge hook rejected the operation", err)
			}
			return nil, err
		}

		id, err := r.cfg.newID()
		if err != nil {
			return nil, err
		}
		sig := r.cfg.signature()
		c, err := r.graph.Create(id, sources, description, sig, sig)
		if err != nil {
			return nil, err
		}

		// Fold the sources left to right against pairwise ancestors.
		first, err := r.graph.Get(sources[0])
		if err != nil {
			return nil, err
		}
		tree := copyTree(first.Tree)
		accID := sources[0]
		var allConflicts []string
		for _, s := range sources[1:] {
			sc, err := r.graph.Get(s)
			if err != nil {
				return nil, err
			}
			var base map[string]string
			baseID := ""
			if lca, err := r.graph.CommonAncestor(accID, s); err == nil {
				baseID = lca
				if lc, err := r.graph.Get(lca); err == nil {
					base = lc.Tree
				}
			}
			merged, found, err := r.mergeTrees(id, base, tree, sc.Tree, accID, s, baseID)
			if err != nil {
				return nil, err
			}
			tree = merged
			r.recordConflicts(found)
			for _, f := range found {
				allConflicts = append(allConflicts, f.ID)
			}
			accID = s
		}
		c.Tree = tree
		if err := r.project(id); err != nil {
			return nil, err
		}

		prevWC := r.wc.Current()
		if err := r.graph.SetWorkingCopy(id); err != nil {
			return nil, err
		}
		r.wc.SetCurrent(id)
		if err := r.wc.Materialize(c.Tree); err != nil {
			return nil, err
		}

		result.ChangeID = id
		result.HasConflicts = len(allConflicts) > 0
		result.ConflictIDs = allConflicts

		r.bus.EmitAsync(event.PostMerge, event.Payload{"change_id": id, "conflicts": len(allConflicts)})
		return &opSpec{
			kind:        "merge",
			description: fmt.Sprintf("merge %d changes into %s", len(sources), ids.Short(id)),
			payload:     map[string]any{"change_id": id, "sources": sources},
			inverse:     map[string]any{"created": []string{id}, "conflicts": allConflicts, "prev_working_copy": prevWC},
		}, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, op, nil
}

// Squash folds one change into another and abandons the source.
func (r *Repo) Squash(ctx context.Context, fromRev, intoRev string) (*oplog.Operation, error) {
	return r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		from, err := r.resolveSingle(fromRev)
		if err != nil {
			return nil, err
		}
		into, err := r.resolveSingle(intoRev)
		if err != nil {
			return nil, err
		}
		if from == into {
			return nil, jjerr.New(jjerr.InvalidArgument, "cannot squash a change into itself")
		}
		fc, err := r.graph.Get(from)
		if err != nil {
			return nil, err
		}
		ic, err := r.graph.Get(into)
		if err != nil {
			return nil, err
		}
		if fc.IsRoot() || ic.IsRoot() {
			return nil, jjerr.New(jjerr.InvalidArgument, "cannot squash the root change")
		}

		// The source's modifications (relative to its parents) land on
		// the destination's tree.
		fromBase := r.parentMergeTree(fc.Parents)
		plan := r.planRebase(from, into)

		merged, found, err := r.mergeTrees(into, fromBase, ic.Tree, fc.Tree, into, from, "")
		if err != nil {
			return nil, err
		}
		prevDesc := ic.Description
		ic.Tree = merged
		r.recordConflicts(found)
		switch {
		case ic.Description == "":
			ic.Description = fc.Description
		case fc.Description != "" && fc.Description != ic.Description:
			ic.Description = ic.Description + "\n\n" + fc.Description
		}
		if err := r.project(into); err != nil {
			return nil, err
		}

		if err := r.graph.Abandon(from); err != nil {
			return nil, err
		}
		for _, child := range r.graph.Children(from) {
			cc, err := r.graph.Get(child)
			if err != nil {
				return nil, err
			}
			if err := r.graph.SetParents(child, replaceParent(cc.Parents, from, fc.Parents)); err != nil {
				return nil, err
			}
		}
		if err := r.applyRebase(ctx, plan); err != nil {
			return nil, err
		}
		r.conflicts.RemoveForChange(from)
		r.bookmarks.Retarget(from, into)

		if r.wc.Current() == from {
			if err := r.graph.SetWorkingCopy(into); err != nil {
				return nil, err
			}
			r.wc.SetCurrent(into)
			ic2, _ := r.graph.Get(into)
			if err := r.wc.Materialize(ic2.Tree); err != nil {
				return nil, err
			}
		}

		return &opSpec{
			kind:        "squash",
			description: fmt.Sprintf("squash %s into %s", ids.Short(from), ids.Short(into)),
			payload:     map[string]any{"from": from, "into": into},
			inverse:     map[string]any{"prev_description": prevDesc},
		}, nil
	})
}

// Amend folds the working copy's changes (optionally path-limited) into
// its first parent.
func (r *Repo) Amend(ctx context.Context, paths ...string) (*oplog.Operation, error) {
	return r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		wcID := r.wc.Current()
		c, err := r.graph.Get(wcID)
		if err != nil {
			return nil, err
		}
		if len(c.Parents) == 0 {
			return nil, jjerr.New(jjerr.InvalidArgument, "working copy has no parent to amend")
		}
		parentID := c.Parents[0]
		parent, err := r.graph.Get(parentID)
		if err != nil {
			return nil, err
		}
		if parent.IsRoot() {
			return nil, jjerr.New(jjerr.InvalidArgument, "cannot amend into the root change")
		}

		selected := func(p string) bool {
			if len(paths) == 0 {
				return true
			}
			for _, want := range paths {
				if p == want {
					return true
				}
			}
			return false
		}

		// Overlay the selected working-copy entries onto the parent.
		newParentTree := copyTree(parent.Tree)
		changed := false
		for p, blob := range c.Tree {
			if selected(p) && newParentTree[p] != blob {
				newParentTree[p] = blob
				changed = true
			}
		}
		for p := range parent.Tree {
			if _, kept := c.Tree[p]; !kept && selected(p) {
				delete(newParentTree, p)
				changed = true
			}
		}
		if !changed {
			return nil, nil
		}

		if err := r.rewriteChange(ctx, parentID, graph.Patch{Tree: newParentTree}); err != nil {
			return nil, err
		}
		return &opSpec{
			kind:        "amend",
			description: fmt.Sprintf("amend into %s", ids.Short(parentID)),
			payload:     map[string]any{"change_id": parentID, "paths": append([]string{}, paths...)},
			inverse:     map[string]any{"prev_tree_commit": parent.CommitID},
		}, nil
	})
}

// Split divides a change in two: a new change carrying the selected
// paths' modifications is inserted between the change and its parents;
// the original keeps the rest and its change ID.
func (r *Repo) Split(ctx context.Context, rev string, paths []string) (string, *oplog.Operation, error) {
	var firstID string
	op, err := r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			return nil, jjerr.New(jjerr.InvalidArgument, "split needs at least one path")
		}
		id, err := r.resolveSingle(rev)
		if err != nil {
			return nil, err
		}
		c, err := r.graph.Get(id)
		if err != nil {
			return nil, err
		}
		if c.IsRoot() {
			return nil, jjerr.New(jjerr.InvalidArgument, "cannot split the root change")
		}

		base := r.parentMergeTree(c.Parents)
		firstTree := copyTree(base)
		touched := false
		for _, p := range paths {
			if blob, ok := c.Tree[p]; ok {
				if firstTree[p] != blob {
					firstTree[p] = blob
					touched = true
				}
			} else if _, inBase := base[p]; inBase {
				delete(firstTree, p)
				touched = true
			}
		}
		if !touched {
			return nil, jjerr.New(jjerr.InvalidArgument, "selected paths carry no modifications to split")
		}

		newID, err := r.cfg.newID()
		if err != nil {
			return nil, err
		}
		sig := r.cfg.signature()
		plan := r.planRebaseIncluding(id)

		first, err := r.graph.Create(newID, c.Parents, c.Description, c.Author, sig)
		if err != nil {
			return nil, err
		}
		first.Tree = firstTree
		if err := r.project(newID); err != nil {
			return nil, err
		}
		if err := r.graph.SetParents(id, []string{newID}); err != nil {
			return nil, err
		}
		if err := r.applyRebase(ctx, plan); err != nil {
			return nil, err
		}

		firstID = newID
		return &opSpec{
			kind:        "split",
			description: fmt.Sprintf("split %s", ids.Short(id)),
			payload:     map[string]any{"change_id": id, "created": newID, "paths": append([]string{}, paths...)},
			inverse:     map[string]any{"created": []string{newID}},
		}, nil
	})
	return firstID, op, err
}

// Duplicate copies a change's tree and description under a fresh
// change ID with the same parents.
func (r *Repo) Duplicate(ctx context.Context, rev string) (string, *oplog.Operation, error) {
	var dupID string
	op, err := r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		id, err := r.resolveSingle(rev)
		if err != nil {
			return nil, err
		}
		c, err := r.graph.Get(id)
		if err != nil {
			return nil, err
		}
		if c.IsRoot() {
			return nil, jjerr.New(jjerr.InvalidArgument, "cannot duplicate the root change")
		}

		newID, err := r.cfg.newID()
		if err != nil {
			return nil, err
		}
		dup, err := r.graph.Create(newID, c.Parents, c.Description, c.Author, r.cfg.signature())
		if err != nil {
			return nil, err
		}
		dup.Tree = copyTree(c.Tree)
		if err := r.project(newID); err != nil {
			return nil, err
		}

		dupID = newID
		return &opSpec{
			kind:        "duplicate",
			description: fmt.Sprintf("duplicate %s as %s", ids.Short(id), ids.Short(newID)),
			payload:     map[string]any{"change_id": id, "created": newID},
			inverse:     map[string]any{"created": []string{newID}},
		}, nil
	})
	return dupID, op, err
}

// Parallelize re-parents a linear run of changes so they all sit on the
// run's original base, making them siblings.
func (r *Repo) Parallelize(ctx context.Context, revs []string) (*oplog.Operation, error) {
	return r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		if len(revs) < 2 {
			return nil, jjerr.New(jjerr.InvalidArgument, "parallelize needs at least two changes")
		}
		run := make([]string, 0, len(revs))
		for _, rev := range revs {
			id, err := r.resolveSingle(rev)
			if err != nil {
				return nil, err
			}
			run = append(run, id)
		}
		// Validate linearity: each member's sole parent is the previous.
		for i := 1; i < len(run); i++ {
			c, err := r.graph.Get(run[i])
			if err != nil {
				return nil, err
			}
			if len(c.Parents) != 1 || c.Parents[0] != run[i-1] {
				return nil, jjerr.Newf(jjerr.InvalidArgument, "changes do not form a linear run at %s", ids.Short(run[i])).
					With("change_id", run[i])
			}
		}
		head, err := r.graph.Get(run[0])
		if err != nil {
			return nil, err
		}
		base := append([]string(nil), head.Parents...)

		plan := r.planRebaseIncluding(run...)
		for _, id := range run[1:] {
			if err := r.graph.SetParents(id, base); err != nil {
				return nil, err
			}
		}
		if err := r.applyRebase(ctx, plan); err != nil {
			return nil, err
		}

		return &opSpec{
			kind:        "parallelize",
			description: fmt.Sprintf("parallelize %d changes", len(run)),
			payload:     map[string]any{"changes": run},
			inverse:     map[string]any{"prev_chain": run},
		}, nil
	})
}

// RestorePaths copies the given paths from a source change into the
// working copy's change.
func (r *Repo) RestorePaths(ctx context.Context, fromRev string, paths []string) (*oplog.Operation, error) {
	return r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		if len(paths) == 0 {
			return nil, jjerr.New(jjerr.InvalidArgument, "restore needs at least one path")
		}
		from, err := r.resolveSingle(fromRev)
		if err != nil {
			return nil, err
		}
		fc, err := r.graph.Get(from)
		if err != nil {
			return nil, err
		}
		wcID := r.wc.Current()
		c, err := r.graph.Get(wcID)
		if err != nil {
			return nil, err
		}

		newTree := copyTree(c.Tree)
		changed := false
		for _, p := range paths {
			if blob, ok := fc.Tree[p]; ok {
				if newTree[p] != blob {
					newTree[p] = blob
					changed = true
				}
			} else if _, had := newTree[p]; had {
				delete(newTree, p)
				changed = true
			}
		}
		if !changed {
			return nil, nil
		}
		if err := r.rewriteChange(ctx, wcID, graph.Patch{Tree: newTree}); err != nil {
			return nil, err
		}
		if err := r.wc.Materialize(newTree); err != nil {
			return nil, err
		}

		return &opSpec{
			kind:        "restore",
			description: fmt.Sprintf("restore %s from %s", strings.Join(paths, ", "), ids.Short(from)),
			payload:     map[string]any{"from": from, "paths": append([]string{}, paths...)},
			inverse:     map[string]any{"prev_tree_commit": c.CommitID},
		}, nil
	})
}
