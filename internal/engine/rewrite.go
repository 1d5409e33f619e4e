package engine

import (
	"context"
	"sort"

	"github.com/jjkit/jjkit/internal/conflict"
	"github.com/jjkit/jjkit/internal/event"
	"github.com/jjkit/jjkit/internal/graph"
)

// Rewrite machinery: projecting changes into commits, computing parent
// merge trees, and the auto-rebase that runs after every rewrite.

// project materialises a change as a Git commit, appends the prior
// commit to its evolution, and recomputes the empty flag. The root
// change is never projected.
func (r *Repo) project(id string) error {
	c, err := r.graph.Get(id)
	if err != nil {
		return err
	}
	if c.IsRoot() {
		return nil
	}

	parentCommits := make([]string, 0, len(c.Parents))
	for _, p := range c.Parents {
		pc, err := r.graph.Get(p)
		if err != nil {
			return err
		}
		parentCommits = append(parentCommits, pc.CommitID)
	}

	commitID, err := r.bridge.ProjectChange(c, parentCommits)
	if err != nil {
		return err
	}
	if err := r.graph.SetCommit(id, commitID); err != nil {
		return err
	}

	c.Flags.Empty = treesEqual(c.Tree, r.parentMergeTree(c.Parents))
	return nil
}

// parentMergeTree merges the trees of a parent set. Single parents are
// the common case; for merges the pairwise common-ancestor tree is the
// base and conflicting paths keep the earlier side (the flag
// computation does not record conflicts).
func (r *Repo) parentMergeTree(parents []string) map[string]string {
	if len(parents) == 0 {
		return map[string]string{}
	}
	first, err := r.graph.Get(parents[0])
	if err != nil {
		return map[string]string{}
	}
	acc := copyTree(first.Tree)
	accID := parents[0]

	for _, p := range parents[1:] {
		pc, err := r.graph.Get(p)
		if err != nil {
			continue
		}
		var base map[string]string
		if lca, err := r.graph.CommonAncestor(accID, p); err == nil {
			if lc, err := r.graph.Get(lca); err == nil {
				base = lc.Tree
			}
		}
		merged, _, err := r.mergeTrees("", base, acc, pc.Tree, accID, p, "")
		if err != nil {
			continue
		}
		acc = merged
	}
	return acc
}

// mergeTrees three-way merges two trees path by path. owner names the
// change that will own any conflicts; with an empty owner conflicts are
// suppressed (ours wins) and only the merged tree is returned.
func (r *Repo) mergeTrees(owner string, base, ours, theirs map[string]string, oursID, theirsID, baseID string) (map[string]string, []*conflict.Conflict, error) {
	paths := make(map[string]bool)
	for p := range base {
		paths[p] = true
	}
	for p := range ours {
		paths[p] = true
	}
	for p := range theirs {
		paths[p] = true
	}
	sorted := make([]string, 0, len(paths))
	for p := range paths {
		sorted = append(sorted, p)
	}
	sort.Strings(sorted)

	version := func(tree map[string]string, p, changeID string) (conflict.FileVersion, error) {
		blob, ok := tree[p]
		if !ok {
			return conflict.FileVersion{ChangeID: changeID}, nil
		}
		content, err := r.bridge.GetBlob(blob)
		if err != nil {
			return conflict.FileVersion{}, err
		}
		return conflict.FileVersion{Content: content, Exists: true, ChangeID: changeID}, nil
	}

	out := make(map[string]string)
	var found []*conflict.Conflict
	for _, p := range sorted {
		// Fast path: blob IDs agree.
		ob, oOK := ours[p]
		tb, tOK := theirs[p]
		bb, bOK := base[p]
		switch {
		case oOK && tOK && ob == tb:
			out[p] = ob
			continue
		case !oOK && !tOK:
			continue
		case bOK && oOK && bb == ob && tOK:
			out[p] = tb
			continue
		case bOK && tOK && bb == tb && oOK:
			out[p] = ob
			continue
		case bOK && oOK && bb == ob && !tOK:
			continue // theirs deleted an unchanged path
		case bOK && tOK && bb == tb && !oOK:
			continue // ours deleted an unchanged path
		}

		baseV, err := version(base, p, baseID)
		if err != nil {
			return nil, nil, err
		}
		oursV, err := version(ours, p, oursID)
		if err != nil {
			return nil, nil, err
		}
		theirsV, err := version(theirs, p, theirsID)
		if err != nil {
			return nil, nil, err
		}

		drivers := r.driver
		if owner == "" {
			// Flag computation: no conflicts, no strict failures.
			drivers = conflict.NewRegistry(false)
		}
		conflictID, err := r.cfg.newID()
		if err != nil {
			return nil, nil, err
		}
		res, err := conflict.MergePath(conflictID, owner, p, baseV, oursV, theirsV, drivers)
		if err != nil {
			return nil, nil, err
		}
		if res.Exists {
			blob, err := r.bridge.PutBlob(res.Content)
			if err != nil {
				return nil, nil, err
			}
			out[p] = blob
		}
		if owner != "" && res.Conflict != nil {
			found = append(found, res.Conflict)
		}
	}
	return out, found, nil
}

// recordConflicts stores new conflicts, flags their owner and emits the
// detection events.
func (r *Repo) recordConflicts(found []*conflict.Conflict) {
	for _, c := range found {
		r.conflicts.Add(c)
		if owner, err := r.graph.Get(c.ChangeID); err == nil {
			owner.Flags.HasConflict = true
		}
		r.bus.EmitAsync(event.ConflictDetected, event.Payload{
			"conflict_id": c.ID,
			"change_id":   c.ChangeID,
			"path":        c.Path,
			"type":        string(c.Type),
		})
		if c.DriverFailed {
			r.bus.EmitAsync(event.DriverFailed, event.Payload{
				"conflict_id": c.ID,
				"path":        c.Path,
				"error":       c.DriverError,
			})
		}
	}
}

// rebasePlan captures, before a mutation, everything auto-rebase needs:
// the descendants of the targets in application order and their
// pre-mutation parent merge trees.
type rebasePlan struct {
	order    []string
	oldBases map[string]map[string]string
}

// planRebase must run before the graph is mutated.
func (r *Repo) planRebase(targets ...string) *rebasePlan {
	desc := r.graph.Descendants(targets...)
	targetSet := make(map[string]bool, len(targets))
	for _, t := range targets {
		targetSet[t] = true
	}

	plan := &rebasePlan{oldBases: make(map[string]map[string]string)}
	for _, id := range r.graph.TopoSortOldestFirst(desc) {
		if targetSet[id] {
			continue
		}
		plan.order = append(plan.order, id)
		c, err := r.graph.Get(id)
		if err != nil {
			continue
		}
		plan.oldBases[id] = r.parentMergeTree(c.Parents)
	}
	return plan
}

// planRebaseIncluding is planRebase but keeps the targets themselves in
// the walk with the given pre-mutation bases; used by rebase/move where
// the target's own parents change.
func (r *Repo) planRebaseIncluding(targets ...string) *rebasePlan {
	desc := r.graph.Descendants(targets...)
	plan := &rebasePlan{oldBases: make(map[string]map[string]string)}
	for _, id := range r.graph.TopoSortOldestFirst(desc) {
		plan.order = append(plan.order, id)
		c, err := r.graph.Get(id)
		if err != nil {
			continue
		}
		plan.oldBases[id] = r.parentMergeTree(c.Parents)
	}
	return plan
}

// applyRebase walks the plan in topological order. For each descendant
// whose parent merge tree moved, the tree is three-way merged (old base
// vs own tree vs new base) with new conflicts recorded; either way a
// new commit is projected so commit IDs track the rewritten ancestry.
// Cancellation is honoured between descendants.
func (r *Repo) applyRebase(ctx context.Context, plan *rebasePlan) error {
	for _, id := range plan.order {
		if err := ctx.Err(); err != nil {
			return err
		}
		c, err := r.graph.Get(id)
		if err != nil {
			return err
		}
		if c.Flags.Abandoned {
			continue
		}

		newBase := r.parentMergeTree(c.Parents)
		oldBase := plan.oldBases[id]
		if !treesEqual(oldBase, newBase) {
			merged, found, err := r.mergeTrees(id, oldBase, c.Tree, newBase, id, c.Parents[0], "")
			if err != nil {
				return err
			}
			c.Tree = merged
			r.recordConflicts(found)
		}
		if err := r.project(id); err != nil {
			return err
		}
	}
	return nil
}

// rewriteChange applies a patch to one change and auto-rebases its
// descendants inside the same operation.
func (r *Repo) rewriteChange(ctx context.Context, id string, patch graph.Patch) error {
	plan := r.planRebase(id)
	if err := r.graph.ApplyPatch(id, patch); err != nil {
		return err
	}
	if err := r.project(id); err != nil {
		return err
	}
	return r.applyRebase(ctx, plan)
}

func copyTree(tree map[string]string) map[string]string {
	out := make(map[string]string, len(tree))
	for k, v := range tree {
		out[k] = v
	}
	return out
}

func treesEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
