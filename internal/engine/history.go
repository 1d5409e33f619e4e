package engine

import (
	"context"
	"fmt"

	"github.com/jjkit/jjkit/internal/event"
	"github.com/jjkit/jjkit/internal/ids"
	"github.com/jjkit/jjkit/internal/jjerr"
	"github.com/jjkit/jjkit/internal/oplog"
)

// Op-log surfaced operations: undo, restore, revert, operation abandon,
// and the Git reconciliation pair import/export.

// isStateKey reports whether a storage key is operation-managed state
// (the core files plus per-workspace working copies); the op log, the
// index and config files are not.
func isStateKey(k string) bool {
	for _, s := range stateKeys {
		if k == s {
			return true
		}
	}
	return len(k) > len("workspaces/") && k[:len("workspaces/")] == "workspaces/"
}

// OperationLog returns the recorded operations, newest first.
func (r *Repo) OperationLog() []*oplog.Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ops := r.ops.Operations()
	out := make([]*oplog.Operation, len(ops))
	for i, op := range ops {
		out[len(ops)-1-i] = op
	}
	return out
}

// applyStateFiles stages a computed metadata state, deleting the core
// keys the state no longer carries, then commits the operation and
// refreshes memory and the working copy files.
func (r *Repo) applyStateFiles(state map[string][]byte, kind, description string, payload map[string]any) (*oplog.Operation, error) {
	if r.bus.Dispatching() {
		return nil, jjerr.New(jjerr.UnsupportedOperation, "re-entering the engine from an event listener is forbidden")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	release, err := r.store.Lock()
	if err != nil {
		return nil, err
	}
	defer release()

	txn := r.ops.Begin()
	keys := make(map[string]bool, len(state)+len(stateKeys))
	for k := range state {
		keys[k] = true
	}
	for _, k := range stateKeys {
		keys[k] = true
	}
	// State files that exist now but not in the target state must go,
	// e.g. a workspace created by an undone operation.
	if current, err := r.store.List(""); err == nil {
		for _, k := range current {
			if isStateKey(k) {
				keys[k] = true
			}
		}
	}
	for k := range keys {
		if err := txn.Stage(k, state[k]); err != nil {
			txn.Rollback()
			return nil, err
		}
	}

	op, err := txn.Commit(r.cfg.now().UnixMilli(), r.cfg.user(), kind, description, payload, nil)
	if err != nil {
		return nil, err
	}

	r.reload()
	if wc, err := r.graph.Get(r.wc.Current()); err == nil {
		if err := r.wc.Materialize(wc.Tree); err != nil {
			r.logger.Printf("failed to materialise working copy after %s: %v", kind, err)
		}
	}
	r.store.CachePut(keyGraph, r.graph.Clone())
	r.bus.EmitAsync(event.OperationRecorded, event.Payload{"op_id": op.ID, "kind": kind})
	r.syncIndex()
	return op, nil
}

// Undo walks the op-log cursor back n operations, restoring the prior
// serialised state bit for bit, and records an undo operation. A
// following undo keeps walking back from the restored cursor instead of
// undoing this one; redo is RestoreOperation of the pre-undo head.
func (r *Repo) Undo(ctx context.Context, n int) (*oplog.Operation, error) {
	if n <= 0 {
		n = 1
	}
	r.mu.RLock()
	state, undone, cursor, err := r.ops.UndoState(n)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	undoneIDs := make([]string, 0, len(undone))
	for _, op := range undone {
		undoneIDs = append(undoneIDs, op.ID)
	}
	return r.applyStateFiles(state, "undo",
		fmt.Sprintf("undo %d operation(s)", n),
		map[string]any{"undone": undoneIDs, "cursor": cursor})
}

// RestoreOperation rebuilds the repository state as of the given
// operation by replaying the log from the root through it.
func (r *Repo) RestoreOperation(ctx context.Context, opID string) (*oplog.Operation, error) {
	r.mu.RLock()
	full, err := r.ops.Resolve(opID)
	if err != nil {
		r.mu.RUnlock()
		return nil, err
	}
	state, err := r.ops.ReplayState(full)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	return r.applyStateFiles(state, "restore",
		fmt.Sprintf("restore to operation %s", ids.Short(full)),
		map[string]any{"restored": full, "cursor": full})
}

// RevertOperation records a new operation whose effect is the inverse
// of a single target operation.
func (r *Repo) RevertOperation(ctx context.Context, opID string) (*oplog.Operation, error) {
	r.mu.RLock()
	full, err := r.ops.Resolve(opID)
	if err != nil {
		r.mu.RUnlock()
		return nil, err
	}
	state, target, err := r.ops.RevertState(full)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	return r.applyStateFiles(state, "revert",
		fmt.Sprintf("revert operation %s (%s)", ids.Short(full), target.Kind),
		map[string]any{"reverted": full})
}

// AbandonOperation removes an operation record, relinking its children
// to its parents. This is log surgery, not a new operation; the
// repository state files are untouched.
func (r *Repo) AbandonOperation(ctx context.Context, opID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	release, err := r.store.Lock()
	if err != nil {
		return err
	}
	defer release()

	full, err := r.ops.Resolve(opID)
	if err != nil {
		return err
	}
	return r.ops.Abandon(full)
}

// Import reconciles Git refs into the graph and bookmarks, recording
// one import operation. Warnings surface on the error event channel.
func (r *Repo) Import(ctx context.Context) (*oplog.Operation, error) {
	return r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		result, err := r.bridge.Import(r.graph, r.bookmarks, r.cfg.newID)
		if err != nil {
			return nil, err
		}
		for _, w := range result.Warnings {
			r.logger.Printf("import warning: %s", w)
			r.bus.EmitAsync(event.ErrorChannel, event.Payload{"event": "import", "warning": w})
		}
		if len(result.NewChanges) == 0 && len(result.UpdatedBookmarks) == 0 {
			return nil, nil
		}
		return &opSpec{
			kind:        "import",
			description: fmt.Sprintf("import %d commits, %d bookmarks", len(result.NewChanges), len(result.UpdatedBookmarks)),
			payload: map[string]any{
				"new_changes": result.NewChanges,
				"bookmarks":   result.UpdatedBookmarks,
				"warnings":    result.Warnings,
			},
			inverse: map[string]any{"created": result.NewChanges},
		}, nil
	})
}

// Export writes bookmark refs into the Git repository.
func (r *Repo) Export(ctx context.Context) (*oplog.Operation, error) {
	return r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		result, err := r.bridge.Export(r.graph, r.bookmarks)
		if err != nil {
			return nil, err
		}
		if len(result.Updated) == 0 && len(result.Removed) == 0 {
			return nil, nil
		}
		return &opSpec{
			kind:        "export",
			description: fmt.Sprintf("export %d bookmarks, remove %d refs", len(result.Updated), len(result.Removed)),
			payload:     map[string]any{"updated": result.Updated, "removed": result.Removed},
			inverse:     map[string]any{"removed_refs": result.Removed},
		}, nil
	})
}

// Fetch pulls from a remote through the Git library, then imports.
func (r *Repo) Fetch(ctx context.Context, remote string) (*oplog.Operation, error) {
	if err := r.bridge.Fetch(ctx, remote); err != nil {
		return nil, err
	}
	return r.Import(ctx)
}

// Push exports bookmarks, then pushes through the Git library.
func (r *Repo) Push(ctx context.Context, remote string) error {
	if _, err := r.Export(ctx); err != nil {
		return err
	}
	return r.bridge.Push(ctx, remote)
}
