package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/jjkit/jjkit/internal/ids"
	"github.com/jjkit/jjkit/internal/jjerr"
	"github.com/jjkit/jjkit/internal/oplog"
)

// Workspaces support several working copies over one repository. Each
// workspace has its own working-copy file (and therefore its own @);
// the graph, bookmarks and op log are shared, and writers still
// serialise on the repository lock.

// Workspaces lists the workspace names, the default one first.
func (r *Repo) Workspaces() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []string{"default"}
	keys, err := r.store.List("workspaces/")
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		parts := strings.Split(k, "/")
		if len(parts) == 3 && parts[2] == "working-copy.json" {
			out = append(out, parts[1])
		}
	}
	return out, nil
}

// NewWorkspace creates a named workspace whose working copy starts as a
// fresh change on top of the current working-copy change.
func (r *Repo) NewWorkspace(ctx context.Context, name string) (*oplog.Operation, error) {
	if name == "" || name == "default" || strings.ContainsAny(name, "/\\ ") {
		return nil, jjerr.Newf(jjerr.InvalidArgument, "invalid workspace name %q", name)
	}
	key := "workspaces/" + name + "/working-copy.json"

	return r.mutate(func(txn *oplog.Txn) (*opSpec, error) {
		if err := r.snapshotLocked(ctx); err != nil {
			return nil, err
		}
		if r.store.Exists(key) {
			return nil, jjerr.Newf(jjerr.AlreadyExists, "workspace %q already exists", name)
		}

		id, err := r.cfg.newID()
		if err != nil {
			return nil, err
		}
		sig := r.cfg.signature()
		base := r.wc.Current()
		c, err := r.graph.Create(id, []string{base}, "", sig, sig)
		if err != nil {
			return nil, err
		}
		baseChange, err := r.graph.Get(base)
		if err != nil {
			return nil, err
		}
		c.Tree = copyTree(baseChange.Tree)
		if err := r.project(id); err != nil {
			return nil, err
		}

		state := workspaceState{Current: id}
		data, err := state.marshal()
		if err != nil {
			return nil, err
		}
		if err := txn.Stage(key, data); err != nil {
			return nil, err
		}

		return &opSpec{
			kind:        "workspace-add",
			description: fmt.Sprintf("add workspace %s at %s", name, ids.Short(id)),
			payload:     map[string]any{"name": name, "change_id": id},
			inverse:     map[string]any{"created": []string{id}},
		}, nil
	})
}

// workspaceState mirrors the working-copy file shape for a workspace
// that has never materialised anything yet.
type workspaceState struct {
	Current string `json:"current"`
}

func (w workspaceState) marshal() ([]byte, error) {
	return []byte(fmt.Sprintf("{\n  \"current\": %q,\n  \"tracked\": {}\n}\n", w.Current)), nil
}
