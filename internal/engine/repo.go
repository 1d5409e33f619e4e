// Package engine is the facade every mutation and query goes through.
//
// A Repo ties the components together: the change graph, working copy,
// conflict set and bookmarks live in memory, persist through the
// storage manager, and mutate only inside an op-log transaction. The
// Git bridge projects changes into commits as part of the same
// operation; the event bus fires pre-hooks synchronously (vetoable) and
// post-hooks after commit.
//
// Concurrency model: single writer, many readers. Mutations serialise
// on the repository lock; readers take the in-memory state under a
// read lock.
package engine

import (
	"context"
	"io"
	"log"
	"sync"

	"github.com/spf13/afero"

	"github.com/jjkit/jjkit/internal/conflict"
	"github.com/jjkit/jjkit/internal/event"
	"github.com/jjkit/jjkit/internal/gitbridge"
	"github.com/jjkit/jjkit/internal/graph"
	"github.com/jjkit/jjkit/internal/jjerr"
	"github.com/jjkit/jjkit/internal/oplog"
	"github.com/jjkit/jjkit/internal/revindex"
	"github.com/jjkit/jjkit/internal/storage"
	"github.com/jjkit/jjkit/internal/workingcopy"
)

// Metadata file keys under .jj/.
const (
	keyGraph       = "graph.json"
	keyBookmarks   = "bookmarks.json"
	keyWorkingCopy = "working-copy.json"
	keyConflicts   = "conflicts.json"
)

var stateKeys = []string{keyGraph, keyBookmarks, keyWorkingCopy, keyConflicts}

// wcKey returns the working-copy file for the configured workspace.
// The default workspace uses working-copy.json; named workspaces live
// under workspaces/<name>/.
func (r *Repo) wcKey() string {
	if r.cfg.Workspace == "" || r.cfg.Workspace == "default" {
		return keyWorkingCopy
	}
	return "workspaces/" + r.cfg.Workspace + "/working-copy.json"
}

// Repo is one open repository handle.
type Repo struct {
	path   string
	fs     afero.Fs
	store  *storage.Store
	bridge *gitbridge.Bridge
	bus    *event.Bus
	driver *conflict.Registry
	index  *revindex.DB
	logger *log.Logger
	cfg    Config

	mu        sync.RWMutex
	graph     *graph.Graph
	bookmarks *graph.BookmarkSet
	conflicts *conflict.Set
	wc        *workingcopy.WorkingCopy
	ops       *oplog.Log

	watcher *workingcopy.Watcher
}

// Init creates a new repository at path: the Git store must already be
// initialised (or in-memory); this writes the .jj metadata and records
// the initial operation.
func Init(fs afero.Fs, bridge *gitbridge.Bridge, path string, cfg Config) (*Repo, error) {
	store, err := storage.Open(fs, metaDir(path))
	if err != nil {
		return nil, err
	}
	if store.Exists(keyGraph) {
		return nil, jjerr.Newf(jjerr.AlreadyExists, "repository already initialised at %s", path).With("path", path)
	}

	r := newRepo(fs, bridge, path, store, cfg)

	rootID, err := cfg.newID()
	if err != nil {
		return nil, err
	}
	r.graph = graph.New(&graph.Change{ChangeID: rootID})
	r.bookmarks = graph.NewBookmarkSet()
	r.conflicts = conflict.NewSet()
	r.wc = workingcopy.New(fs, path, bridge, workingcopy.WithMaxFileSize(cfg.MaxFileSize))

	r.ops, err = oplog.Open(store)
	if err != nil {
		return nil, err
	}

	// The working copy starts as a fresh empty change on the root.
	wcID, err := cfg.newID()
	if err != nil {
		return nil, err
	}
	sig := cfg.signature()
	wcChange, err := r.graph.Create(wcID, []string{rootID}, "", sig, sig)
	if err != nil {
		return nil, err
	}
	wcChange.Flags.Empty = true
	if err := r.graph.SetWorkingCopy(wcID); err != nil {
		return nil, err
	}
	r.wc.SetCurrent(wcID)

	txn := r.ops.Begin()
	if err := r.stageState(txn); err != nil {
		txn.Rollback()
		return nil, err
	}
	if _, err := txn.Commit(cfg.now().UnixMilli(), cfg.user(), "init", "initialize repository",
		map[string]any{"working_copy": wcID}, nil); err != nil {
		return nil, err
	}

	if err := r.openIndex(); err != nil {
		r.logger.Printf("revision index unavailable: %v", err)
	}
	return r, nil
}

// Open loads an existing repository.
func Open(fs afero.Fs, bridge *gitbridge.Bridge, path string, cfg Config) (*Repo, error) {
	store, err := storage.Open(fs, metaDir(path))
	if err != nil {
		return nil, err
	}
	if !store.Exists(keyGraph) {
		return nil, jjerr.Newf(jjerr.NotFound, "no repository at %s", path).
			With("path", path).
			Hint("run init first")
	}

	r := newRepo(fs, bridge, path, store, cfg)
	if err := r.loadState(); err != nil {
		return nil, err
	}
	r.ops, err = oplog.Open(store)
	if err != nil {
		return nil, err
	}
	if err := r.openIndex(); err != nil {
		r.logger.Printf("revision index unavailable: %v", err)
	}
	return r, nil
}

func newRepo(fs afero.Fs, bridge *gitbridge.Bridge, path string, store *storage.Store, cfg Config) *Repo {
	logger := log.New(io.Discard, "", 0)
	return &Repo{
		path:   path,
		fs:     fs,
		store:  store,
		bridge: bridge,
		bus:    event.NewBus(),
		driver: newDriverRegistry(cfg),
		logger: logger,
		cfg:    cfg,
	}
}

func newDriverRegistry(cfg Config) *conflict.Registry {
	reg := conflict.NewRegistry(cfg.StrictDrivers)
	reg.RegisterBuiltins()
	return reg
}

func metaDir(path string) string {
	if path == "" {
		return ".jj"
	}
	return path + "/.jj"
}

// SetLogOutput points the engine log at w (the CLI wires a rotating
// file sink here).
func (r *Repo) SetLogOutput(w io.Writer) {
	r.logger.SetOutput(w)
}

// Bus exposes the event bus for subscriptions.
func (r *Repo) Bus() *event.Bus {
	return r.bus
}

// Drivers exposes the merge-driver registry for custom registrations.
func (r *Repo) Drivers() *conflict.Registry {
	return r.driver
}

// Path returns the repository root.
func (r *Repo) Path() string {
	return r.path
}

// Close releases the index, drains async listeners and stops the
// watcher.
func (r *Repo) Close() error {
	r.StopWatcher()
	r.bus.Close()
	if r.index != nil {
		return r.index.Close()
	}
	return nil
}

// StartWatcher begins feeding dirty-path hints from the filesystem into
// the working copy. Only meaningful on a real filesystem.
func (r *Repo) StartWatcher() error {
	if r.watcher != nil {
		return nil
	}
	w, err := workingcopy.NewWatcher(r.path, func(p string) {
		r.mu.Lock()
		r.wc.MarkDirty(p)
		r.mu.Unlock()
	})
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	r.watcher = w
	return nil
}

// StopWatcher stops the watcher if one is running.
func (r *Repo) StopWatcher() {
	if r.watcher != nil {
		_ = r.watcher.Stop()
		r.watcher = nil
	}
}

func (r *Repo) openIndex() error {
	if r.cfg.IndexPath == "" {
		return nil
	}
	idx, err := revindex.Open(r.cfg.IndexPath)
	if err != nil {
		return err
	}
	r.index = idx
	return idx.RebuildFrom(context.Background(), r.graph)
}

// loadState parses the metadata files into memory. The parsed graph is
// cached in the storage LRU keyed by file name; useCache false forces a
// re-read from disk (after a rolled-back mutation).
func (r *Repo) loadState() error {
	return r.loadStateWith(true)
}

func (r *Repo) loadStateWith(useCache bool) error {
	r.graph = nil
	if useCache {
		if cached, ok := r.store.CacheGet(keyGraph); ok {
			if g, ok := cached.(*graph.Graph); ok && g != nil {
				r.graph = g.Clone()
			}
		}
	}
	if r.graph == nil {
		data, err := r.store.Get(keyGraph)
		if err != nil {
			return err
		}
		g, err := graph.Load(data)
		if err != nil {
			return err
		}
		r.graph = g
		r.store.CachePut(keyGraph, g.Clone())
	}

	data, err := r.store.Get(keyBookmarks)
	if err != nil {
		return err
	}
	if r.bookmarks, err = graph.LoadBookmarks(data); err != nil {
		return err
	}

	data, err = r.store.Get(keyConflicts)
	if err != nil {
		return err
	}
	if r.conflicts, err = conflict.LoadSet(data); err != nil {
		return err
	}

	data, err = r.store.Get(r.wcKey())
	if err != nil {
		return err
	}
	r.wc = workingcopy.New(r.fs, r.path, r.bridge, workingcopy.WithMaxFileSize(r.cfg.MaxFileSize))
	return r.wc.Load(data)
}

// reload discards the in-memory state and re-reads it from disk. Called
// after a failed mutation so half-applied in-memory edits never leak.
func (r *Repo) reload() {
	if err := r.loadStateWith(false); err != nil {
		r.logger.Printf("failed to reload state: %v", err)
		return
	}
	r.store.CachePut(keyGraph, r.graph.Clone())
}

// stageState marshals the four metadata files into the transaction.
func (r *Repo) stageState(txn *oplog.Txn) error {
	graphData, err := r.graph.Marshal()
	if err != nil {
		return err
	}
	if err := txn.Stage(keyGraph, graphData); err != nil {
		return err
	}
	bmData, err := r.bookmarks.Marshal()
	if err != nil {
		return err
	}
	if err := txn.Stage(keyBookmarks, bmData); err != nil {
		return err
	}
	wcData, err := r.wc.Marshal()
	if err != nil {
		return err
	}
	if err := txn.Stage(r.wcKey(), wcData); err != nil {
		return err
	}
	confData, err := r.conflicts.Marshal()
	if err != nil {
		return err
	}
	return txn.Stage(keyConflicts, confData)
}

// opSpec describes the operation a mutation records.
type opSpec struct {
	kind        string
	description string
	payload     map[string]any
	inverse     map[string]any
}

// mutate is the single writer path: lock, transact, run fn, fire
// pre-hooks, commit, fire post-hooks. fn returning a nil spec makes the
// call an idempotent no-op.
func (r *Repo) mutate(fn func(txn *oplog.Txn) (*opSpec, error)) (*oplog.Operation, error) {
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
	spec, err := fn(txn)
	if err != nil {
		txn.Rollback()
		r.reload()
		return nil, err
	}
	if spec == nil {
		txn.Rollback()
		r.reload()
		return nil, nil
	}

	if err := r.bus.Emit(event.PreCommit, event.Payload{"kind": spec.kind, "payload": spec.payload}); err != nil {
		txn.Rollback()
		r.reload()
		if jjerr.KindOf(err) == "" {
			err = jjerr.Wrap(jjerr.PreHookRejected, "pre-commit hook rejected the operation", err)
		}
		return nil, err
	}

	if err := r.stageState(txn); err != nil {
		txn.Rollback()
		r.reload()
		return nil, err
	}

	op, err := txn.Commit(r.cfg.now().UnixMilli(), r.cfg.user(), spec.kind, spec.description, spec.payload, spec.inverse)
	if err != nil {
		r.reload()
		return nil, err
	}
	r.store.CachePut(keyGraph, r.graph.Clone())
	r.logger.Printf("op %s: %s", op.ID[:12], spec.description)

	r.bus.EmitAsync(event.OperationRecorded, event.Payload{"op_id": op.ID, "kind": spec.kind})
	r.bus.EmitAsync(event.PostCommit, event.Payload{"op_id": op.ID, "kind": spec.kind})
	r.syncIndex()
	return op, nil
}

// syncIndex mirrors the graph into the revision index, best effort.
func (r *Repo) syncIndex() {
	if r.index == nil {
		return
	}
	if err := r.index.RebuildFrom(context.Background(), r.graph); err != nil {
		r.logger.Printf("failed to sync revision index: %v", err)
	}
}
