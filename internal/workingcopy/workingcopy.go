// Package workingcopy tracks the files materialised for the current
// change and snapshots them on demand.
//
// There is no staging area: Snapshot walks the repository, detects dirty
// paths by size+mtime, re-hashes only those, and produces a new tree for
// the current change when anything moved. File operations mutate both
// the filesystem and the tracked index.
package workingcopy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/jjkit/jjkit/internal/jjerr"
)

// BlobStore is the content store snapshots write file contents into.
// The Git bridge satisfies it with Git blobs; tests use a memory map.
type BlobStore interface {
	PutBlob(content []byte) (string, error)
	GetBlob(id string) ([]byte, error)
}

// FileState is the dirty-detection record per tracked path.
type FileState struct {
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
	Hash  string `json:"hash"`
}

// State is the persisted working-copy file: the current change and the
// tracked-file index.
type State struct {
	Current string               `json:"current"`
	Tracked map[string]FileState `json:"tracked"`
}

// WorkingCopy owns the tracked-file index for one workspace.
type WorkingCopy struct {
	fs    afero.Fs
	root  string
	blobs BlobStore
	state State

	// dirty is the watcher-fed hint set. Snapshot clears it without
	// consulting it; every snapshot walks the full tree.
	dirty map[string]bool

	// maxFileSize caps what a snapshot will track; 0 means unlimited.
	maxFileSize int64
}

// Option configures a working copy.
type Option func(*WorkingCopy)

// WithMaxFileSize skips files larger than limit bytes during snapshots.
func WithMaxFileSize(limit int64) Option {
	return func(w *WorkingCopy) { w.maxFileSize = limit }
}

// New creates a working copy for the repository rooted at root.
func New(fs afero.Fs, root string, blobs BlobStore, opts ...Option) *WorkingCopy {
	w := &WorkingCopy{
		fs:    fs,
		root:  root,
		blobs: blobs,
		state: State{Tracked: make(map[string]FileState)},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Load restores a persisted state into the working copy.
func (w *WorkingCopy) Load(data []byte) error {
	var st State
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&st); err != nil {
		return jjerr.Wrap(jjerr.ParseError, "failed to parse working-copy file", err)
	}
	if st.Tracked == nil {
		st.Tracked = make(map[string]FileState)
	}
	w.state = st
	return nil
}

// Marshal serialises the state. Map keys marshal sorted, so the output
// is deterministic.
func (w *WorkingCopy) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(&w.state, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal working copy: %w", err)
	}
	return append(data, '\n'), nil
}

// Current returns the change the working copy points at.
func (w *WorkingCopy) Current() string {
	return w.state.Current
}

// SetCurrent moves the working-copy pointer. The caller is responsible
// for snapshotting before and materialising after.
func (w *WorkingCopy) SetCurrent(changeID string) {
	w.state.Current = changeID
}

// Tracked returns the tracked paths, sorted.
func (w *WorkingCopy) Tracked() []string {
	paths := make([]string, 0, len(w.state.Tracked))
	for p := range w.state.Tracked {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// MarkDirty records a watcher hint that path may have changed.
func (w *WorkingCopy) MarkDirty(p string) {
	if w.dirty == nil {
		w.dirty = make(map[string]bool)
	}
	w.dirty[p] = true
}

// Snapshot walks the filesystem and returns the current tree as a
// path-to-blob map, plus whether anything differs from the last
// snapshot. Unchanged files (same size and mtime) are not re-hashed.
// It is cancellable between files.
func (w *WorkingCopy) Snapshot(ctx context.Context) (map[string]string, bool, error) {
	tree := make(map[string]string)
	seen := make(map[string]bool)
	changed := false

	walkErr := afero.Walk(w.fs, w.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel := w.relPath(p)
		if info.IsDir() {
			if rel == ".jj" || rel == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.maxFileSize > 0 && info.Size() > w.maxFileSize {
			return nil
		}

		seen[rel] = true
		prev, tracked := w.state.Tracked[rel]
		mtime := info.ModTime().UnixMilli()

		if tracked && prev.Size == info.Size() && prev.Mtime == mtime {
			tree[rel] = prev.Hash
			return nil
		}

		content, err := afero.ReadFile(w.fs, p)
		if err != nil {
			return err
		}
		blobID, err := w.blobs.PutBlob(content)
		if err != nil {
			return err
		}
		if !tracked || prev.Hash != blobID {
			changed = true
		}
		w.state.Tracked[rel] = FileState{Size: info.Size(), Mtime: mtime, Hash: blobID}
		tree[rel] = blobID
		return nil
	})
	if walkErr != nil {
		if ctx.Err() != nil {
			return nil, false, walkErr
		}
		return nil, false, jjerr.Wrap(jjerr.StorageError, "failed to snapshot working copy", walkErr)
	}

	// Deleted files.
	for p := range w.state.Tracked {
		if !seen[p] {
			delete(w.state.Tracked, p)
			changed = true
		}
	}
	w.dirty = nil
	return tree, changed, nil
}

// ScanDirty reports the paths that differ from the tracked index
// without mutating it: new files, files whose content hash moved, and
// deleted tracked paths. Used by status, which must not persist
// anything.
func (w *WorkingCopy) ScanDirty(ctx context.Context) ([]string, error) {
	var dirty []string
	seen := make(map[string]bool)

	walkErr := afero.Walk(w.fs, w.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel := w.relPath(p)
		if info.IsDir() {
			if rel == ".jj" || rel == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if w.maxFileSize > 0 && info.Size() > w.maxFileSize {
			return nil
		}

		seen[rel] = true
		prev, tracked := w.state.Tracked[rel]
		if !tracked {
			dirty = append(dirty, rel)
			return nil
		}
		if prev.Size == info.Size() && prev.Mtime == info.ModTime().UnixMilli() {
			return nil
		}
		content, err := afero.ReadFile(w.fs, p)
		if err != nil {
			return err
		}
		blobID, err := w.blobs.PutBlob(content)
		if err != nil {
			return err
		}
		if blobID != prev.Hash {
			dirty = append(dirty, rel)
		}
		return nil
	})
	if walkErr != nil {
		return nil, jjerr.Wrap(jjerr.StorageError, "failed to scan working copy", walkErr)
	}

	for p := range w.state.Tracked {
		if !seen[p] {
			dirty = append(dirty, p)
		}
	}
	sort.Strings(dirty)
	return dirty, nil
}

// Materialize writes the given tree to the filesystem, removing tracked
// paths that are no longer present, and resets the index to match.
func (w *WorkingCopy) Materialize(tree map[string]string) error {
	for p := range w.state.Tracked {
		if _, keep := tree[p]; !keep {
			if err := w.fs.Remove(w.absPath(p)); err != nil && !os.IsNotExist(err) {
				return jjerr.Wrap(jjerr.StorageError, "failed to remove stale file", err).With("path", p)
			}
			delete(w.state.Tracked, p)
		}
	}

	for p, blobID := range tree {
		if prev, ok := w.state.Tracked[p]; ok && prev.Hash == blobID {
			continue
		}
		content, err := w.blobs.GetBlob(blobID)
		if err != nil {
			return fmt.Errorf("failed to load blob for %s: %w", p, err)
		}
		if err := w.writeIndexed(p, content, blobID); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile writes content to a path and updates the index.
func (w *WorkingCopy) WriteFile(p string, content []byte) error {
	blobID, err := w.blobs.PutBlob(content)
	if err != nil {
		return err
	}
	return w.writeIndexed(p, content, blobID)
}

func (w *WorkingCopy) writeIndexed(p string, content []byte, blobID string) error {
	abs := w.absPath(p)
	if err := w.fs.MkdirAll(path.Dir(abs), 0o755); err != nil {
		return jjerr.Wrap(jjerr.StorageError, "failed to create directory", err).With("path", p)
	}
	if err := afero.WriteFile(w.fs, abs, content, 0o644); err != nil {
		return jjerr.Wrap(jjerr.StorageError, "failed to write file", err).With("path", p)
	}
	info, err := w.fs.Stat(abs)
	if err != nil {
		return jjerr.Wrap(jjerr.StorageError, "failed to stat written file", err).With("path", p)
	}
	w.state.Tracked[p] = FileState{Size: info.Size(), Mtime: info.ModTime().UnixMilli(), Hash: blobID}
	return nil
}

// ReadFile reads a tracked or untracked file from the working copy.
func (w *WorkingCopy) ReadFile(p string) ([]byte, error) {
	data, err := afero.ReadFile(w.fs, w.absPath(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, jjerr.Newf(jjerr.NotFound, "no such file %q", p).With("path", p)
		}
		return nil, jjerr.Wrap(jjerr.StorageError, "failed to read file", err).With("path", p)
	}
	return data, nil
}

// ReadStream returns a pull-based reader over a file so callers can
// stream large contents without loading them whole.
func (w *WorkingCopy) ReadStream(p string) (io.ReadCloser, error) {
	f, err := w.fs.Open(w.absPath(p))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, jjerr.Newf(jjerr.NotFound, "no such file %q", p).With("path", p)
		}
		return nil, jjerr.Wrap(jjerr.StorageError, "failed to open file", err).With("path", p)
	}
	return f, nil
}

// MoveFile renames a file and carries its index entry over.
func (w *WorkingCopy) MoveFile(from, to string) error {
	st, ok := w.state.Tracked[from]
	if !ok {
		return jjerr.Newf(jjerr.NotFound, "no such tracked file %q", from).With("path", from)
	}
	if err := w.fs.MkdirAll(path.Dir(w.absPath(to)), 0o755); err != nil {
		return jjerr.Wrap(jjerr.StorageError, "failed to create directory", err).With("path", to)
	}
	if err := w.fs.Rename(w.absPath(from), w.absPath(to)); err != nil {
		return jjerr.Wrap(jjerr.StorageError, "failed to move file", err).With("path", from)
	}
	delete(w.state.Tracked, from)
	w.state.Tracked[to] = st
	return nil
}

// RemoveFile deletes a file and its index entry.
func (w *WorkingCopy) RemoveFile(p string) error {
	if _, ok := w.state.Tracked[p]; !ok {
		return jjerr.Newf(jjerr.NotFound, "no such tracked file %q", p).With("path", p)
	}
	if err := w.fs.Remove(w.absPath(p)); err != nil && !os.IsNotExist(err) {
		return jjerr.Wrap(jjerr.StorageError, "failed to remove file", err).With("path", p)
	}
	delete(w.state.Tracked, p)
	return nil
}

// HashContent returns the hex SHA-256 of content, exposed for tests.
// Dirty detection compares the IDs returned by the BlobStore.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func (w *WorkingCopy) absPath(rel string) string {
	return path.Join(w.root, rel)
}

func (w *WorkingCopy) relPath(abs string) string {
	rel := strings.TrimPrefix(abs, w.root)
	return strings.TrimPrefix(strings.ReplaceAll(rel, string(os.PathSeparator), "/"), "/")
}
