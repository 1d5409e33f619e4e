// Package storage implements the repository metadata store under .jj/.
//
// All engine state (graph, bookmarks, op log, working copy, conflicts)
// persists through this package. Writes are atomic: content goes to a
// temp file in the same directory, is fsynced, then renamed over the
// target. Appends are line-oriented and single-writer. A repository-wide
// advisory lock serialises mutations across processes; within a process
// a mutex does the same.
//
// Parsed artifacts (the change graph, bookmark set, ...) are cached in a
// ristretto LRU keyed by file name and invalidated on every write.
package storage

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/spf13/afero"

	"github.com/jjkit/jjkit/internal/jjerr"
)

const (
	lockFileName = "lock"
	tmpSuffix    = ".tmp"

	// lockRetryInterval is how long to wait between attempts to take the
	// repository lock held by another process.
	lockRetryInterval = 10 * time.Millisecond

	// lockTimeout bounds how long Lock blocks before giving up.
	lockTimeout = 10 * time.Second
)

// Store is the metadata store rooted at a repository's .jj directory.
type Store struct {
	fs   afero.Fs
	root string

	// mu serialises writers within this process. Cross-process exclusion
	// uses the lock file.
	mu    sync.Mutex
	cache *ristretto.Cache
}

// Open creates a store over the given .jj directory, creating it if
// needed.
func Open(fs afero.Fs, root string) (*Store, error) {
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return nil, jjerr.Wrap(jjerr.StorageError, "failed to create metadata directory", err).With("path", root)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 12,
		MaxCost:     1 << 24,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact cache: %w", err)
	}

	return &Store{fs: fs, root: root, cache: cache}, nil
}

// Root returns the metadata directory path.
func (s *Store) Root() string {
	return s.root
}

// Fs returns the filesystem the store operates on.
func (s *Store) Fs() afero.Fs {
	return s.fs
}

// Get reads the value stored under key. Returns a NOT_FOUND error when
// the key does not exist.
func (s *Store) Get(key string) ([]byte, error) {
	data, err := afero.ReadFile(s.fs, s.keyPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, jjerr.Newf(jjerr.NotFound, "no such key %q", key).With("key", key)
		}
		return nil, jjerr.Wrap(jjerr.StorageError, "failed to read key", err).With("key", key)
	}
	return data, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(key string) bool {
	ok, err := afero.Exists(s.fs, s.keyPath(key))
	return err == nil && ok
}

// Put atomically replaces the value under key: write temp, fsync, rename.
func (s *Store) Put(key string, data []byte) error {
	target := s.keyPath(key)
	if err := s.fs.MkdirAll(path.Dir(target), 0o755); err != nil {
		return jjerr.Wrap(jjerr.StorageError, "failed to create key directory", err).With("key", key)
	}

	tmp := target + tmpSuffix
	f, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return jjerr.Wrap(jjerr.StorageError, "failed to create temp file", err).With("key", key)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		_ = s.fs.Remove(tmp)
		return jjerr.Wrap(jjerr.StorageError, "failed to write temp file", err).With("key", key)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		_ = s.fs.Remove(tmp)
		return jjerr.Wrap(jjerr.StorageError, "failed to sync temp file", err).With("key", key)
	}
	if err := f.Close(); err != nil {
		_ = s.fs.Remove(tmp)
		return jjerr.Wrap(jjerr.StorageError, "failed to close temp file", err).With("key", key)
	}
	if err := s.fs.Rename(tmp, target); err != nil {
		_ = s.fs.Remove(tmp)
		return jjerr.Wrap(jjerr.StorageError, "failed to rename temp file", err).With("key", key)
	}

	s.cache.Del(key)
	return nil
}

// Append appends one line-oriented record to the value under key.
// A trailing newline is added if the record lacks one.
func (s *Store) Append(key string, record []byte) error {
	target := s.keyPath(key)
	if err := s.fs.MkdirAll(path.Dir(target), 0o755); err != nil {
		return jjerr.Wrap(jjerr.StorageError, "failed to create key directory", err).With("key", key)
	}

	f, err := s.fs.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return jjerr.Wrap(jjerr.StorageError, "failed to open for append", err).With("key", key)
	}
	defer f.Close()

	if !bytes.HasSuffix(record, []byte("\n")) {
		record = append(append([]byte{}, record...), '\n')
	}
	if _, err := f.Write(record); err != nil {
		return jjerr.Wrap(jjerr.StorageError, "failed to append record", err).With("key", key)
	}
	if err := f.Sync(); err != nil {
		return jjerr.Wrap(jjerr.StorageError, "failed to sync append", err).With("key", key)
	}

	s.cache.Del(key)
	return nil
}

// List returns all keys with the given prefix, sorted.
func (s *Store) List(prefix string) ([]string, error) {
	var keys []string
	err := afero.Walk(s.fs, s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, s.root), "/")
		if rel == lockFileName || strings.HasSuffix(rel, tmpSuffix) {
			return nil
		}
		if strings.HasPrefix(rel, prefix) {
			keys = append(keys, rel)
		}
		return nil
	})
	if err != nil {
		return nil, jjerr.Wrap(jjerr.StorageError, "failed to list keys", err).With("prefix", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the value under key. Deleting an absent key is not an
// error.
func (s *Store) Delete(key string) error {
	err := s.fs.Remove(s.keyPath(key))
	if err != nil && !os.IsNotExist(err) {
		return jjerr.Wrap(jjerr.StorageError, "failed to delete key", err).With("key", key)
	}
	s.cache.Del(key)
	return nil
}

// CacheGet returns the cached parsed artifact for key, if present.
func (s *Store) CacheGet(key string) (any, bool) {
	return s.cache.Get(key)
}

// CachePut stores a parsed artifact for key. The artifact is dropped on
// the next write to the same key.
func (s *Store) CachePut(key string, value any) {
	s.cache.Set(key, value, 1)
}

// Lock takes the repository-wide advisory lock and returns a release
// function. The lock is held for the duration of one operation.
func (s *Store) Lock() (func(), error) {
	s.mu.Lock()

	lockPath := path.Join(s.root, lockFileName)
	deadline := time.Now().Add(lockTimeout)
	for {
		f, err := s.fs.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			break
		}
		if !os.IsExist(err) {
			s.mu.Unlock()
			return nil, jjerr.Wrap(jjerr.StorageError, "failed to take repository lock", err).With("path", lockPath)
		}
		if time.Now().After(deadline) {
			s.mu.Unlock()
			return nil, jjerr.New(jjerr.StorageError, "timed out waiting for repository lock").
				With("path", lockPath).
				Hint("remove the stale lock file if no other process is running")
		}
		time.Sleep(lockRetryInterval)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		_ = s.fs.Remove(lockPath)
		s.mu.Unlock()
	}, nil
}

func (s *Store) keyPath(key string) string {
	return path.Join(s.root, key)
}
