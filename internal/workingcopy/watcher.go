package workingcopy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher feeds dirty-path hints into a working copy through the mark
// callback. It is optional. Snapshot does not consult the hints: with or
// without a watcher it walks the full tree, re-hashes files whose size
// or mtime changed, and clears the hint set. The watcher never blocks
// shutdown; Stop waits for the event loop to exit.
type Watcher struct {
	watcher *fsnotify.Watcher
	root    string
	mark    func(path string)
	errors  chan error

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewWatcher creates a watcher over the repository root. mark is called
// with a repository-relative path for every create/write/rename/remove.
func NewWatcher(root string, mark func(path string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		watcher: fw,
		root:    root,
		mark:    mark,
		errors:  make(chan error, 10),
	}, nil
}

// Start begins watching. Directories are added recursively; .jj and
// .git are excluded.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("watcher already running")
	}

	err := filepath.Walk(w.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		base := filepath.Base(p)
		if base == ".jj" || base == ".git" {
			return filepath.SkipDir
		}
		return w.watcher.Add(p)
	})
	if err != nil {
		return fmt.Errorf("failed to watch repository: %w", err)
	}

	w.running = true
	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop closes the watcher and waits for the event loop to exit. Safe to
// call when never started.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	w.wg.Wait()
	return nil
}

// Errors returns watcher errors that were not fatal to the loop.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			rel, err := filepath.Rel(w.root, ev.Name)
			if err != nil || strings.HasPrefix(rel, ".jj") || strings.HasPrefix(rel, ".git") {
				continue
			}
			rel = filepath.ToSlash(rel)

			// New directories need their own watch for recursion.
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = w.watcher.Add(ev.Name)
					continue
				}
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.mark(rel)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}
