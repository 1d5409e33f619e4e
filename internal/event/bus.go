// Package event implements the engine's hook dispatch.
//
// Synchronous listeners run in registration order on the mutating
// goroutine; the first error cancels the operation. Asynchronous
// listeners are posted to a background queue after operation commit;
// their errors are swallowed and re-emitted on the "error" channel.
package event

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Name identifies an event channel.
type Name string

const (
	PreCommit         Name = "pre-commit"
	PostCommit        Name = "post-commit"
	PreMerge          Name = "pre-merge"
	PostMerge         Name = "post-merge"
	ConflictDetected  Name = "conflict-detected"
	OperationRecorded Name = "operation-recorded"
	DriverFailed      Name = "driver:failed"
	ErrorChannel      Name = "error"
)

// Payload carries the event data. Values are documented per event name.
type Payload map[string]any

// Handler receives an event. Synchronous handlers may veto the operation
// by returning an error.
type Handler func(name Name, payload Payload) error

type listener struct {
	id int64
	fn Handler
}

// Bus dispatches events to ordered listener lists.
type Bus struct {
	mu    sync.Mutex
	sync  map[Name][]listener
	async map[Name][]listener
	next  int64

	group errgroup.Group

	// dispatching is non-zero while a synchronous handler runs. The
	// engine consults it to reject re-entrant mutations.
	dispatching atomic.Int32
}

// NewBus creates an empty bus. Async dispatch runs at most one handler
// at a time so post-commit listeners observe operations in order.
func NewBus() *Bus {
	b := &Bus{
		sync:  make(map[Name][]listener),
		async: make(map[Name][]listener),
	}
	b.group.SetLimit(1)
	return b
}

// Subscribe registers a synchronous listener and returns its unsubscribe
// function. Listeners run in registration order.
func (b *Bus) Subscribe(name Name, fn Handler) func() {
	return b.subscribe(b.sync, name, fn)
}

// SubscribeAsync registers a listener that runs after operation commit.
func (b *Bus) SubscribeAsync(name Name, fn Handler) func() {
	return b.subscribe(b.async, name, fn)
}

func (b *Bus) subscribe(table map[Name][]listener, name Name, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	table[name] = append(table[name], listener{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := table[name]
		for i, l := range entries {
			if l.id == id {
				table[name] = append(entries[:i:i], entries[i+1:]...)
				return
			}
		}
	}
}

// Emit runs the synchronous listeners for name in registration order.
// The first listener error aborts dispatch and is returned to the caller,
// which fails the surrounding operation.
func (b *Bus) Emit(name Name, payload Payload) error {
	b.mu.Lock()
	entries := append([]listener(nil), b.sync[name]...)
	b.mu.Unlock()

	b.dispatching.Add(1)
	defer b.dispatching.Add(-1)

	for _, l := range entries {
		if err := l.fn(name, payload); err != nil {
			return fmt.Errorf("listener for %s failed: %w", name, err)
		}
	}
	return nil
}

// EmitAsync queues the asynchronous listeners for name. Errors never
// reach the caller; they are re-emitted on the error channel.
func (b *Bus) EmitAsync(name Name, payload Payload) {
	b.mu.Lock()
	entries := append([]listener(nil), b.async[name]...)
	b.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	b.group.Go(func() error {
		for _, l := range entries {
			if err := l.fn(name, payload); err != nil && name != ErrorChannel {
				// Dispatch inline: queueing from inside the single-slot
				// group would wait on the slot this goroutine holds.
				b.mu.Lock()
				errEntries := append([]listener(nil), b.async[ErrorChannel]...)
				b.mu.Unlock()
				errPayload := Payload{"event": string(name), "error": err.Error()}
				for _, el := range errEntries {
					_ = el.fn(ErrorChannel, errPayload)
				}
			}
		}
		return nil
	})
}

// Dispatching reports whether a synchronous handler is currently running
// on any goroutine. Re-entering the engine from a handler is forbidden.
func (b *Bus) Dispatching() bool {
	return b.dispatching.Load() > 0
}

// Close drains the async queue. Safe to call more than once.
func (b *Bus) Close() {
	_ = b.group.Wait()
}
