package event

import (
	"errors"
	"sync"
	"testing"
)

func TestSyncListenersRunInOrder(t *testing.T) {
	b := NewBus()
	var order []int

	b.Subscribe(PreCommit, func(Name, Payload) error {
		order = append(order, 1)
		return nil
	})
	b.Subscribe(PreCommit, func(Name, Payload) error {
		order = append(order, 2)
		return nil
	})

	if err := b.Emit(PreCommit, nil); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Errorf("expected registration order, got %v", order)
	}
}

func TestSyncListenerErrorAborts(t *testing.T) {
	b := NewBus()
	veto := errors.New("rejected")
	var secondRan bool

	b.Subscribe(PreMerge, func(Name, Payload) error { return veto })
	b.Subscribe(PreMerge, func(Name, Payload) error {
		secondRan = true
		return nil
	})

	err := b.Emit(PreMerge, nil)
	if !errors.Is(err, veto) {
		t.Fatalf("expected veto error, got %v", err)
	}
	if secondRan {
		t.Error("listener after a failing one must not run")
	}
}

func TestUnsubscribe(t *testing.T) {
	b := NewBus()
	var calls int

	off := b.Subscribe(PostCommit, func(Name, Payload) error {
		calls++
		return nil
	})
	_ = b.Emit(PostCommit, nil)
	off()
	_ = b.Emit(PostCommit, nil)

	if calls != 1 {
		t.Errorf("expected 1 call after unsubscribe, got %d", calls)
	}
}

func TestAsyncErrorsReEmitted(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	var captured []Payload

	b.SubscribeAsync(ErrorChannel, func(_ Name, p Payload) error {
		mu.Lock()
		captured = append(captured, p)
		mu.Unlock()
		return nil
	})
	b.SubscribeAsync(OperationRecorded, func(Name, Payload) error {
		return errors.New("listener blew up")
	})

	b.EmitAsync(OperationRecorded, Payload{"op_id": "abc"})
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(captured) != 1 {
		t.Fatalf("expected 1 error-channel payload, got %d", len(captured))
	}
	if captured[0]["event"] != string(OperationRecorded) {
		t.Errorf("unexpected error payload: %v", captured[0])
	}
}

func TestDispatchingFlag(t *testing.T) {
	b := NewBus()
	var during bool

	b.Subscribe(PreCommit, func(Name, Payload) error {
		during = b.Dispatching()
		return nil
	})
	_ = b.Emit(PreCommit, nil)

	if !during {
		t.Error("Dispatching should be true inside a sync handler")
	}
	if b.Dispatching() {
		t.Error("Dispatching should be false outside handlers")
	}
}
