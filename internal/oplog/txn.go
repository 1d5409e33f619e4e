package oplog

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jjkit/jjkit/internal/ids"
	"github.com/jjkit/jjkit/internal/jjerr"
)

// Txn buffers the metadata writes of one operation. Nothing touches
// disk until Commit: on success the operation record is appended first,
// the head advances, and the buffered writes flush through the storage
// manager; Rollback drops the buffers.
type Txn struct {
	log    *Log
	staged map[string][]byte
	before map[string]json.RawMessage
	closed bool
}

// Begin starts a transaction.
func (l *Log) Begin() *Txn {
	return &Txn{
		log:    l,
		staged: make(map[string][]byte),
		before: make(map[string]json.RawMessage),
	}
}

// Stage buffers a write of data under key. The first Stage of a key
// captures the current on-disk bytes for the operation's view. A nil
// data stages a deletion.
func (t *Txn) Stage(key string, data []byte) error {
	if t.closed {
		return jjerr.New(jjerr.ValidationError, "transaction already closed")
	}
	if _, seen := t.before[key]; !seen {
		prev, err := t.log.store.Get(key)
		switch {
		case err == nil:
			t.before[key] = json.RawMessage(prev)
		case jjerr.IsKind(err, jjerr.NotFound):
			t.before[key] = nil
		default:
			return err
		}
	}
	if data == nil {
		t.staged[key] = nil
		return nil
	}
	t.staged[key] = append([]byte(nil), data...)
	return nil
}

// Commit records the operation and flushes the buffered writes.
func (t *Txn) Commit(timestampMS int64, user, kind, description string, payload, inverse map[string]any) (*Operation, error) {
	if t.closed {
		return nil, jjerr.New(jjerr.ValidationError, "transaction already closed")
	}
	t.closed = true

	var parents []string
	if t.log.head != "" {
		parents = []string{t.log.head}
	}
	if payload == nil {
		payload = map[string]any{}
	}

	opID, err := ids.OperationID(parents, timestampMS, user, kind, payload)
	if err != nil {
		return nil, err
	}

	view := make(map[string]FileChange, len(t.staged))
	for key, data := range t.staged {
		fc := FileChange{Before: t.before[key]}
		if data != nil {
			fc.After = json.RawMessage(data)
		}
		view[key] = fc
	}

	op := &Operation{
		ID:          opID,
		Parents:     parents,
		Timestamp:   timestampMS,
		User:        user,
		Description: description,
		Kind:        kind,
		Payload:     payload,
		Inverse:     inverse,
		View:        view,
	}

	record, err := json.Marshal(op)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal operation: %w", err)
	}
	if err := t.log.store.Append(Key, record); err != nil {
		return nil, err
	}

	t.log.ops = append(t.log.ops, op)
	t.log.byID[op.ID] = op
	t.log.head = op.ID

	// Flush buffered writes in deterministic order.
	keys := make([]string, 0, len(t.staged))
	for k := range t.staged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data := t.staged[k]
		if data == nil {
			if err := t.log.store.Delete(k); err != nil {
				return nil, err
			}
			continue
		}
		if err := t.log.store.Put(k, data); err != nil {
			return nil, err
		}
	}
	return op, nil
}

// Rollback discards the buffered writes. Safe to call after Commit; it
// then does nothing.
func (t *Txn) Rollback() {
	if t.closed {
		return
	}
	t.closed = true
	t.staged = nil
	t.before = nil
}
