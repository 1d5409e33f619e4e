// Package oplog implements the append-only operation log and the
// transaction protocol every mutation runs under.
//
// Each record carries the operation metadata, a kind-specific payload,
// a semantic inverse description, and a view: the before/after bytes of
// every metadata file the operation touched. The view is what makes
// undo bit-exact and restore a mechanical replay; the payload is what
// the content-derived operation ID covers.
//
// File layout is one JSON object per line in oplog.jsonl, appended
// through the storage manager.
package oplog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jjkit/jjkit/internal/conflict"
	"github.com/jjkit/jjkit/internal/ids"
	"github.com/jjkit/jjkit/internal/jjerr"
	"github.com/jjkit/jjkit/internal/storage"
)

// Key is the storage key of the log file.
const Key = "oplog.jsonl"

// FileChange is one touched metadata file inside an operation's view.
// A nil Before means the file did not exist; a nil After means the
// operation deleted it.
type FileChange struct {
	Before json.RawMessage `json:"before,omitempty"`
	After  json.RawMessage `json:"after,omitempty"`
}

// Operation is one recorded mutation.
type Operation struct {
	ID          string                `json:"op_id"`
	Parents     []string              `json:"parents"`
	Timestamp   int64                 `json:"timestamp"`
	User        string                `json:"user"`
	Description string                `json:"description"`
	Kind        string                `json:"kind"`
	Payload     map[string]any        `json:"payload,omitempty"`
	Inverse     map[string]any        `json:"inverse,omitempty"`
	View        map[string]FileChange `json:"view,omitempty"`
}

// Log is the parsed operation log plus its head cursor.
type Log struct {
	store *storage.Store
	ops   []*Operation
	byID  map[string]*Operation
	head  string
}

// Open reads the log from the store. A missing file yields an empty log.
func Open(store *storage.Store) (*Log, error) {
	l := &Log{store: store, byID: make(map[string]*Operation)}

	data, err := store.Get(Key)
	if err != nil {
		if jjerr.IsKind(err, jjerr.NotFound) {
			return l, nil
		}
		return nil, err
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var op Operation
		if err := json.Unmarshal(raw, &op); err != nil {
			return nil, jjerr.Wrap(jjerr.ParseError, fmt.Sprintf("invalid op-log record at line %d", line), err).
				With("position", fmt.Sprintf("%d", line))
		}
		l.ops = append(l.ops, &op)
		l.byID[op.ID] = &op
	}
	if err := scanner.Err(); err != nil {
		return nil, jjerr.Wrap(jjerr.StorageError, "failed to scan op log", err)
	}
	l.head = l.pickHead()
	return l, nil
}

// pickHead selects the cursor among the log's heads. Appends serialise
// on the repository lock, so the log is normally linear; a fork left by
// racing workspaces resolves to the head with the later timestamp, the
// sibling staying in place for manual restore. No merge of operations
// is attempted.
func (l *Log) pickHead() string {
	if len(l.ops) == 0 {
		return ""
	}
	referenced := make(map[string]bool)
	for _, op := range l.ops {
		for _, p := range op.Parents {
			referenced[p] = true
		}
	}
	head := ""
	var headTS int64 = -1
	for _, op := range l.ops {
		if referenced[op.ID] {
			continue
		}
		if op.Timestamp >= headTS {
			head = op.ID
			headTS = op.Timestamp
		}
	}
	if head == "" {
		head = l.ops[len(l.ops)-1].ID
	}
	return head
}

// Head returns the current head operation ID, or "" for an empty log.
func (l *Log) Head() string {
	return l.head
}

// Len returns the number of recorded operations.
func (l *Log) Len() int {
	return len(l.ops)
}

// Operations returns the records in file order.
func (l *Log) Operations() []*Operation {
	return append([]*Operation(nil), l.ops...)
}

// Get returns an operation by ID.
func (l *Log) Get(id string) (*Operation, error) {
	op, ok := l.byID[id]
	if !ok {
		return nil, jjerr.Newf(jjerr.NotFound, "no such operation %s", id).With("op_id", id)
	}
	return op, nil
}

// Resolve expands an operation-ID prefix.
func (l *Log) Resolve(prefix string) (string, error) {
	if _, ok := l.byID[prefix]; ok {
		return prefix, nil
	}
	var match string
	for id := range l.byID {
		if len(prefix) > 0 && len(prefix) < len(id) && id[:len(prefix)] == prefix {
			if match != "" {
				return "", jjerr.Newf(jjerr.InvalidArgument, "operation id prefix %q is ambiguous", prefix)
			}
			match = id
		}
	}
	if match == "" {
		return "", jjerr.Newf(jjerr.NotFound, "no operation matches %q", prefix).With("prefix", prefix)
	}
	return match, nil
}

// Chain returns the operations from the root through the given ID,
// following first parents, in chronological order.
func (l *Log) Chain(id string) ([]*Operation, error) {
	var chain []*Operation
	cur := id
	for cur != "" {
		op, err := l.Get(cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, op)
		if len(op.Parents) == 0 {
			break
		}
		cur = op.Parents[0]
	}
	// Reverse to chronological order.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// ReplayState reconstructs the metadata files as of the given operation
// by replaying every view from the root through it.
func (l *Log) ReplayState(id string) (map[string][]byte, error) {
	chain, err := l.Chain(id)
	if err != nil {
		return nil, err
	}
	state := make(map[string][]byte)
	for _, op := range chain {
		applyView(state, op.View, false)
	}
	return state, nil
}

// EffectiveCursor returns the operation the current state corresponds
// to. Normally that is the head; after an undo or restore, the head is
// a time-travel record whose payload names the earlier cursor, and
// consecutive undos keep walking back from there instead of undoing
// each other.
func (l *Log) EffectiveCursor() string {
	cur := l.head
	for cur != "" {
		op, ok := l.byID[cur]
		if !ok {
			return cur
		}
		if c, ok := op.Payload["cursor"].(string); ok && c != "" && c != cur {
			cur = c
			continue
		}
		return cur
	}
	return ""
}

// UndoState computes the metadata files as of n operations before the
// effective cursor, by replay from the root. It returns the target
// state, the undone operations (newest first) and the new cursor.
func (l *Log) UndoState(n int) (map[string][]byte, []*Operation, string, error) {
	if n <= 0 {
		return nil, nil, "", jjerr.New(jjerr.InvalidArgument, "undo count must be positive")
	}
	chain, err := l.Chain(l.EffectiveCursor())
	if err != nil {
		return nil, nil, "", err
	}
	// The initial operation is not undoable; the repository keeps its
	// created state.
	if n > len(chain)-1 {
		return nil, nil, "", jjerr.Newf(jjerr.InvalidArgument, "cannot undo %d operations, only %d undoable", n, len(chain)-1).
			Hint("use restore to jump to a specific operation")
	}

	target := chain[len(chain)-1-n]
	state, err := l.ReplayState(target.ID)
	if err != nil {
		return nil, nil, "", err
	}
	var undone []*Operation
	for i := 0; i < n; i++ {
		undone = append(undone, chain[len(chain)-1-i])
	}
	return state, undone, target.ID, nil
}

// RevertState computes the state after inverting a single operation's
// view on top of the current head state.
func (l *Log) RevertState(id string) (map[string][]byte, *Operation, error) {
	target, err := l.Get(id)
	if err != nil {
		return nil, nil, err
	}
	state, err := l.ReplayState(l.head)
	if err != nil {
		return nil, nil, err
	}
	applyView(state, target.View, true)
	return state, target, nil
}

// applyView applies (or reverses) one view onto state.
func applyView(state map[string][]byte, view map[string]FileChange, reverse bool) {
	keys := make([]string, 0, len(view))
	for k := range view {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fc := view[k]
		val := fc.After
		if reverse {
			val = fc.Before
		}
		if val == nil {
			delete(state, k)
		} else {
			state[k] = append([]byte(nil), val...)
		}
	}
}

// Abandon removes an operation record and relinks its children onto its
// parents, rewriting the log file. The initial operation cannot be
// abandoned, and an operation that a later undo or restore targets
// fails with CONFLICT since its removal would invalidate the replay.
func (l *Log) Abandon(id string) error {
	target, err := l.Get(id)
	if err != nil {
		return err
	}
	if len(target.Parents) == 0 {
		return jjerr.New(jjerr.Conflict, "cannot abandon the initial operation")
	}
	for _, op := range l.ops {
		if op.ID == id {
			continue
		}
		for _, ref := range opTargets(op) {
			if ref == id {
				return jjerr.Newf(jjerr.Conflict, "operation %s is targeted by %s", ids.Short(id), ids.Short(op.ID)).
					With("op_id", id).
					Hint("abandon the targeting operation first")
			}
		}
	}

	// Peel the abandoned operation's delta out of every later view so
	// replay no longer re-applies it. Each touched file is three-way
	// merged: base is the abandoned op's after-image, ours its
	// before-image, theirs the later version. A dirty merge means the
	// later operation builds on the abandoned one and re-application
	// would violate invariants.
	past := false
	patched := make(map[*Operation]map[string]FileChange)
	for _, op := range l.ops {
		if op.ID == id {
			past = true
			continue
		}
		if !past || len(op.View) == 0 {
			continue
		}
		for key, fc := range op.View {
			tfc, touched := target.View[key]
			if !touched {
				continue
			}
			repl := fc
			if fc.Before != nil {
				merged, clean := conflict.Merge3(tfc.After, tfc.Before, fc.Before)
				if !clean {
					return jjerr.Newf(jjerr.Conflict, "operation %s builds on %s and cannot be re-applied", ids.Short(op.ID), ids.Short(id)).
						With("op_id", op.ID)
				}
				repl.Before = json.RawMessage(merged)
			}
			if fc.After != nil {
				merged, clean := conflict.Merge3(tfc.After, tfc.Before, fc.After)
				if !clean {
					return jjerr.Newf(jjerr.Conflict, "operation %s builds on %s and cannot be re-applied", ids.Short(op.ID), ids.Short(id)).
						With("op_id", op.ID)
				}
				repl.After = json.RawMessage(merged)
			}
			if patched[op] == nil {
				patched[op] = make(map[string]FileChange)
			}
			patched[op][key] = repl
		}
	}
	for op, views := range patched {
		for key, fc := range views {
			op.View[key] = fc
		}
	}

	var kept []*Operation
	for _, op := range l.ops {
		if op.ID == id {
			continue
		}
		relinked := make([]string, 0, len(op.Parents))
		for _, p := range op.Parents {
			if p == id {
				relinked = append(relinked, target.Parents...)
			} else {
				relinked = append(relinked, p)
			}
		}
		op.Parents = relinked
		kept = append(kept, op)
	}
	l.ops = kept
	delete(l.byID, id)
	if l.head == id {
		if len(l.ops) > 0 {
			l.head = l.ops[len(l.ops)-1].ID
		} else {
			l.head = ""
		}
	}
	return l.rewrite()
}

// opTargets extracts the operation IDs an undo/restore/revert record
// refers to.
func opTargets(op *Operation) []string {
	var out []string
	if v, ok := op.Payload["undone"]; ok {
		if list, ok := v.([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
		}
		if list, ok := v.([]string); ok {
			out = append(out, list...)
		}
	}
	for _, key := range []string{"restored", "reverted", "cursor"} {
		if s, ok := op.Payload[key].(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// rewrite persists the whole log, used after Abandon.
func (l *Log) rewrite() error {
	var buf bytes.Buffer
	for _, op := range l.ops {
		line, err := json.Marshal(op)
		if err != nil {
			return fmt.Errorf("failed to marshal operation: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return l.store.Put(Key, buf.Bytes())
}
