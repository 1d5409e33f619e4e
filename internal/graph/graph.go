package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jjkit/jjkit/internal/jjerr"
)

// Graph is the in-memory change DAG. It is not safe for concurrent
// mutation; the engine serialises writers on the repository lock and
// hands read-only copies to concurrent readers.
type Graph struct {
	changes     map[string]*Change
	rootID      string
	workingCopy string

	// children is rebuilt lazily from the parent lists.
	children map[string]map[string]bool
}

// graphFile is the persisted form of the graph. Changes are sorted by
// change ID so serialisation is deterministic.
type graphFile struct {
	Root        string    `json:"root"`
	WorkingCopy string    `json:"working_copy"`
	Changes     []*Change `json:"changes"`
}

// New creates a graph containing only the given root change.
func New(root *Change) *Graph {
	g := &Graph{
		changes: map[string]*Change{root.ChangeID: root},
		rootID:  root.ChangeID,
	}
	return g
}

// Load parses a persisted graph.
func Load(data []byte) (*Graph, error) {
	var file graphFile
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&file); err != nil {
		return nil, jjerr.Wrap(jjerr.ParseError, "failed to parse graph file", err)
	}

	g := &Graph{
		changes:     make(map[string]*Change, len(file.Changes)),
		rootID:      file.Root,
		workingCopy: file.WorkingCopy,
	}
	for _, c := range file.Changes {
		g.changes[c.ChangeID] = c
	}
	if g.rootID == "" || g.changes[g.rootID] == nil {
		return nil, jjerr.New(jjerr.ValidationError, "graph file has no root change")
	}
	return g, nil
}

// Marshal serialises the graph: UTF-8, LF-terminated, insertion-order
// keys, integer timestamps.
func (g *Graph) Marshal() ([]byte, error) {
	ids := make([]string, 0, len(g.changes))
	for id := range g.changes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	file := graphFile{
		Root:        g.rootID,
		WorkingCopy: g.workingCopy,
		Changes:     make([]*Change, 0, len(ids)),
	}
	for _, id := range ids {
		file.Changes = append(file.Changes, g.changes[id])
	}

	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal graph: %w", err)
	}
	return append(data, '\n'), nil
}

// Clone returns a deep copy, used to hand readers a consistent snapshot.
func (g *Graph) Clone() *Graph {
	dup := &Graph{
		changes:     make(map[string]*Change, len(g.changes)),
		rootID:      g.rootID,
		workingCopy: g.workingCopy,
	}
	for id, c := range g.changes {
		dup.changes[id] = c.Clone()
	}
	return dup
}

// RootID returns the change ID of the root change.
func (g *Graph) RootID() string {
	return g.rootID
}

// WorkingCopy returns the change ID the working copy points at.
func (g *Graph) WorkingCopy() string {
	return g.workingCopy
}

// SetWorkingCopy moves the working-copy pointer.
func (g *Graph) SetWorkingCopy(id string) error {
	if _, err := g.Get(id); err != nil {
		return err
	}
	g.workingCopy = id
	return nil
}

// Len returns the number of changes, including abandoned ones.
func (g *Graph) Len() int {
	return len(g.changes)
}

// Has reports whether the change exists.
func (g *Graph) Has(id string) bool {
	_, ok := g.changes[id]
	return ok
}

// Get returns the change with the given full ID.
func (g *Graph) Get(id string) (*Change, error) {
	c, ok := g.changes[id]
	if !ok {
		return nil, jjerr.Newf(jjerr.NotFound, "no such change %s", id).
			With("change_id", id).
			Hint("use a change id from `log`")
	}
	return c, nil
}

// Resolve expands a change-ID prefix to the unique full ID.
func (g *Graph) Resolve(prefix string) (string, error) {
	if _, ok := g.changes[prefix]; ok {
		return prefix, nil
	}
	var match string
	for id := range g.changes {
		if len(prefix) > 0 && len(prefix) < len(id) && id[:len(prefix)] == prefix {
			if match != "" {
				return "", jjerr.Newf(jjerr.InvalidArgument, "change id prefix %q is ambiguous", prefix).
					With("prefix", prefix)
			}
			match = id
		}
	}
	if match == "" {
		return "", jjerr.Newf(jjerr.NotFound, "no change matches %q", prefix).With("prefix", prefix)
	}
	return match, nil
}

// All returns every change ID, sorted. Abandoned changes are included;
// callers filter when needed.
func (g *Graph) All() []string {
	ids := make([]string, 0, len(g.changes))
	for id := range g.changes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Visible returns every non-abandoned change ID, sorted.
func (g *Graph) Visible() []string {
	ids := make([]string, 0, len(g.changes))
	for id, c := range g.changes {
		if !c.Flags.Abandoned {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Create inserts a new change. Parents must exist, must not be abandoned,
// and must form an antichain (no parent is an ancestor of another).
// The committer timestamp is raised to the parents' maximum so ancestor
// timestamps never exceed descendant timestamps.
func (g *Graph) Create(id string, parents []string, description string, author, committer Signature) (*Change, error) {
	if g.Has(id) {
		return nil, jjerr.Newf(jjerr.AlreadyExists, "change %s already exists", id).With("change_id", id)
	}
	if len(parents) == 0 {
		return nil, jjerr.New(jjerr.InvalidArgument, "a non-root change needs at least one parent")
	}
	if err := g.checkParentSet(parents); err != nil {
		return nil, err
	}

	var maxParentTS int64
	for _, p := range parents {
		if ts := g.changes[p].Committer.Timestamp; ts > maxParentTS {
			maxParentTS = ts
		}
	}
	if committer.Timestamp < maxParentTS {
		committer.Timestamp = maxParentTS
	}

	c := &Change{
		ChangeID:    id,
		Parents:     append([]string(nil), parents...),
		Description: description,
		Author:      author,
		Committer:   committer,
	}
	g.changes[id] = c
	g.children = nil
	return c, nil
}

func (g *Graph) checkParentSet(parents []string) error {
	seen := make(map[string]bool, len(parents))
	for _, p := range parents {
		c, ok := g.changes[p]
		if !ok {
			return jjerr.Newf(jjerr.InvalidArgument, "parent %s does not exist", p).With("change_id", p)
		}
		if c.Flags.Abandoned {
			return jjerr.Newf(jjerr.InvalidArgument, "parent %s is abandoned", p).With("change_id", p)
		}
		if seen[p] {
			return jjerr.Newf(jjerr.InvalidArgument, "duplicate parent %s", p).With("change_id", p)
		}
		seen[p] = true
	}
	// Antichain: no parent may be an ancestor of another.
	for _, a := range parents {
		for _, b := range parents {
			if a != b && g.IsAncestor(a, b) {
				return jjerr.Newf(jjerr.InvalidArgument, "parent %s is an ancestor of parent %s", a, b).
					With("change_id", a)
			}
		}
	}
	return nil
}

// Attach inserts a change built elsewhere, used by the Git bridge
// import. Parents must exist but committer timestamps are taken as-is:
// the monotonicity rule is enforced on creation, not on import.
func (g *Graph) Attach(c *Change) error {
	if g.Has(c.ChangeID) {
		return jjerr.Newf(jjerr.AlreadyExists, "change %s already exists", c.ChangeID).With("change_id", c.ChangeID)
	}
	if len(c.Parents) == 0 {
		return jjerr.New(jjerr.InvalidArgument, "a non-root change needs at least one parent")
	}
	for _, p := range c.Parents {
		if !g.Has(p) {
			return jjerr.Newf(jjerr.InvalidArgument, "parent %s does not exist", p).With("change_id", p)
		}
	}
	g.changes[c.ChangeID] = c
	g.children = nil
	return nil
}

// ApplyPatch rewrites the description, tree, author or committer of a
// change in place. The commit projection and evolution append happen in
// SetCommit once the new commit exists.
func (g *Graph) ApplyPatch(id string, patch Patch) error {
	c, err := g.Get(id)
	if err != nil {
		return err
	}
	if patch.Description != nil {
		c.Description = *patch.Description
	}
	if patch.Tree != nil {
		c.Tree = patch.Tree
	}
	if patch.Author != nil {
		c.Author = *patch.Author
	}
	if patch.Committer != nil {
		c.Committer = *patch.Committer
	}
	return nil
}

// SetCommit records the Git commit a change now occupies. The previous
// commit, if different, is appended to the evolution list.
func (g *Graph) SetCommit(id, commitID string) error {
	c, err := g.Get(id)
	if err != nil {
		return err
	}
	if c.CommitID != "" && c.CommitID != commitID {
		c.Evolution = append(c.Evolution, c.CommitID)
	}
	c.CommitID = commitID
	return nil
}

// SetFlags replaces the flags of a change.
func (g *Graph) SetFlags(id string, flags Flags) error {
	c, err := g.Get(id)
	if err != nil {
		return err
	}
	c.Flags = flags
	return nil
}

// Abandon marks a change abandoned. The root cannot be abandoned.
// Descendant rebasing, and moving a working copy off the abandoned
// change, are coordinated by the engine.
func (g *Graph) Abandon(id string) error {
	c, err := g.Get(id)
	if err != nil {
		return err
	}
	if c.IsRoot() {
		return jjerr.New(jjerr.InvalidArgument, "cannot abandon the root change")
	}
	c.Flags.Abandoned = true
	return nil
}

// SetParents re-parents a change, rejecting edges that would create a
// cycle and validating the new parent set.
func (g *Graph) SetParents(id string, parents []string) error {
	c, err := g.Get(id)
	if err != nil {
		return err
	}
	if c.IsRoot() {
		return jjerr.New(jjerr.InvalidArgument, "cannot re-parent the root change")
	}
	if len(parents) == 0 {
		return jjerr.New(jjerr.InvalidArgument, "a non-root change needs at least one parent")
	}
	for _, p := range parents {
		if p == id {
			return jjerr.Newf(jjerr.ValidationError, "change %s cannot be its own parent", id).With("change_id", id)
		}
		if g.IsAncestor(id, p) {
			return jjerr.Newf(jjerr.ValidationError, "re-parenting %s onto %s would create a cycle", id, p).
				With("change_id", id).
				With("parent", p)
		}
	}
	if err := g.checkParentSetAllowAbandoned(parents, id); err != nil {
		return err
	}
	c.Parents = append([]string(nil), parents...)
	g.children = nil
	return nil
}

// checkParentSetAllowAbandoned validates parents for re-parenting. An
// abandoned change keeps abandoned parents; a live one may not.
func (g *Graph) checkParentSetAllowAbandoned(parents []string, child string) error {
	childAbandoned := g.changes[child].Flags.Abandoned
	seen := make(map[string]bool, len(parents))
	for _, p := range parents {
		pc, ok := g.changes[p]
		if !ok {
			return jjerr.Newf(jjerr.InvalidArgument, "parent %s does not exist", p).With("change_id", p)
		}
		if pc.Flags.Abandoned && !childAbandoned {
			return jjerr.Newf(jjerr.InvalidArgument, "parent %s is abandoned", p).With("change_id", p)
		}
		if seen[p] {
			return jjerr.Newf(jjerr.InvalidArgument, "duplicate parent %s", p).With("change_id", p)
		}
		seen[p] = true
	}
	return nil
}

// childIndex rebuilds the child map on demand.
func (g *Graph) childIndex() map[string]map[string]bool {
	if g.children != nil {
		return g.children
	}
	idx := make(map[string]map[string]bool, len(g.changes))
	for id, c := range g.changes {
		for _, p := range c.Parents {
			if idx[p] == nil {
				idx[p] = make(map[string]bool)
			}
			idx[p][id] = true
		}
	}
	g.children = idx
	return idx
}

// Children returns the direct children of a change, sorted.
func (g *Graph) Children(id string) []string {
	set := g.childIndex()[id]
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
