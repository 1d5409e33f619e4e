// Package graph maintains the change DAG: the changes themselves, the
// parent/child indices, bookmarks, and the working-copy pointer.
//
// The graph is the canonical owner of changes and bookmarks. All
// cross-references are by change ID; the child index is rebuilt lazily
// from the parent lists and never persisted. Graph algorithms (ancestors,
// descendants, common ancestor, ranges) are plain BFS over those indices
// and feed the revset engine.
package graph

import (
	"strings"
)

// Signature identifies the author or committer of a change, with a
// millisecond-precision timestamp.
type Signature struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Timestamp int64  `json:"timestamp"`
}

// Flags carries the derived and lifecycle markers of a change.
type Flags struct {
	// Abandoned marks the change as removed from the visible graph.
	Abandoned bool `json:"abandoned,omitempty"`

	// Empty is derived: the change's tree equals its parents' merge tree.
	Empty bool `json:"empty,omitempty"`

	// HasConflict is set while the change owns unresolved conflicts.
	HasConflict bool `json:"has_conflict,omitempty"`
}

// Change is the atomic unit of work. The change ID is assigned at
// creation and never rewritten; the commit ID mutates on every rewrite,
// with prior commit IDs retained in Evolution (the obslog).
type Change struct {
	ChangeID    string            `json:"change_id"`
	CommitID    string            `json:"commit_id,omitempty"`
	Parents     []string          `json:"parents"`
	Description string            `json:"description"`
	Author      Signature         `json:"author"`
	Committer   Signature         `json:"committer"`
	Tree        map[string]string `json:"tree,omitempty"`
	Evolution   []string          `json:"evolution,omitempty"`
	Flags       Flags             `json:"flags"`
}

// Clone returns a deep copy of the change.
func (c *Change) Clone() *Change {
	dup := *c
	dup.Parents = append([]string(nil), c.Parents...)
	dup.Evolution = append([]string(nil), c.Evolution...)
	if c.Tree != nil {
		dup.Tree = make(map[string]string, len(c.Tree))
		for k, v := range c.Tree {
			dup.Tree[k] = v
		}
	}
	return &dup
}

// IsRoot reports whether the change is the repository root (no parents).
func (c *Change) IsRoot() bool {
	return len(c.Parents) == 0
}

// Summary returns the first line of the description, or the
// working-in-progress placeholder for empty descriptions.
func (c *Change) Summary() string {
	if c.Description == "" {
		return "(no description set)"
	}
	if i := strings.IndexByte(c.Description, '\n'); i >= 0 {
		return c.Description[:i]
	}
	return c.Description
}

// Patch describes a rewrite of a change. Nil fields keep the current
// value.
type Patch struct {
	Description *string
	Tree        map[string]string
	Author      *Signature
	Committer   *Signature
}
