package conflict

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/jjkit/jjkit/internal/jjerr"
)

// Type classifies a conflict.
type Type string

const (
	TypeContent      Type = "content"
	TypeAddAdd       Type = "add-add"
	TypeDeleteModify Type = "delete-modify"
	TypeModifyDelete Type = "modify-delete"
)

// Side is one participant of a conflict. Content is nil when the side
// deleted the path.
type Side struct {
	Label    string  `json:"label"`
	Content  *string `json:"content"`
	ChangeID string  `json:"change_id"`
}

// SideContent builds a Side with content.
func SideContent(label, changeID string, content []byte) Side {
	s := string(content)
	return Side{Label: label, ChangeID: changeID, Content: &s}
}

// SideAbsent builds a Side for a deleted path.
func SideAbsent(label, changeID string) Side {
	return Side{Label: label, ChangeID: changeID}
}

// Conflict is an unresolved merge recorded against exactly one change.
type Conflict struct {
	ID           string `json:"conflict_id"`
	ChangeID     string `json:"change_id"`
	Path         string `json:"path"`
	Type         Type   `json:"type"`
	Sides        []Side `json:"sides"`
	Base         *Side  `json:"base,omitempty"`
	DriverFailed bool   `json:"driver_failed,omitempty"`
	DriverError  string `json:"driver_error,omitempty"`
}

// Clone returns a deep copy.
func (c *Conflict) Clone() *Conflict {
	dup := *c
	dup.Sides = make([]Side, len(c.Sides))
	for i, s := range c.Sides {
		dup.Sides[i] = s
		if s.Content != nil {
			content := *s.Content
			dup.Sides[i].Content = &content
		}
	}
	if c.Base != nil {
		base := *c.Base
		if c.Base.Content != nil {
			content := *c.Base.Content
			base.Content = &content
		}
		dup.Base = &base
	}
	return &dup
}

// Strategy selects a resolution without explicit content.
type Strategy string

const (
	StrategyOurs   Strategy = "ours"
	StrategyTheirs Strategy = "theirs"
	StrategyUnion  Strategy = "union"
)

// Resolve computes the resolved content for a conflict under a strategy.
// The second return is false when the resolution deletes the path.
func (c *Conflict) Resolve(strategy Strategy) ([]byte, bool, error) {
	if len(c.Sides) < 2 {
		return nil, false, jjerr.Newf(jjerr.ValidationError, "conflict %s has %d sides", c.ID, len(c.Sides))
	}
	pick := func(s Side) ([]byte, bool) {
		if s.Content == nil {
			return nil, false
		}
		return []byte(*s.Content), true
	}
	switch strategy {
	case StrategyOurs:
		content, exists := pick(c.Sides[0])
		return content, exists, nil
	case StrategyTheirs:
		content, exists := pick(c.Sides[1])
		return content, exists, nil
	case StrategyUnion:
		ours, oursExists := pick(c.Sides[0])
		theirs, theirsExists := pick(c.Sides[1])
		if !oursExists && !theirsExists {
			return nil, false, nil
		}
		var base []byte
		if c.Base != nil && c.Base.Content != nil {
			base = []byte(*c.Base.Content)
		}
		return UnionMerge(base, ours, theirs), true, nil
	default:
		return nil, false, jjerr.Newf(jjerr.InvalidArgument, "unknown resolution strategy %q", strategy).
			Hint("use ours, theirs or union")
	}
}

// Set owns every unresolved conflict of a repository, persisted as
// conflicts.json.
type Set struct {
	byID map[string]*Conflict
}

// NewSet returns an empty conflict set.
func NewSet() *Set {
	return &Set{byID: make(map[string]*Conflict)}
}

// LoadSet parses a persisted conflict file.
func LoadSet(data []byte) (*Set, error) {
	var file struct {
		Conflicts []*Conflict `json:"conflicts"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&file); err != nil {
		return nil, jjerr.Wrap(jjerr.ParseError, "failed to parse conflicts file", err)
	}
	s := NewSet()
	for _, c := range file.Conflicts {
		s.byID[c.ID] = c
	}
	return s, nil
}

// Marshal serialises the set sorted by conflict ID.
func (s *Set) Marshal() ([]byte, error) {
	ids := make([]string, 0, len(s.byID))
	for id := range s.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	file := struct {
		Conflicts []*Conflict `json:"conflicts"`
	}{Conflicts: make([]*Conflict, 0, len(ids))}
	for _, id := range ids {
		file.Conflicts = append(file.Conflicts, s.byID[id])
	}
	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal conflicts: %w", err)
	}
	return append(data, '\n'), nil
}

// Clone returns a deep copy.
func (s *Set) Clone() *Set {
	dup := NewSet()
	for id, c := range s.byID {
		dup.byID[id] = c.Clone()
	}
	return dup
}

// Len returns the number of unresolved conflicts.
func (s *Set) Len() int {
	return len(s.byID)
}

// Add records a conflict.
func (s *Set) Add(c *Conflict) {
	s.byID[c.ID] = c
}

// Get returns a conflict by ID.
func (s *Set) Get(id string) (*Conflict, error) {
	c, ok := s.byID[id]
	if !ok {
		return nil, jjerr.Newf(jjerr.NotFound, "no such conflict %s", id).With("conflict_id", id)
	}
	return c, nil
}

// Remove deletes a conflict by ID.
func (s *Set) Remove(id string) error {
	if _, ok := s.byID[id]; !ok {
		return jjerr.Newf(jjerr.NotFound, "no such conflict %s", id).With("conflict_id", id)
	}
	delete(s.byID, id)
	return nil
}

// List returns all conflicts sorted by (path, ID).
func (s *Set) List() []*Conflict {
	out := make([]*Conflict, 0, len(s.byID))
	for _, c := range s.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ByChange returns the conflicts owned by a change.
func (s *Set) ByChange(changeID string) []*Conflict {
	var out []*Conflict
	for _, c := range s.List() {
		if c.ChangeID == changeID {
			out = append(out, c)
		}
	}
	return out
}

// RemoveForChange drops every conflict owned by a change, returning how
// many were removed. Used when a change is abandoned.
func (s *Set) RemoveForChange(changeID string) int {
	n := 0
	for id, c := range s.byID {
		if c.ChangeID == changeID {
			delete(s.byID, id)
			n++
		}
	}
	return n
}
