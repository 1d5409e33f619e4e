package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/jjkit/jjkit/internal/jjerr"
)

// Bookmark is a named pointer to a change, the jj analogue of a Git
// branch. A (name, remote) pair is unique; a local bookmark has an empty
// remote.
type Bookmark struct {
	Name    string `json:"name"`
	Target  string `json:"target"`
	Remote  string `json:"remote,omitempty"`
	Tracked bool   `json:"tracked,omitempty"`
}

// Key returns the unique (name, remote) key.
func (b *Bookmark) Key() string {
	if b.Remote == "" {
		return b.Name
	}
	return b.Name + "@" + b.Remote
}

// forbiddenNameRunes are excluded from bookmark names alongside
// whitespace and non-ASCII characters.
const forbiddenNameRunes = "@:~^?*"

// ValidateBookmarkName checks the restricted ASCII name rules.
func ValidateBookmarkName(name string) error {
	if name == "" {
		return jjerr.New(jjerr.InvalidArgument, "bookmark name cannot be empty")
	}
	for _, r := range name {
		if r <= ' ' || r > '~' || strings.ContainsRune(forbiddenNameRunes, r) {
			return jjerr.Newf(jjerr.InvalidArgument, "bookmark name %q contains forbidden character %q", name, r).
				With("name", name)
		}
	}
	return nil
}

// BookmarkSet owns all local and remote bookmarks of a repository.
type BookmarkSet struct {
	entries map[string]*Bookmark
}

// NewBookmarkSet returns an empty set.
func NewBookmarkSet() *BookmarkSet {
	return &BookmarkSet{entries: make(map[string]*Bookmark)}
}

// LoadBookmarks parses a persisted bookmark file.
func LoadBookmarks(data []byte) (*BookmarkSet, error) {
	var file struct {
		Bookmarks []*Bookmark `json:"bookmarks"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&file); err != nil {
		return nil, jjerr.Wrap(jjerr.ParseError, "failed to parse bookmarks file", err)
	}
	set := NewBookmarkSet()
	for _, b := range file.Bookmarks {
		set.entries[b.Key()] = b
	}
	return set, nil
}

// Marshal serialises the set sorted by key.
func (s *BookmarkSet) Marshal() ([]byte, error) {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	file := struct {
		Bookmarks []*Bookmark `json:"bookmarks"`
	}{Bookmarks: make([]*Bookmark, 0, len(keys))}
	for _, k := range keys {
		file.Bookmarks = append(file.Bookmarks, s.entries[k])
	}

	data, err := json.MarshalIndent(&file, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bookmarks: %w", err)
	}
	return append(data, '\n'), nil
}

// Clone returns a deep copy.
func (s *BookmarkSet) Clone() *BookmarkSet {
	dup := NewBookmarkSet()
	for k, b := range s.entries {
		copied := *b
		dup.entries[k] = &copied
	}
	return dup
}

// Get returns the bookmark with the given name and remote ("" = local).
func (s *BookmarkSet) Get(name, remote string) (*Bookmark, error) {
	b, ok := s.entries[(&Bookmark{Name: name, Remote: remote}).Key()]
	if !ok {
		return nil, jjerr.Newf(jjerr.NotFound, "no such bookmark %q", name).With("name", name)
	}
	return b, nil
}

// Create adds a new bookmark, failing if the (name, remote) pair exists.
func (s *BookmarkSet) Create(name, remote, target string, tracked bool) (*Bookmark, error) {
	if err := ValidateBookmarkName(name); err != nil {
		return nil, err
	}
	b := &Bookmark{Name: name, Remote: remote, Target: target, Tracked: tracked}
	if _, ok := s.entries[b.Key()]; ok {
		return nil, jjerr.Newf(jjerr.AlreadyExists, "bookmark %q already exists", name).With("name", name)
	}
	s.entries[b.Key()] = b
	return b, nil
}

// Set upserts a bookmark, moving it when it already exists.
func (s *BookmarkSet) Set(name, remote, target string, tracked bool) (*Bookmark, error) {
	if err := ValidateBookmarkName(name); err != nil {
		return nil, err
	}
	b := &Bookmark{Name: name, Remote: remote, Target: target, Tracked: tracked}
	if existing, ok := s.entries[b.Key()]; ok {
		existing.Target = target
		existing.Tracked = tracked
		return existing, nil
	}
	s.entries[b.Key()] = b
	return b, nil
}

// Delete removes a bookmark.
func (s *BookmarkSet) Delete(name, remote string) error {
	key := (&Bookmark{Name: name, Remote: remote}).Key()
	if _, ok := s.entries[key]; !ok {
		return jjerr.Newf(jjerr.NotFound, "no such bookmark %q", name).With("name", name)
	}
	delete(s.entries, key)
	return nil
}

// List returns all bookmarks sorted by key.
func (s *BookmarkSet) List() []*Bookmark {
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*Bookmark, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.entries[k])
	}
	return out
}

// Locals returns the local bookmarks sorted by name.
func (s *BookmarkSet) Locals() []*Bookmark {
	var out []*Bookmark
	for _, b := range s.List() {
		if b.Remote == "" {
			out = append(out, b)
		}
	}
	return out
}

// ByTarget returns all bookmarks pointing at the given change.
func (s *BookmarkSet) ByTarget(changeID string) []*Bookmark {
	var out []*Bookmark
	for _, b := range s.List() {
		if b.Target == changeID {
			out = append(out, b)
		}
	}
	return out
}

// Retarget moves every bookmark pointing at from to point at to. Used
// when a change is abandoned or squashed away.
func (s *BookmarkSet) Retarget(from, to string) int {
	n := 0
	for _, b := range s.entries {
		if b.Target == from {
			b.Target = to
			n++
		}
	}
	return n
}
