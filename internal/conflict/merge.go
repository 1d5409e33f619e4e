package conflict

import (
	"bytes"

	"github.com/jjkit/jjkit/internal/jjerr"
)

// FileVersion is one side's view of a path during a merge.
type FileVersion struct {
	Content  []byte
	Exists   bool
	ChangeID string
}

// MergeResult is the outcome of merging one path. Conflict is nil when
// the merge was clean; Exists is false when the merged result deletes
// the path.
type MergeResult struct {
	Content    []byte
	Exists     bool
	Conflict   *Conflict
	DriverName string
}

// MergePath three-way merges one path. Detection rules:
//
//   - both sides equal the base: no conflict, keep base
//   - exactly one side differs: take that side
//   - both differ: consult the driver registry, then the default
//     line-wise merge; a dirty merge records a conflict
//
// File-type conflicts (add-add, delete-modify, modify-delete) come from
// the existence matrix. conflictID names the conflict if one is
// recorded; owner is the change that will own it.
func MergePath(conflictID, owner, p string, base, ours, theirs FileVersion, drivers *Registry) (MergeResult, error) {
	sameAsBase := func(v FileVersion) bool {
		if v.Exists != base.Exists {
			return false
		}
		return !v.Exists || bytes.Equal(v.Content, base.Content)
	}
	sidesEqual := ours.Exists == theirs.Exists &&
		(!ours.Exists || bytes.Equal(ours.Content, theirs.Content))

	switch {
	case sidesEqual:
		return MergeResult{Content: ours.Content, Exists: ours.Exists}, nil
	case sameAsBase(ours):
		return MergeResult{Content: theirs.Content, Exists: theirs.Exists}, nil
	case sameAsBase(theirs):
		return MergeResult{Content: ours.Content, Exists: ours.Exists}, nil
	}

	// Existence matrix: both sides differ from base and from each other.
	if !ours.Exists || !theirs.Exists {
		var typ Type
		switch {
		case !base.Exists:
			typ = TypeAddAdd
		case !ours.Exists:
			typ = TypeDeleteModify
		default:
			typ = TypeModifyDelete
		}
		c := buildConflict(conflictID, owner, p, typ, base, ours, theirs)
		// The surviving side's content is materialised alongside the
		// conflict so the working copy is never left without the file.
		surviving := ours
		if !ours.Exists {
			surviving = theirs
		}
		return MergeResult{Content: surviving.Content, Exists: true, Conflict: c}, nil
	}

	if !base.Exists {
		// Both added the path with different content.
		c := buildConflict(conflictID, owner, p, TypeAddAdd, base, ours, theirs)
		merged, clean := Merge3(nil, ours.Content, theirs.Content)
		if clean {
			return MergeResult{Content: merged, Exists: true}, nil
		}
		return MergeResult{Content: ours.Content, Exists: true, Conflict: c}, nil
	}

	// Content merge: driver first, default three-way second.
	if d := drivers.Lookup(p); d != nil {
		merged, err := d.Merge(base.Content, ours.Content, theirs.Content)
		if err == nil {
			return MergeResult{Content: merged, Exists: true, DriverName: d.Name()}, nil
		}
		if drivers.Strict {
			return MergeResult{}, jjerr.Wrap(jjerr.Conflict, "merge driver failed in strict mode", err).
				With("path", p).
				With("driver", d.Name())
		}
		// Driver failure: fall back to the default three-way result and
		// record the conflict tagged with the driver error.
		merged, _ := Merge3(base.Content, ours.Content, theirs.Content)
		c := buildConflict(conflictID, owner, p, TypeContent, base, ours, theirs)
		c.DriverFailed = true
		c.DriverError = err.Error()
		return MergeResult{Content: merged, Exists: true, Conflict: c, DriverName: d.Name()}, nil
	}

	merged, clean := Merge3(base.Content, ours.Content, theirs.Content)
	if clean {
		return MergeResult{Content: merged, Exists: true}, nil
	}
	c := buildConflict(conflictID, owner, p, TypeContent, base, ours, theirs)
	return MergeResult{Content: merged, Exists: true, Conflict: c}, nil
}

func buildConflict(conflictID, owner, p string, typ Type, base, ours, theirs FileVersion) *Conflict {
	side := func(label string, v FileVersion) Side {
		if !v.Exists {
			return SideAbsent(label, v.ChangeID)
		}
		return SideContent(label, v.ChangeID, v.Content)
	}

	c := &Conflict{
		ID:       conflictID,
		ChangeID: owner,
		Path:     p,
		Type:     typ,
		Sides:    []Side{side("ours", ours), side("theirs", theirs)},
	}
	if base.Exists {
		baseSide := side("base", base)
		c.Base = &baseSide
	}
	return c
}
