package engine

import (
	"github.com/jjkit/jjkit/internal/conflict"
	"github.com/jjkit/jjkit/internal/jjerr"
)

// AnnotateLine attributes one line of a file to the change that
// introduced it.
type AnnotateLine struct {
	Line     string
	ChangeID string
}

// Annotate walks the first-parent ancestry of a revision and attributes
// each line of the file to the oldest change already containing it.
// Line identity is carried across versions with the same longest-
// common-subsequence matching the merger uses.
func (r *Repo) Annotate(rev, path string) ([]AnnotateLine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, err := r.resolveSingle(rev)
	if err != nil {
		return nil, err
	}

	// First-parent chain from the revision back to the root.
	var chain []string
	cur := id
	for cur != "" {
		c, err := r.graph.Get(cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, cur)
		if len(c.Parents) == 0 {
			break
		}
		cur = c.Parents[0]
	}

	content, err := r.fileAt(id, path)
	if err != nil {
		return nil, err
	}
	lines := conflict.SplitLines(content)

	// Start with every line blamed on the revision itself, then push
	// attributions down the chain: a line matched in an ancestor's
	// version was introduced no later than that ancestor.
	blame := make([]string, len(lines))
	for i := range blame {
		blame[i] = id
	}

	current := lines
	// index of each current line within the original content
	origin := make([]int, len(lines))
	for i := range origin {
		origin[i] = i
	}

	for _, ancestor := range chain[1:] {
		ancestorContent, err := r.fileAt(ancestor, path)
		if err != nil {
			break // path does not exist this far back
		}
		ancestorLines := conflict.SplitLines(ancestorContent)

		match := conflict.MatchLines(ancestorLines, current)
		matched := make(map[int]bool)
		for _, cur := range match {
			matched[cur] = true
		}

		var nextLines []string
		var nextOrigin []int
		for i, line := range current {
			if matched[i] {
				blame[origin[i]] = ancestor
				nextLines = append(nextLines, line)
				nextOrigin = append(nextOrigin, origin[i])
			}
		}
		current = nextLines
		origin = nextOrigin
		if len(current) == 0 {
			break
		}
	}

	out := make([]AnnotateLine, len(lines))
	for i, line := range lines {
		out[i] = AnnotateLine{Line: line, ChangeID: blame[i]}
	}
	return out, nil
}

func (r *Repo) fileAt(changeID, path string) ([]byte, error) {
	c, err := r.graph.Get(changeID)
	if err != nil {
		return nil, err
	}
	blob, ok := c.Tree[path]
	if !ok {
		return nil, jjerr.Newf(jjerr.NotFound, "no such file %q in change", path).With("path", path)
	}
	return r.bridge.GetBlob(blob)
}
