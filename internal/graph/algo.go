package graph

import (
	"sort"

	"github.com/jjkit/jjkit/internal/jjerr"
)

// Graph algorithms used by the revset engine and auto-rebase. All are
// BFS over the parent/child indices with a visited set; none mutate the
// graph.

// Ancestors returns the set of ancestors of the given changes, including
// the changes themselves.
func (g *Graph) Ancestors(ids ...string) map[string]bool {
	visited := make(map[string]bool)
	queue := append([]string(nil), ids...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		c, ok := g.changes[id]
		if !ok {
			continue
		}
		visited[id] = true
		queue = append(queue, c.Parents...)
	}
	return visited
}

// Descendants returns the set of descendants of the given changes,
// including the changes themselves.
func (g *Graph) Descendants(ids ...string) map[string]bool {
	idx := g.childIndex()
	visited := make(map[string]bool)
	queue := append([]string(nil), ids...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] || !g.Has(id) {
			continue
		}
		visited[id] = true
		for child := range idx[id] {
			queue = append(queue, child)
		}
	}
	return visited
}

// IsAncestor reports whether a is an ancestor of b (a == b counts).
func (g *Graph) IsAncestor(a, b string) bool {
	return g.Ancestors(b)[a]
}

// Heads returns the members of set with no child in set. A nil set means
// all visible changes.
func (g *Graph) Heads(set map[string]bool) []string {
	if set == nil {
		set = make(map[string]bool)
		for _, id := range g.Visible() {
			set[id] = true
		}
	}
	idx := g.childIndex()
	var heads []string
	for id := range set {
		isHead := true
		for child := range idx[id] {
			if set[child] {
				isHead = false
				break
			}
		}
		if isHead {
			heads = append(heads, id)
		}
	}
	sort.Strings(heads)
	return heads
}

// Roots returns the members of set with no parent in set.
func (g *Graph) Roots(set map[string]bool) []string {
	var roots []string
	for id := range set {
		c, ok := g.changes[id]
		if !ok {
			continue
		}
		isRoot := true
		for _, p := range c.Parents {
			if set[p] {
				isRoot = false
				break
			}
		}
		if isRoot {
			roots = append(roots, id)
		}
	}
	sort.Strings(roots)
	return roots
}

// CommonAncestor returns the lowest common ancestor of a and b. With
// several candidates the one with the greatest committer timestamp wins;
// remaining ties break on lexicographic change ID.
func (g *Graph) CommonAncestor(a, b string) (string, error) {
	if !g.Has(a) || !g.Has(b) {
		missing := a
		if g.Has(a) {
			missing = b
		}
		return "", jjerr.Newf(jjerr.NotFound, "no such change %s", missing).With("change_id", missing)
	}

	common := make(map[string]bool)
	bAnc := g.Ancestors(b)
	for id := range g.Ancestors(a) {
		if bAnc[id] {
			common[id] = true
		}
	}
	if len(common) == 0 {
		return "", jjerr.Newf(jjerr.NotFound, "changes %s and %s share no ancestor", a, b)
	}

	// Lowest: members of the intersection with no child inside it.
	lowest := g.Heads(common)
	best := lowest[0]
	for _, id := range lowest[1:] {
		cur, cand := g.changes[best], g.changes[id]
		if cand.Committer.Timestamp > cur.Committer.Timestamp ||
			(cand.Committer.Timestamp == cur.Committer.Timestamp && id < best) {
			best = id
		}
	}
	return best, nil
}

// Range returns the set ancestors(b) minus ancestors(a): the changes
// reachable from b but not from a.
func (g *Graph) Range(a, b string) map[string]bool {
	out := make(map[string]bool)
	exclude := g.Ancestors(a)
	for id := range g.Ancestors(b) {
		if !exclude[id] {
			out[id] = true
		}
	}
	return out
}

// Connected closes set over the paths between its members: the union of
// set with descendants(set) ∩ ancestors(set).
func (g *Graph) Connected(set map[string]bool) map[string]bool {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	anc := g.Ancestors(ids...)
	desc := g.Descendants(ids...)

	out := make(map[string]bool, len(set))
	for id := range set {
		out[id] = true
	}
	for id := range anc {
		if desc[id] {
			out[id] = true
		}
	}
	return out
}

// TopoSort orders the given set newest-first: every change precedes its
// ancestors, ties broken by committer timestamp descending then change
// ID ascending. This is the canonical revset result order.
func (g *Graph) TopoSort(set map[string]bool) []string {
	idx := g.childIndex()

	// pending counts un-emitted children within the set.
	pending := make(map[string]int, len(set))
	for id := range set {
		n := 0
		for child := range idx[id] {
			if set[child] {
				n++
			}
		}
		pending[id] = n
	}

	ready := make([]string, 0, len(set))
	for id, n := range pending {
		if n == 0 {
			ready = append(ready, id)
		}
	}

	less := func(a, b string) bool {
		ca, cb := g.changes[a], g.changes[b]
		if ca.Committer.Timestamp != cb.Committer.Timestamp {
			return ca.Committer.Timestamp > cb.Committer.Timestamp
		}
		return a < b
	}

	out := make([]string, 0, len(set))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)

		for _, p := range g.changes[id].Parents {
			if _, inSet := pending[p]; !inSet {
				continue
			}
			pending[p]--
			if pending[p] == 0 {
				ready = append(ready, p)
			}
		}
	}
	return out
}

// TopoSortOldestFirst orders the set parents-before-children, used by
// auto-rebase and op-log replay.
func (g *Graph) TopoSortOldestFirst(set map[string]bool) []string {
	newest := g.TopoSort(set)
	out := make([]string, len(newest))
	for i, id := range newest {
		out[len(newest)-1-i] = id
	}
	return out
}
