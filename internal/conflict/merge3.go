// Package conflict implements the first-class conflict model: three-way
// content merging, conflict entities, the marker codec, merge drivers
// and resolution.
//
// Conflicts never block an operation. Detection produces a Conflict
// entity owned by exactly one change; the operation succeeds and the
// conflict lives until it is resolved or its change is abandoned.
package conflict

import (
	"bytes"
	"strings"
)

// Merge3 merges ours and theirs line-wise against base. It returns the
// merged content and whether the merge was clean. On a dirty merge the
// returned content is the best-effort merge with conflicting chunks
// taken from ours; callers record a Conflict alongside it.
func Merge3(base, ours, theirs []byte) ([]byte, bool) {
	merged, clean := merge3(base, ours, theirs, nil)
	return merged, clean
}

// UnionMerge merges like Merge3 but resolves conflicting chunks by
// concatenating the ours lines followed by the theirs lines.
func UnionMerge(base, ours, theirs []byte) []byte {
	merged, _ := merge3(base, ours, theirs, func(o, t []string) []string {
		return append(append([]string(nil), o...), t...)
	})
	return merged
}

// merge3 runs the chunk walk. resolve, when non-nil, turns a conflicting
// chunk into output lines; when nil the chunk counts as a conflict and
// the ours lines are kept.
func merge3(base, ours, theirs []byte, resolve func(o, t []string) []string) ([]byte, bool) {
	b := splitLines(base)
	o := splitLines(ours)
	t := splitLines(theirs)

	matchO := lcsMatch(b, o)
	matchT := lcsMatch(b, t)

	var out []string
	clean := true
	bi, oi, ti := 0, 0, 0

	flushChunk := func(oursChunk, baseChunk, theirsChunk []string) {
		switch {
		case linesEqual(oursChunk, theirsChunk):
			out = append(out, oursChunk...)
		case linesEqual(oursChunk, baseChunk):
			out = append(out, theirsChunk...)
		case linesEqual(theirsChunk, baseChunk):
			out = append(out, oursChunk...)
		default:
			if resolve != nil {
				out = append(out, resolve(oursChunk, theirsChunk)...)
			} else {
				clean = false
				out = append(out, oursChunk...)
			}
		}
	}

	for bi < len(b) {
		mo, okO := matchO[bi]
		mt, okT := matchT[bi]
		if okO && okT && mo >= oi && mt >= ti {
			// Stable line: both sides kept base line bi.
			flushChunk(o[oi:mo], nil, t[ti:mt])
			out = append(out, b[bi])
			oi, ti = mo+1, mt+1
			bi++
			continue
		}
		// Scan for the next stable base line.
		next := bi + 1
		for next < len(b) {
			no, okNO := matchO[next]
			nt, okNT := matchT[next]
			if okNO && okNT && no >= oi && nt >= ti {
				break
			}
			next++
		}
		if next == len(b) {
			break
		}
		flushChunk(o[oi:matchO[next]], b[bi:next], t[ti:matchT[next]])
		out = append(out, b[next])
		oi, ti = matchO[next]+1, matchT[next]+1
		bi = next + 1
	}
	// Tail past the last stable line.
	flushChunk(o[oi:], b[bi:], t[ti:])

	return joinLines(out), clean
}

// MatchLines returns, for each line index of a matched by the longest
// common subsequence of a and b, the corresponding index in b. The
// merger uses it for chunking; the annotate walk reuses it to carry
// line attributions across file versions.
func MatchLines(a, b []string) map[int]int {
	return lcsMatch(a, b)
}

// SplitLines splits content into lines without terminators; a trailing
// newline does not produce an empty final line.
func SplitLines(content []byte) []string {
	return splitLines(content)
}

// lcsMatch computes, for each index of a matched by the LCS of a and b,
// the corresponding index in b.
func lcsMatch(a, b []string) map[int]int {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return map[int]int{}
	}
	dp := make([][]int, n+1)
	for i := range dp {
		dp[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}
	match := make(map[int]int)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			match[i] = j
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}
	return match
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// splitLines splits content into lines without their terminators. A
// trailing newline does not produce an empty final line.
func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	s := string(content)
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

func joinLines(lines []string) []byte {
	if len(lines) == 0 {
		return []byte{}
	}
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
