package conflict

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jjkit/jjkit/internal/jjerr"
)

// Style selects the conflict marker dialect.
type Style string

const (
	// StyleDiff3 includes the base block between ||||||| and =======.
	StyleDiff3 Style = "diff3"

	// StyleMerge omits the base block.
	StyleMerge Style = "merge"
)

const (
	markerOurs   = "<<<<<<<"
	markerBase   = "|||||||"
	markerSplit  = "======="
	markerTheirs = ">>>>>>>"
)

// FormatMarkers renders a content conflict with markers:
//
//	<<<<<<< ours
//	A
//	||||||| base
//	B
//	=======
//	C
//	>>>>>>> theirs
//
// The merge style drops the base block. Only content conflicts can be
// rendered; file-type conflicts have no textual representation.
func FormatMarkers(c *Conflict, style Style) ([]byte, error) {
	if c.Type != TypeContent {
		return nil, jjerr.Newf(jjerr.UnsupportedOperation, "cannot render markers for %s conflict", c.Type).
			With("conflict_id", c.ID)
	}
	if len(c.Sides) < 2 {
		return nil, jjerr.Newf(jjerr.ValidationError, "conflict %s has %d sides", c.ID, len(c.Sides))
	}
	if style != StyleDiff3 && style != StyleMerge {
		return nil, jjerr.Newf(jjerr.InvalidArgument, "unknown marker style %q", style)
	}

	sideContent := func(s *Side) string {
		if s == nil || s.Content == nil {
			return ""
		}
		return *s.Content
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s\n", markerOurs, c.Sides[0].Label)
	writeBlock(&buf, sideContent(&c.Sides[0]))
	if style == StyleDiff3 {
		baseLabel := "base"
		if c.Base != nil && c.Base.Label != "" {
			baseLabel = c.Base.Label
		}
		fmt.Fprintf(&buf, "%s %s\n", markerBase, baseLabel)
		writeBlock(&buf, sideContent(c.Base))
	}
	buf.WriteString(markerSplit + "\n")
	writeBlock(&buf, sideContent(&c.Sides[1]))
	fmt.Fprintf(&buf, "%s %s\n", markerTheirs, c.Sides[1].Label)
	return buf.Bytes(), nil
}

func writeBlock(buf *bytes.Buffer, content string) {
	if content == "" {
		return
	}
	buf.WriteString(content)
	if !strings.HasSuffix(content, "\n") {
		buf.WriteByte('\n')
	}
}

// ParseMarkers decodes marker-formatted content back into a content
// conflict. The codec round-trips: ParseMarkers(FormatMarkers(c)) equals
// c (sides, base, labels) for UTF-8 content conflicts whose content is
// newline-terminated and contains no marker lines.
func ParseMarkers(data []byte, style Style) (*Conflict, error) {
	lines := strings.Split(string(data), "\n")

	type section int
	const (
		beforeOurs section = iota
		inOurs
		inBase
		inTheirs
		done
	)

	var (
		state                             = beforeOurs
		oursLabel, baseLabel, theirsLabel string
		oursLines, baseLines, theirsLines []string
	)
	baseLabel = "base"

	fail := func(i int, msg string) error {
		return jjerr.Newf(jjerr.ParseError, "marker parse failed at line %d: %s", i+1, msg).
			With("position", fmt.Sprintf("%d", i+1))
	}

	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, markerOurs+" ") || line == markerOurs:
			if state != beforeOurs {
				return nil, fail(i, "unexpected <<<<<<<")
			}
			oursLabel = strings.TrimSpace(strings.TrimPrefix(line, markerOurs))
			state = inOurs
		case strings.HasPrefix(line, markerBase+" ") || line == markerBase:
			if state != inOurs || style != StyleDiff3 {
				return nil, fail(i, "unexpected |||||||")
			}
			if trimmed := strings.TrimSpace(strings.TrimPrefix(line, markerBase)); trimmed != "" {
				baseLabel = trimmed
			}
			state = inBase
		case line == markerSplit:
			if state != inOurs && state != inBase {
				return nil, fail(i, "unexpected =======")
			}
			if style == StyleDiff3 && state != inBase {
				return nil, fail(i, "missing base block in diff3 markers")
			}
			state = inTheirs
		case strings.HasPrefix(line, markerTheirs+" ") || line == markerTheirs:
			if state != inTheirs {
				return nil, fail(i, "unexpected >>>>>>>")
			}
			theirsLabel = strings.TrimSpace(strings.TrimPrefix(line, markerTheirs))
			state = done
		default:
			switch state {
			case inOurs:
				oursLines = append(oursLines, line)
			case inBase:
				baseLines = append(baseLines, line)
			case inTheirs:
				theirsLines = append(theirsLines, line)
			case done:
				if line != "" {
					return nil, fail(i, "content after >>>>>>>")
				}
			default:
				return nil, fail(i, "content before <<<<<<<")
			}
		}
	}
	if state != done {
		return nil, jjerr.New(jjerr.ParseError, "unterminated conflict markers")
	}

	c := &Conflict{
		Type: TypeContent,
		Sides: []Side{
			sideFromLines(oursLabel, oursLines),
			sideFromLines(theirsLabel, theirsLines),
		},
	}
	if style == StyleDiff3 {
		base := sideFromLines(baseLabel, baseLines)
		c.Base = &base
	}
	return c, nil
}

func sideFromLines(label string, lines []string) Side {
	content := ""
	if len(lines) > 0 {
		content = strings.Join(lines, "\n") + "\n"
	}
	return Side{Label: label, Content: &content}
}
