package revset

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/jjkit/jjkit/internal/graph"
	"github.com/jjkit/jjkit/internal/jjerr"
)

// Context supplies everything the evaluator needs from the engine.
type Context struct {
	Graph       *graph.Graph
	Bookmarks   *graph.BookmarkSet
	WorkingCopy string

	// UserEmail backs mine().
	UserEmail string

	// Now anchors last(Nd) and since(); injectable for tests.
	Now time.Time

	// FileMatch reports whether a change modifies a path matching the
	// pattern. Nil disables file().
	FileMatch func(c *graph.Change, pattern string) bool

	// Tags maps tag names to change IDs, fed by the Git bridge import.
	Tags map[string]string
}

// Eval parses and evaluates src, returning change IDs in topological
// order, newest first, ties broken by committer timestamp descending
// then change ID ascending.
func Eval(ctx *Context, src string) ([]string, error) {
	expr, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return EvalExpr(ctx, expr)
}

// EvalExpr evaluates a parsed expression.
func EvalExpr(ctx *Context, expr Expr) ([]string, error) {
	set, err := evalSet(ctx, expr)
	if err != nil {
		return nil, err
	}
	return ctx.Graph.TopoSort(set), nil
}

func evalSet(ctx *Context, expr Expr) (map[string]bool, error) {
	switch e := expr.(type) {
	case *BinaryExpr:
		left, err := evalSet(ctx, e.L)
		if err != nil {
			return nil, err
		}
		right, err := evalSet(ctx, e.R)
		if err != nil {
			return nil, err
		}
		out := make(map[string]bool)
		switch e.Op {
		case '|':
			for id := range left {
				out[id] = true
			}
			for id := range right {
				out[id] = true
			}
		case '&':
			for id := range left {
				if right[id] {
					out[id] = true
				}
			}
		case '~':
			for id := range left {
				if !right[id] {
					out[id] = true
				}
			}
		}
		return out, nil

	case *NotExpr:
		inner, err := evalSet(ctx, e.X)
		if err != nil {
			return nil, err
		}
		out := make(map[string]bool)
		for _, id := range ctx.Graph.Visible() {
			if !inner[id] {
				out[id] = true
			}
		}
		return out, nil

	case *StepExpr:
		inner, err := evalSet(ctx, e.X)
		if err != nil {
			return nil, err
		}
		return stepSet(ctx, inner, e.Op), nil

	case *WorkingCopyExpr:
		if ctx.WorkingCopy == "" {
			return nil, jjerr.New(jjerr.NotFound, "no working copy change")
		}
		return map[string]bool{ctx.WorkingCopy: true}, nil

	case *SymbolExpr:
		return resolveSymbol(ctx, e)

	case *FuncExpr:
		return evalFunc(ctx, e)

	case *LiteralExpr:
		return nil, jjerr.New(jjerr.InvalidArgument, "literal is not a revset").
			With("position", posString(e.Pos))

	default:
		return nil, jjerr.New(jjerr.InvalidArgument, "unknown expression node")
	}
}

func stepSet(ctx *Context, set map[string]bool, op byte) map[string]bool {
	out := make(map[string]bool)
	for id := range set {
		if op == '-' {
			c, err := ctx.Graph.Get(id)
			if err != nil {
				continue
			}
			for _, p := range c.Parents {
				out[p] = true
			}
		} else {
			for _, child := range ctx.Graph.Children(id) {
				out[child] = true
			}
		}
	}
	return out
}

// resolveSymbol tries a bookmark name first, then a change-ID prefix.
func resolveSymbol(ctx *Context, e *SymbolExpr) (map[string]bool, error) {
	if ctx.Bookmarks != nil {
		if b, err := ctx.Bookmarks.Get(e.Name, ""); err == nil {
			return map[string]bool{b.Target: true}, nil
		}
	}
	id, err := ctx.Graph.Resolve(e.Name)
	if err != nil {
		if jjerr.IsKind(err, jjerr.InvalidArgument) {
			return nil, err
		}
		return nil, jjerr.Newf(jjerr.NotFound, "no bookmark or change matches %q", e.Name).
			With("symbol", e.Name).
			With("position", posString(e.Pos))
	}
	return map[string]bool{id: true}, nil
}

func evalFunc(ctx *Context, e *FuncExpr) (map[string]bool, error) {
	argc := func(want ...int) error {
		for _, n := range want {
			if len(e.Args) == n {
				return nil
			}
		}
		return jjerr.Newf(jjerr.InvalidArgument, "%s takes %v arguments, got %d", e.Name, want, len(e.Args)).
			With("position", posString(e.Pos))
	}

	switch e.Name {
	case "all":
		if err := argc(0); err != nil {
			return nil, err
		}
		return visibleSet(ctx), nil

	case "none":
		if err := argc(0); err != nil {
			return nil, err
		}
		return map[string]bool{}, nil

	case "ancestors", "descendants", "connected", "parents", "children", "roots", "heads":
		return evalGraphFunc(ctx, e, argc)

	case "latest":
		if err := argc(1); err != nil {
			return nil, err
		}
		n, err := intArg(e.Args[0], e.Name)
		if err != nil {
			return nil, err
		}
		order := ctx.Graph.TopoSort(visibleSet(ctx))
		if int64(len(order)) > n {
			order = order[:n]
		}
		out := make(map[string]bool, len(order))
		for _, id := range order {
			out[id] = true
		}
		return out, nil

	case "author", "description":
		if err := argc(1); err != nil {
			return nil, err
		}
		pattern, err := stringArg(e.Args[0], e.Name)
		if err != nil {
			return nil, err
		}
		return filterChanges(ctx, func(c *graph.Change) bool {
			if e.Name == "author" {
				return MatchPattern(pattern, c.Author.Name) || MatchPattern(pattern, c.Author.Email)
			}
			return MatchPattern(pattern, c.Description)
		})

	case "empty":
		if err := argc(0); err != nil {
			return nil, err
		}
		return filterChanges(ctx, func(c *graph.Change) bool { return c.Flags.Empty })

	case "mine":
		if err := argc(0); err != nil {
			return nil, err
		}
		return filterChanges(ctx, func(c *graph.Change) bool {
			return ctx.UserEmail != "" && c.Author.Email == ctx.UserEmail
		})

	case "merge":
		if err := argc(0); err != nil {
			return nil, err
		}
		return filterChanges(ctx, func(c *graph.Change) bool { return len(c.Parents) >= 2 })

	case "file":
		if err := argc(1); err != nil {
			return nil, err
		}
		pattern, err := stringArg(e.Args[0], e.Name)
		if err != nil {
			return nil, err
		}
		if ctx.FileMatch == nil {
			return nil, jjerr.New(jjerr.UnsupportedOperation, "file() is not available in this context")
		}
		return filterChanges(ctx, func(c *graph.Change) bool { return ctx.FileMatch(c, pattern) })

	case "bookmarks":
		if err := argc(0, 1); err != nil {
			return nil, err
		}
		out := make(map[string]bool)
		pattern := ""
		if len(e.Args) == 1 {
			var err error
			pattern, err = stringArg(e.Args[0], e.Name)
			if err != nil {
				return nil, err
			}
		}
		for _, b := range ctx.Bookmarks.Locals() {
			if pattern == "" || MatchPattern(pattern, b.Name) {
				if ctx.Graph.Has(b.Target) {
					out[b.Target] = true
				}
			}
		}
		return out, nil

	case "bookmark":
		if err := argc(1); err != nil {
			return nil, err
		}
		name, err := stringArg(e.Args[0], e.Name)
		if err != nil {
			return nil, err
		}
		b, err := ctx.Bookmarks.Get(name, "")
		if err != nil {
			return nil, err
		}
		return map[string]bool{b.Target: true}, nil

	case "tags":
		if err := argc(0); err != nil {
			return nil, err
		}
		out := make(map[string]bool)
		for _, id := range ctx.Tags {
			if ctx.Graph.Has(id) {
				out[id] = true
			}
		}
		return out, nil

	case "last":
		if err := argc(1); err != nil {
			return nil, err
		}
		if lit, ok := e.Args[0].(*LiteralExpr); ok && lit.IsDur {
			cutoff := ctx.Now.Add(-lit.Dur).UnixMilli()
			return filterChanges(ctx, func(c *graph.Change) bool {
				return c.Committer.Timestamp >= cutoff
			})
		}
		n, err := intArg(e.Args[0], e.Name)
		if err != nil {
			return nil, err
		}
		order := ctx.Graph.TopoSort(visibleSet(ctx))
		if int64(len(order)) > n {
			order = order[:n]
		}
		out := make(map[string]bool, len(order))
		for _, id := range order {
			out[id] = true
		}
		return out, nil

	case "since":
		if err := argc(1); err != nil {
			return nil, err
		}
		text, err := stringArg(e.Args[0], e.Name)
		if err != nil {
			return nil, err
		}
		cutoff, err := parseDate(text, ctx.Now)
		if err != nil {
			return nil, err
		}
		cutoffMS := cutoff.UnixMilli()
		return filterChanges(ctx, func(c *graph.Change) bool {
			return c.Committer.Timestamp >= cutoffMS
		})

	case "common_ancestor", "diverge_point":
		if err := argc(2); err != nil {
			return nil, err
		}
		a, b, err := twoChangeArgs(ctx, e)
		if err != nil {
			return nil, err
		}
		lca, err := ctx.Graph.CommonAncestor(a, b)
		if err != nil {
			return nil, err
		}
		return map[string]bool{lca: true}, nil

	case "range":
		if err := argc(2); err != nil {
			return nil, err
		}
		a, b, err := twoChangeArgs(ctx, e)
		if err != nil {
			return nil, err
		}
		return ctx.Graph.Range(a, b), nil

	case "between":
		if err := argc(2); err != nil {
			return nil, err
		}
		a, b, err := twoChangeArgs(ctx, e)
		if err != nil {
			return nil, err
		}
		return ctx.Graph.Connected(map[string]bool{a: true, b: true}), nil

	default:
		return nil, jjerr.Newf(jjerr.InvalidArgument, "unknown function %q", e.Name).
			With("position", posString(e.Pos)).
			Hint("see the revset documentation for supported functions")
	}
}

// evalGraphFunc handles the functions taking one revset argument.
func evalGraphFunc(ctx *Context, e *FuncExpr, argc func(...int) error) (map[string]bool, error) {
	switch e.Name {
	case "roots", "heads":
		if err := argc(0, 1); err != nil {
			return nil, err
		}
	default:
		if err := argc(1); err != nil {
			return nil, err
		}
	}

	set := visibleSet(ctx)
	if len(e.Args) == 1 {
		var err error
		set, err = evalSet(ctx, e.Args[0])
		if err != nil {
			return nil, err
		}
	}

	members := func(m map[string]bool) []string {
		out := make([]string, 0, len(m))
		for id := range m {
			out = append(out, id)
		}
		return out
	}

	switch e.Name {
	case "ancestors":
		return ctx.Graph.Ancestors(members(set)...), nil
	case "descendants":
		return ctx.Graph.Descendants(members(set)...), nil
	case "connected":
		return ctx.Graph.Connected(set), nil
	case "parents":
		return stepSet(ctx, set, '-'), nil
	case "children":
		return stepSet(ctx, set, '+'), nil
	case "roots":
		return listToSet(ctx.Graph.Roots(set)), nil
	default: // heads
		return listToSet(ctx.Graph.Heads(set)), nil
	}
}

func visibleSet(ctx *Context) map[string]bool {
	out := make(map[string]bool)
	for _, id := range ctx.Graph.Visible() {
		out[id] = true
	}
	return out
}

func listToSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func filterChanges(ctx *Context, keep func(*graph.Change) bool) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, id := range ctx.Graph.Visible() {
		c, err := ctx.Graph.Get(id)
		if err != nil {
			return nil, err
		}
		if keep(c) {
			out[id] = true
		}
	}
	return out, nil
}

// twoChangeArgs resolves two single-change arguments.
func twoChangeArgs(ctx *Context, e *FuncExpr) (string, string, error) {
	resolveOne := func(arg Expr) (string, error) {
		set, err := evalSet(ctx, arg)
		if err != nil {
			return "", err
		}
		if len(set) != 1 {
			return "", jjerr.Newf(jjerr.InvalidArgument, "%s needs single-change arguments, got %d changes", e.Name, len(set)).
				With("position", posString(e.Pos))
		}
		for id := range set {
			return id, nil
		}
		return "", nil
	}
	a, err := resolveOne(e.Args[0])
	if err != nil {
		return "", "", err
	}
	b, err := resolveOne(e.Args[1])
	if err != nil {
		return "", "", err
	}
	return a, b, nil
}

// stringArg accepts a string literal or a bare symbol as text.
func stringArg(arg Expr, fn string) (string, error) {
	switch a := arg.(type) {
	case *LiteralExpr:
		if a.IsStr {
			return a.Str, nil
		}
	case *SymbolExpr:
		return a.Name, nil
	}
	return "", jjerr.Newf(jjerr.InvalidArgument, "%s needs a string argument", fn).
		With("position", posString(arg.pos()))
}

func intArg(arg Expr, fn string) (int64, error) {
	if a, ok := arg.(*LiteralExpr); ok && a.IsNum {
		if a.Num < 0 {
			return 0, jjerr.Newf(jjerr.InvalidArgument, "%s needs a non-negative count", fn)
		}
		return a.Num, nil
	}
	return 0, jjerr.Newf(jjerr.InvalidArgument, "%s needs a numeric argument", fn).
		With("position", posString(arg.pos()))
}

// MatchPattern applies the shared pattern rules: substring
// case-insensitive by default, "re:" for regular expressions, "glob:"
// for path globs where "**" crosses directories. The engine reuses it
// for file() path matching.
func MatchPattern(pattern, text string) bool {
	switch {
	case strings.HasPrefix(pattern, "re:"):
		re, err := regexp.Compile(pattern[len("re:"):])
		if err != nil {
			return false
		}
		return re.MatchString(text)
	case strings.HasPrefix(pattern, "glob:"):
		return globMatch(pattern[len("glob:"):], text)
	default:
		return strings.Contains(strings.ToLower(text), strings.ToLower(pattern))
	}
}

func globMatch(glob, p string) bool {
	if !strings.Contains(glob, "**") {
		ok, _ := path.Match(glob, p)
		return ok
	}
	parts := strings.SplitN(glob, "**", 2)
	prefix := parts[0]
	suffix := strings.TrimPrefix(parts[1], "/")
	if !strings.HasPrefix(p, prefix) {
		return false
	}
	if suffix == "" {
		return true
	}
	segments := strings.Split(strings.TrimPrefix(p, prefix), "/")
	for i := range segments {
		if ok, _ := path.Match(suffix, strings.Join(segments[i:], "/")); ok {
			return true
		}
	}
	return false
}

// parseDate accepts RFC 3339, a plain date, or a natural-language
// phrase ("yesterday", "last monday 5pm").
func parseDate(text string, now time.Time) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, text); err == nil {
			return t, nil
		}
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	if r, err := w.Parse(text, now); err == nil && r != nil {
		return r.Time, nil
	}
	return time.Time{}, jjerr.Newf(jjerr.InvalidArgument, "cannot parse date %q", text).
		Hint("use RFC 3339, YYYY-MM-DD, or a phrase like \"yesterday\"")
}

func posString(pos int) string {
	return strconv.Itoa(pos)
}
