package conflict

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"gopkg.in/yaml.v3"
)

// Driver merges one path's content before the default three-way merge
// gets a chance. A driver either produces merged content or fails; on
// failure the default merge result is used and the conflict is tagged
// driver_failed.
type Driver interface {
	Name() string
	Merge(base, ours, theirs []byte) ([]byte, error)
}

// Registry maps path globs to drivers. Later registrations win so users
// can override the built-ins.
type Registry struct {
	rules []registryRule

	// Strict promotes driver failure to an operation-level CONFLICT
	// error instead of falling back to the default merge.
	Strict bool
}

type registryRule struct {
	glob   string
	driver Driver
}

// NewRegistry creates a registry. strict enables strict driver mode.
func NewRegistry(strict bool) *Registry {
	return &Registry{Strict: strict}
}

// Register binds a driver to a path glob ("**" crosses directories).
func (r *Registry) Register(glob string, d Driver) {
	r.rules = append(r.rules, registryRule{glob: glob, driver: d})
}

// Lookup returns the last-registered driver whose glob matches p, or
// nil.
func (r *Registry) Lookup(p string) Driver {
	for i := len(r.rules) - 1; i >= 0; i-- {
		if globMatch(r.rules[i].glob, p) {
			return r.rules[i].driver
		}
	}
	return nil
}

// RegisterBuiltins installs the stock drivers: JSON, package.json
// dependency union, YAML, and per-section Markdown.
func (r *Registry) RegisterBuiltins() {
	r.Register("**/*.json", JSONDriver{})
	r.Register("*.json", JSONDriver{})
	r.Register("**/package.json", PackageJSONDriver{})
	r.Register("package.json", PackageJSONDriver{})
	r.Register("**/*.yaml", YAMLDriver{})
	r.Register("*.yaml", YAMLDriver{})
	r.Register("**/*.yml", YAMLDriver{})
	r.Register("*.yml", YAMLDriver{})
	r.Register("**/*.md", MarkdownDriver{})
	r.Register("*.md", MarkdownDriver{})
}

// globMatch matches path globs where "**" crosses directory separators
// and "*" does not.
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
	rest := strings.TrimPrefix(p, prefix)
	if suffix == "" {
		return true
	}
	// The suffix may match at any directory depth of the remainder.
	segments := strings.Split(rest, "/")
	for i := range segments {
		tail := strings.Join(segments[i:], "/")
		if ok, _ := path.Match(suffix, tail); ok {
			return true
		}
	}
	return false
}

// ----------------------------------------------------------------------
// JSON

// JSONDriver merges JSON documents structurally: object keys merge
// recursively, and a key changed on only one side wins. Concurrent
// incompatible edits of the same key fail the driver.
type JSONDriver struct{}

func (JSONDriver) Name() string { return "json" }

func (JSONDriver) Merge(base, ours, theirs []byte) ([]byte, error) {
	if !gjson.ValidBytes(ours) || !gjson.ValidBytes(theirs) {
		return nil, fmt.Errorf("side is not valid JSON")
	}
	merged, err := mergeJSONValue(gjson.ParseBytes(base), gjson.ParseBytes(ours), gjson.ParseBytes(theirs), "")
	if err != nil {
		return nil, err
	}
	return []byte(merged), nil
}

// mergeJSONValue returns the merged raw JSON for one position.
func mergeJSONValue(base, ours, theirs gjson.Result, at string) (string, error) {
	switch {
	case ours.Raw == theirs.Raw:
		return ours.Raw, nil
	case ours.Raw == base.Raw:
		return theirs.Raw, nil
	case theirs.Raw == base.Raw:
		return ours.Raw, nil
	}
	if ours.IsObject() && theirs.IsObject() {
		return mergeJSONObjects(base, ours, theirs, at)
	}
	return "", fmt.Errorf("conflicting edits at %q", jsonPos(at))
}

func mergeJSONObjects(base, ours, theirs gjson.Result, at string) (string, error) {
	keys := make(map[string]bool)
	collect := func(r gjson.Result) {
		r.ForEach(func(k, _ gjson.Result) bool {
			keys[k.String()] = true
			return true
		})
	}
	collect(ours)
	collect(theirs)

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	out := "{}"
	for _, k := range sorted {
		b, o, t := base.Get(escapeJSONKey(k)), ours.Get(escapeJSONKey(k)), theirs.Get(escapeJSONKey(k))
		childAt := k
		if at != "" {
			childAt = at + "." + k
		}

		// Deletions: a side that dropped a key the other left alone wins.
		switch {
		case !o.Exists() && !t.Exists():
			continue
		case !o.Exists():
			if t.Raw == b.Raw {
				continue // ours deleted, theirs unchanged
			}
			if !b.Exists() {
				// theirs added
			} else {
				return "", fmt.Errorf("delete/modify clash at %q", jsonPos(childAt))
			}
			var err error
			out, err = sjson.SetRaw(out, escapeJSONKey(k), t.Raw)
			if err != nil {
				return "", err
			}
			continue
		case !t.Exists():
			if o.Raw == b.Raw {
				continue
			}
			if b.Exists() {
				return "", fmt.Errorf("modify/delete clash at %q", jsonPos(childAt))
			}
			var err error
			out, err = sjson.SetRaw(out, escapeJSONKey(k), o.Raw)
			if err != nil {
				return "", err
			}
			continue
		}

		merged, err := mergeJSONValue(b, o, t, childAt)
		if err != nil {
			return "", err
		}
		out, err = sjson.SetRaw(out, escapeJSONKey(k), merged)
		if err != nil {
			return "", err
		}
	}
	return out, nil
}

func escapeJSONKey(k string) string {
	replacer := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return replacer.Replace(k)
}

func jsonPos(at string) string {
	if at == "" {
		return "$"
	}
	return at
}

// ----------------------------------------------------------------------
// package.json

// PackageJSONDriver merges like JSONDriver but takes the union of the
// dependency sections. A version clash where both sides moved off the
// base resolves to the lexicographically greater version.
type PackageJSONDriver struct{}

func (PackageJSONDriver) Name() string { return "package-json" }

var dependencySections = []string{"dependencies", "devDependencies", "peerDependencies", "optionalDependencies"}

func (PackageJSONDriver) Merge(base, ours, theirs []byte) ([]byte, error) {
	if !gjson.ValidBytes(ours) || !gjson.ValidBytes(theirs) {
		return nil, fmt.Errorf("side is not valid JSON")
	}

	// Dependency sections merge by union; strip them before handing the
	// rest to the structural merge.
	stripped := func(doc []byte) (string, error) {
		out := string(doc)
		var err error
		for _, section := range dependencySections {
			out, err = sjson.Delete(out, section)
			if err != nil {
				return "", err
			}
		}
		return out, nil
	}

	baseRest, err := stripped(base)
	if err != nil {
		return nil, err
	}
	oursRest, err := stripped(ours)
	if err != nil {
		return nil, err
	}
	theirsRest, err := stripped(theirs)
	if err != nil {
		return nil, err
	}

	merged, err := mergeJSONValue(gjson.Parse(baseRest), gjson.Parse(oursRest), gjson.Parse(theirsRest), "")
	if err != nil {
		return nil, err
	}

	for _, section := range dependencySections {
		union := unionDependencies(
			gjson.GetBytes(base, section),
			gjson.GetBytes(ours, section),
			gjson.GetBytes(theirs, section),
		)
		if union == "" {
			continue
		}
		merged, err = sjson.SetRaw(merged, section, union)
		if err != nil {
			return nil, err
		}
	}
	return []byte(merged), nil
}

func unionDependencies(base, ours, theirs gjson.Result) string {
	if !ours.Exists() && !theirs.Exists() {
		return ""
	}
	versions := make(map[string]string)
	apply := func(r gjson.Result) {
		r.ForEach(func(k, v gjson.Result) bool {
			name, version := k.String(), v.String()
			prev, seen := versions[name]
			baseVersion := base.Get(escapeJSONKey(name)).String()
			switch {
			case !seen:
				versions[name] = version
			case prev == version:
			case prev == baseVersion:
				versions[name] = version
			case version == baseVersion:
			case version > prev:
				versions[name] = version
			}
			return true
		})
	}
	apply(ours)
	apply(theirs)

	names := make([]string, 0, len(versions))
	for name := range versions {
		names = append(names, name)
	}
	sort.Strings(names)

	out := "{}"
	for _, name := range names {
		out, _ = sjson.Set(out, escapeJSONKey(name), versions[name])
	}
	return out
}

// ----------------------------------------------------------------------
// YAML

// YAMLDriver merges YAML mappings per key, recursively. Scalars changed
// on both sides fail the driver.
type YAMLDriver struct{}

func (YAMLDriver) Name() string { return "yaml" }

func (YAMLDriver) Merge(base, ours, theirs []byte) ([]byte, error) {
	var b, o, t any
	if err := yaml.Unmarshal(base, &b); err != nil {
		return nil, fmt.Errorf("base is not valid YAML: %w", err)
	}
	if err := yaml.Unmarshal(ours, &o); err != nil {
		return nil, fmt.Errorf("side is not valid YAML: %w", err)
	}
	if err := yaml.Unmarshal(theirs, &t); err != nil {
		return nil, fmt.Errorf("side is not valid YAML: %w", err)
	}

	merged, err := mergeYAMLValue(b, o, t, "$")
	if err != nil {
		return nil, err
	}
	out, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal merged YAML: %w", err)
	}
	return out, nil
}

func mergeYAMLValue(base, ours, theirs any, at string) (any, error) {
	if yamlEqual(ours, theirs) {
		return ours, nil
	}
	if yamlEqual(ours, base) {
		return theirs, nil
	}
	if yamlEqual(theirs, base) {
		return ours, nil
	}

	oursMap, okO := ours.(map[string]any)
	theirsMap, okT := theirs.(map[string]any)
	if !okO || !okT {
		return nil, fmt.Errorf("conflicting edits at %s", at)
	}
	baseMap, _ := base.(map[string]any)

	keys := make(map[string]bool)
	for k := range oursMap {
		keys[k] = true
	}
	for k := range theirsMap {
		keys[k] = true
	}

	out := make(map[string]any, len(keys))
	for k := range keys {
		bv, inBase := baseMap[k]
		ov, inOurs := oursMap[k]
		tv, inTheirs := theirsMap[k]
		childAt := at + "." + k

		switch {
		case !inOurs && !inTheirs:
			continue
		case !inOurs:
			if inBase && yamlEqual(tv, bv) {
				continue
			}
			if inBase {
				return nil, fmt.Errorf("delete/modify clash at %s", childAt)
			}
			out[k] = tv
		case !inTheirs:
			if inBase && yamlEqual(ov, bv) {
				continue
			}
			if inBase {
				return nil, fmt.Errorf("modify/delete clash at %s", childAt)
			}
			out[k] = ov
		default:
			merged, err := mergeYAMLValue(bv, ov, tv, childAt)
			if err != nil {
				return nil, err
			}
			out[k] = merged
		}
	}
	return out, nil
}

func yamlEqual(a, b any) bool {
	ab, errA := yaml.Marshal(a)
	bb, errB := yaml.Marshal(b)
	return errA == nil && errB == nil && string(ab) == string(bb)
}

// ----------------------------------------------------------------------
// Markdown

// MarkdownDriver splits documents into heading-delimited sections and
// three-way merges section by section. Sections edited on both sides
// fail the driver.
type MarkdownDriver struct{}

func (MarkdownDriver) Name() string { return "markdown" }

func (MarkdownDriver) Merge(base, ours, theirs []byte) ([]byte, error) {
	baseSections := splitSections(base)
	oursSections := splitSections(ours)
	theirsSections := splitSections(theirs)

	// Section order follows ours, with theirs-only sections appended.
	var order []string
	seen := make(map[string]bool)
	for _, s := range oursSections {
		order = append(order, s.heading)
		seen[s.heading] = true
	}
	for _, s := range theirsSections {
		if !seen[s.heading] {
			order = append(order, s.heading)
			seen[s.heading] = true
		}
	}

	baseBy := sectionsByHeading(baseSections)
	oursBy := sectionsByHeading(oursSections)
	theirsBy := sectionsByHeading(theirsSections)

	var out strings.Builder
	for _, heading := range order {
		b, o, t := baseBy[heading], oursBy[heading], theirsBy[heading]
		switch {
		case o == t:
			out.WriteString(o)
		case o == b:
			out.WriteString(t)
		case t == b:
			out.WriteString(o)
		default:
			return nil, fmt.Errorf("section %q edited on both sides", strings.TrimSpace(heading))
		}
	}
	return []byte(out.String()), nil
}

type mdSection struct {
	heading string
	body    string
}

// splitSections divides a document at ATX headings. The preamble before
// the first heading is a section with an empty heading key.
func splitSections(doc []byte) []mdSection {
	lines := strings.Split(string(doc), "\n")
	var sections []mdSection
	current := mdSection{}
	var body strings.Builder

	flush := func() {
		current.body = body.String()
		if current.heading != "" || current.body != "" {
			sections = append(sections, current)
		}
		body.Reset()
	}

	for i, line := range lines {
		if strings.HasPrefix(line, "#") && strings.Contains(line, " ") {
			flush()
			current = mdSection{heading: line}
		}
		if i == len(lines)-1 && line == "" {
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return sections
}

func sectionsByHeading(sections []mdSection) map[string]string {
	out := make(map[string]string, len(sections))
	for _, s := range sections {
		out[s.heading] = s.body
	}
	return out
}
