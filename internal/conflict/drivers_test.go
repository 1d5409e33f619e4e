package conflict

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestJSONDriverDisjointEdits(t *testing.T) {
	base := []byte(`{"name":"app","version":"1.0.0"}`)
	ours := []byte(`{"name":"app","version":"1.1.0"}`)
	theirs := []byte(`{"name":"renamed","version":"1.0.0"}`)

	out, err := (JSONDriver{}).Merge(base, ours, theirs)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if gjson.GetBytes(out, "version").String() != "1.1.0" {
		t.Errorf("ours edit lost: %s", out)
	}
	if gjson.GetBytes(out, "name").String() != "renamed" {
		t.Errorf("theirs edit lost: %s", out)
	}
}

func TestJSONDriverNestedMerge(t *testing.T) {
	base := []byte(`{"config":{"a":1,"b":2}}`)
	ours := []byte(`{"config":{"a":10,"b":2}}`)
	theirs := []byte(`{"config":{"a":1,"b":20}}`)

	out, err := (JSONDriver{}).Merge(base, ours, theirs)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if gjson.GetBytes(out, "config.a").Int() != 10 || gjson.GetBytes(out, "config.b").Int() != 20 {
		t.Errorf("nested merge wrong: %s", out)
	}
}

func TestJSONDriverConflictingKey(t *testing.T) {
	base := []byte(`{"v":1}`)
	ours := []byte(`{"v":2}`)
	theirs := []byte(`{"v":3}`)

	if _, err := (JSONDriver{}).Merge(base, ours, theirs); err == nil {
		t.Error("expected driver failure on conflicting scalar edits")
	}
}

func TestJSONDriverDeletion(t *testing.T) {
	base := []byte(`{"keep":1,"drop":2}`)
	ours := []byte(`{"keep":1}`)
	theirs := []byte(`{"keep":1,"drop":2}`)

	out, err := (JSONDriver{}).Merge(base, ours, theirs)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if gjson.GetBytes(out, "drop").Exists() {
		t.Errorf("deleted key resurrected: %s", out)
	}
}

func TestPackageJSONDependencyUnion(t *testing.T) {
	base := []byte(`{"name":"app","dependencies":{"left":"1.0.0"}}`)
	ours := []byte(`{"name":"app","dependencies":{"left":"1.0.0","alpha":"2.0.0"}}`)
	theirs := []byte(`{"name":"app","dependencies":{"left":"1.0.0","beta":"3.0.0"}}`)

	out, err := (PackageJSONDriver{}).Merge(base, ours, theirs)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	deps := gjson.GetBytes(out, "dependencies")
	for _, name := range []string{"left", "alpha", "beta"} {
		if !deps.Get(name).Exists() {
			t.Errorf("dependency %s missing from union: %s", name, out)
		}
	}
}

func TestPackageJSONVersionClash(t *testing.T) {
	base := []byte(`{"dependencies":{"lib":"1.0.0"}}`)
	ours := []byte(`{"dependencies":{"lib":"1.2.0"}}`)
	theirs := []byte(`{"dependencies":{"lib":"1.5.0"}}`)

	out, err := (PackageJSONDriver{}).Merge(base, ours, theirs)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if got := gjson.GetBytes(out, "dependencies.lib").String(); got != "1.5.0" {
		t.Errorf("expected greater version to win, got %s", got)
	}
}

func TestYAMLDriverMerge(t *testing.T) {
	base := []byte("name: app\nreplicas: 1\n")
	ours := []byte("name: app\nreplicas: 3\n")
	theirs := []byte("name: renamed\nreplicas: 1\n")

	out, err := (YAMLDriver{}).Merge(base, ours, theirs)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	text := string(out)
	if !strings.Contains(text, "replicas: 3") || !strings.Contains(text, "name: renamed") {
		t.Errorf("yaml merge wrong:\n%s", text)
	}
}

func TestYAMLDriverConflict(t *testing.T) {
	base := []byte("v: 1\n")
	ours := []byte("v: 2\n")
	theirs := []byte("v: 3\n")

	if _, err := (YAMLDriver{}).Merge(base, ours, theirs); err == nil {
		t.Error("expected driver failure on conflicting scalar")
	}
}

func TestMarkdownDriverPerSection(t *testing.T) {
	base := []byte("# Title\nintro\n\n## Usage\nold usage\n\n## License\nMIT\n")
	ours := []byte("# Title\nintro\n\n## Usage\nnew usage\n\n## License\nMIT\n")
	theirs := []byte("# Title\nintro\n\n## Usage\nold usage\n\n## License\nApache\n")

	out, err := (MarkdownDriver{}).Merge(base, ours, theirs)
	if err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	text := string(out)
	if !strings.Contains(text, "new usage") {
		t.Errorf("ours section edit lost:\n%s", text)
	}
	if !strings.Contains(text, "Apache") {
		t.Errorf("theirs section edit lost:\n%s", text)
	}
}

func TestMarkdownDriverSectionConflict(t *testing.T) {
	base := []byte("## Usage\nold\n")
	ours := []byte("## Usage\nmine\n")
	theirs := []byte("## Usage\nyours\n")

	if _, err := (MarkdownDriver{}).Merge(base, ours, theirs); err == nil {
		t.Error("expected driver failure for section edited on both sides")
	}
}

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry(false)
	r.RegisterBuiltins()

	cases := []struct {
		path   string
		driver string
	}{
		{"config.json", "json"},
		{"deep/nested/config.json", "json"},
		{"package.json", "package-json"},
		{"app/package.json", "package-json"},
		{"deploy.yaml", "yaml"},
		{"ci/deploy.yml", "yaml"},
		{"README.md", "markdown"},
		{"main.go", ""},
	}
	for _, tc := range cases {
		d := r.Lookup(tc.path)
		name := ""
		if d != nil {
			name = d.Name()
		}
		if name != tc.driver {
			t.Errorf("Lookup(%s) = %q, want %q", tc.path, name, tc.driver)
		}
	}
}

func TestRegistryLaterRegistrationWins(t *testing.T) {
	r := NewRegistry(false)
	r.Register("*.json", JSONDriver{})
	r.Register("*.json", PackageJSONDriver{})

	if got := r.Lookup("x.json").Name(); got != "package-json" {
		t.Errorf("expected later registration to win, got %s", got)
	}
}
