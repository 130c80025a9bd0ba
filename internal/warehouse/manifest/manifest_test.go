package manifest_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/reboot-codes/cloverhub/internal/warehouse/manifest"
)

// writeTree lays a fixture repo out under a temp dir and returns the path
// of the root manifest.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return filepath.Join(root, manifest.ManifestFileName)
}

func compileFile(t *testing.T, path string) (manifest.Manifest, *manifest.Report) {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var spec manifest.Spec
	if err := manifest.ParseJSONC(content, &spec); err != nil {
		t.Fatalf("parse: %v", err)
	}
	return manifest.Compile(spec, path)
}

func TestCompileInlineRoundTrip(t *testing.T) {
	path := writeTree(t, map[string]string{
		manifest.ManifestFileName: `{
			// A plain manifest with no imports and no directives.
			"name": "Example",
			"version": "1.2.3",
			"base": "com.example",
			"modules": {
				"com.example.mod": { "name": "A module" }
			},
			"applications": {
				"com.example.app": {
					"name": "App",
					"version": "0.1.0",
					"intents": { "open": "clover://com.example.app/open" }
				}
			}
		}`,
	})

	m, report := compileFile(t, path)
	if err := report.Err(); err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}

	if m.Name == nil || *m.Name != "Example" {
		t.Errorf("Name = %v, want Example", m.Name)
	}
	if m.Version != "1.2.3" {
		t.Errorf("Version = %q", m.Version)
	}
	if m.Base == nil || *m.Base != "com.example" {
		t.Errorf("Base = %v", m.Base)
	}
	mod, ok := m.Modules["com.example.mod"]
	if !ok || mod.Name == nil || *mod.Name != "A module" {
		t.Errorf("Modules = %+v", m.Modules)
	}
	app, ok := m.Applications["com.example.app"]
	if !ok || app.Name != "App" || app.Version != "0.1.0" {
		t.Errorf("Applications = %+v", m.Applications)
	}
	if app.Intents["open"] != "clover://com.example.app/open" {
		t.Errorf("Intents = %v", app.Intents)
	}
}

func TestBaseAndHereDirectives(t *testing.T) {
	path := writeTree(t, map[string]string{
		manifest.ManifestFileName: `{
			"version": "1.0.0",
			"base": "com.example",
			"modules": {
				"mod": {
					"name": "@base.panel",
					"components": { "@base.panel.servo": "movement" }
				}
			},
			"applications": {
				"app": {
					"name": "App",
					"version": "1.0.0",
					"intents": { "@base.open": "@here" }
				}
			}
		}`,
	})

	m, report := compileFile(t, path)
	if err := report.Err(); err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}

	if got := *m.Modules["mod"].Name; got != "com.example.panel" {
		t.Errorf("@base expansion = %q, want com.example.panel", got)
	}
	if got := m.Modules["mod"].Components["com.example.panel.servo"]; got != "movement" {
		t.Errorf("component class = %q, want movement", got)
	}

	intents := m.Applications["app"].Intents
	val, ok := intents["com.example.open"]
	if !ok {
		t.Fatalf("@base in intent key not expanded: %v", intents)
	}
	if val != path {
		t.Errorf("@here = %q, want %q", val, path)
	}
}

// TestGlobImport is the apps/* scenario: every app directory under apps/
// becomes one applications entry keyed by directory name, fully resolved.
func TestGlobImport(t *testing.T) {
	path := writeTree(t, map[string]string{
		manifest.ManifestFileName: `{
			"version": "1.0.0",
			"base": "com.example",
			"applications": "@import(\"apps/*\")"
		}`,
		"apps/home/manifest.clover.jsonc": `{
			"name": "@base home",
			"version": "1.0.0"
		}`,
		"apps/clock/manifest.clover.jsonc": `{
			"name": "Clock",
			"version": "2.0.0"
		}`,
	})

	m, report := compileFile(t, path)
	if err := report.Err(); err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}

	if len(m.Applications) != 2 {
		t.Fatalf("Applications keys = %v, want home and clock", keys(m.Applications))
	}
	home, ok := m.Applications["home"]
	if !ok {
		t.Fatalf("no home entry: %v", keys(m.Applications))
	}
	if home.Name != "com.example home" {
		t.Errorf("@base in imported sub-field = %q", home.Name)
	}
	clock, ok := m.Applications["clock"]
	if !ok || clock.Version != "2.0.0" {
		t.Errorf("clock = %+v", clock)
	}
}

// TestGlobKeyMerge checks the trailing-* list key: captures append to the
// key prefix.
func TestGlobKeyMerge(t *testing.T) {
	path := writeTree(t, map[string]string{
		manifest.ManifestFileName: `{
			"version": "1.0.0",
			"modules": {
				"com.example.mods.*": "@import(\"mods/*\")"
			}
		}`,
		"mods/ears/manifest.clover.jsonc": `{ "name": "Ears" }`,
		"mods/tail/manifest.clover.jsonc": `{ "name": "Tail" }`,
	})

	m, report := compileFile(t, path)
	if err := report.Err(); err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}

	if _, ok := m.Modules["com.example.mods.ears"]; !ok {
		t.Errorf("merged keys = %v, want com.example.mods.ears", keys(m.Modules))
	}
	if _, ok := m.Modules["com.example.mods.tail"]; !ok {
		t.Errorf("merged keys = %v, want com.example.mods.tail", keys(m.Modules))
	}
}

// TestGlobAtSingleField: a glob import in a single-valued field is a
// resolution error, and the surrounding record still builds with the
// field's default.
func TestGlobAtSingleField(t *testing.T) {
	path := writeTree(t, map[string]string{
		manifest.ManifestFileName: `{
			"name": "Survivor",
			"version": "@import(\"v/*\")",
			"base": "com.example"
		}`,
		"v/one.jsonc": `"1.0.0"`,
		"v/two.jsonc": `"2.0.0"`,
	})

	m, report := compileFile(t, path)
	if report.Err() == nil {
		t.Fatal("expected a compile error for glob at single field")
	}
	found := false
	for _, fieldErr := range report.Errors {
		if fieldErr.Field == "manifest.version" && strings.Contains(fieldErr.Err.Error(), "glob") {
			found = true
		}
	}
	if !found {
		t.Errorf("no glob error recorded for manifest.version: %v", report.Errors)
	}

	// Sibling fields compiled anyway.
	if m.Name == nil || *m.Name != "Survivor" {
		t.Errorf("sibling field lost: Name = %v", m.Name)
	}
	if m.Version != "" {
		t.Errorf("failed field not defaulted: Version = %q", m.Version)
	}
}

// TestImportLocality: an @import of a file holding exactly the inline
// value compiles to the same output as the inline value.
func TestImportLocality(t *testing.T) {
	inlinePath := writeTree(t, map[string]string{
		manifest.ManifestFileName: `{
			"version": "1.0.0",
			"modules": { "m": { "name": "Same" } }
		}`,
	})
	importPath := writeTree(t, map[string]string{
		manifest.ManifestFileName: `{
			"version": "1.0.0",
			"modules": { "m": "@import(\"mod.jsonc\")" }
		}`,
		"mod.jsonc": `{ "name": "Same" }`,
	})

	inline, report := compileFile(t, inlinePath)
	if err := report.Err(); err != nil {
		t.Fatalf("inline: %v", err)
	}
	imported, report := compileFile(t, importPath)
	if err := report.Err(); err != nil {
		t.Fatalf("imported: %v", err)
	}

	if *inline.Modules["m"].Name != *imported.Modules["m"].Name {
		t.Errorf("inline %q != imported %q",
			*inline.Modules["m"].Name, *imported.Modules["m"].Name)
	}
}

func TestImportCycleDetected(t *testing.T) {
	path := writeTree(t, map[string]string{
		manifest.ManifestFileName: `{
			"version": "1.0.0",
			"modules": "@import(\"mods.jsonc\")"
		}`,
		"mods.jsonc": `{ "m": "@import(\"mods.jsonc\")" }`,
	})

	_, report := compileFile(t, path)
	if report.Err() == nil {
		t.Fatal("expected a cycle error")
	}
	found := false
	for _, fieldErr := range report.Errors {
		if strings.Contains(fieldErr.Err.Error(), "cycle") {
			found = true
		}
	}
	if !found {
		t.Errorf("no cycle error recorded: %v", report.Errors)
	}
}

// TestSharedImportIsNotACycle: two fields importing the same file is legal.
func TestSharedImportIsNotACycle(t *testing.T) {
	path := writeTree(t, map[string]string{
		manifest.ManifestFileName: `{
			"version": "1.0.0",
			"modules": {
				"a": "@import(\"common.jsonc\")",
				"b": "@import(\"common.jsonc\")"
			}
		}`,
		"common.jsonc": `{ "name": "Shared" }`,
	})

	m, report := compileFile(t, path)
	if err := report.Err(); err != nil {
		t.Fatalf("shared import flagged as cycle: %v", err)
	}
	if len(m.Modules) != 2 {
		t.Errorf("Modules = %v", keys(m.Modules))
	}
}

func TestExpressionPacksUseCoreBuiltin(t *testing.T) {
	path := writeTree(t, map[string]string{
		manifest.ManifestFileName: `{
			"version": "1.0.0",
			"expression-packs": {
				"pack": {
					"name": "@base pack",
					"expressions": {
						"smile": { "static": { "static_url": "file:///smile.png" } }
					}
				}
			}
		}`,
	})

	m, report := compileFile(t, path)
	if err := report.Err(); err != nil {
		t.Fatalf("unexpected compile error: %v", err)
	}

	pack, ok := m.ExpressionPacks["pack"]
	if !ok {
		t.Fatal("pack missing")
	}
	// No declared base, so @base renders the CORE builtin prefix.
	if *pack.Name != "com.reboot-codes.clover.CORE pack" {
		t.Errorf("pack name = %q", *pack.Name)
	}
	expr, ok := pack.Expressions["smile"]
	if !ok || expr.Static == nil || expr.Static.StaticURL != "file:///smile.png" {
		t.Errorf("expressions = %+v", pack.Expressions)
	}
}

func TestMissingRequiredListField(t *testing.T) {
	path := writeTree(t, map[string]string{
		manifest.ManifestFileName: `{
			"version": "1.0.0",
			"expression-packs": {
				"pack": { "name": "No expressions" }
			}
		}`,
	})

	_, report := compileFile(t, path)
	if report.Err() == nil {
		t.Fatal("expected an error for the missing required expressions field")
	}
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
