package discovery

import (
	"os"
	"path/filepath"
	"testing"
)

func writeManifest(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(body), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
}

func TestScanFourCandidatesTwoValid(t *testing.T) {
	root := t.TempDir()

	writeManifest(t, filepath.Join(root, "valid-plugin"),
		`{"name":"acme.weather","version":"1.2.0","junctionrelay":{"type":"collector","entry":"dist/index.js"}}`)
	writeManifest(t, filepath.Join(root, "no-block"),
		`{"name":"just-a-package","version":"1.0.0"}`)
	writeManifest(t, filepath.Join(root, "wrong-type"),
		`{"name":"acme.other","junctionrelay":{"type":"other"}}`)
	writeManifest(t, filepath.Join(root, "node_modules", "junctionrelay-plugin-x"),
		`{"name":"junctionrelay-plugin-x","junctionrelay":{"type":"collector"}}`)

	plugins := Scan(root)
	if len(plugins) != 2 {
		t.Fatalf("Scan() returned %d plugins, want 2: %+v", len(plugins), plugins)
	}

	byName := make(map[string]bool)
	for _, p := range plugins {
		byName[p.Name] = true
	}
	if !byName["acme.weather"] {
		t.Errorf("expected acme.weather in results: %+v", plugins)
	}
	if !byName["junctionrelay-plugin-x"] {
		t.Errorf("expected junctionrelay-plugin-x in results: %+v", plugins)
	}
}

func TestScanFallbacksAndDefaults(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "minimal"), `{"junctionrelay":{"type":"collector"}}`)

	plugins := Scan(root)
	if len(plugins) != 1 {
		t.Fatalf("Scan() returned %d plugins, want 1", len(plugins))
	}
	p := plugins[0]
	if p.Name != "minimal" {
		t.Errorf("Name = %q, want basename fallback %q", p.Name, "minimal")
	}
	if p.Version != "0.0.0" {
		t.Errorf("Version = %q, want default 0.0.0", p.Version)
	}
	if p.Entry != "index.ts" {
		t.Errorf("Entry = %q, want default index.ts", p.Entry)
	}
}

func TestScopedNodeModulesPrefix(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, filepath.Join(root, "node_modules", "@junctionrelay", "plugin-weather"),
		`{"name":"acme.weather-scoped","junctionrelay":{"type":"collector"}}`)
	writeManifest(t, filepath.Join(root, "node_modules", "@junctionrelay", "not-a-plugin"),
		`{"name":"ignored","junctionrelay":{"type":"collector"}}`)

	plugins := Scan(root)
	if len(plugins) != 1 {
		t.Fatalf("Scan() returned %d plugins, want 1: %+v", len(plugins), plugins)
	}
	if plugins[0].Name != "acme.weather-scoped" {
		t.Errorf("Name = %q, want acme.weather-scoped", plugins[0].Name)
	}
}

func TestScanNonExistentRootReturnsEmpty(t *testing.T) {
	plugins := Scan(filepath.Join(t.TempDir(), "does-not-exist"))
	if len(plugins) != 0 {
		t.Errorf("Scan() = %+v, want empty", plugins)
	}
}
