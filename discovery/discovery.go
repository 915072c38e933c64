// Package discovery scans a root directory for collector plugins and
// builds immutable descriptors for each one found, per §4.D. It is
// grounded on the directory-scan-plus-manifest pattern the host program
// already uses for its own builtin/external plugin loading, generalized
// to the three-location layout a junctionrelay plugin host supports.
package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/junctionrelay/collector-host/protocol"
)

const (
	scopedPluginPrefix   = "plugin-"
	unscopedPluginPrefix = "junctionrelay-plugin-"
)

// packageJSON is the subset of package.json discovery reads.
type packageJSON struct {
	Name            string                  `json:"name"`
	Version         string                  `json:"version"`
	Main            string                  `json:"main"`
	JunctionRelay   *protocol.PluginManifest `json:"junctionrelay"`
}

// Scan probes root for collector plugins in three locations, in order:
// every immediate subdirectory of root, every subdirectory of
// <root>/node_modules/@junctionrelay/ whose name starts with "plugin-",
// and every subdirectory of <root>/node_modules/ whose name starts with
// "junctionrelay-plugin-". A non-existent or non-directory root yields an
// empty slice, never an error.
func Scan(root string) []protocol.Plugin {
	var found []protocol.Plugin

	found = append(found, scanDir(root)...)
	found = append(found, scanPrefixed(filepath.Join(root, "node_modules", "@junctionrelay"), scopedPluginPrefix)...)
	found = append(found, scanPrefixed(filepath.Join(root, "node_modules"), unscopedPluginPrefix)...)

	return found
}

func scanDir(dir string) []protocol.Plugin {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var plugins []protocol.Plugin
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if p, ok := probe(filepath.Join(dir, entry.Name())); ok {
			plugins = append(plugins, p)
		}
	}
	return plugins
}

func scanPrefixed(dir, prefix string) []protocol.Plugin {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var plugins []protocol.Plugin
	for _, entry := range entries {
		if !entry.IsDir() || len(entry.Name()) < len(prefix) || entry.Name()[:len(prefix)] != prefix {
			continue
		}
		if p, ok := probe(filepath.Join(dir, entry.Name())); ok {
			plugins = append(plugins, p)
		}
	}
	return plugins
}

// probe reads <candidate>/package.json and builds a descriptor if it
// carries a junctionrelay collector block. Any filesystem or parse error
// is a silent skip.
func probe(candidate string) (protocol.Plugin, bool) {
	data, err := os.ReadFile(filepath.Join(candidate, "package.json"))
	if err != nil {
		return protocol.Plugin{}, false
	}

	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return protocol.Plugin{}, false
	}

	if pkg.JunctionRelay == nil || pkg.JunctionRelay.Type != "collector" {
		return protocol.Plugin{}, false
	}

	name := pkg.Name
	if name == "" {
		name = filepath.Base(candidate)
	}
	version := pkg.Version
	if version == "" {
		version = "0.0.0"
	}
	entry := pkg.JunctionRelay.Entry
	if entry == "" {
		entry = pkg.Main
	}
	if entry == "" {
		entry = "index.ts"
	}

	return protocol.Plugin{
		Name:     name,
		Version:  version,
		Path:     candidate,
		Entry:    entry,
		Manifest: *pkg.JunctionRelay,
	}, true
}
