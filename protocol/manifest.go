package protocol

// PluginManifest is the raw "junctionrelay" manifest block required at a
// plugin's root (§6). package.json also carries name/version/main, which
// discovery folds into a Plugin descriptor alongside this block.
type PluginManifest struct {
	Type  string `json:"type"`
	Entry string `json:"entry,omitempty"`
}

// Plugin is a discovered-plugin descriptor (§3): immutable, produced by a
// one-shot directory scan.
type Plugin struct {
	Name     string         `json:"name"`
	Version  string         `json:"version"`
	Path     string         `json:"path"`
	Entry    string         `json:"entry"`
	Manifest PluginManifest `json:"manifest"`
}
