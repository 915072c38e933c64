package protocol

import (
	"regexp"
	"strings"
)

// pluginIdentifierPattern matches a plugin-provided collectorName: two
// lowercase-kebab-case segments joined by a single "." (§3).
var pluginIdentifierPattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*\.[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// IsPluginCollector reports whether name denotes a plugin-supplied
// collector (contains a ".") as opposed to a native built-in.
func IsPluginCollector(name string) bool {
	return strings.Contains(name, ".")
}

// ValidatePluginIdentifier checks the naming rule for a plugin-provided
// collectorName. Identifiers with no "." are native built-ins and are not
// subject to this rule, so they always pass.
func ValidatePluginIdentifier(name string) bool {
	if !IsPluginCollector(name) {
		return true
	}
	return pluginIdentifierPattern.MatchString(name)
}
