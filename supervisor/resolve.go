package supervisor

import (
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/junctionrelay/collector-host/protocol"
)

// LaunchResolver turns a discovered plugin descriptor into a runnable
// command line. The supervisor only needs the final command and argument
// list; resolving development-mode transpiling launchers is a host-layer
// concern (§4.C step 2).
type LaunchResolver func(plugin protocol.Plugin) (command string, args []string, err error)

// DefaultLaunchResolver picks a launch command from the entry artifact's
// extension. A pre-built artifact (a platform binary, or a bundled .js
// file) is executed directly by its runtime. A source-form ".ts" entry is
// executed through a development-mode transpiling launcher, if one can be
// found on PATH.
func DefaultLaunchResolver(plugin protocol.Plugin) (string, []string, error) {
	entryPath := filepath.Join(plugin.Path, plugin.Entry)

	switch filepath.Ext(plugin.Entry) {
	case ".js", ".mjs", ".cjs":
		return "node", []string{entryPath}, nil
	case ".ts":
		if _, err := exec.LookPath("tsx"); err == nil {
			return "tsx", []string{entryPath}, nil
		}
		if _, err := exec.LookPath("ts-node"); err == nil {
			return "ts-node", []string{entryPath}, nil
		}
		return "", nil, fmt.Errorf("no transpiling launcher (tsx or ts-node) found on PATH for source entry %s", plugin.Entry)
	case ".py":
		return "python3", []string{entryPath}, nil
	default:
		return entryPath, nil, nil
	}
}
