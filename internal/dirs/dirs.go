// Package dirs resolves the toolctl configuration, state and log
// directories following the XDG base directory layout.
package dirs

import (
	"os"
	"path/filepath"
)

const appName = "toolctl"

// ConfigDir returns the configuration directory.
// Resolution order: TOOLCTL_CONFIG_DIR > XDG_CONFIG_HOME/toolctl > ~/.config/toolctl.
func ConfigDir() string {
	if dir := os.Getenv("TOOLCTL_CONFIG_DIR"); dir != "" {
		return dir
	}
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// StateDir returns the state directory.
// Resolution order: TOOLCTL_STATE_DIR > XDG_STATE_HOME/toolctl > ~/.local/state/toolctl.
func StateDir() string {
	if dir := os.Getenv("TOOLCTL_STATE_DIR"); dir != "" {
		return dir
	}
	return xdgDir("XDG_STATE_HOME", filepath.Join(".local", "state"))
}

// LogsDir returns the run log directory (StateDir/logs).
func LogsDir() string {
	return filepath.Join(StateDir(), "logs")
}

// LocalDir returns the per-project directory name looked up in the
// working directory.
func LocalDir() string {
	return "." + appName
}

func xdgDir(env, fallback string) string {
	if xdg := os.Getenv(env); xdg != "" {
		return filepath.Join(xdg, appName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", fallback, appName)
	}
	return filepath.Join(home, fallback, appName)
}
