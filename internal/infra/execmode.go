// Package infra implements infrastructure concerns.
package infra

import (
	"errors"
	"os"
	"os/user"
	"path/filepath"
)

// ExecMode represents who the process runs as.
type ExecMode string

const (
	// ExecModeUser runs in the logged-in user's GUI session (LaunchAgent).
	ExecModeUser ExecMode = "user"
	// ExecModeSystem runs as root. Event taps there see no user input.
	ExecModeSystem ExecMode = "system"
)

// LaunchdLabel is the LaunchAgent label.
const LaunchdLabel = "com.clickguard.agent"

// ErrRootSession is returned when the daemon is started as root.
var ErrRootSession = errors.New("clickguard must run as the logged-in user, not root")

// ExecModeConfig holds paths derived from the execution mode.
type ExecModeConfig struct {
	Mode       ExecMode
	BinaryPath string // the running executable
	PlistDir   string
	PlistPath  string
	IsRoot     bool
}

// DetectExecMode determines the execution mode based on effective UID.
func DetectExecMode() *ExecModeConfig {
	return ExecModeForHome(GetRealUserHome(), os.Geteuid() == 0)
}

// ExecModeForHome builds the layout for a given home directory (for tests).
func ExecModeForHome(home string, isRoot bool) *ExecModeConfig {
	mode := ExecModeUser
	if isRoot {
		mode = ExecModeSystem
	}
	bin, err := os.Executable()
	if err != nil {
		bin = filepath.Join(home, ".local", "bin", "clickguard")
	}
	plistDir := filepath.Join(home, "Library", "LaunchAgents")
	return &ExecModeConfig{
		Mode:       mode,
		BinaryPath: bin,
		PlistDir:   plistDir,
		PlistPath:  filepath.Join(plistDir, LaunchdLabel+".plist"),
		IsRoot:     isRoot,
	}
}

// RequireUserSession fails in system mode.
func (c *ExecModeConfig) RequireUserSession() error {
	if c.IsRoot {
		return ErrRootSession
	}
	return nil
}

// String returns a human-readable description of the mode.
func (m ExecMode) String() string {
	switch m {
	case ExecModeSystem:
		return "system (root)"
	case ExecModeUser:
		return "user (LaunchAgent)"
	default:
		return "unknown"
	}
}

// GetRealUserHome returns the real user's home directory, even when running under sudo.
// Under sudo, os.UserHomeDir() returns /var/root, so we use SUDO_USER to find the real user.
func GetRealUserHome() string {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		if u, err := user.Lookup(sudoUser); err == nil {
			return u.HomeDir
		}
	}
	home, _ := os.UserHomeDir()
	return home
}
