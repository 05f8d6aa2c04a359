package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mrz1836/formic/internal/constants"
	"github.com/mrz1836/formic/internal/errors"
)

// ConfigFileName is the name of both the global and the project config file.
const ConfigFileName = "config.yaml"

// GlobalConfigDir returns the path to the global formic directory.
// This is typically ~/.formic on Unix systems.
//
// Returns an error if the home directory cannot be determined.
func GlobalConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(home, constants.FormicHome), nil
}

// GlobalConfigPath returns the full path to the global configuration file.
func GlobalConfigPath() (string, error) {
	dir, err := GlobalConfigDir()
	if err != nil {
		return "", fmt.Errorf("get global config path: %w", err)
	}
	return filepath.Join(dir, ConfigFileName), nil
}

// ProjectConfigPath returns the project configuration file inside workspace.
// An empty workspace yields the path relative to the current directory.
func ProjectConfigPath(workspace string) string {
	return filepath.Join(workspace, constants.WorkspaceDir, ConfigFileName)
}

// ResolvePath joins a workspace-relative path onto the workspace root.
// Absolute paths and an empty workspace return p unchanged.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Workspace.Path == "" {
		return p
	}
	return filepath.Join(c.Workspace.Path, p)
}
