// Package workspace tracks the single indexed workspace root in a
// user-scoped registry file, mirroring the CLI's own notion of "the
// active workspace" so that a freshly started MCP session or watch
// loop can find it without being told explicitly.
package workspace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Metadata is the on-disk shape of the registry file.
type Metadata struct {
	WorkspacePath string `json:"workspace_path"`
	IndexedAt     string `json:"indexed_at"`
}

// registryDir returns ~/.codegraph, or $XDG_CONFIG_HOME/codegraph if set.
func registryDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "codegraph"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".codegraph"), nil
}

// registryPath returns the full path to workspace.json.
func registryPath() (string, error) {
	dir, err := registryDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "workspace.json"), nil
}

// Save records path as the single active workspace, overwriting any
// previously saved one.
func Save(path string) error {
	dir, err := registryDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	meta := Metadata{
		WorkspacePath: abs,
		IndexedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	p, err := registryPath()
	if err != nil {
		return err
	}
	return os.WriteFile(p, append(b, '\n'), 0o600)
}

// Load returns the registered workspace path, or ok=false if none is
// registered or the stored path no longer exists on disk.
func Load() (path string, ok bool) {
	p, err := registryPath()
	if err != nil {
		return "", false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", false
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", false
	}
	if meta.WorkspacePath == "" {
		return "", false
	}
	if _, err := os.Stat(meta.WorkspacePath); err != nil {
		return "", false
	}
	return meta.WorkspacePath, true
}

// Clear removes the registry file, if present.
func Clear() error {
	p, err := registryPath()
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
