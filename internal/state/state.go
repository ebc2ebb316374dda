// Package state persists the project snapshot as project-state.yaml in the
// workspace. The snapshot is the lossy view produced by project.Serialize;
// the SQLite repo remains the source of truth for task detail.
package state

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"gateline/internal/project"
)

// ProjectStateFile is the fixed snapshot file name.
const ProjectStateFile = "project-state.yaml"

// Path returns the snapshot path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ProjectStateFile)
}

// Write marshals the snapshot and writes it atomically-enough for a
// single-writer workspace (write then rename).
func Write(workspace string, snap project.Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	path := Path(workspace)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}

// Read loads a previously written snapshot.
func Read(workspace string) (project.Snapshot, error) {
	var snap project.Snapshot
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		return snap, err
	}
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("invalid snapshot yaml: %w", err)
	}
	return snap, nil
}
