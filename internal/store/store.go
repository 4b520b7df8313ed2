// Package store persists the last-applied project specification for each
// project. The record is what the reconciler compares against the desired
// set to detect drift and to decide whether an existing checkout can be
// reused.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/schaermu/groksyncd/internal/config"
	"github.com/schaermu/groksyncd/internal/spec"
)

// Store reads and writes per-project records under
// data_dir/<name>/project.json.
type Store struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates a record store
func New(cfg *config.Config, logger *slog.Logger) *Store {
	return &Store{cfg: cfg, logger: logger}
}

// migrate moves a record from any legacy location to the canonical path.
// If the canonical record already exists, the legacy file is removed instead.
func (s *Store) migrate(name string) error {
	canonical := s.cfg.RecordPath(name)

	for _, legacy := range s.cfg.LegacyRecordPaths(name) {
		if _, err := os.Stat(legacy); err != nil {
			continue
		}

		if _, err := os.Stat(canonical); os.IsNotExist(err) {
			if err := os.MkdirAll(filepath.Dir(canonical), 0755); err != nil {
				return fmt.Errorf("failed to migrate record from %s to %s: %w", legacy, canonical, err)
			}
			if err := os.Rename(legacy, canonical); err != nil {
				return fmt.Errorf("failed to migrate record from %s to %s: %w", legacy, canonical, err)
			}
			s.logger.Info("migrated project record", "name", name, "from", legacy, "to", canonical)
		} else {
			if err := os.Remove(legacy); err != nil {
				return fmt.Errorf("failed to remove legacy record %s: %w", legacy, err)
			}
			s.logger.Info("removed legacy project record", "name", name, "path", legacy)
		}
	}

	return nil
}

// Load returns the persisted record for name, or nil if none exists. A
// record that is unreadable, malformed, or whose embedded name does not
// match is treated as absent so that the reconciler can recreate the
// project instead of failing the run.
func (s *Store) Load(name string) (*spec.Project, error) {
	if err := s.migrate(name); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.cfg.RecordPath(name))
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("unreadable project record, treating as absent", "name", name, "error", err)
		}
		return nil, nil
	}

	var project spec.Project
	if err := json.Unmarshal(data, &project); err != nil {
		s.logger.Warn("malformed project record, treating as absent", "name", name, "error", err)
		return nil, nil
	}
	if project.Name != name {
		s.logger.Warn("project record name mismatch, treating as absent",
			"name", name, "record_name", project.Name)
		return nil, nil
	}

	return &project, nil
}

// Save writes the record for project, overwriting any previous content.
// The write goes through a temporary file and a rename so a crash cannot
// leave a truncated record behind.
func (s *Store) Save(project spec.Project) error {
	if err := s.migrate(project.Name); err != nil {
		return err
	}

	path := s.cfg.RecordPath(project.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	data, err := json.MarshalIndent(project, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(path), ".groksyncd-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp record: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	return nil
}

// Delete removes the record for name. Deleting an absent record is not an
// error.
func (s *Store) Delete(name string) error {
	if err := s.migrate(name); err != nil {
		return err
	}

	if err := os.Remove(s.cfg.RecordPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete record for %s: %w", name, err)
	}
	return nil
}
