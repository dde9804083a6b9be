package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const (
	logFileName  = "output.log"
	metaFileName = "artifact.json"
)

// ArtifactStore keeps per-task artifacts under
// <BaseDir>/<run>/<stage>/<environment>/ together with a small metadata
// file recording when the directory may be pruned.
type ArtifactStore struct {
	BaseDir string

	now func() time.Time
}

// Meta describes one task's artifact directory.
type Meta struct {
	RunID       string    `json:"runId"`
	Stage       string    `json:"stage"`
	Environment string    `json:"environment"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// NewArtifactStore creates a store rooted at baseDir.
func NewArtifactStore(baseDir string) *ArtifactStore {
	return &ArtifactStore{BaseDir: baseDir, now: time.Now}
}

// Dir returns the artifact directory of a task without creating it.
func (s *ArtifactStore) Dir(runID, stage, env string) string {
	return filepath.Join(s.BaseDir, sanitize(runID), sanitize(stage), sanitize(env))
}

// Ensure creates the task directory and stamps its retention window.
func (s *ArtifactStore) Ensure(runID, stage, env string, retention time.Duration) (string, error) {
	dir := s.Dir(runID, stage, env)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("storage: create %s: %w", dir, err)
	}
	now := s.now().UTC()
	meta := Meta{
		RunID:       runID,
		Stage:       stage,
		Environment: env,
		CreatedAt:   now,
		ExpiresAt:   now.Add(retention),
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, metaFileName), data, 0o644); err != nil {
		return "", fmt.Errorf("storage: write metadata: %w", err)
	}
	return dir, nil
}

// SaveLog writes a task's combined tool output and returns its path.
func (s *ArtifactStore) SaveLog(runID, stage, env, output string, retention time.Duration) (string, error) {
	dir, err := s.Ensure(runID, stage, env, retention)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, logFileName)
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		return "", fmt.Errorf("storage: write log: %w", err)
	}
	return path, nil
}

// Prune removes every task directory whose retention window has passed and
// returns the removed paths. Run directories left empty are removed too.
func (s *ArtifactStore) Prune() ([]string, error) {
	now := s.now()
	var removed []string

	err := filepath.WalkDir(s.BaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || d.Name() != metaFileName {
			return nil
		}
		meta, err := readMeta(path)
		if err != nil {
			return err
		}
		if meta.ExpiresAt.After(now) {
			return nil
		}
		dir := filepath.Dir(path)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("storage: prune %s: %w", dir, err)
		}
		removed = append(removed, dir)
		return fs.SkipDir
	})
	if err != nil {
		return removed, err
	}

	for _, dir := range removed {
		removeEmptyParents(filepath.Dir(dir), s.BaseDir)
	}
	return removed, nil
}

func readMeta(path string) (Meta, error) {
	var meta Meta
	data, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("storage: decode %s: %w", path, err)
	}
	return meta, nil
}

// removeEmptyParents walks up from dir to (but not including) root,
// removing directories that became empty.
func removeEmptyParents(dir, root string) {
	root = filepath.Clean(root)
	for dir = filepath.Clean(dir); dir != root && len(dir) > len(root); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}

// sanitize removes special characters from path components
func sanitize(name string) string {
	clean := make([]rune, 0, len(name))
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			clean = append(clean, r)
		}
	}
	if len(clean) == 0 || string(clean) == "." || string(clean) == ".." {
		return "unnamed"
	}
	return string(clean)
}
