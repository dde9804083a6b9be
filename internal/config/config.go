// Package config loads tfgate's process settings: where the pipeline
// definition, work tree, artifacts, ledger and history live, and how runs are
// executed. Settings come from an optional YAML file, then TFGATE_*
// environment variables override them.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is read when no explicit path is given and it exists.
const DefaultFile = "tfgate.yaml"

// Config holds the runtime configuration.
type Config struct {
	// Pipeline is the pipeline definition file; empty selects the built-in one.
	Pipeline    string `yaml:"pipeline"`
	WorkDir     string `yaml:"work_dir"`
	ArtifactDir string `yaml:"artifact_dir"`
	LedgerPath  string `yaml:"ledger"`
	DBPath      string `yaml:"database"`
	KeyDir      string `yaml:"key_dir"`
	LogLevel    string `yaml:"log_level"`
	// AgentURL sends tool execution to a remote agent instead of running
	// tools locally.
	AgentURL    string        `yaml:"agent_url"`
	AgentID     string        `yaml:"agent_id"`
	Port        string        `yaml:"port"`
	StepTimeout time.Duration `yaml:"step_timeout"`
	MaxParallel int           `yaml:"max_parallel"`
	AutoApprove bool          `yaml:"auto_approve"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		WorkDir:     ".",
		ArtifactDir: filepath.Join(".tfgate", "artifacts"),
		LedgerPath:  filepath.Join(".tfgate", "ledger.jsonl"),
		DBPath:      filepath.Join(".tfgate", "history.db"),
		KeyDir:      filepath.Join(".tfgate", "keys"),
		LogLevel:    "info",
		AgentID:     hostname(),
		Port:        "8080",
		StepTimeout: 30 * time.Minute,
	}
}

// Load reads path (or DefaultFile when path is empty and present), applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"TFGATE_PIPELINE":     &c.Pipeline,
		"TFGATE_WORKDIR":      &c.WorkDir,
		"TFGATE_ARTIFACT_DIR": &c.ArtifactDir,
		"TFGATE_LEDGER":       &c.LedgerPath,
		"TFGATE_DB":           &c.DBPath,
		"TFGATE_KEY_DIR":      &c.KeyDir,
		"TFGATE_LOG_LEVEL":    &c.LogLevel,
		"TFGATE_AGENT_URL":    &c.AgentURL,
		"TFGATE_AGENT_ID":     &c.AgentID,
		"PORT":                &c.Port,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("TFGATE_STEP_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: TFGATE_STEP_TIMEOUT: %w", err)
		}
		c.StepTimeout = d
	}
	if v, ok := lookup("TFGATE_MAX_PARALLEL"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: TFGATE_MAX_PARALLEL: %w", err)
		}
		c.MaxParallel = n
	}
	if v, ok := lookup("TFGATE_AUTO_APPROVE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: TFGATE_AUTO_APPROVE: %w", err)
		}
		c.AutoApprove = b
	}
	return nil
}

// Validate rejects settings no run could work with.
func (c Config) Validate() error {
	if c.WorkDir == "" {
		return errors.New("config: work_dir is required")
	}
	if c.ArtifactDir == "" {
		return errors.New("config: artifact_dir is required")
	}
	if c.StepTimeout < 0 {
		return errors.New("config: step_timeout must not be negative")
	}
	if c.MaxParallel < 0 {
		return errors.New("config: max_parallel must not be negative")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// EnsureDirs creates the parent directories of every local path the
// process writes to.
func (c Config) EnsureDirs() error {
	dirs := []string{c.ArtifactDir, c.KeyDir}
	for _, p := range []string{c.LedgerPath, c.DBPath} {
		if p != "" && p != ":memory:" {
			dirs = append(dirs, filepath.Dir(p))
		}
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	return nil
}

// Logger builds the process logger writing text records to w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return level, fmt.Errorf("config: log_level %q: %w", s, err)
	}
	return level, nil
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "local"
	}
	return h
}
