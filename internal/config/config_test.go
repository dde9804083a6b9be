package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envMap(map[string]string{
		"TFGATE_WORKDIR":      "/srv/infra",
		"TFGATE_AGENT_URL":    "http://agent:9090",
		"TFGATE_STEP_TIMEOUT": "45m",
		"TFGATE_MAX_PARALLEL": "3",
		"TFGATE_AUTO_APPROVE": "true",
		"PORT":                "9999",
		"TFGATE_LEDGER":       "",
	}))
	if err != nil {
		t.Fatalf("applyEnv: %v", err)
	}
	if cfg.WorkDir != "/srv/infra" || cfg.AgentURL != "http://agent:9090" || cfg.Port != "9999" {
		t.Fatalf("string overrides not applied: %+v", cfg)
	}
	if cfg.StepTimeout != 45*time.Minute || cfg.MaxParallel != 3 || !cfg.AutoApprove {
		t.Fatalf("typed overrides not applied: %+v", cfg)
	}
	if cfg.LedgerPath != Default().LedgerPath {
		t.Fatalf("empty variable overrode ledger path: %s", cfg.LedgerPath)
	}
}

func TestApplyEnvRejectsBadValues(t *testing.T) {
	for _, key := range []string{"TFGATE_STEP_TIMEOUT", "TFGATE_MAX_PARALLEL", "TFGATE_AUTO_APPROVE"} {
		cfg := Default()
		if err := cfg.applyEnv(envMap(map[string]string{key: "not-a-value"})); err == nil || !strings.Contains(err.Error(), key) {
			t.Fatalf("%s: expected error naming the variable, got %v", key, err)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tfgate.yaml")
	data := "work_dir: /repo\nmax_parallel: 2\nstep_timeout: 10m\nlog_level: debug\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WorkDir != "/repo" || cfg.MaxParallel != 2 || cfg.StepTimeout != 10*time.Minute {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ArtifactDir != Default().ArtifactDir {
		t.Fatalf("unset field lost its default: %s", cfg.ArtifactDir)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("explicit missing file should be an error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no work dir", func(c *Config) { c.WorkDir = "" }},
		{"no artifact dir", func(c *Config) { c.ArtifactDir = "" }},
		{"negative timeout", func(c *Config) { c.StepTimeout = -time.Second }},
		{"negative parallelism", func(c *Config) { c.MaxParallel = -1 }},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestEnsureDirsAndLogger(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.ArtifactDir = filepath.Join(root, "a", "artifacts")
	cfg.KeyDir = filepath.Join(root, "keys")
	cfg.LedgerPath = filepath.Join(root, "l", "ledger.jsonl")
	cfg.DBPath = ":memory:"
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	for _, dir := range []string{cfg.ArtifactDir, cfg.KeyDir, filepath.Dir(cfg.LedgerPath)} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("%s not created: %v", dir, err)
		}
	}

	var buf bytes.Buffer
	cfg.LogLevel = "warn"
	logger := cfg.Logger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "run", "r1")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "run=r1") {
		t.Fatalf("log output:\n%s", buf.String())
	}
}
