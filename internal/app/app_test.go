package app

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"tfgate/internal/config"
	"tfgate/internal/core"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.WorkDir = root
	cfg.ArtifactDir = filepath.Join(root, ".tfgate", "artifacts")
	cfg.LedgerPath = filepath.Join(root, ".tfgate", "ledger.jsonl")
	cfg.DBPath = filepath.Join(root, ".tfgate", "history.db")
	cfg.KeyDir = filepath.Join(root, ".tfgate", "keys")
	return cfg
}

func TestBuildWiresRunner(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxParallel = 2
	a, err := Build(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()

	if len(a.Pipeline.Environments) != 5 {
		t.Fatalf("pipeline has %d environments", len(a.Pipeline.Environments))
	}
	if a.Runner.Ledger != a.Ledger || a.Runner.Runs == nil || a.Runner.Metrics != a.Metrics {
		t.Fatal("runner collaborators not wired")
	}
	if a.Runner.Gate.MaxParallel != 2 {
		t.Fatalf("max parallel = %d", a.Runner.Gate.MaxParallel)
	}
	if _, ok := a.Runner.Gate.Adapter.(*core.ShellExecutor); !ok {
		t.Fatalf("adapter = %T, want local shell", a.Runner.Gate.Adapter)
	}
}

func TestBuildWithoutHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = ""
	a, err := Build(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer a.Close()
	if a.Runner.Runs != nil {
		t.Fatalf("runner has history %T without a database", a.Runner.Runs)
	}
}

func TestAdapterSelection(t *testing.T) {
	cfg := config.Default()
	cfg.AgentURL = "http://agent:9090"
	agent, ok := Adapter(cfg).(*core.AgentExecutor)
	if !ok || agent.BaseURL != "http://agent:9090" {
		t.Fatalf("adapter = %#v", Adapter(cfg))
	}
}
