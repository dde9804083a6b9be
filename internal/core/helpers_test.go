package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"tfgate/internal/storage"
)

// fakeAdapter records every dispatched invocation in order and fails the
// task IDs listed in fail.
type fakeAdapter struct {
	mu    sync.Mutex
	calls []Invocation
	fail  map[string]bool
	hook  func(ctx context.Context, inv Invocation) error
}

func newFakeAdapter(fail ...string) *fakeAdapter {
	f := &fakeAdapter{fail: map[string]bool{}}
	for _, id := range fail {
		f.fail[id] = true
	}
	return f
}

func (f *fakeAdapter) Execute(ctx context.Context, inv Invocation) (Result, error) {
	id := string(inv.Stage) + "/" + inv.Environment.Name
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	hook := f.hook
	fail := f.fail[id]
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, inv); err != nil {
			return Result{Output: "aborted " + id, Step: "hook", ExitCode: -1}, err
		}
	}
	if fail {
		return Result{Output: "boom " + id, Step: "tool", ExitCode: 1}, fmt.Errorf("tool exited with code 1: %w", ErrToolFailure)
	}
	return Result{Output: "ok " + id, Step: "tool"}, nil
}

// dispatched returns the environments dispatched for stage, in call order.
func (f *fakeAdapter) dispatched(stage Stage) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var envs []string
	for _, inv := range f.calls {
		if inv.Stage == stage {
			envs = append(envs, inv.Environment.Name)
		}
	}
	return envs
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeVarFiles creates every environment's var file below dir.
func writeVarFiles(t *testing.T, p *Pipeline, dir string) {
	t.Helper()
	for _, env := range p.Environments {
		path := filepath.Join(dir, env.VarFile)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(`region = "eu-west-1"`+"\n"), 0o644); err != nil {
			t.Fatalf("write var file: %v", err)
		}
	}
}

func testPipeline(t *testing.T) *Pipeline {
	t.Helper()
	p, err := DefaultPipeline()
	if err != nil {
		t.Fatalf("default pipeline: %v", err)
	}
	return p
}

type runnerOpts struct {
	autoApprove bool
	maxParallel int
	skipVarFile string
	configure   func(*Options)
}

func newTestRunner(t *testing.T, adapter ToolAdapter, o runnerOpts) (*Runner, string) {
	t.Helper()
	p := testPipeline(t)
	work := t.TempDir()
	writeVarFiles(t, p, work)
	if o.skipVarFile != "" {
		env, _ := p.Environment(o.skipVarFile)
		if err := os.Remove(filepath.Join(work, env.VarFile)); err != nil {
			t.Fatalf("remove var file: %v", err)
		}
	}
	opts := Options{
		WorkDir:     work,
		Adapter:     adapter,
		Artifacts:   storage.NewArtifactStore(filepath.Join(t.TempDir(), "artifacts")),
		Logger:      discardLogger(),
		AutoApprove: o.autoApprove,
		MaxParallel: o.maxParallel,
	}
	if o.configure != nil {
		o.configure(&opts)
	}
	return NewRunner(p, opts), work
}

func taskStatuses(view RunView, stage Stage) map[string]TaskStatus {
	out := map[string]TaskStatus{}
	for _, t := range view.TasksFor(stage) {
		out[t.Environment.Name] = t.Status
	}
	return out
}
