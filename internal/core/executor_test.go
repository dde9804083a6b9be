package core

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testInvocation(t *testing.T, steps ...Step) Invocation {
	t.Helper()
	dir := t.TempDir()
	return Invocation{
		RunID:       "run-1",
		Stage:       StagePlan,
		Environment: Environment{Name: "dev", BackendRole: "terraform-dev", ScanSeverity: "CRITICAL"},
		Steps:       steps,
		VarFile:     filepath.Join(dir, "dev.tfvars"),
		WorkDir:     dir,
		ArtifactDir: filepath.Join(dir, "artifacts"),
		PlanDir:     filepath.Join(dir, "plan"),
	}
}

func TestRenderStep(t *testing.T) {
	inv := testInvocation(t)
	got, err := inv.Render(Step{Name: "plan", Run: "terraform plan {{if .Destroy}}-destroy {{end}}-var-file={{.VarFile}} -out={{.PlanFile}}"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	want := "terraform plan -var-file=" + inv.VarFile + " -out=" + filepath.Join(inv.PlanDir, PlanFileName)
	if got != want {
		t.Fatalf("render = %q, want %q", got, want)
	}

	inv.Destroy = true
	got, _ = inv.Render(Step{Name: "plan", Run: "terraform plan {{if .Destroy}}-destroy {{end}}"})
	if got != "terraform plan -destroy " {
		t.Fatalf("destroy render = %q", got)
	}
}

func TestExecuteRunsStepsInOrder(t *testing.T) {
	inv := testInvocation(t,
		Step{Name: "first", Run: "echo first {{.Env}}"},
		Step{Name: "second", Run: "echo second {{.ScanSeverity}}"},
	)
	res, err := NewExecutor(10 * time.Second).Execute(context.Background(), inv)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Step != "second" || res.ExitCode != 0 {
		t.Fatalf("result = %+v", res)
	}
	first := strings.Index(res.Output, "first dev")
	second := strings.Index(res.Output, "second CRITICAL")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("unexpected output:\n%s", res.Output)
	}
}

func TestExecuteStopsAtFirstFailure(t *testing.T) {
	inv := testInvocation(t,
		Step{Name: "lint", Run: "echo linting; exit 3"},
		Step{Name: "never", Run: "echo should-not-run"},
	)
	res, err := NewExecutor(10 * time.Second).Execute(context.Background(), inv)
	if !errors.Is(err, ErrToolFailure) {
		t.Fatalf("expected ErrToolFailure, got %v", err)
	}
	if res.ExitCode != 3 || res.Step != "lint" {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Output, "linting") || strings.Contains(res.Output, "should-not-run") {
		t.Fatalf("unexpected output:\n%s", res.Output)
	}
}

func TestExecuteBadTemplate(t *testing.T) {
	inv := testInvocation(t, Step{Name: "broken", Run: "terraform plan {{.Workspace}}"})
	_, err := NewExecutor(10*time.Second).Execute(context.Background(), inv)
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestExecuteExportsEnvironment(t *testing.T) {
	inv := testInvocation(t, Step{
		Name: "env",
		Run:  `echo "$TF_IN_AUTOMATION $TFGATE_RUN_ID $TFGATE_ENV $TFGATE_BACKEND_ROLE $EXTRA"`,
		Env:  map[string]string{"EXTRA": "custom"},
	})
	res, err := NewExecutor(10*time.Second).Execute(context.Background(), inv)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(res.Output, "1 run-1 dev terraform-dev custom") {
		t.Fatalf("environment not exported:\n%s", res.Output)
	}
}

func TestExecuteCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	exec := &ShellExecutor{GracePeriod: 200 * time.Millisecond}
	inv := testInvocation(t, Step{Name: "apply", Run: "sleep 10"})

	start := time.Now()
	_, err := exec.Execute(ctx, inv)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancelled step took %s", elapsed)
	}
}

func TestExecuteStepTimeout(t *testing.T) {
	exec := &ShellExecutor{Timeout: 100 * time.Millisecond, GracePeriod: 100 * time.Millisecond}
	inv := testInvocation(t, Step{Name: "slow", Run: "sleep 10"})

	_, err := exec.Execute(context.Background(), inv)
	if !errors.Is(err, ErrToolFailure) {
		t.Fatalf("expected ErrToolFailure for a step timeout, got %v", err)
	}
}
