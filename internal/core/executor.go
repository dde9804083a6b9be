package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"
	"time"
)

// PlanFileName and PlanJSONName are the plan artifacts written by the plan
// stage and read back by scan, apply and destroy.
const (
	PlanFileName = "tfplan"
	PlanJSONName = "plan.json"
)

// ToolAdapter runs the external tools of one task. Implementations must not
// keep state between invocations; everything a later stage needs travels
// through the artifact directories.
type ToolAdapter interface {
	Execute(ctx context.Context, inv Invocation) (Result, error)
}

// Invocation is everything a tool adapter needs to run a task.
type Invocation struct {
	RunID       string      `json:"runId"`
	Stage       Stage       `json:"stage"`
	Environment Environment `json:"environment"`
	Steps       []Step      `json:"steps"`
	VarFile     string      `json:"varFile"`
	WorkDir     string      `json:"workDir"`
	ArtifactDir string      `json:"artifactDir"`
	PlanDir     string      `json:"planDir"`
	Destroy     bool        `json:"destroy"`
}

// Result is the captured outcome of an invocation.
type Result struct {
	Output   string `json:"output"`
	Step     string `json:"step"`
	ExitCode int    `json:"exitCode"`
}

func (inv Invocation) PlanFile() string {
	return filepath.Join(inv.PlanDir, PlanFileName)
}

func (inv Invocation) PlanJSON() string {
	return filepath.Join(inv.PlanDir, PlanJSONName)
}

type stepData struct {
	RunID         string
	Stage         string
	Env           string
	VarFile       string
	BackendRole   string
	ScanSeverity  string
	LintThreshold string
	PlanFile      string
	PlanJSON      string
	ArtifactDir   string
	WorkDir       string
	Destroy       bool
}

// Render expands a step's run template for this invocation.
func (inv Invocation) Render(step Step) (string, error) {
	tmpl, err := template.New(step.Name).Option("missingkey=error").Parse(step.Run)
	if err != nil {
		return "", fmt.Errorf("step %s: %w", step.Name, err)
	}
	data := stepData{
		RunID:         inv.RunID,
		Stage:         string(inv.Stage),
		Env:           inv.Environment.Name,
		VarFile:       inv.VarFile,
		BackendRole:   inv.Environment.BackendRole,
		ScanSeverity:  inv.Environment.ScanSeverity,
		LintThreshold: inv.Environment.LintFailureThreshold,
		PlanFile:      inv.PlanFile(),
		PlanJSON:      inv.PlanJSON(),
		ArtifactDir:   inv.ArtifactDir,
		WorkDir:       inv.WorkDir,
		Destroy:       inv.Destroy,
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("step %s: %w", step.Name, err)
	}
	return buf.String(), nil
}

// Environ returns the variables exported to every tool process of the
// invocation, followed by the step's own.
func (inv Invocation) Environ(step Step) []string {
	env := []string{
		"TF_IN_AUTOMATION=1",
		"TF_INPUT=0",
		"TFGATE_RUN_ID=" + inv.RunID,
		"TFGATE_STAGE=" + string(inv.Stage),
		"TFGATE_ENV=" + inv.Environment.Name,
		"TFGATE_BACKEND_ROLE=" + inv.Environment.BackendRole,
	}
	for k, v := range step.Env {
		env = append(env, k+"="+v)
	}
	return env
}

// ShellExecutor runs steps locally through sh -c.
type ShellExecutor struct {
	Timeout time.Duration
	// GracePeriod is how long a cancelled tool gets after SIGINT before it is
	// killed; terraform uses it to release its state lock.
	GracePeriod time.Duration
}

func NewExecutor(timeout time.Duration) *ShellExecutor {
	return &ShellExecutor{Timeout: timeout, GracePeriod: 30 * time.Second}
}

// Execute runs the steps in order and stops at the first failure. The
// combined output of every step attempted is returned even on error.
func (e *ShellExecutor) Execute(ctx context.Context, inv Invocation) (Result, error) {
	var out bytes.Buffer
	res := Result{}

	for _, step := range inv.Steps {
		res.Step = step.Name
		cmdline, err := inv.Render(step)
		if err != nil {
			res.Output = out.String()
			return res, fmt.Errorf("render %w: %w", err, ErrConfiguration)
		}
		fmt.Fprintf(&out, "$ %s\n", cmdline)

		code, err := e.runStep(ctx, inv, step, cmdline, &out)
		res.ExitCode = code
		if err != nil {
			res.Output = out.String()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, fmt.Errorf("%s aborted: %w", step.Name, ctxErr)
			}
			return res, fmt.Errorf("%s exited with code %d: %w", step.Name, code, ErrToolFailure)
		}
	}
	res.Output = out.String()
	return res, nil
}

func (e *ShellExecutor) runStep(ctx context.Context, inv Invocation, step Step, cmdline string, out *bytes.Buffer) (int, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	cmd.Dir = inv.WorkDir
	cmd.Env = append(os.Environ(), inv.Environ(step)...)
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = e.GracePeriod

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), err
	}
	fmt.Fprintf(out, "%s\n", strings.TrimSpace(err.Error()))
	return -1, err
}
