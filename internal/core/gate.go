package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"tfgate/internal/storage"
)

// TaskObserver is called once for every task that reaches a terminal state.
type TaskObserver func(run *Run, task Task)

// Gate sequences stages and enforces their concurrency policy. Validate,
// Plan and Scan dispatch every environment at once; Apply and Destroy walk
// the environments one at a time in priority order and stop at the first
// failure.
type Gate struct {
	Pipeline  *Pipeline
	Planner   *Planner
	Adapter   ToolAdapter
	Artifacts *storage.ArtifactStore
	Logger    *slog.Logger

	// MaxParallel bounds parallel stages. Zero or less means unbounded.
	MaxParallel int
	// AutoApprove lets apply and destroy proceed on protected environments
	// without a per-run approval.
	AutoApprove bool

	OnTaskDone TaskObserver

	now func() time.Time
}

// RunStage creates the stage's tasks once every earlier stage of the run has
// succeeded, dispatches them, and returns an error if any task failed.
func (g *Gate) RunStage(ctx context.Context, run *Run, stage Stage) error {
	if err := run.ready(stage); err != nil {
		return err
	}
	tasks := g.Planner.FanOut(stage)
	run.addTasks(tasks)

	g.log().Info("stage started", "run", run.ID(), "stage", stage, "tasks", len(tasks), "sequential", stage.Sequential())
	if stage.Sequential() {
		return g.runSequential(ctx, run, stage, tasks)
	}
	return g.runParallel(ctx, run, stage, tasks)
}

func (g *Gate) runParallel(ctx context.Context, run *Run, stage Stage, tasks []*Task) error {
	var eg errgroup.Group
	if g.MaxParallel > 0 {
		eg.SetLimit(g.MaxParallel)
	}
	for _, task := range tasks {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				g.skip(run, task, "run cancelled")
				return err
			}
			return g.dispatch(ctx, run, task)
		})
	}
	_ = eg.Wait()

	var errs []error
	for _, task := range tasks {
		t := run.read(task)
		switch t.Status {
		case TaskFailed:
			errs = append(errs, fmt.Errorf("%s: %w", t.ID(), task.Err()))
		case TaskSkipped:
			if err := ctx.Err(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", t.ID(), err))
			}
		}
	}
	if len(errs) > 0 {
		g.log().Warn("stage failed", "run", run.ID(), "stage", stage, "failed", len(errs))
		return fmt.Errorf("stage %s: %d of %d tasks failed: %w", stage, len(errs), len(tasks), errors.Join(errs...))
	}
	g.log().Info("stage succeeded", "run", run.ID(), "stage", stage)
	return nil
}

// runSequential is a single-worker queue over the priority-ordered tasks.
func (g *Gate) runSequential(ctx context.Context, run *Run, stage Stage, tasks []*Task) error {
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			g.skipAll(run, tasks[i:], "run cancelled")
			return fmt.Errorf("stage %s cancelled before %s: %w", stage, task.Environment.Name, err)
		}
		if t := run.read(task); t.Status == TaskPending && g.needsApproval(run, task) {
			err := fmt.Errorf("%s is protected and the run carries no approval: %w", task.Environment.Name, ErrApprovalRequired)
			run.update(task, func(t *Task) { t.fail(err, g.clock()) })
		}
		if err := g.dispatch(ctx, run, task); err != nil {
			g.skipAll(run, tasks[i+1:], fmt.Sprintf("halted after %s failed", task.Environment.Name))
			g.log().Warn("stage halted", "run", run.ID(), "stage", stage, "env", task.Environment.Name, "error", err)
			return fmt.Errorf("stage %s halted at %s: %w", stage, task.Environment.Name, err)
		}
	}
	g.log().Info("stage succeeded", "run", run.ID(), "stage", stage)
	return nil
}

func (g *Gate) needsApproval(run *Run, task *Task) bool {
	env := task.Environment
	return env.RequiresApproval && !g.AutoApprove && !run.Trigger().Approved(env.Name)
}

// dispatch runs one task through the tool adapter and stores its output as
// the task artifact. A task that failed before dispatch (missing variable
// file, missing approval) is reported without invoking any tool.
func (g *Gate) dispatch(ctx context.Context, run *Run, task *Task) error {
	if t := run.read(task); t.Status == TaskFailed {
		g.finished(run, t)
		return task.Err()
	}

	started := g.clock()
	run.update(task, func(t *Task) {
		t.Status = TaskRunning
		t.StartedAt = started
	})
	log := g.log().With("run", run.ID(), "stage", task.Stage, "env", task.Environment.Name)
	log.Info("task dispatched")

	inv, err := g.invocation(run, task)
	var res Result
	if err == nil {
		res, err = g.Adapter.Execute(ctx, inv)
	}

	artifact := ""
	if g.Artifacts != nil {
		path, saveErr := g.Artifacts.SaveLog(run.ID(), string(task.Stage), task.Environment.Name, res.Output, task.Stage.Retention())
		if saveErr != nil {
			log.Warn("cannot save task log", "error", saveErr)
		} else {
			artifact = path
		}
	}

	finished := g.clock()
	final := run.update(task, func(t *Task) {
		t.Step = res.Step
		t.Artifact = artifact
		if err != nil {
			t.fail(err, finished)
			return
		}
		t.Status = TaskSucceeded
		t.FinishedAt = finished
	})
	if err != nil {
		log.Warn("task failed", "step", res.Step, "exit_code", res.ExitCode, "error", err)
	} else {
		log.Info("task succeeded", "elapsed", finished.Sub(started))
	}
	g.finished(run, final)
	return err
}

func (g *Gate) invocation(run *Run, task *Task) (Invocation, error) {
	env := task.Environment
	inv := Invocation{
		RunID:       run.ID(),
		Stage:       task.Stage,
		Environment: env,
		Steps:       g.Pipeline.StepsFor(task.Stage),
		VarFile:     g.Planner.VarFilePath(env),
		WorkDir:     g.Planner.WorkDir,
		Destroy:     containsStage(run.Stages(), StageDestroy),
	}
	if g.Artifacts != nil {
		dir, err := g.Artifacts.Ensure(run.ID(), string(task.Stage), env.Name, task.Stage.Retention())
		if err != nil {
			return inv, err
		}
		inv.ArtifactDir = dir
		inv.PlanDir = g.Artifacts.Dir(run.ID(), string(StagePlan), env.Name)
	}
	return inv, nil
}

// skip marks a pending task skipped. A task that already failed keeps its
// failure and is reported as such.
func (g *Gate) skip(run *Run, task *Task, reason string) {
	at := g.clock()
	final := run.update(task, func(t *Task) {
		if t.Status == TaskPending {
			t.skip(reason, at)
		}
	})
	g.finished(run, final)
}

func (g *Gate) skipAll(run *Run, tasks []*Task, reason string) {
	for _, task := range tasks {
		g.skip(run, task, reason)
	}
}

func (g *Gate) finished(run *Run, task Task) {
	if g.OnTaskDone != nil {
		g.OnTaskDone(run, task)
	}
}

func (g *Gate) clock() time.Time {
	if g.now != nil {
		return g.now()
	}
	return time.Now()
}

func (g *Gate) log() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func containsStage(stages []Stage, s Stage) bool {
	for _, st := range stages {
		if st == s {
			return true
		}
	}
	return false
}
