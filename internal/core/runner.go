package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tfgate/internal/ledger"
	"tfgate/internal/metrics"
	"tfgate/internal/storage"
)

// Runner ties together Classifier + Planner + Gate + tool adapter + storage
// + ledger. It executes at most one run at a time because apply and destroy
// must never overlap another operation on the same environment state.
type Runner struct {
	Pipeline   *Pipeline
	Classifier Classifier
	Gate       *Gate
	Ledger     *ledger.Ledger
	Runs       RunRepository
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	AgentID    string // identifies who executed the tasks in ledger records

	inflight sync.Mutex
	newID    func() string
	now      func() time.Time
}

// Options configures NewRunner. Ledger, Runs and Metrics are optional.
type Options struct {
	WorkDir     string
	Adapter     ToolAdapter
	Artifacts   *storage.ArtifactStore
	Ledger      *ledger.Ledger
	Runs        RunRepository
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	MaxParallel int
	AutoApprove bool
	AgentID     string
}

func NewRunner(p *Pipeline, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	agentID := opts.AgentID
	if agentID == "" {
		agentID = "local"
	}
	r := &Runner{
		Pipeline:   p,
		Classifier: NewClassifier(p),
		Ledger:     opts.Ledger,
		Runs:       opts.Runs,
		Metrics:    opts.Metrics,
		Logger:     logger,
		AgentID:    agentID,
		newID:      uuid.NewString,
		now:        time.Now,
	}
	r.Gate = &Gate{
		Pipeline:    p,
		Planner:     NewPlanner(p, opts.WorkDir),
		Adapter:     opts.Adapter,
		Artifacts:   opts.Artifacts,
		Logger:      logger,
		MaxParallel: opts.MaxParallel,
		AutoApprove: opts.AutoApprove,
		OnTaskDone:  r.taskDone,
	}
	return r
}

// NewRun creates a run for t and classifies it. An unrecognised trigger
// yields a run with outcome invalid, no tasks, and an ErrConfiguration.
func (r *Runner) NewRun(ctx context.Context, t Trigger) (*Run, error) {
	run := newRun(r.newID(), t, r.now())
	stages, err := r.Classifier.Classify(t)
	if err != nil {
		run.finish(OutcomeInvalid, err, r.now())
		r.Logger.Warn("run rejected", "run", run.ID(), "trigger", t.String(), "error", err)
		r.Metrics.RunFinished(string(t.Kind), string(OutcomeInvalid), false)
		r.record(ctx, run)
		return run, err
	}
	run.setStages(stages)
	r.Logger.Info("run classified", "run", run.ID(), "trigger", t.String(), "stages", stages)
	r.record(ctx, run)
	return run, nil
}

// Execute drives a classified run through its stages. The first failing
// stage ends the run; later stages never create tasks.
func (r *Runner) Execute(ctx context.Context, run *Run) error {
	if run.Outcome() != OutcomePending {
		return fmt.Errorf("run %s is %s, not pending", run.ID(), run.Outcome())
	}
	if !r.inflight.TryLock() {
		return ErrRunInProgress
	}
	defer r.inflight.Unlock()

	run.start()
	r.Metrics.RunStarted()
	r.record(ctx, run)
	r.Logger.Info("run started", "run", run.ID())

	for _, stage := range run.Stages() {
		if err := r.Gate.RunStage(ctx, run, stage); err != nil {
			run.finish(OutcomeFailed, err, r.now())
			r.Logger.Error("run failed", "run", run.ID(), "stage", stage, "error", err)
			r.Metrics.RunFinished(string(run.Trigger().Kind), string(OutcomeFailed), true)
			r.record(ctx, run)
			return err
		}
	}

	run.finish(OutcomeSuccess, nil, r.now())
	r.Logger.Info("run succeeded", "run", run.ID())
	r.Metrics.RunFinished(string(run.Trigger().Kind), string(OutcomeSuccess), true)
	r.record(ctx, run)
	return nil
}

// RunPipeline classifies and executes t.
func (r *Runner) RunPipeline(ctx context.Context, t Trigger) (*Run, error) {
	run, err := r.NewRun(ctx, t)
	if err != nil {
		return run, err
	}
	return run, r.Execute(ctx, run)
}

// Busy reports whether a run is executing.
func (r *Runner) Busy() bool {
	if r.inflight.TryLock() {
		r.inflight.Unlock()
		return false
	}
	return true
}

// record saves the run to history (best-effort; a history outage never
// changes the outcome of a run).
func (r *Runner) record(ctx context.Context, run *Run) {
	if r.Runs == nil {
		return
	}
	if err := r.Runs.SaveRun(context.WithoutCancel(ctx), run.Snapshot()); err != nil {
		r.Logger.Warn("cannot record run history", "run", run.ID(), "error", err)
	}
}

func (r *Runner) taskDone(run *Run, task Task) {
	var elapsed time.Duration
	if !task.StartedAt.IsZero() {
		elapsed = task.FinishedAt.Sub(task.StartedAt)
	}
	r.Metrics.TaskFinished(string(task.Stage), task.Environment.Name, string(task.Status), elapsed)

	// Append ledger records (best-effort; do not block pipeline if ledger missing)
	if r.Ledger == nil {
		return
	}
	entry := ledger.Entry{
		RunID:        run.ID(),
		Stage:        string(task.Stage),
		Environment:  task.Environment.Name,
		Status:       string(task.Status),
		ArtifactPath: task.Artifact,
		AgentID:      r.AgentID,
	}
	if task.Artifact != "" {
		hash, err := storage.Digest(task.Artifact)
		if err != nil {
			r.Logger.Warn("cannot hash artifact", "run", run.ID(), "task", task.ID(), "error", err)
		} else {
			entry.ArtifactHash = hash
		}
	}
	rec, err := r.Ledger.Append(entry)
	if err != nil {
		r.Logger.Warn("cannot append ledger record", "run", run.ID(), "task", task.ID(), "error", err)
		return
	}
	r.Logger.Debug("ledger record appended", "run", run.ID(), "task", task.ID(), "index", rec.Index)
}
