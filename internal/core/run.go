package core

import (
	"fmt"
	"sync"
	"time"
)

// Outcome is the state of a run as a whole.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeRunning Outcome = "running"
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeInvalid Outcome = "invalid"
)

// Terminal reports whether the run has finished.
func (o Outcome) Terminal() bool {
	return o == OutcomeSuccess || o == OutcomeFailed || o == OutcomeInvalid
}

// Run is one pipeline execution. Tasks are appended as their stage becomes
// eligible; every mutation goes through the run's lock so readers can take
// snapshots while stages are in flight.
type Run struct {
	mu sync.Mutex

	id         string
	trigger    Trigger
	stages     []Stage
	tasks      []*Task
	outcome    Outcome
	err        error
	createdAt  time.Time
	finishedAt time.Time
}

// RunView is an immutable copy of a run's state.
type RunView struct {
	ID         string    `json:"id"`
	Trigger    Trigger   `json:"trigger"`
	Stages     []Stage   `json:"stages"`
	Tasks      []Task    `json:"tasks"`
	Outcome    Outcome   `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
}

// TasksFor returns the view's tasks belonging to stage, in dispatch order.
func (v RunView) TasksFor(stage Stage) []Task {
	var out []Task
	for _, t := range v.Tasks {
		if t.Stage == stage {
			out = append(out, t)
		}
	}
	return out
}

func newRun(id string, trigger Trigger, at time.Time) *Run {
	return &Run{id: id, trigger: trigger, outcome: OutcomePending, createdAt: at}
}

func (r *Run) ID() string { return r.id }

func (r *Run) Trigger() Trigger { return r.trigger }

// Stages returns the ordered stage list chosen by the classifier.
func (r *Run) Stages() []Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneStages(r.stages)
}

func (r *Run) Outcome() Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome
}

// Err returns the cause of a failed or invalid run.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Snapshot copies the run's current state.
func (r *Run) Snapshot() RunView {
	r.mu.Lock()
	defer r.mu.Unlock()
	view := RunView{
		ID:         r.id,
		Trigger:    r.trigger,
		Stages:     cloneStages(r.stages),
		Tasks:      make([]Task, 0, len(r.tasks)),
		Outcome:    r.outcome,
		CreatedAt:  r.createdAt,
		FinishedAt: r.finishedAt,
	}
	if r.err != nil {
		view.Error = r.err.Error()
	}
	for _, t := range r.tasks {
		view.Tasks = append(view.Tasks, *t)
	}
	return view
}

func (r *Run) setStages(stages []Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = cloneStages(stages)
}

func (r *Run) start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = OutcomeRunning
}

func (r *Run) finish(outcome Outcome, err error, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcome = outcome
	r.err = err
	r.finishedAt = at
}

func (r *Run) addTasks(tasks []*Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, tasks...)
}

// update applies fn to a task under the run lock and returns a copy of the
// task as it stands afterwards.
func (r *Run) update(t *Task, fn func(*Task)) Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(t)
	return *t
}

func (r *Run) read(t *Task) Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *t
}

// ready checks that every stage ranked before stage has run to completion
// without a failure.
func (r *Run) ready(stage Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, prior := range r.stages {
		if prior.Rank() >= stage.Rank() {
			continue
		}
		started := false
		for _, t := range r.tasks {
			if t.Stage != prior {
				continue
			}
			started = true
			if !t.Status.Terminal() {
				return fmt.Errorf("%s waits on %s: task %s is %s: %w", stage, prior, t.ID(), t.Status, ErrStageBlocked)
			}
			if t.Status == TaskFailed {
				return fmt.Errorf("%s waits on %s: task %s failed: %w", stage, prior, t.ID(), ErrStageBlocked)
			}
		}
		if !started {
			return fmt.Errorf("%s waits on %s: stage never ran: %w", stage, prior, ErrStageBlocked)
		}
	}
	return nil
}
