package core

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed || s == TaskSkipped
}

// Task is one (Stage, Environment) unit of work.
type Task struct {
	Stage       Stage       `json:"stage"`
	Environment Environment `json:"environment"`
	Status      TaskStatus  `json:"status"`
	Artifact    string      `json:"artifact,omitempty"`
	Step        string      `json:"step,omitempty"` // last step attempted
	Error       string      `json:"error,omitempty"`
	StartedAt   time.Time   `json:"startedAt,omitempty"`
	FinishedAt  time.Time   `json:"finishedAt,omitempty"`

	err error
}

func newTask(stage Stage, env Environment) *Task {
	return &Task{Stage: stage, Environment: env, Status: TaskPending}
}

// ID is unique within a run.
func (t *Task) ID() string {
	return string(t.Stage) + "/" + t.Environment.Name
}

// Err returns the failure cause, if any. It is not serialized; Error holds
// its text.
func (t *Task) Err() error {
	return t.err
}

func (t *Task) fail(err error, at time.Time) {
	t.Status = TaskFailed
	t.err = err
	if err != nil {
		t.Error = err.Error()
	}
	t.FinishedAt = at
}

func (t *Task) skip(reason string, at time.Time) {
	t.Status = TaskSkipped
	t.Error = reason
	t.FinishedAt = at
}
