package core

import "errors"

var (
	// ErrConfiguration marks a trigger, action or pipeline definition that
	// cannot be scheduled. Runs rejected with it never create tasks.
	ErrConfiguration = errors.New("configuration error")

	// ErrConfigNotFound is reported by a task whose environment variable file
	// does not exist.
	ErrConfigNotFound = errors.New("configuration not found")

	// ErrToolFailure wraps a non-zero exit from an external tool.
	ErrToolFailure = errors.New("tool failure")

	// ErrApprovalRequired fails a protected environment's apply or destroy
	// when the run carries no approval for it.
	ErrApprovalRequired = errors.New("approval required")

	// ErrRunInProgress is returned when a run is requested while another one
	// still owns the environments' state.
	ErrRunInProgress = errors.New("run already in progress")

	// ErrStageBlocked is returned when a stage is asked to start before every
	// earlier stage finished successfully.
	ErrStageBlocked = errors.New("stage blocked")

	ErrNotFound = errors.New("not found")
)
