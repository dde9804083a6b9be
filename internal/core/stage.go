package core

import (
	"fmt"
	"strings"
	"time"
)

// Stage is one phase of a pipeline run.
type Stage string

const (
	StageValidate Stage = "validate"
	StagePlan     Stage = "plan"
	StageScan     Stage = "scan"
	StageApply    Stage = "apply"
	StageDestroy  Stage = "destroy"
)

// AllStages lists every stage in rank order.
var AllStages = []Stage{StageValidate, StagePlan, StageScan, StageApply, StageDestroy}

// Artifact retention windows. The storage layer enforces them; stages only
// declare which window applies.
const (
	ShortRetention = 7 * 24 * time.Hour
	LongRetention  = 30 * 24 * time.Hour
)

// Rank orders stages. Apply and Destroy share the last rank because a run
// never contains both.
func (s Stage) Rank() int {
	switch s {
	case StageValidate:
		return 1
	case StagePlan:
		return 2
	case StageScan:
		return 3
	case StageApply, StageDestroy:
		return 4
	}
	return 0
}

// Sequential reports whether the stage processes environments one at a time
// in priority order.
func (s Stage) Sequential() bool {
	return s == StageApply || s == StageDestroy
}

// Retention returns how long the stage's artifacts are kept.
func (s Stage) Retention() time.Duration {
	if s.Sequential() {
		return LongRetention
	}
	return ShortRetention
}

func (s Stage) Valid() bool {
	return s.Rank() > 0
}

func (s Stage) String() string {
	return string(s)
}

// ParseStage converts a user supplied name into a Stage.
func ParseStage(name string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(name)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown stage %q: %w", name, ErrConfiguration)
	}
	return s, nil
}
