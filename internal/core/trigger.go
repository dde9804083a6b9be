package core

import (
	"fmt"
	"strings"
)

// TriggerKind is the event that started a run.
type TriggerKind string

const (
	TriggerPush   TriggerKind = "push"
	TriggerReview TriggerKind = "review"
	TriggerManual TriggerKind = "manual"
)

// Action is the stage selector of a manual trigger.
type Action string

const (
	ActionNone     Action = ""
	ActionValidate Action = "validate"
	ActionPlan     Action = "plan"
	ActionApply    Action = "apply"
	ActionDestroy  Action = "destroy"
)

// Trigger describes an incoming event. Branch is the pushed branch for push
// triggers and the target branch for review triggers. Approvals names the
// protected environments the requester has signed off for apply or destroy.
type Trigger struct {
	Kind      TriggerKind `json:"kind"`
	Branch    string      `json:"branch,omitempty"`
	Action    Action      `json:"action,omitempty"`
	Approvals []string    `json:"approvals,omitempty"`
}

// Approved reports whether the trigger carries an approval for env.
func (t Trigger) Approved(env string) bool {
	for _, a := range t.Approvals {
		if a == env {
			return true
		}
	}
	return false
}

func (t Trigger) String() string {
	var b strings.Builder
	b.WriteString(string(t.Kind))
	if t.Branch != "" {
		b.WriteString("@" + t.Branch)
	}
	if t.Action != ActionNone {
		b.WriteString(":" + string(t.Action))
	}
	return b.String()
}

var (
	mainlineStages = []Stage{StageValidate, StagePlan, StageScan, StageApply}
	reviewStages   = []Stage{StageValidate, StagePlan, StageScan}

	manualStages = map[Action][]Stage{
		ActionValidate: {StageValidate},
		ActionPlan:     {StageValidate, StagePlan, StageScan},
		ActionApply:    {StageValidate, StagePlan, StageScan, StageApply},
		ActionDestroy:  {StageValidate, StagePlan, StageScan, StageDestroy},
	}
)

// Classifier maps a trigger to the ordered list of stages a run executes.
type Classifier struct {
	PrimaryBranch string
}

// NewClassifier creates a classifier for the pipeline's primary branch.
func NewClassifier(p *Pipeline) Classifier {
	return Classifier{PrimaryBranch: p.PrimaryBranch}
}

// Classify returns a fresh stage slice for t, or an ErrConfiguration for
// any combination outside the table. Destroy is only reachable from a manual
// trigger asking for it.
func (c Classifier) Classify(t Trigger) ([]Stage, error) {
	branch := trimRef(t.Branch)
	primary := trimRef(c.PrimaryBranch)

	switch t.Kind {
	case TriggerPush:
		if t.Action != ActionNone {
			return nil, fmt.Errorf("push trigger cannot request action %q: %w", t.Action, ErrConfiguration)
		}
		if branch == "" {
			return nil, fmt.Errorf("push trigger requires a branch: %w", ErrConfiguration)
		}
		if branch == primary {
			return cloneStages(mainlineStages), nil
		}
		return cloneStages(reviewStages), nil

	case TriggerReview:
		if t.Action != ActionNone {
			return nil, fmt.Errorf("review trigger cannot request action %q: %w", t.Action, ErrConfiguration)
		}
		if branch != primary {
			return nil, fmt.Errorf("review trigger targets %q, not %q: %w", branch, primary, ErrConfiguration)
		}
		return cloneStages(reviewStages), nil

	case TriggerManual:
		stages, ok := manualStages[t.Action]
		if !ok {
			return nil, fmt.Errorf("manual trigger with unknown action %q: %w", t.Action, ErrConfiguration)
		}
		return cloneStages(stages), nil
	}
	return nil, fmt.Errorf("unknown trigger kind %q: %w", t.Kind, ErrConfiguration)
}

// trimRef strips the git ref prefix so "refs/heads/main" and "main" compare equal.
func trimRef(branch string) string {
	branch = strings.TrimSpace(branch)
	return strings.TrimPrefix(branch, "refs/heads/")
}

func cloneStages(stages []Stage) []Stage {
	out := make([]Stage, len(stages))
	copy(out, stages)
	return out
}
