package core

import (
	"fmt"
	"strings"
)

// PriorityOrder is the fixed order in which sequential stages walk the
// standard environments.
var PriorityOrder = []string{"dev", "sit", "uat", "preprod", "prod"}

// Pipeline is the loaded pipeline definition: the environments a run fans
// out over and the tool steps each stage executes.
type Pipeline struct {
	PrimaryBranch string           `yaml:"primary_branch"`
	Environments  []Environment    `yaml:"environments"`
	Stages        map[Stage][]Step `yaml:"stages"`
}

// Environment is a named deployment target with its own state and variables.
type Environment struct {
	Name                 string `yaml:"name" json:"name"`
	VarFile              string `yaml:"var_file" json:"varFile"`
	BackendRole          string `yaml:"backend_role" json:"backendRole"`
	ScanSeverity         string `yaml:"scan_severity" json:"scanSeverity"`
	LintFailureThreshold string `yaml:"lint_failure_threshold" json:"lintFailureThreshold"`
	RequiresApproval     bool   `yaml:"requires_approval" json:"requiresApproval"`
}

// Step is a single tool invocation inside a stage. Run is a text/template
// rendered against the task's environment before execution.
type Step struct {
	Name string            `yaml:"name" json:"name"`
	Run  string            `yaml:"run" json:"run"`
	Env  map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// Environment looks up a configured environment by name.
func (p *Pipeline) Environment(name string) (Environment, bool) {
	for _, env := range p.Environments {
		if env.Name == name {
			return env, true
		}
	}
	return Environment{}, false
}

// StepsFor returns the tool steps configured for a stage.
func (p *Pipeline) StepsFor(stage Stage) []Step {
	return p.Stages[stage]
}

// Validate checks the definition once at load time so that a run never
// discovers a broken environment list halfway through.
func (p *Pipeline) Validate() error {
	if strings.TrimSpace(p.PrimaryBranch) == "" {
		return fmt.Errorf("pipeline: primary_branch is required: %w", ErrConfiguration)
	}
	if len(p.Environments) == 0 {
		return fmt.Errorf("pipeline: at least one environment is required: %w", ErrConfiguration)
	}

	seen := make(map[string]bool, len(p.Environments))
	lastRank := -1
	for i, env := range p.Environments {
		if strings.TrimSpace(env.Name) == "" {
			return fmt.Errorf("pipeline: environment %d has no name: %w", i, ErrConfiguration)
		}
		if seen[env.Name] {
			return fmt.Errorf("pipeline: duplicate environment %q: %w", env.Name, ErrConfiguration)
		}
		seen[env.Name] = true
		if strings.TrimSpace(env.VarFile) == "" {
			return fmt.Errorf("pipeline: environment %q has no var_file: %w", env.Name, ErrConfiguration)
		}

		// standard environments must keep their relative priority
		if rank := priorityRank(env.Name); rank >= 0 {
			if rank < lastRank {
				return fmt.Errorf("pipeline: environment %q is listed out of priority order: %w", env.Name, ErrConfiguration)
			}
			lastRank = rank
		}
	}

	for stage := range p.Stages {
		if !stage.Valid() {
			return fmt.Errorf("pipeline: unknown stage %q: %w", stage, ErrConfiguration)
		}
	}
	for _, stage := range AllStages {
		steps := p.Stages[stage]
		if len(steps) == 0 {
			return fmt.Errorf("pipeline: stage %q has no steps: %w", stage, ErrConfiguration)
		}
		for i, step := range steps {
			if strings.TrimSpace(step.Run) == "" {
				return fmt.Errorf("pipeline: stage %q step %d has no run command: %w", stage, i, ErrConfiguration)
			}
		}
	}
	return nil
}

func priorityRank(name string) int {
	for i, n := range PriorityOrder {
		if n == name {
			return i
		}
	}
	return -1
}
