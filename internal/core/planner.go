package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Planner expands a stage over the fixed environment set.
type Planner struct {
	Environments []Environment
	WorkDir      string

	now func() time.Time
}

// NewPlanner creates a planner for the pipeline's environments. Relative
// variable files are resolved against workDir.
func NewPlanner(p *Pipeline, workDir string) *Planner {
	envs := make([]Environment, len(p.Environments))
	copy(envs, p.Environments)
	return &Planner{Environments: envs, WorkDir: workDir, now: time.Now}
}

// FanOut returns exactly one task per environment, in priority order. A task
// whose variable file is missing comes back already failed with
// ErrConfigNotFound so that the environment is reported rather than dropped.
func (p *Planner) FanOut(stage Stage) []*Task {
	tasks := make([]*Task, 0, len(p.Environments))
	for _, env := range p.Environments {
		task := newTask(stage, env)
		if err := p.checkVarFile(env); err != nil {
			task.fail(err, p.now())
		}
		tasks = append(tasks, task)
	}
	return tasks
}

// VarFilePath resolves an environment's variable file.
func (p *Planner) VarFilePath(env Environment) string {
	if filepath.IsAbs(env.VarFile) || p.WorkDir == "" {
		return env.VarFile
	}
	return filepath.Join(p.WorkDir, env.VarFile)
}

func (p *Planner) checkVarFile(env Environment) error {
	path := p.VarFilePath(env)
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: var file %s: %w", env.Name, path, ErrConfigNotFound)
	}
	if info.IsDir() {
		return fmt.Errorf("%s: var file %s is a directory: %w", env.Name, path, ErrConfigNotFound)
	}
	return nil
}
