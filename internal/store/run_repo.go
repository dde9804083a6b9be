package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tfgate/internal/core"
)

// RunRepo implements [core.RunRepository] backed by SQLite.
type RunRepo struct {
	DB *sql.DB
}

// SaveRun inserts or replaces a run and its tasks in one transaction.
func (r *RunRepo) SaveRun(ctx context.Context, run core.RunView) error {
	trigger, err := json.Marshal(run.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	stages, err := json.Marshal(run.Stages)
	if err != nil {
		return fmt.Errorf("marshal stages: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, trigger_doc, stages, outcome, error, created_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     trigger_doc = excluded.trigger_doc, stages = excluded.stages, outcome = excluded.outcome,
		     error = excluded.error, finished_at = excluded.finished_at`,
		run.ID, string(trigger), string(stages), string(run.Outcome), run.Error,
		formatTime(run.CreatedAt), formatTime(run.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("clear tasks: %w", err)
	}
	for i, task := range run.Tasks {
		body, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("marshal task %s: %w", task.ID(), err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tasks (run_id, seq, stage, environment, status, body) VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID, i, string(task.Stage), task.Environment.Name, string(task.Status), string(body),
		)
		if err != nil {
			return fmt.Errorf("insert task %s: %w", task.ID(), err)
		}
	}
	return tx.Commit()
}

func (r *RunRepo) GetRun(ctx context.Context, id string) (core.RunView, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id, trigger_doc, stages, outcome, error, created_at, finished_at FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err != nil {
		return run, err
	}
	run.Tasks, err = r.tasks(ctx, id)
	return run, err
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (r *RunRepo) ListRuns(ctx context.Context, limit int) ([]core.RunView, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, trigger_doc, stages, outcome, error, created_at, finished_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []core.RunView
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range runs {
		if runs[i].Tasks, err = r.tasks(ctx, runs[i].ID); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (r *RunRepo) tasks(ctx context.Context, runID string) ([]core.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT body FROM tasks WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []core.Task{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		var task core.Task
		if err := json.Unmarshal([]byte(body), &task); err != nil {
			return nil, fmt.Errorf("unmarshal task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (core.RunView, error) {
	var run core.RunView
	var trigger, stages, outcome, created, finished string
	if err := s.Scan(&run.ID, &trigger, &stages, &outcome, &run.Error, &created, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, fmt.Errorf("run: %w", core.ErrNotFound)
		}
		return run, fmt.Errorf("scan run: %w", err)
	}
	run.Outcome = core.Outcome(outcome)
	if err := json.Unmarshal([]byte(trigger), &run.Trigger); err != nil {
		return run, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if err := json.Unmarshal([]byte(stages), &run.Stages); err != nil {
		return run, fmt.Errorf("unmarshal stages: %w", err)
	}
	var err error
	if run.CreatedAt, err = parseTime(created); err != nil {
		return run, err
	}
	if run.FinishedAt, err = parseTime(finished); err != nil {
		return run, err
	}
	return run, nil
}

// timeLayout is fixed width so that created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return t, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}
