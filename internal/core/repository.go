package core

import "context"

// RunRepository persists run history for reporting. Scheduling never reads
// from it: each run starts from the pipeline definition alone.
type RunRepository interface {
	SaveRun(ctx context.Context, run RunView) error
	GetRun(ctx context.Context, id string) (RunView, error)
	ListRuns(ctx context.Context, limit int) ([]RunView, error)
}
