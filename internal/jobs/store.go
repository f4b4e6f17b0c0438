package jobs

import "context"

// Store persists jobs. SaveJob must be atomic per record: a reader sees either
// the previous or the new job, never a partial one. GetJob returns an
// apperr.ErrNotFound error for unknown ids.
type Store interface {
	SaveJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	// ListJobs returns summaries, most recently created first.
	ListJobs(ctx context.Context) ([]Summary, error)
}
