package engine

import (
	"context"

	"gigline/internal/domain"
	"gigline/internal/repo"
)

// CreateDraft stages a job without validation. Drafts never reach
// workers until PublishDraft succeeds.
func (e Engine) CreateDraft(ctx context.Context, opts JobCreateOptions) (domain.Job, error) {
	opts.Draft = true
	return e.CreateJob(ctx, opts)
}

// GetJob returns a job by ID. repo.ErrNotFound passes through.
func (e Engine) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return e.Repo.GetJob(ctx, id)
}

// ListJobs returns jobs matching the filters, newest first.
func (e Engine) ListJobs(ctx context.Context, f repo.JobFilters) ([]domain.Job, error) {
	return e.Repo.ListJobs(ctx, f)
}

// CountJobsByStatus returns job counts grouped by status, optionally
// scoped to one client.
func (e Engine) CountJobsByStatus(ctx context.Context, clientID string) (map[string]int, error) {
	return e.Repo.CountJobsByStatus(ctx, clientID)
}

// ApplicationsByWorker returns everything a worker has applied to,
// newest first.
func (e Engine) ApplicationsByWorker(ctx context.Context, workerID string) ([]domain.Application, error) {
	return e.Repo.ListApplicationsByWorker(ctx, workerID)
}

// ApplicationsByJob returns a job's applications in any status, oldest
// first.
func (e Engine) ApplicationsByJob(ctx context.Context, jobID string) ([]domain.Application, error) {
	return e.Repo.ListApplicationsByJob(ctx, jobID, "")
}
