package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gigline/internal/domain"
	"gigline/internal/events"
	"gigline/internal/repo"
)

// ApplyOptions are parameters for a worker applying to a job.
type ApplyOptions struct {
	JobID      string
	WorkerID   string
	WorkerName string
	Message    string
}

// Apply records a worker's application. The first application moves the
// job from ACTIVE to APPLIED and its phase to OFFERS_RECEIVED. Returns
// false when the job is unknown, closed to applications, or the worker
// already has a live application.
func (e Engine) Apply(ctx context.Context, opts ApplyOptions) (domain.Application, bool, error) {
	if opts.WorkerID == "" {
		return domain.Application{}, false, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Application{}, false, err
	}
	defer tx.Rollback()
	j, err := e.Repo.GetJobTx(ctx, tx, opts.JobID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Application{}, false, nil
	}
	if err != nil {
		return domain.Application{}, false, err
	}
	if j.Status != domain.JobStatusActive && j.Status != domain.JobStatusApplied {
		return domain.Application{}, false, nil
	}
	existing, err := e.Repo.GetApplicationTx(ctx, tx, j.ID, opts.WorkerID)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return domain.Application{}, false, err
	}
	if err == nil && existing.Status == domain.ApplicationPending {
		return domain.Application{}, false, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	app := domain.Application{
		ID:         uuid.New().String(),
		JobID:      j.ID,
		WorkerID:   opts.WorkerID,
		WorkerName: opts.WorkerName,
		Message:    opts.Message,
		Status:     domain.ApplicationPending,
		AppliedAt:  now,
	}
	if err := e.Repo.InsertApplicationTx(ctx, tx, app); err != nil {
		return domain.Application{}, false, err
	}
	if j.Status == domain.JobStatusActive {
		j.Status = domain.JobStatusApplied
		bumpPhase(&j, domain.PhaseOffersReceived)
		j.UpdatedAt = now
		if err := e.Repo.UpdateJobTx(ctx, tx, j); err != nil {
			return domain.Application{}, false, err
		}
	}
	if err := e.notifyTx(ctx, tx, domain.Notification{
		RecipientID:    j.ClientID,
		SenderID:       &app.WorkerID,
		JobID:          &j.ID,
		Type:           domain.NotifyJobApplication,
		Title:          "New application",
		Message:        fmt.Sprintf("%s applied to %q.", displayName(app.WorkerName, app.WorkerID), j.Title),
		ActionRequired: true,
		ActionType:     actionType("REVIEW_APPLICATION"),
	}); err != nil {
		return domain.Application{}, false, err
	}
	if err := e.Events.Append(ctx, tx, "application.submitted", j.ID, "application", app.ID, opts.WorkerID, events.EventPayload{
		"worker_id": app.WorkerID,
	}); err != nil {
		return domain.Application{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Application{}, false, err
	}
	return app, true, nil
}

// SelectWorker picks one pending application as the winner and rejects
// every other pending application in the same transaction, so the job
// never holds two SELECTED applications. The winner is assigned, the
// job moves to IN_PROGRESS and the execution timeline is seeded.
func (e Engine) SelectWorker(ctx context.Context, jobID, workerID, actorID string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if j.Status != domain.JobStatusApplied && j.Status != domain.JobStatusActive {
		return false, nil
	}
	taken, err := e.Repo.HasSelectedApplicationTx(ctx, tx, jobID)
	if err != nil {
		return false, err
	}
	if taken {
		return false, nil
	}
	winner, err := e.Repo.GetApplicationTx(ctx, tx, jobID, workerID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if winner.Status != domain.ApplicationPending {
		return false, nil
	}
	pending, err := e.Repo.ListApplicationsByJobTx(ctx, tx, jobID, domain.ApplicationPending)
	if err != nil {
		return false, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	rejected := 0
	for _, app := range pending {
		if app.WorkerID == winner.WorkerID {
			app.Status = domain.ApplicationSelected
			app.SelectedAt = &now
		} else {
			app.Status = domain.ApplicationRejected
			rejected++
		}
		if err := e.Repo.UpdateApplicationTx(ctx, tx, app); err != nil {
			return false, err
		}
		var n domain.Notification
		if app.WorkerID == winner.WorkerID {
			n = domain.Notification{
				RecipientID:    app.WorkerID,
				SenderID:       &j.ClientID,
				JobID:          &j.ID,
				Type:           domain.NotifyJobSelected,
				Title:          "You got the job",
				Message:        fmt.Sprintf("You were selected for %q.", j.Title),
				ActionRequired: true,
				ActionType:     actionType("START_JOB"),
			}
		} else {
			n = domain.Notification{
				RecipientID: app.WorkerID,
				SenderID:    &j.ClientID,
				JobID:       &j.ID,
				Type:        domain.NotifyJobRejected,
				Title:       "Application closed",
				Message:     fmt.Sprintf("Another worker was selected for %q.", j.Title),
			}
		}
		if err := e.notifyTx(ctx, tx, n); err != nil {
			return false, err
		}
	}
	if err := e.assignWorkerTx(ctx, tx, &j, winner.WorkerID, winner.WorkerName, domain.PhaseContractSelected); err != nil {
		return false, err
	}
	if err := e.Events.Append(ctx, tx, "worker.selected", j.ID, "application", winner.ID, actorID, events.EventPayload{
		"worker_id": winner.WorkerID,
		"rejected":  rejected,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// RejectWorker turns a single pending application down without closing
// the round.
func (e Engine) RejectWorker(ctx context.Context, jobID, workerID, actorID string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	app, err := e.Repo.GetApplicationTx(ctx, tx, jobID, workerID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if app.Status != domain.ApplicationPending {
		return false, nil
	}
	app.Status = domain.ApplicationRejected
	if err := e.Repo.UpdateApplicationTx(ctx, tx, app); err != nil {
		return false, err
	}
	if err := e.notifyTx(ctx, tx, domain.Notification{
		RecipientID: app.WorkerID,
		SenderID:    &j.ClientID,
		JobID:       &j.ID,
		Type:        domain.NotifyJobRejected,
		Title:       "Application declined",
		Message:     fmt.Sprintf("Your application for %q was declined.", j.Title),
	}); err != nil {
		return false, err
	}
	if err := e.Events.Append(ctx, tx, "application.rejected", j.ID, "application", app.ID, actorID, nil); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// Withdraw lets a worker retract their own pending application.
func (e Engine) Withdraw(ctx context.Context, jobID, workerID string) (bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	app, err := e.Repo.GetApplicationTx(ctx, tx, jobID, workerID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if app.Status != domain.ApplicationPending {
		return false, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	app.Status = domain.ApplicationWithdrawn
	app.WithdrawnAt = &now
	if err := e.Repo.UpdateApplicationTx(ctx, tx, app); err != nil {
		return false, err
	}
	if err := e.Events.Append(ctx, tx, "application.withdrawn", jobID, "application", app.ID, workerID, nil); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// OpenApplications returns the pending applications for a job, oldest
// first.
func (e Engine) OpenApplications(ctx context.Context, jobID string) ([]domain.Application, error) {
	return e.Repo.ListApplicationsByJob(ctx, jobID, domain.ApplicationPending)
}

// IsSelected reports whether a worker holds the winning application on
// a job.
func (e Engine) IsSelected(ctx context.Context, jobID, workerID string) (bool, error) {
	app, err := e.Repo.GetApplication(ctx, jobID, workerID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return app.Status == domain.ApplicationSelected, nil
}

func displayName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
