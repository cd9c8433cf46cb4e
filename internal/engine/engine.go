package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"gigline/internal/config"
	"gigline/internal/domain"
	"gigline/internal/events"
	"gigline/internal/repo"
)

// Engine owns the job lifecycle: job records, applications, execution
// timelines, the workflow phase overlay, and the notification feed.
// Every cross-entity cascade runs inside a single SQL transaction, which
// doubles as the per-job critical section.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ValidationError aggregates every field problem found on a job so a
// caller can surface all of them at once.
type ValidationError struct {
	Issues []string
}

func (v ValidationError) Error() string {
	return "invalid job: " + strings.Join(v.Issues, "; ")
}

// JobCreateOptions are parameters for posting a job.
type JobCreateOptions struct {
	ID          string
	ClientID    string
	ClientName  string
	Title       string
	Description string
	JobType     string
	Pay         float64
	Draft       bool
	ActorID     string
}

// ValidateJob checks a job against the marketplace rules and returns
// every violation rather than stopping at the first.
func (e Engine) ValidateJob(j domain.Job) []string {
	var issues []string
	if e.Config == nil {
		return []string{"config not loaded"}
	}
	minTitle := e.Config.Validation.MinTitleLen
	if len(strings.TrimSpace(j.Title)) < minTitle {
		issues = append(issues, fmt.Sprintf("title must be at least %d characters", minTitle))
	}
	if j.JobType == "" {
		issues = append(issues, "job_type is required")
	} else if _, ok := e.Config.JobTypes[j.JobType]; !ok {
		issues = append(issues, fmt.Sprintf("unknown job_type %s", j.JobType))
	}
	if j.Pay < e.Config.Validation.MinPay {
		issues = append(issues, fmt.Sprintf("pay must be at least %.2f", e.Config.Validation.MinPay))
	}
	if e.Config.Validation.RequireDescription && strings.TrimSpace(j.Description) == "" {
		issues = append(issues, "description is required")
	}
	if j.ClientID == "" {
		issues = append(issues, "client_id is required")
	}
	return issues
}

// CreateJob posts a new job. Drafts skip validation and stay invisible
// to workers until published.
func (e Engine) CreateJob(ctx context.Context, opts JobCreateOptions) (domain.Job, error) {
	if e.Config == nil {
		return domain.Job{}, errors.New("config not loaded")
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.New().String()
	}
	j := domain.Job{
		ID:          id,
		ClientID:    opts.ClientID,
		ClientName:  opts.ClientName,
		Title:       opts.Title,
		Description: opts.Description,
		JobType:     opts.JobType,
		Pay:         opts.Pay,
		Status:      domain.JobStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.Draft {
		j.Status = domain.JobStatusDraft
	} else {
		if issues := e.ValidateJob(j); len(issues) > 0 {
			return domain.Job{}, ValidationError{Issues: issues}
		}
		phase := domain.PhaseRequestPosted
		j.WorkflowPhase = &phase
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertJobTx(ctx, tx, j); err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "job.created", j.ID, "job", j.ID, opts.ActorID, events.EventPayload{
		"title":  j.Title,
		"status": j.Status,
	}); err != nil {
		return domain.Job{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}
	return j, nil
}

// PublishDraft moves a DRAFT job to ACTIVE once it validates. Returns
// false when the job is unknown or not a draft.
func (e Engine) PublishDraft(ctx context.Context, jobID, actorID string) (domain.Job, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, false, err
	}
	defer tx.Rollback()
	j, err := e.Repo.GetJobTx(ctx, tx, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, err
	}
	if j.Status != domain.JobStatusDraft {
		return j, false, nil
	}
	if issues := e.ValidateJob(j); len(issues) > 0 {
		return j, false, ValidationError{Issues: issues}
	}
	j.Status = domain.JobStatusActive
	phase := domain.PhaseRequestPosted
	j.WorkflowPhase = &phase
	j.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateJobTx(ctx, tx, j); err != nil {
		return j, false, err
	}
	if err := e.Events.Append(ctx, tx, "job.published", j.ID, "job", j.ID, actorID, events.EventPayload{"status": j.Status}); err != nil {
		return j, false, err
	}
	if err := tx.Commit(); err != nil {
		return j, false, err
	}
	return j, true, nil
}

// bumpPhase stamps a workflow phase only when it moves the job forward.
func bumpPhase(j *domain.Job, phase string) {
	current := -1
	if j.WorkflowPhase != nil {
		current = domain.PhaseOrdinal(*j.WorkflowPhase)
	}
	if domain.PhaseOrdinal(phase) > current {
		p := phase
		j.WorkflowPhase = &p
	}
}

// assignWorkerTx sets the assigned worker on a job, moves it to
// IN_PROGRESS, seeds the execution timeline and mirrors the initial
// stage back onto the record. The caller owns the transaction.
func (e Engine) assignWorkerTx(ctx context.Context, tx *sql.Tx, j *domain.Job, workerID, workerName, phase string) error {
	j.WorkerID = &workerID
	if workerName != "" {
		j.WorkerName = &workerName
	}
	j.Status = domain.JobStatusInProgress
	bumpPhase(j, phase)
	stage := domain.StageJobAccepted
	j.TimelineStage = &stage
	j.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if _, err := e.ensureTimelineTx(ctx, tx, *j, workerID, workerName); err != nil {
		return err
	}
	return e.Repo.UpdateJobTx(ctx, tx, *j)
}

// AssignWorker assigns a worker directly, bypassing the application
// round. No-op returning false when the job is unknown, already
// assigned to someone else, or past assignment.
func (e Engine) AssignWorker(ctx context.Context, jobID, workerID, workerName, actorID string) (bool, error) {
	if workerID == "" {
		return false, nil
	}
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
	if j.WorkerID != nil && *j.WorkerID != workerID {
		return false, nil
	}
	if j.Status != domain.JobStatusActive && j.Status != domain.JobStatusApplied {
		return false, nil
	}
	if err := e.assignWorkerTx(ctx, tx, &j, workerID, workerName, domain.PhaseContractSelected); err != nil {
		return false, err
	}
	if err := e.notifyTx(ctx, tx, domain.Notification{
		RecipientID:    workerID,
		SenderID:       &j.ClientID,
		JobID:          &j.ID,
		Type:           domain.NotifyJobSelected,
		Title:          "You were assigned a job",
		Message:        fmt.Sprintf("You have been assigned to %q.", j.Title),
		ActionRequired: true,
		ActionType:     actionType("START_JOB"),
	}); err != nil {
		return false, err
	}
	if err := e.Events.Append(ctx, tx, "job.assigned", j.ID, "job", j.ID, actorID, events.EventPayload{"worker_id": workerID}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateJobStatus applies a generic status mutation. The ordinal may
// never regress, and CANCELLED is reachable only through CancelJob.
func (e Engine) UpdateJobStatus(ctx context.Context, jobID, status, actorID string) (bool, error) {
	if status == domain.JobStatusCancelled {
		return false, nil
	}
	if domain.JobStatusOrdinal(status) < -1 {
		return false, nil
	}
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
	if domain.JobStatusOrdinal(status) <= domain.JobStatusOrdinal(j.Status) {
		return false, nil
	}
	from := j.Status
	j.Status = status
	now := e.now().UTC().Format(time.RFC3339)
	if status == domain.JobStatusCompleted {
		j.IsCompleted = true
		j.CompletedAt = &now
	}
	j.UpdatedAt = now
	if err := e.Repo.UpdateJobTx(ctx, tx, j); err != nil {
		return false, err
	}
	if err := e.Events.Append(ctx, tx, "job.status", j.ID, "job", j.ID, actorID, events.EventPayload{
		"from": from,
		"to":   status,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// CancellationPenalty computes the fee for cancelling a job from its
// current status.
func (e Engine) CancellationPenalty(j domain.Job) float64 {
	return e.Config.PenaltyRate(j.Status) * j.Pay
}

// CancelJob moves a job to CANCELLED. Allowed only from ACTIVE or
// IN_PROGRESS; anything else is a no-op returning false.
func (e Engine) CancelJob(ctx context.Context, jobID, reason, actorID string) (bool, error) {
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
	if j.Status != domain.JobStatusActive && j.Status != domain.JobStatusInProgress {
		return false, nil
	}
	penalty := e.CancellationPenalty(j)
	from := j.Status
	j.Status = domain.JobStatusCancelled
	j.CancelReason = &reason
	j.CancelPenalty = &penalty
	j.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateJobTx(ctx, tx, j); err != nil {
		return false, err
	}
	recipient := j.ClientID
	var sender *string
	if j.WorkerID != nil {
		recipient = *j.WorkerID
		sender = &j.ClientID
	}
	if err := e.notifyTx(ctx, tx, domain.Notification{
		RecipientID: recipient,
		SenderID:    sender,
		JobID:       &j.ID,
		Type:        domain.NotifyJobCancelled,
		Title:       "Job cancelled",
		Message:     fmt.Sprintf("%q was cancelled: %s", j.Title, reason),
	}); err != nil {
		return false, err
	}
	if err := e.Events.Append(ctx, tx, "job.cancelled", j.ID, "job", j.ID, actorID, events.EventPayload{
		"from":    from,
		"reason":  reason,
		"penalty": penalty,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// CreateInvoice links an invoice to a job exactly once. A second call
// returns false and leaves the record unchanged.
func (e Engine) CreateInvoice(ctx context.Context, jobID, invoiceID, actorID string) (bool, error) {
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
	if j.InvoiceCreated {
		return false, nil
	}
	if invoiceID == "" {
		invoiceID = uuid.New().String()
	}
	j.InvoiceID = &invoiceID
	j.InvoiceCreated = true
	j.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateJobTx(ctx, tx, j); err != nil {
		return false, err
	}
	if err := e.Events.Append(ctx, tx, "job.invoiced", j.ID, "job", j.ID, actorID, events.EventPayload{"invoice_id": invoiceID}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func actionType(s string) *string {
	return &s
}
