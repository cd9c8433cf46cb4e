package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gigline/internal/domain"
	"gigline/internal/events"
	"gigline/internal/repo"
)

// ensureTimelineTx returns the job's execution timeline, creating it at
// JOB_ACCEPTED with its opening event when none exists yet. A job never
// carries more than one timeline; re-assignment reuses the existing row.
func (e Engine) ensureTimelineTx(ctx context.Context, tx *sql.Tx, j domain.Job, workerID, workerName string) (domain.Timeline, error) {
	t, err := e.Repo.GetTimelineByJobTx(ctx, tx, j.ID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.Timeline{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	t = domain.Timeline{
		ID:           uuid.New().String(),
		JobID:        j.ID,
		WorkerID:     workerID,
		WorkerName:   workerName,
		ClientID:     j.ClientID,
		ClientName:   j.ClientName,
		CurrentStage: domain.StageJobAccepted,
		CreatedAt:    now,
	}
	if err := e.Repo.UpsertTimelineTx(ctx, tx, t); err != nil {
		return domain.Timeline{}, err
	}
	if err := e.Repo.AppendTimelineEventTx(ctx, tx, domain.TimelineEvent{
		TimelineID: t.ID,
		JobID:      j.ID,
		Stage:      domain.StageJobAccepted,
		Status:     "COMPLETED",
		Message:    "Worker accepted the job",
		ActorID:    workerID,
		ActorName:  workerName,
		TS:         now,
	}); err != nil {
		return domain.Timeline{}, err
	}
	return t, nil
}

// phaseForStage maps an execution milestone to the workflow phase it
// implies. The terminal stage only submits completion once evidence is
// on file; without evidence the phase stays put and the client collects
// it before the workflow moves on.
func phaseForStage(stage string, evidenceUploaded bool) string {
	switch stage {
	case domain.StageWorkerOnTheWay:
		return domain.PhaseExecutionStarted
	case domain.StageWorkerStarted:
		return domain.PhaseExecutionProgress
	case domain.StageJobCompleted:
		if evidenceUploaded {
			return domain.PhaseCompletionSubmit
		}
		return domain.PhaseExecutionProgress
	}
	return ""
}

// AdvanceStage records a stage milestone on the job's timeline. Stages
// only move forward; repeating the current stage appends a progress
// event without moving the pointer. Reaching JOB_COMPLETED completes
// the job itself.
func (e Engine) AdvanceStage(ctx context.Context, jobID, stage, message, actorID, actorName string) (bool, error) {
	if domain.StageOrdinal(stage) < 0 {
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
	t, err := e.Repo.GetTimelineByJobTx(ctx, tx, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if domain.StageOrdinal(stage) < domain.StageOrdinal(t.CurrentStage) {
		return false, nil
	}
	if t.CurrentStage == domain.TerminalStage && stage == domain.TerminalStage {
		return false, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.AppendTimelineEventTx(ctx, tx, domain.TimelineEvent{
		TimelineID: t.ID,
		JobID:      jobID,
		Stage:      stage,
		Status:     "COMPLETED",
		Message:    message,
		ActorID:    actorID,
		ActorName:  actorName,
		TS:         now,
	}); err != nil {
		return false, err
	}
	if err := e.Repo.UpdateTimelineStageTx(ctx, tx, t.ID, stage); err != nil {
		return false, err
	}
	s := stage
	j.TimelineStage = &s
	if phase := phaseForStage(stage, j.EvidenceUploaded); phase != "" {
		bumpPhase(&j, phase)
	}
	if stage == domain.TerminalStage {
		j.Status = domain.JobStatusCompleted
		j.IsCompleted = true
		j.CompletedAt = &now
	}
	j.UpdatedAt = now
	if err := e.Repo.UpdateJobTx(ctx, tx, j); err != nil {
		return false, err
	}
	if err := e.notifyTx(ctx, tx, domain.Notification{
		RecipientID: j.ClientID,
		SenderID:    j.WorkerID,
		JobID:       &j.ID,
		Type:        domain.NotifyStageUpdated,
		Title:       "Job progress",
		Message:     fmt.Sprintf("%q moved to %s.", j.Title, stage),
	}); err != nil {
		return false, err
	}
	if err := e.Events.Append(ctx, tx, "timeline.advanced", jobID, "timeline", t.ID, actorID, events.EventPayload{
		"stage": stage,
	}); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

// MarkCompleted jumps the timeline straight to its terminal stage.
func (e Engine) MarkCompleted(ctx context.Context, jobID, message, actorID, actorName string) (bool, error) {
	return e.AdvanceStage(ctx, jobID, domain.TerminalStage, message, actorID, actorName)
}

// GetTimeline returns the timeline for a job with its full event
// history. repo.ErrNotFound passes through when the job has no timeline.
func (e Engine) GetTimeline(ctx context.Context, jobID string) (domain.Timeline, error) {
	t, err := e.Repo.GetTimelineByJob(ctx, jobID)
	if err != nil {
		return domain.Timeline{}, err
	}
	evts, err := e.Repo.ListTimelineEvents(ctx, t.ID)
	if err != nil {
		return domain.Timeline{}, err
	}
	t.Events = evts
	return t, nil
}
