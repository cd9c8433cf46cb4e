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

var progressByPhase = map[string]int{
	domain.PhaseRequestPosted:     10,
	domain.PhaseOffersReceived:    20,
	domain.PhaseContractSelected:  30,
	domain.PhaseExecutionStarted:  40,
	domain.PhaseExecutionProgress: 50,
	domain.PhaseEvidenceUploaded:  60,
	domain.PhaseCompletionSubmit:  70,
	domain.PhaseClientConfirmed:   80,
	domain.PhasePaymentProcessing: 85,
	domain.PhasePaymentProof:      90,
	domain.PhaseReceiptConfirmed:  95,
	domain.PhaseWorkflowFinalized: 100,
}

// NextPhase returns the successor of a workflow phase. ok is false for
// the terminal phase and for unknown values.
func NextPhase(phase string) (string, bool) {
	ord := domain.PhaseOrdinal(phase)
	phases := domain.Phases()
	if ord < 0 || ord >= len(phases)-1 {
		return "", false
	}
	return phases[ord+1], true
}

// ProgressPercent maps a workflow phase to its completion percentage.
func ProgressPercent(phase string) int {
	return progressByPhase[phase]
}

// CanAdvance reports whether a job's workflow may move to the next
// phase. The step into EVIDENCE_UPLOADED is gated on evidence being on
// file; the terminal phase never advances.
func CanAdvance(j domain.Job) bool {
	if j.WorkflowPhase == nil {
		return false
	}
	next, ok := NextPhase(*j.WorkflowPhase)
	if !ok {
		return false
	}
	if next == domain.PhaseEvidenceUploaded && !j.EvidenceUploaded {
		return false
	}
	return true
}

// processPhase runs one workflow step: it loads the job, applies the
// mutation, verifies the step lands exactly on the phase successor, and
// stamps the new phase. Returns false when the job is unknown or the
// workflow is not at the expected point.
func (e Engine) processPhase(ctx context.Context, jobID, target, actorID string, mutate func(*domain.Job)) (domain.Job, bool, error) {
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
	if j.WorkflowPhase == nil {
		return j, false, nil
	}
	from := *j.WorkflowPhase
	if mutate != nil {
		mutate(&j)
	}
	next, ok := NextPhase(from)
	if !ok || next != target {
		return j, false, nil
	}
	if !CanAdvance(j) {
		return j, false, nil
	}
	phase := target
	j.WorkflowPhase = &phase
	j.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateJobTx(ctx, tx, j); err != nil {
		return j, false, err
	}
	recipient := j.ClientID
	if j.WorkerID != nil && actorID == j.ClientID {
		recipient = *j.WorkerID
	}
	notifType := domain.NotifyPhaseAdvanced
	title := "Workflow update"
	message := fmt.Sprintf("%q is now at %s (%d%%).", j.Title, phase, ProgressPercent(phase))
	if phase == domain.PhasePaymentProof {
		notifType = domain.NotifyPaymentSent
		title = "Payment sent"
		message = fmt.Sprintf("Payment proof was uploaded for %q.", j.Title)
	}
	if err := e.notifyTx(ctx, tx, domain.Notification{
		RecipientID: recipient,
		JobID:       &j.ID,
		Type:        notifType,
		Title:       title,
		Message:     message,
	}); err != nil {
		return j, false, err
	}
	if err := e.Events.Append(ctx, tx, "workflow.phase", j.ID, "job", j.ID, actorID, events.EventPayload{
		"from":     from,
		"to":       phase,
		"progress": ProgressPercent(phase),
	}); err != nil {
		return j, false, err
	}
	if err := tx.Commit(); err != nil {
		return j, false, err
	}
	return j, true, nil
}

// AdvancePhase moves a job's workflow one step forward without any
// phase-specific payload. Useful for the early marketplace phases.
func (e Engine) AdvancePhase(ctx context.Context, jobID, actorID string) (domain.Job, bool, error) {
	j, err := e.Repo.GetJob(ctx, jobID)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Job{}, false, nil
	}
	if err != nil {
		return domain.Job{}, false, err
	}
	if j.WorkflowPhase == nil {
		return j, false, nil
	}
	next, ok := NextPhase(*j.WorkflowPhase)
	if !ok {
		return j, false, nil
	}
	return e.processPhase(ctx, jobID, next, actorID, nil)
}

// UploadEvidence attaches work evidence to the job and moves the
// workflow to EVIDENCE_UPLOADED. Requires the execution to be in
// progress and at least one file.
func (e Engine) UploadEvidence(ctx context.Context, jobID string, files []string, actorID string) (domain.Job, bool, error) {
	if len(files) == 0 {
		return domain.Job{}, false, nil
	}
	return e.processPhase(ctx, jobID, domain.PhaseEvidenceUploaded, actorID, func(j *domain.Job) {
		j.EvidenceFiles = append(j.EvidenceFiles, files...)
		j.EvidenceUploaded = true
	})
}

// SubmitCompletion records the worker's completion note and moves the
// workflow to COMPLETION_SUBMITTED.
func (e Engine) SubmitCompletion(ctx context.Context, jobID, note, actorID string) (domain.Job, bool, error) {
	return e.processPhase(ctx, jobID, domain.PhaseCompletionSubmit, actorID, func(j *domain.Job) {
		if note != "" {
			j.CompletionNote = &note
		}
	})
}

// ConfirmCompletion is the client's sign-off on the submitted work.
func (e Engine) ConfirmCompletion(ctx context.Context, jobID, actorID string) (domain.Job, bool, error) {
	return e.processPhase(ctx, jobID, domain.PhaseClientConfirmed, actorID, nil)
}

// StartPayment opens the payment leg. A non-positive amount defaults to
// the job's pay.
func (e Engine) StartPayment(ctx context.Context, jobID string, amount float64, actorID string) (domain.Job, bool, error) {
	return e.processPhase(ctx, jobID, domain.PhasePaymentProcessing, actorID, func(j *domain.Job) {
		if amount <= 0 {
			amount = j.Pay
		}
		j.PaymentAmount = &amount
	})
}

// UploadPaymentProof records the client's proof of payment and notifies
// the worker.
func (e Engine) UploadPaymentProof(ctx context.Context, jobID, proofURL, actorID string) (domain.Job, bool, error) {
	if proofURL == "" {
		return domain.Job{}, false, nil
	}
	now := e.now().UTC().Format(time.RFC3339)
	return e.processPhase(ctx, jobID, domain.PhasePaymentProof, actorID, func(j *domain.Job) {
		j.PaymentProofURL = &proofURL
		j.PaymentDate = &now
	})
}

// ConfirmReceipt is the worker acknowledging the payment arrived.
func (e Engine) ConfirmReceipt(ctx context.Context, jobID, actorID string) (domain.Job, bool, error) {
	now := e.now().UTC().Format(time.RFC3339)
	return e.processPhase(ctx, jobID, domain.PhaseReceiptConfirmed, actorID, func(j *domain.Job) {
		j.ReceiptConfirmedAt = &now
	})
}

// FinalizeWorkflow closes the workflow, creating the invoice if no
// earlier step did.
func (e Engine) FinalizeWorkflow(ctx context.Context, jobID, actorID string) (domain.Job, bool, error) {
	now := e.now().UTC().Format(time.RFC3339)
	return e.processPhase(ctx, jobID, domain.PhaseWorkflowFinalized, actorID, func(j *domain.Job) {
		j.FinalizedAt = &now
		if !j.InvoiceCreated {
			id := uuid.New().String()
			j.InvoiceID = &id
			j.InvoiceCreated = true
		}
	})
}
