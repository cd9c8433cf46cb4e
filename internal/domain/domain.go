package domain

// Job status values, ordered. CANCELLED is terminal and reachable only
// through the cancel path; DRAFT sits before ACTIVE and is only used by
// the staged-creation flow.
const (
	JobStatusDraft      = "DRAFT"
	JobStatusActive     = "ACTIVE"
	JobStatusApplied    = "APPLIED"
	JobStatusInProgress = "IN_PROGRESS"
	JobStatusCompleted  = "COMPLETED"
	JobStatusCancelled  = "CANCELLED"
)

var jobStatusOrder = map[string]int{
	JobStatusDraft:      -1,
	JobStatusActive:     0,
	JobStatusApplied:    1,
	JobStatusInProgress: 2,
	JobStatusCompleted:  3,
	JobStatusCancelled:  4,
}

// JobStatusOrdinal returns the ordinal of a job status, or -2 for an
// unknown value so unknown never compares ahead of a known status.
func JobStatusOrdinal(status string) int {
	if ord, ok := jobStatusOrder[status]; ok {
		return ord
	}
	return -2
}

// Application status values. PENDING is the only non-terminal state.
const (
	ApplicationPending   = "PENDING"
	ApplicationSelected  = "SELECTED"
	ApplicationRejected  = "REJECTED"
	ApplicationWithdrawn = "WITHDRAWN"
)

// Timeline stages, ordered. JOB_COMPLETED is terminal.
const (
	StageJobAccepted    = "JOB_ACCEPTED"
	StageWorkerOnTheWay = "WORKER_ON_THE_WAY"
	StageWorkerStarted  = "WORKER_STARTED_JOB"
	StageJobCompleted   = "JOB_COMPLETED"
	TerminalStage       = StageJobCompleted
)

var stageOrder = []string{
	StageJobAccepted,
	StageWorkerOnTheWay,
	StageWorkerStarted,
	StageJobCompleted,
}

// StageOrdinal returns the position of a timeline stage in the chain,
// or -1 for an unknown stage.
func StageOrdinal(stage string) int {
	for i, s := range stageOrder {
		if s == stage {
			return i
		}
	}
	return -1
}

// Stages returns the ordered timeline stage chain.
func Stages() []string {
	out := make([]string, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Workflow phases, ordered. WORKFLOW_FINALIZED is terminal.
const (
	PhaseRequestPosted     = "REQUEST_POSTED"
	PhaseOffersReceived    = "OFFERS_RECEIVED"
	PhaseContractSelected  = "CONTRACT_SELECTED"
	PhaseExecutionStarted  = "EXECUTION_STARTED"
	PhaseExecutionProgress = "EXECUTION_IN_PROGRESS"
	PhaseEvidenceUploaded  = "EVIDENCE_UPLOADED"
	PhaseCompletionSubmit  = "COMPLETION_SUBMITTED"
	PhaseClientConfirmed   = "CLIENT_CONFIRMED"
	PhasePaymentProcessing = "PAYMENT_PROCESSING"
	PhasePaymentProof      = "PAYMENT_PROOF_UPLOADED"
	PhaseReceiptConfirmed  = "CONTRACTOR_RECEIPT_CONFIRMED"
	PhaseWorkflowFinalized = "WORKFLOW_FINALIZED"
)

var phaseOrder = []string{
	PhaseRequestPosted,
	PhaseOffersReceived,
	PhaseContractSelected,
	PhaseExecutionStarted,
	PhaseExecutionProgress,
	PhaseEvidenceUploaded,
	PhaseCompletionSubmit,
	PhaseClientConfirmed,
	PhasePaymentProcessing,
	PhasePaymentProof,
	PhaseReceiptConfirmed,
	PhaseWorkflowFinalized,
}

// PhaseOrdinal returns the position of a workflow phase in the chain,
// or -1 for an unknown phase.
func PhaseOrdinal(phase string) int {
	for i, p := range phaseOrder {
		if p == phase {
			return i
		}
	}
	return -1
}

// Phases returns the ordered workflow phase chain.
func Phases() []string {
	out := make([]string, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// Notification types emitted by the engine.
const (
	NotifyJobApplication = "JOB_APPLICATION"
	NotifyJobSelected    = "JOB_SELECTED"
	NotifyJobRejected    = "JOB_REJECTED"
	NotifyJobCancelled   = "JOB_CANCELLED"
	NotifyStageUpdated   = "STAGE_UPDATED"
	NotifyPhaseAdvanced  = "PHASE_ADVANCED"
	NotifyPaymentSent    = "PAYMENT_SENT"
)

type Job struct {
	ID                 string   `json:"id"`
	ClientID           string   `json:"client_id"`
	ClientName         string   `json:"client_name,omitempty"`
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	JobType            string   `json:"job_type"`
	Pay                float64  `json:"pay"`
	Status             string   `json:"status" enum:"DRAFT,ACTIVE,APPLIED,IN_PROGRESS,COMPLETED,CANCELLED"`
	WorkerID           *string  `json:"worker_id,omitempty"`
	WorkerName         *string  `json:"worker_name,omitempty"`
	WorkflowPhase      *string  `json:"workflow_phase,omitempty"`
	TimelineStage      *string  `json:"timeline_stage,omitempty"`
	CancelReason       *string  `json:"cancel_reason,omitempty"`
	CancelPenalty      *float64 `json:"cancel_penalty,omitempty"`
	InvoiceID          *string  `json:"invoice_id,omitempty"`
	InvoiceCreated     bool     `json:"invoice_created"`
	EvidenceFiles      []string `json:"evidence_files,omitempty"`
	EvidenceUploaded   bool     `json:"evidence_uploaded"`
	CompletionNote     *string  `json:"completion_note,omitempty"`
	PaymentAmount      *float64 `json:"payment_amount,omitempty"`
	PaymentProofURL    *string  `json:"payment_proof_url,omitempty"`
	PaymentDate        *string  `json:"payment_date,omitempty" format:"date-time"`
	ReceiptConfirmedAt *string  `json:"receipt_confirmed_at,omitempty" format:"date-time"`
	FinalizedAt        *string  `json:"finalized_at,omitempty" format:"date-time"`
	IsCompleted        bool     `json:"is_completed"`
	CompletedAt        *string  `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
	UpdatedAt          string   `json:"updated_at" format:"date-time"`
}

type Application struct {
	ID          string  `json:"id"`
	JobID       string  `json:"job_id"`
	WorkerID    string  `json:"worker_id"`
	WorkerName  string  `json:"worker_name,omitempty"`
	Message     string  `json:"message,omitempty"`
	Status      string  `json:"status" enum:"PENDING,SELECTED,REJECTED,WITHDRAWN"`
	AppliedAt   string  `json:"applied_at" format:"date-time"`
	SelectedAt  *string `json:"selected_at,omitempty" format:"date-time"`
	WithdrawnAt *string `json:"withdrawn_at,omitempty" format:"date-time"`
}

type Timeline struct {
	ID           string          `json:"id"`
	JobID        string          `json:"job_id"`
	WorkerID     string          `json:"worker_id"`
	WorkerName   string          `json:"worker_name,omitempty"`
	ClientID     string          `json:"client_id"`
	ClientName   string          `json:"client_name,omitempty"`
	CurrentStage string          `json:"current_stage" enum:"JOB_ACCEPTED,WORKER_ON_THE_WAY,WORKER_STARTED_JOB,JOB_COMPLETED"`
	CreatedAt    string          `json:"created_at" format:"date-time"`
	Events       []TimelineEvent `json:"events,omitempty"`
}

type TimelineEvent struct {
	ID         int64  `json:"id"`
	TimelineID string `json:"timeline_id"`
	JobID      string `json:"job_id"`
	Stage      string `json:"stage"`
	Status     string `json:"status,omitempty"`
	Message    string `json:"message,omitempty"`
	ActorID    string `json:"actor_id"`
	ActorName  string `json:"actor_name,omitempty"`
	TS         string `json:"ts" format:"date-time"`
}

type Notification struct {
	ID             string  `json:"id"`
	RecipientID    string  `json:"recipient_id"`
	SenderID       *string `json:"sender_id,omitempty"`
	JobID          *string `json:"job_id,omitempty"`
	Type           string  `json:"type"`
	Title          string  `json:"title"`
	Message        string  `json:"message,omitempty"`
	ActionRequired bool    `json:"action_required"`
	ActionType     *string `json:"action_type,omitempty"`
	IsRead         bool    `json:"is_read"`
	CreatedAt      string  `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	JobID      string `json:"job_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
