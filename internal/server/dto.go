package server

import "gigline/internal/domain"

type CreateJobRequest struct {
	ID          string  `json:"id,omitempty"`
	ClientID    string  `json:"client_id,omitempty"`
	ClientName  string  `json:"client_name,omitempty"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	JobType     string  `json:"job_type"`
	Pay         float64 `json:"pay"`
	Draft       bool    `json:"draft,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status" enum:"ACTIVE,APPLIED,IN_PROGRESS,COMPLETED"`
}

type CancelJobRequest struct {
	Reason string `json:"reason"`
}

type AssignWorkerRequest struct {
	WorkerID   string `json:"worker_id"`
	WorkerName string `json:"worker_name,omitempty"`
}

type InvoiceRequest struct {
	InvoiceID string `json:"invoice_id,omitempty"`
}

type ApplyRequest struct {
	WorkerID   string `json:"worker_id,omitempty"`
	WorkerName string `json:"worker_name,omitempty"`
	Message    string `json:"message,omitempty"`
}

type AdvanceStageRequest struct {
	Stage     string `json:"stage" enum:"JOB_ACCEPTED,WORKER_ON_THE_WAY,WORKER_STARTED_JOB,JOB_COMPLETED"`
	Message   string `json:"message,omitempty"`
	ActorName string `json:"actor_name,omitempty"`
}

type EvidenceRequest struct {
	Files []string `json:"files"`
}

type CompletionRequest struct {
	Note string `json:"note,omitempty"`
}

type PaymentRequest struct {
	Amount float64 `json:"amount,omitempty"`
}

type PaymentProofRequest struct {
	ProofURL string `json:"proof_url"`
}

type JobListResponse struct {
	Jobs []domain.Job `json:"jobs"`
}

type ApplicationListResponse struct {
	Applications []domain.Application `json:"applications"`
}

type WorkflowResponse struct {
	JobID      string  `json:"job_id"`
	Phase      *string `json:"phase,omitempty"`
	NextPhase  *string `json:"next_phase,omitempty"`
	Progress   int     `json:"progress"`
	CanAdvance bool    `json:"can_advance"`
}

type NotificationListResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

type EventListResponse struct {
	Events []domain.Event `json:"events"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}
