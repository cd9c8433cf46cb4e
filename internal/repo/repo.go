package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gigline/internal/config"
	"gigline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

const jobColumns = `id,client_id,client_name,title,description,job_type,pay,status,worker_id,worker_name,
workflow_phase,timeline_stage,cancel_reason,cancel_penalty,invoice_id,invoice_created,
evidence_files_json,evidence_uploaded,completion_note,payment_amount,payment_proof_url,payment_date,
receipt_confirmed_at,finalized_at,is_completed,completed_at,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var j domain.Job
	var clientName, description, workerID, workerName, phase, stage sql.NullString
	var cancelReason, invoiceID, evidenceJSON, completionNote, proofURL sql.NullString
	var paymentDate, receiptAt, finalizedAt, completedAt sql.NullString
	var cancelPenalty, paymentAmount sql.NullFloat64
	err := row.Scan(&j.ID, &j.ClientID, &clientName, &j.Title, &description, &j.JobType, &j.Pay, &j.Status,
		&workerID, &workerName, &phase, &stage, &cancelReason, &cancelPenalty, &invoiceID, &j.InvoiceCreated,
		&evidenceJSON, &j.EvidenceUploaded, &completionNote, &paymentAmount, &proofURL, &paymentDate,
		&receiptAt, &finalizedAt, &j.IsCompleted, &completedAt, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if err != nil {
		return j, err
	}
	if clientName.Valid {
		j.ClientName = clientName.String
	}
	if description.Valid {
		j.Description = description.String
	}
	if workerID.Valid {
		j.WorkerID = &workerID.String
	}
	if workerName.Valid {
		j.WorkerName = &workerName.String
	}
	if phase.Valid {
		j.WorkflowPhase = &phase.String
	}
	if stage.Valid {
		j.TimelineStage = &stage.String
	}
	if cancelReason.Valid {
		j.CancelReason = &cancelReason.String
	}
	if cancelPenalty.Valid {
		j.CancelPenalty = &cancelPenalty.Float64
	}
	if invoiceID.Valid {
		j.InvoiceID = &invoiceID.String
	}
	if evidenceJSON.Valid && evidenceJSON.String != "" {
		_ = json.Unmarshal([]byte(evidenceJSON.String), &j.EvidenceFiles)
	}
	if completionNote.Valid {
		j.CompletionNote = &completionNote.String
	}
	if paymentAmount.Valid {
		j.PaymentAmount = &paymentAmount.Float64
	}
	if proofURL.Valid {
		j.PaymentProofURL = &proofURL.String
	}
	if paymentDate.Valid {
		j.PaymentDate = &paymentDate.String
	}
	if receiptAt.Valid {
		j.ReceiptConfirmedAt = &receiptAt.String
	}
	if finalizedAt.Valid {
		j.FinalizedAt = &finalizedAt.String
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.String
	}
	return j, nil
}

func evidenceJSON(files []string) (any, error) {
	if len(files) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(files)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r Repo) InsertJobTx(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	ev, err := evidenceJSON(j.EvidenceFiles)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO jobs(`+jobColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.ClientID, nullable(j.ClientName), j.Title, nullable(j.Description), j.JobType, j.Pay, j.Status,
		nullableStringPtr(j.WorkerID), nullableStringPtr(j.WorkerName), nullableStringPtr(j.WorkflowPhase), nullableStringPtr(j.TimelineStage),
		nullableStringPtr(j.CancelReason), nullableFloatPtr(j.CancelPenalty), nullableStringPtr(j.InvoiceID), j.InvoiceCreated,
		ev, j.EvidenceUploaded, nullableStringPtr(j.CompletionNote), nullableFloatPtr(j.PaymentAmount),
		nullableStringPtr(j.PaymentProofURL), nullableStringPtr(j.PaymentDate), nullableStringPtr(j.ReceiptConfirmedAt),
		nullableStringPtr(j.FinalizedAt), j.IsCompleted, nullableStringPtr(j.CompletedAt), j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) UpdateJobTx(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	ev, err := evidenceJSON(j.EvidenceFiles)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET client_id=?, client_name=?, title=?, description=?, job_type=?, pay=?, status=?,
worker_id=?, worker_name=?, workflow_phase=?, timeline_stage=?, cancel_reason=?, cancel_penalty=?, invoice_id=?, invoice_created=?,
evidence_files_json=?, evidence_uploaded=?, completion_note=?, payment_amount=?, payment_proof_url=?, payment_date=?,
receipt_confirmed_at=?, finalized_at=?, is_completed=?, completed_at=?, updated_at=? WHERE id=?`,
		j.ClientID, nullable(j.ClientName), j.Title, nullable(j.Description), j.JobType, j.Pay, j.Status,
		nullableStringPtr(j.WorkerID), nullableStringPtr(j.WorkerName), nullableStringPtr(j.WorkflowPhase), nullableStringPtr(j.TimelineStage),
		nullableStringPtr(j.CancelReason), nullableFloatPtr(j.CancelPenalty), nullableStringPtr(j.InvoiceID), j.InvoiceCreated,
		ev, j.EvidenceUploaded, nullableStringPtr(j.CompletionNote), nullableFloatPtr(j.PaymentAmount),
		nullableStringPtr(j.PaymentProofURL), nullableStringPtr(j.PaymentDate), nullableStringPtr(j.ReceiptConfirmedAt),
		nullableStringPtr(j.FinalizedAt), j.IsCompleted, nullableStringPtr(j.CompletedAt), j.UpdatedAt, j.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return scanJob(r.DB.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id))
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.Job, error) {
	return scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id))
}

type JobFilters struct {
	ClientID string
	WorkerID string
	Status   string
	JobType  string
	Limit    int
}

func (r Repo) ListJobs(ctx context.Context, f JobFilters) ([]domain.Job, error) {
	var clauses []string
	var args []any
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.WorkerID != "" {
		clauses = append(clauses, "worker_id=?")
		args = append(args, f.WorkerID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.JobType != "" {
		clauses = append(clauses, "job_type=?")
		args = append(args, f.JobType)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + jobColumns + ` FROM jobs ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func (r Repo) CountJobsByStatus(ctx context.Context, clientID string) (map[string]int, error) {
	query := `SELECT status, count(*) FROM jobs`
	var args []any
	if clientID != "" {
		query += ` WHERE client_id=?`
		args = append(args, clientID)
	}
	query += ` GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

func (r Repo) UpsertMarketplaceConfig(ctx context.Context, marketplaceID string, cfg *config.Config) error {
	return upsertMarketplaceConfig(ctx, r.DB, nil, marketplaceID, cfg)
}

func (r Repo) UpsertMarketplaceConfigTx(ctx context.Context, tx *sql.Tx, marketplaceID string, cfg *config.Config) error {
	return upsertMarketplaceConfig(ctx, nil, tx, marketplaceID, cfg)
}

func upsertMarketplaceConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, marketplaceID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Marketplace.ID = marketplaceID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO marketplace_configs(marketplace_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(marketplace_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, marketplaceID, string(payload), now, now)
	return err
}

func (r Repo) GetMarketplaceConfig(ctx context.Context, marketplaceID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM marketplace_configs WHERE marketplace_id=?`, marketplaceID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Marketplace.ID == "" {
		cfg.Marketplace.ID = marketplaceID
	}
	return &cfg, cfg.Validate()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
