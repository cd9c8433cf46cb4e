package repo

import (
	"context"
	"database/sql"

	"gigline/internal/domain"
)

const applicationColumns = `id,job_id,worker_id,worker_name,message,status,applied_at,selected_at,withdrawn_at`

func scanApplication(row rowScanner) (domain.Application, error) {
	var a domain.Application
	var workerName, message, selectedAt, withdrawnAt sql.NullString
	err := row.Scan(&a.ID, &a.JobID, &a.WorkerID, &workerName, &message, &a.Status, &a.AppliedAt, &selectedAt, &withdrawnAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if workerName.Valid {
		a.WorkerName = workerName.String
	}
	if message.Valid {
		a.Message = message.String
	}
	if selectedAt.Valid {
		a.SelectedAt = &selectedAt.String
	}
	if withdrawnAt.Valid {
		a.WithdrawnAt = &withdrawnAt.String
	}
	return a, nil
}

func (r Repo) InsertApplicationTx(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO applications(`+applicationColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ID, a.JobID, a.WorkerID, nullable(a.WorkerName), nullable(a.Message), a.Status, a.AppliedAt,
		nullableStringPtr(a.SelectedAt), nullableStringPtr(a.WithdrawnAt))
	return err
}

func (r Repo) UpdateApplicationTx(ctx context.Context, tx *sql.Tx, a domain.Application) error {
	res, err := tx.ExecContext(ctx, `UPDATE applications SET status=?, selected_at=?, withdrawn_at=? WHERE id=?`,
		a.Status, nullableStringPtr(a.SelectedAt), nullableStringPtr(a.WithdrawnAt), a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetApplication returns the application a worker filed against a job.
func (r Repo) GetApplication(ctx context.Context, jobID, workerID string) (domain.Application, error) {
	return scanApplication(r.DB.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE job_id=? AND worker_id=? ORDER BY applied_at DESC LIMIT 1`, jobID, workerID))
}

func (r Repo) GetApplicationTx(ctx context.Context, tx *sql.Tx, jobID, workerID string) (domain.Application, error) {
	return scanApplication(tx.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE job_id=? AND worker_id=? ORDER BY applied_at DESC LIMIT 1`, jobID, workerID))
}

// ListApplicationsByJob returns applications for a job, optionally filtered by status.
func (r Repo) ListApplicationsByJob(ctx context.Context, jobID, status string) ([]domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE job_id=?`
	args := []any{jobID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY applied_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectApplications(rows)
}

func (r Repo) ListApplicationsByJobTx(ctx context.Context, tx *sql.Tx, jobID, status string) ([]domain.Application, error) {
	query := `SELECT ` + applicationColumns + ` FROM applications WHERE job_id=?`
	args := []any{jobID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY applied_at ASC, id ASC`
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectApplications(rows)
}

func (r Repo) ListApplicationsByWorker(ctx context.Context, workerID string) ([]domain.Application, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE worker_id=? ORDER BY applied_at DESC, id DESC`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectApplications(rows)
}

// HasSelectedApplicationTx reports whether a job already holds a SELECTED application.
func (r Repo) HasSelectedApplicationTx(ctx context.Context, tx *sql.Tx, jobID string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM applications WHERE job_id=? AND status=? LIMIT 1`,
		jobID, domain.ApplicationSelected)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func collectApplications(rows *sql.Rows) ([]domain.Application, error) {
	var res []domain.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
