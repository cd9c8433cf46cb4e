package repo

import (
	"context"
	"database/sql"

	"gigline/internal/domain"
)

const timelineColumns = `id,job_id,worker_id,worker_name,client_id,client_name,current_stage,created_at`

func scanTimeline(row rowScanner) (domain.Timeline, error) {
	var t domain.Timeline
	var workerName, clientName sql.NullString
	err := row.Scan(&t.ID, &t.JobID, &t.WorkerID, &workerName, &t.ClientID, &clientName, &t.CurrentStage, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if workerName.Valid {
		t.WorkerName = workerName.String
	}
	if clientName.Valid {
		t.ClientName = clientName.String
	}
	return t, nil
}

// UpsertTimelineTx creates or replaces the single timeline for a job.
// The job_id UNIQUE constraint keeps the 1:1 relation.
func (r Repo) UpsertTimelineTx(ctx context.Context, tx *sql.Tx, t domain.Timeline) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO timelines(`+timelineColumns+`) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(job_id) DO UPDATE SET worker_id=excluded.worker_id, worker_name=excluded.worker_name, current_stage=excluded.current_stage`,
		t.ID, t.JobID, t.WorkerID, nullable(t.WorkerName), t.ClientID, nullable(t.ClientName), t.CurrentStage, t.CreatedAt)
	return err
}

func (r Repo) GetTimelineByJob(ctx context.Context, jobID string) (domain.Timeline, error) {
	return scanTimeline(r.DB.QueryRowContext(ctx, `SELECT `+timelineColumns+` FROM timelines WHERE job_id=?`, jobID))
}

func (r Repo) GetTimelineByJobTx(ctx context.Context, tx *sql.Tx, jobID string) (domain.Timeline, error) {
	return scanTimeline(tx.QueryRowContext(ctx, `SELECT `+timelineColumns+` FROM timelines WHERE job_id=?`, jobID))
}

func (r Repo) UpdateTimelineStageTx(ctx context.Context, tx *sql.Tx, timelineID, stage string) error {
	res, err := tx.ExecContext(ctx, `UPDATE timelines SET current_stage=? WHERE id=?`, stage, timelineID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) AppendTimelineEventTx(ctx context.Context, tx *sql.Tx, e domain.TimelineEvent) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO timeline_events(timeline_id,job_id,stage,status,message,actor_id,actor_name,ts)
VALUES (?,?,?,?,?,?,?,?)`,
		e.TimelineID, e.JobID, e.Stage, nullable(e.Status), nullable(e.Message), e.ActorID, nullable(e.ActorName), e.TS)
	return err
}

// ListTimelineEvents returns the append-only event sequence in insertion order.
func (r Repo) ListTimelineEvents(ctx context.Context, timelineID string) ([]domain.TimelineEvent, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,timeline_id,job_id,stage,status,message,actor_id,actor_name,ts FROM timeline_events WHERE timeline_id=? ORDER BY id ASC`, timelineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TimelineEvent
	for rows.Next() {
		var e domain.TimelineEvent
		var status, message, actorName sql.NullString
		if err := rows.Scan(&e.ID, &e.TimelineID, &e.JobID, &e.Stage, &status, &message, &e.ActorID, &actorName, &e.TS); err != nil {
			return nil, err
		}
		if status.Valid {
			e.Status = status.String
		}
		if message.Valid {
			e.Message = message.String
		}
		if actorName.Valid {
			e.ActorName = actorName.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LastTimelineEventTx returns the most recently appended event for a timeline.
func (r Repo) LastTimelineEventTx(ctx context.Context, tx *sql.Tx, timelineID string) (domain.TimelineEvent, error) {
	var e domain.TimelineEvent
	var status, message, actorName sql.NullString
	err := tx.QueryRowContext(ctx,
		`SELECT id,timeline_id,job_id,stage,status,message,actor_id,actor_name,ts FROM timeline_events WHERE timeline_id=? ORDER BY id DESC LIMIT 1`, timelineID).
		Scan(&e.ID, &e.TimelineID, &e.JobID, &e.Stage, &status, &message, &e.ActorID, &actorName, &e.TS)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	if err != nil {
		return e, err
	}
	if status.Valid {
		e.Status = status.String
	}
	if message.Valid {
		e.Message = message.String
	}
	if actorName.Valid {
		e.ActorName = actorName.String
	}
	return e, nil
}
