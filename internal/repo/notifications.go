package repo

import (
	"context"
	"database/sql"

	"gigline/internal/domain"
)

const notificationColumns = `id,recipient_id,sender_id,job_id,type,title,message,action_required,action_type,is_read,created_at`

func scanNotification(row rowScanner) (domain.Notification, error) {
	var n domain.Notification
	var senderID, jobID, message, actionType sql.NullString
	err := row.Scan(&n.ID, &n.RecipientID, &senderID, &jobID, &n.Type, &n.Title, &message, &n.ActionRequired, &actionType, &n.IsRead, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	if err != nil {
		return n, err
	}
	if senderID.Valid {
		n.SenderID = &senderID.String
	}
	if jobID.Valid {
		n.JobID = &jobID.String
	}
	if message.Valid {
		n.Message = message.String
	}
	if actionType.Valid {
		n.ActionType = &actionType.String
	}
	return n, nil
}

func (r Repo) InsertNotificationTx(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO notifications(`+notificationColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		n.ID, n.RecipientID, nullableStringPtr(n.SenderID), nullableStringPtr(n.JobID), n.Type, n.Title,
		nullable(n.Message), n.ActionRequired, nullableStringPtr(n.ActionType), n.IsRead, n.CreatedAt)
	return err
}

// ListNotifications returns a recipient's feed, newest first. Ties on
// created_at (second resolution) fall back to insertion order via rowid
// so same-second notifications never interleave.
func (r Repo) ListNotifications(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE recipient_id=? ORDER BY created_at DESC, rowid DESC`
	args := []any{recipientID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// ListNotificationsByType returns a recipient's notifications of one type, newest first.
func (r Repo) ListNotificationsByType(ctx context.Context, recipientID, notifType string) ([]domain.Notification, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE recipient_id=? AND type=? ORDER BY created_at DESC, rowid DESC`,
		recipientID, notifType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkNotificationRead flips is_read; the record is otherwise immutable.
func (r Repo) MarkNotificationRead(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE notifications SET is_read=1 WHERE id=?`, id)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ClearNotifications deletes a recipient's feed and returns the count removed.
func (r Repo) ClearNotifications(ctx context.Context, recipientID string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM notifications WHERE recipient_id=?`, recipientID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) CountUnreadNotifications(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT count(*) FROM notifications WHERE recipient_id=? AND is_read=0`, recipientID).Scan(&n)
	return n, err
}
