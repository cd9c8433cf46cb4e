package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"gigline/internal/domain"
)

// notifyTx appends a notification inside the caller's transaction,
// filling the identity and timestamp fields.
func (e Engine) notifyTx(ctx context.Context, tx *sql.Tx, n domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt == "" {
		n.CreatedAt = e.now().UTC().Format(time.RFC3339)
	}
	return e.Repo.InsertNotificationTx(ctx, tx, n)
}

// Notify delivers an ad-hoc notification outside the lifecycle
// cascades.
func (e Engine) Notify(ctx context.Context, n domain.Notification) (domain.Notification, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt == "" {
		n.CreatedAt = e.now().UTC().Format(time.RFC3339)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Notification{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertNotificationTx(ctx, tx, n); err != nil {
		return domain.Notification{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Notification{}, err
	}
	return n, nil
}

// Notifications returns a recipient's feed, newest first.
func (e Engine) Notifications(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	return e.Repo.ListNotifications(ctx, recipientID, limit)
}

// NotificationsByType filters a recipient's feed to one notification
// type.
func (e Engine) NotificationsByType(ctx context.Context, recipientID, notifType string) ([]domain.Notification, error) {
	return e.Repo.ListNotificationsByType(ctx, recipientID, notifType)
}

// MarkNotificationRead flips the read flag. Returns false for an
// unknown notification.
func (e Engine) MarkNotificationRead(ctx context.Context, id string) (bool, error) {
	return e.Repo.MarkNotificationRead(ctx, id)
}

// ClearNotifications drops a recipient's feed and returns how many
// entries were removed.
func (e Engine) ClearNotifications(ctx context.Context, recipientID string) (int64, error) {
	return e.Repo.ClearNotifications(ctx, recipientID)
}

// UnreadCount returns the number of unread notifications for a
// recipient.
func (e Engine) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	return e.Repo.CountUnreadNotifications(ctx, recipientID)
}
