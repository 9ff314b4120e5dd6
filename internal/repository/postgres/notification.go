package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/billpay/internal/models"
)

type NotificationRepo struct {
	DB DBTX
}

const notificationColumns = `id, user_id, type, title, message, data, channels, created_at`

func (r *NotificationRepo) CreateNotification(ctx context.Context, n models.Notification) (models.Notification, error) {
	const createNotification = `
	INSERT INTO notifications (id, user_id, type, title, message, data, channels, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING ` + notificationColumns

	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}
	if n.Channels == nil {
		n.Channels = []string{}
	}

	rows, _ := r.DB.Query(ctx, createNotification, n.ID, n.UserID, n.Type, n.Title, n.Message, n.Data, n.Channels, n.CreatedAt)
	created, err := pgx.CollectOneRow(rows, rowToNotification)
	if err != nil {
		return created, fmt.Errorf("db error: %w", err)
	}

	return created, nil
}

func (r *NotificationRepo) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error) {
	const listNotifications = `
	SELECT ` + notificationColumns + ` FROM notifications
	WHERE user_id = $1
	ORDER BY created_at DESC
	LIMIT NULLIF($2::int, 0)
	`

	rows, _ := r.DB.Query(ctx, listNotifications, userID, limit)
	notifications, err := pgx.CollectRows(rows, rowToNotification)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return notifications, nil
}

func rowToNotification(row pgx.CollectableRow) (models.Notification, error) {
	var n models.Notification
	err := row.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Data, &n.Channels, &n.CreatedAt)
	return n, err
}
