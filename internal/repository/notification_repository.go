package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type NotificationRepository struct {
	*base.Repository
}

func NewNotificationRepository(pool *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{Repository: base.NewRepository(pool)}
}

// CreateNotifications вставляет пачку уведомлений одним батчем
func (r *NotificationRepository) CreateNotifications(ctx context.Context, notifications []*model.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, n := range notifications {
		batch.Queue(`
			INSERT INTO notifications (id, student_id, kind, title, message, payload, read, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, n.ID, n.StudentID, n.Kind, n.Title, n.Message, n.Payload, n.Read, n.CreatedAt)
	}

	if err := r.Pool().SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("create notifications: %w", err)
	}
	return nil
}

// ListByStudent возвращает последние уведомления студента
func (r *NotificationRepository) ListByStudent(ctx context.Context, studentID string, limit int) ([]*model.Notification, error) {
	rows, err := r.Query(ctx, `
		SELECT id, student_id, kind, title, message, payload, read, created_at
		FROM notifications
		WHERE student_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, studentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []*model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.StudentID, &n.Kind, &n.Title, &n.Message, &n.Payload, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, &n)
	}

	return out, rows.Err()
}
