package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MeetSessionRepository struct {
	*base.Repository
}

func NewMeetSessionRepository(pool *pgxpool.Pool) *MeetSessionRepository {
	return &MeetSessionRepository{Repository: base.NewRepository(pool)}
}

// CreateMeetSession сохраняет открытую комнату
func (r *MeetSessionRepository) CreateMeetSession(ctx context.Context, session *model.MeetSession) error {
	_, err := r.Pool().Exec(ctx, `
		INSERT INTO meet_sessions (id, instance_id, owner_id, room_name, session_name, join_url, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, session.ID, session.InstanceID, session.OwnerID, session.RoomName, session.SessionName,
		session.JoinURL, session.Status, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("create meet session: %w", err)
	}
	return nil
}

// EndMeetSession закрывает комнату. Повторное закрытие не ошибка.
func (r *MeetSessionRepository) EndMeetSession(ctx context.Context, id string, at time.Time) error {
	var status model.MeetSessionStatus
	err := r.QueryRow(ctx, `
		UPDATE meet_sessions
		SET status = 'ended', ended_at = COALESCE(ended_at, $2)
		WHERE id = $1
		RETURNING status
	`, id, at).Scan(&status)
	if base.IsNotFound(err) {
		return fmt.Errorf("end meet session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("end meet session: %w", err)
	}
	return nil
}
