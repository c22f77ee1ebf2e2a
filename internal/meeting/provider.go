// Package meeting открывает и закрывает комнаты видеовстреч для live-занятий
package meeting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/clock"
	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionStore хранилище комнат
type SessionStore interface {
	CreateMeetSession(ctx context.Context, session *model.MeetSession) error
	EndMeetSession(ctx context.Context, id string, at time.Time) error
}

// StoreProvider ведёт комнаты в таблице meet_sessions
type StoreProvider struct {
	store  SessionStore
	clock  clock.Clock
	appURL string
	logger *zap.Logger
}

func NewStoreProvider(store SessionStore, clk clock.Clock, appURL string, logger *zap.Logger) *StoreProvider {
	return &StoreProvider{
		store:  store,
		clock:  clk,
		appURL: strings.TrimRight(appURL, "/"),
		logger: logger,
	}
}

// CreateSession открывает комнату class_<uuid> и возвращает её ID
func (p *StoreProvider) CreateSession(ctx context.Context, instance *model.ClassInstance) (string, error) {
	session := &model.MeetSession{
		ID:          uuid.NewString(),
		InstanceID:  instance.ID,
		OwnerID:     instance.TeacherID,
		RoomName:    RoomName(),
		SessionName: instance.Name,
		JoinURL:     p.appURL + "/class-instance/" + instance.ID,
		Status:      model.MeetSessionStatusActive,
		CreatedAt:   p.clock.Now(),
	}

	if err := p.store.CreateMeetSession(ctx, session); err != nil {
		return "", fmt.Errorf("create meeting for %s: %w", instance.ID, err)
	}

	p.logger.Info("Meeting session created",
		zap.String("instance_id", instance.ID),
		zap.String("meeting_session_id", session.ID),
		zap.String("room", session.RoomName))

	return session.ID, nil
}

// EndSession закрывает комнату. Повторное закрытие не ошибка.
func (p *StoreProvider) EndSession(ctx context.Context, meetingSessionID string) error {
	if err := p.store.EndMeetSession(ctx, meetingSessionID, p.clock.Now()); err != nil {
		return fmt.Errorf("end meeting %s: %w", meetingSessionID, err)
	}

	p.logger.Info("Meeting session ended", zap.String("meeting_session_id", meetingSessionID))
	return nil
}

// RoomName уникальное имя комнаты
func RoomName() string {
	return "class_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
