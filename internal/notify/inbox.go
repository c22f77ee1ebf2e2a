package notify

import (
	"context"
	"fmt"
	"maps"

	"github.com/Freeeeeet/class_scheduler/internal/clock"
	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InboxStore хранилище входящих уведомлений
type InboxStore interface {
	CreateNotifications(ctx context.Context, notifications []*model.Notification) error
}

// InboxNotifier пишет по непрочитанному уведомлению каждому студенту
type InboxNotifier struct {
	store  InboxStore
	clock  clock.Clock
	logger *zap.Logger
}

func NewInboxNotifier(store InboxStore, clk clock.Clock, logger *zap.Logger) *InboxNotifier {
	return &InboxNotifier{store: store, clock: clk, logger: logger}
}

func (n *InboxNotifier) Notify(ctx context.Context, studentIDs []string, kind model.EventKind, payload map[string]any) error {
	if len(studentIDs) == 0 {
		return nil
	}

	now := n.clock.Now()
	message := messageFor(kind, payload)

	batch := make([]*model.Notification, 0, len(studentIDs))
	for _, studentID := range studentIDs {
		batch = append(batch, &model.Notification{
			ID:        uuid.NewString(),
			StudentID: studentID,
			Kind:      kind,
			Title:     kind.Title(),
			Message:   message,
			Payload:   maps.Clone(payload),
			CreatedAt: now,
		})
	}

	if err := n.store.CreateNotifications(ctx, batch); err != nil {
		return fmt.Errorf("save %s notifications: %w", kind, err)
	}

	n.logger.Debug("Inbox notifications saved",
		zap.String("event", string(kind)),
		zap.Int("count", len(batch)))
	return nil
}
