// Package notify доставляет студентам события занятий: во входящие и в Telegram
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/Freeeeeet/class_scheduler/internal/model"
)

// Notifier получатель события
type Notifier interface {
	Notify(ctx context.Context, studentIDs []string, kind model.EventKind, payload map[string]any) error
}

// Multi рассылает событие всем каналам. Сбой одного канала не мешает остальным,
// ошибки каналов возвращаются вызывающему одной ошибкой.
type Multi struct {
	notifiers []Notifier
}

func NewMulti(notifiers ...Notifier) *Multi {
	var active []Notifier
	for _, n := range notifiers {
		if n != nil {
			active = append(active, n)
		}
	}
	return &Multi{notifiers: active}
}

func (m *Multi) Notify(ctx context.Context, studentIDs []string, kind model.EventKind, payload map[string]any) error {
	var errs []error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, studentIDs, kind, payload); err != nil {
			errs = append(errs, fmt.Errorf("channel %T: %w", n, err))
		}
	}
	return errors.Join(errs...)
}

// messageFor текст уведомления по событию
func messageFor(kind model.EventKind, payload map[string]any) string {
	name, _ := payload["name"].(string)
	if name == "" {
		name = "Занятие"
	}

	switch kind {
	case model.EventClassStarted:
		return fmt.Sprintf("🔴 %s началось", name)
	case model.EventClassEnded:
		return fmt.Sprintf("✅ %s завершилось", name)
	case model.EventClassCancelled:
		if reason, _ := payload["reason"].(string); reason != "" {
			return fmt.Sprintf("❌ %s отменено: %s", name, reason)
		}
		return fmt.Sprintf("❌ %s отменено", name)
	case model.EventClassStartingSoon:
		if minutes, ok := payload["minutes_until_start"].(int); ok {
			return fmt.Sprintf("⏰ %s начнётся через %d мин.", name, minutes)
		}
		return fmt.Sprintf("⏰ %s скоро начнётся", name)
	default:
		return name
	}
}
