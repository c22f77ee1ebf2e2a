package service

import (
	"context"
	"errors"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/repository"
	"go.uber.org/zap"
)

const (
	autoStartLookahead = 6 * time.Minute
	autoStartMinutes   = 1
	reminderMinMinutes = 4
	reminderMaxMinutes = 6
)

// SweepResult итог одного прохода автозапуска
type SweepResult struct {
	Started  int `json:"started"`
	Reminded int `json:"reminded"`
}

// AutoStarter запускает занятия, до начала которых осталась минута,
// и один раз напоминает о занятиях, до которых 4-6 минут
type AutoStarter struct {
	lifecycle *SessionLifecycle
	logger    *zap.Logger
}

func NewAutoStarter(lifecycle *SessionLifecycle, logger *zap.Logger) *AutoStarter {
	return &AutoStarter{lifecycle: lifecycle, logger: logger}
}

// Run выполняет один проход. Ошибка отдельного занятия логируется и не прерывает проход.
func (a *AutoStarter) Run(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	l := a.lifecycle
	now := l.clock.Now()
	until := now.Add(autoStartLookahead)

	upcoming, err := l.instances.ListInstances(ctx, repository.InstanceFilter{
		Statuses: []model.InstanceStatus{model.InstanceStatusScheduled},
		From:     &now,
		To:       &until,
	})
	if err != nil {
		return result, &StoreError{Op: "list upcoming instances", Err: err}
	}

	for _, instance := range upcoming {
		if !instance.ScheduledStart.After(now) {
			continue
		}

		minutes := int(instance.ScheduledStart.Sub(now) / time.Minute)

		switch {
		case minutes <= autoStartMinutes:
			if _, err := l.Start(ctx, instance.ID); err != nil {
				// занятие могли запустить вручную между выборкой и переходом
				if errors.Is(err, ErrInvalidTransition) {
					continue
				}
				a.logger.Error("Failed to auto-start class",
					zap.String("instance_id", instance.ID),
					zap.Error(err))
				continue
			}
			result.Started++

		case minutes >= reminderMinMinutes && minutes <= reminderMaxMinutes:
			if a.remind(ctx, instance, minutes, now) {
				result.Reminded++
			}
		}
	}

	if result.Started > 0 || result.Reminded > 0 {
		a.logger.Info("Auto-start sweep finished",
			zap.Int("started", result.Started),
			zap.Int("reminded", result.Reminded))
	}

	return result, nil
}

func (a *AutoStarter) remind(ctx context.Context, instance *model.ClassInstance, minutes int, now time.Time) bool {
	l := a.lifecycle
	if len(instance.EligibleStudentIDs) == 0 {
		return false
	}

	marked, err := l.instances.MarkReminded(ctx, instance.ID, now)
	if err != nil {
		a.logger.Error("Failed to mark reminder",
			zap.String("instance_id", instance.ID),
			zap.Error(err))
		return false
	}
	if !marked {
		return false
	}

	sctx, cancel := l.sideEffectContext(ctx)
	defer cancel()

	l.notify(sctx, instance, model.EventClassStartingSoon, map[string]any{"minutes_until_start": minutes})
	return true
}
