package service

import (
	"context"

	"github.com/Freeeeeet/class_scheduler/internal/clock"
	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/repository"
	"go.uber.org/zap"
)

const (
	DefaultRenewThreshold = 3
	DefaultRenewWeeks     = 4
)

// AutoRenewalMonitor продлевает горизонт расписания, когда будущих занятий остаётся мало
type AutoRenewalMonitor struct {
	schedules ScheduleStore
	instances InstanceStore
	generator *InstanceGenerator
	clock     clock.Clock
	threshold int
	weeks     int
	logger    *zap.Logger
}

func NewAutoRenewalMonitor(
	schedules ScheduleStore,
	instances InstanceStore,
	generator *InstanceGenerator,
	clk clock.Clock,
	threshold, weeks int,
	logger *zap.Logger,
) *AutoRenewalMonitor {
	if threshold <= 0 {
		threshold = DefaultRenewThreshold
	}
	if weeks <= 0 {
		weeks = DefaultRenewWeeks
	}

	return &AutoRenewalMonitor{
		schedules: schedules,
		instances: instances,
		generator: generator,
		clock:     clk,
		threshold: threshold,
		weeks:     weeks,
		logger:    logger,
	}
}

// CheckAndRenew считает запланированные занятия от текущего момента и, если их меньше threshold,
// генерирует ещё renewWeeks недель. Значения <= 0 заменяются настройками монитора.
func (m *AutoRenewalMonitor) CheckAndRenew(ctx context.Context, scheduleID string, threshold, renewWeeks int) (int, error) {
	if threshold <= 0 {
		threshold = m.threshold
	}
	if renewWeeks <= 0 {
		renewWeeks = m.weeks
	}

	schedule, err := m.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return 0, storeFailure("get recurring schedule", "schedule", scheduleID, err)
	}
	if !schedule.IsActive() {
		return 0, nil
	}

	now := m.clock.Now()
	upcoming, err := m.instances.CountInstances(ctx, repository.InstanceFilter{
		ScheduleID: &scheduleID,
		Statuses:   []model.InstanceStatus{model.InstanceStatusScheduled},
		From:       &now,
	})
	if err != nil {
		return 0, &StoreError{Op: "count upcoming instances", Err: err}
	}

	if upcoming >= threshold {
		return 0, nil
	}

	renewed, err := m.generator.Generate(ctx, schedule, renewWeeks)
	if err != nil {
		return renewed, err
	}

	m.logger.Info("Schedule renewed",
		zap.String("schedule_id", scheduleID),
		zap.Int("upcoming", upcoming),
		zap.Int("threshold", threshold),
		zap.Int("count", renewed))

	return renewed, nil
}

// CheckAll проходит по всем активным расписаниям. Ошибка одного расписания не останавливает обход.
func (m *AutoRenewalMonitor) CheckAll(ctx context.Context) (int, error) {
	schedules, err := m.schedules.ListActiveSchedules(ctx)
	if err != nil {
		return 0, &StoreError{Op: "list active schedules", Err: err}
	}

	total := 0
	for _, schedule := range schedules {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}

		renewed, err := m.CheckAndRenew(ctx, schedule.ID, m.threshold, m.weeks)
		if err != nil {
			m.logger.Error("Failed to renew schedule",
				zap.String("schedule_id", schedule.ID),
				zap.Error(err))
			continue
		}
		total += renewed
	}

	return total, nil
}
