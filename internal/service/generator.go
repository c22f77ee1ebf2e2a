package service

import (
	"context"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/clock"
	"github.com/Freeeeeet/class_scheduler/internal/lock"
	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// InstanceGenerator разворачивает недельные паттерны расписания в конкретные занятия
type InstanceGenerator struct {
	schedules ScheduleStore
	instances InstanceStore
	locker    lock.Locker
	clock     clock.Clock
	metrics   *Metrics
	logger    *zap.Logger
}

func NewInstanceGenerator(
	schedules ScheduleStore,
	instances InstanceStore,
	locker lock.Locker,
	clk clock.Clock,
	metrics *Metrics,
	logger *zap.Logger,
) *InstanceGenerator {
	return &InstanceGenerator{
		schedules: schedules,
		instances: instances,
		locker:    locker,
		clock:     clk,
		metrics:   metrics,
		logger:    logger,
	}
}

// Generate создаёт занятия расписания на horizonWeeks недель вперёд от текущего момента.
// Повторный вызов ничего не дублирует: ключ (schedule_id, scheduled_start) уникален в хранилище.
// Существующие занятия не меняются, прошедшие даты пропускаются.
func (g *InstanceGenerator) Generate(ctx context.Context, schedule *model.RecurringSchedule, horizonWeeks int) (int, error) {
	if horizonWeeks <= 0 {
		return 0, &ValidationError{Field: "horizon_weeks", Message: "must be positive"}
	}

	unlock, err := g.locker.Lock(ctx, lock.ScheduleKey(schedule.ID))
	if err != nil {
		return 0, &StoreError{Op: "lock schedule", Err: err}
	}
	defer unlock()

	// Под блокировкой перечитываем расписание, чтобы взять актуальные записи студентов
	fresh, err := g.schedules.GetSchedule(ctx, schedule.ID)
	if err != nil {
		return 0, storeFailure("get recurring schedule", "schedule", schedule.ID, err)
	}

	return g.generateLocked(ctx, fresh, horizonWeeks)
}

func (g *InstanceGenerator) generateLocked(ctx context.Context, schedule *model.RecurringSchedule, horizonWeeks int) (int, error) {
	if !schedule.IsActive() {
		g.logger.Debug("Schedule is not active, skipping generation",
			zap.String("schedule_id", schedule.ID),
			zap.String("status", string(schedule.Status)))
		return 0, nil
	}

	loc, err := schedule.Location()
	if err != nil {
		return 0, &ValidationError{Field: "timezone", Message: err.Error()}
	}

	now := g.clock.Now()
	windowStart, windowEnd := generationWindow(schedule, now, horizonWeeks, loc)

	count := 0
	for day := startOfDay(windowStart, loc); day.Before(windowEnd); day = day.AddDate(0, 0, 1) {
		for _, pattern := range schedule.Patterns {
			if pattern.Weekday() != day.Weekday() {
				continue
			}

			start, end, err := pattern.Occurrence(day, loc, schedule.DurationMinutes)
			if err != nil {
				return count, &ValidationError{Field: "patterns", Message: err.Error()}
			}

			// Пропускаем прошедшие и выходящие за горизонт занятия
			if start.Before(now) || !start.Before(windowEnd) {
				continue
			}

			instance := newScheduledInstance(schedule, start, end, now)

			created, err := g.instances.InsertInstanceIfAbsent(ctx, instance)
			if err != nil {
				g.metrics.instancesGenerated(count)
				return count, &StoreError{Op: "insert class instance", Err: err}
			}

			if !created {
				g.logger.Debug("Instance already exists, skipping",
					zap.String("schedule_id", schedule.ID),
					zap.Time("scheduled_start", start))
				continue
			}

			count++
		}
	}

	g.metrics.instancesGenerated(count)

	g.logger.Info("Generated class instances",
		zap.String("schedule_id", schedule.ID),
		zap.Int("horizon_weeks", horizonWeeks),
		zap.Int("count", count))

	return count, nil
}

// generationWindow возвращает [max(now, validFrom), min(now + horizon, начало дня validUntil)).
// День validUntil уже не генерируется.
func generationWindow(schedule *model.RecurringSchedule, now time.Time, horizonWeeks int, loc *time.Location) (time.Time, time.Time) {
	start := now
	if schedule.ValidFrom.After(now) {
		start = schedule.ValidFrom
	}

	end := now.AddDate(0, 0, horizonWeeks*7)
	if schedule.ValidUntil != nil {
		until := startOfDay(*schedule.ValidUntil, loc)
		if until.Before(end) {
			end = until
		}
	}

	return start, end
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

func newScheduledInstance(schedule *model.RecurringSchedule, start, end, now time.Time) *model.ClassInstance {
	scheduleID := schedule.ID

	return &model.ClassInstance{
		ID:                 uuid.NewString(),
		ScheduleID:         &scheduleID,
		Name:               schedule.Name,
		TeacherID:          schedule.TeacherID,
		CourseID:           schedule.CourseID,
		ScheduledStart:     start,
		ScheduledEnd:       end,
		MeetingMode:        schedule.MeetingMode,
		EligibleStudentIDs: EligibleStudents(schedule.Enrollments, start),
		AttendedStudentIDs: []string{},
		Status:             model.InstanceStatusScheduled,
		CreatedAt:          now,
	}
}
