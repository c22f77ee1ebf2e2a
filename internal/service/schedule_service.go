package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/clock"
	"github.com/Freeeeeet/class_scheduler/internal/lock"
	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ScheduleConfig настройки создания и возобновления расписаний
type ScheduleConfig struct {
	DefaultTimezone string
	HorizonWeeks    int
}

// CreateScheduleInput данные нового расписания. Даты принимаются как YYYY-MM-DD
// в часовом поясе расписания или как RFC3339.
type CreateScheduleInput struct {
	TeacherID        string             `json:"teacher_id" validate:"required"`
	CourseID         *string            `json:"course_id"`
	Name             string             `json:"name" validate:"required,max=200"`
	Patterns         []model.DayPattern `json:"patterns" validate:"required,min=1,dive"`
	Timezone         string             `json:"timezone"`
	ValidFrom        string             `json:"valid_from" validate:"required"`
	ValidUntil       string             `json:"valid_until"`
	DurationMinutes  int                `json:"duration_minutes" validate:"omitempty,min=1,max=1440"`
	CreditCost       int                `json:"credit_cost" validate:"min=0"`
	MaxParticipants  int                `json:"max_participants" validate:"min=0"`
	RecordingEnabled bool               `json:"recording_enabled"`
	MeetingMode      model.MeetingMode  `json:"meeting_mode" validate:"omitempty,oneof=live async"`
}

// UpdateScheduleInput изменяемые поля расписания, nil = без изменений.
// Шаблоны, часовой пояс и период действия задаются только при создании.
type UpdateScheduleInput struct {
	Name             *string            `json:"name" validate:"omitempty,max=200"`
	CourseID         *string            `json:"course_id"`
	DurationMinutes  *int               `json:"duration_minutes" validate:"omitempty,min=1,max=1440"`
	CreditCost       *int               `json:"credit_cost" validate:"omitempty,min=0"`
	MaxParticipants  *int               `json:"max_participants" validate:"omitempty,min=0"`
	RecordingEnabled *bool              `json:"recording_enabled"`
	MeetingMode      *model.MeetingMode `json:"meeting_mode" validate:"omitempty,oneof=live async"`
}

// CreateScheduleResult созданное расписание и число сгенерированных занятий
type CreateScheduleResult struct {
	Schedule *model.RecurringSchedule `json:"schedule"`
	Created  int                      `json:"created"`
}

// ScheduleService операции учителя над расписаниями
type ScheduleService struct {
	schedules ScheduleStore
	instances InstanceStore
	generator *InstanceGenerator
	renewal   *AutoRenewalMonitor
	locker    lock.Locker
	clock     clock.Clock
	validate  *validator.Validate
	cfg       ScheduleConfig
	logger    *zap.Logger
}

func NewScheduleService(
	schedules ScheduleStore,
	instances InstanceStore,
	generator *InstanceGenerator,
	renewal *AutoRenewalMonitor,
	locker lock.Locker,
	clk clock.Clock,
	cfg ScheduleConfig,
	logger *zap.Logger,
) *ScheduleService {
	if cfg.HorizonWeeks <= 0 {
		cfg.HorizonWeeks = DefaultRenewWeeks
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}

	return &ScheduleService{
		schedules: schedules,
		instances: instances,
		generator: generator,
		renewal:   renewal,
		locker:    locker,
		clock:     clk,
		validate:  newValidator(),
		cfg:       cfg,
		logger:    logger,
	}
}

// CreateSchedule проверяет ввод, сохраняет активное расписание и сразу генерирует занятия на горизонт
func (s *ScheduleService) CreateSchedule(ctx context.Context, input CreateScheduleInput) (*CreateScheduleResult, error) {
	schedule, err := s.buildSchedule(input)
	if err != nil {
		return nil, err
	}

	if err := s.schedules.CreateSchedule(ctx, schedule); err != nil {
		return nil, &StoreError{Op: "create recurring schedule", Err: err}
	}

	s.logger.Info("Recurring schedule created",
		zap.String("schedule_id", schedule.ID),
		zap.String("teacher_id", schedule.TeacherID),
		zap.Int("patterns", len(schedule.Patterns)))

	created, err := s.generator.Generate(ctx, schedule, s.cfg.HorizonWeeks)
	if err != nil {
		s.discardSchedule(ctx, schedule.ID)
		return nil, err
	}

	return &CreateScheduleResult{Schedule: schedule, Created: created}, nil
}

// discardSchedule убирает расписание, для которого не удалось сгенерировать занятия,
// чтобы повтор запроса не оставил дубль
func (s *ScheduleService) discardSchedule(ctx context.Context, scheduleID string) {
	ctx = context.WithoutCancel(ctx)

	if _, err := s.instances.DeleteScheduledBySchedule(ctx, scheduleID); err != nil {
		s.logger.Error("Failed to discard instances of unfinished schedule",
			zap.String("schedule_id", scheduleID),
			zap.Error(err))
	}
	if err := s.schedules.DeleteSchedule(ctx, scheduleID); err != nil {
		s.logger.Error("Failed to discard unfinished schedule",
			zap.String("schedule_id", scheduleID),
			zap.Error(err))
		return
	}

	s.logger.Warn("Recurring schedule discarded after generation failure",
		zap.String("schedule_id", scheduleID))
}

// GetSchedule возвращает расписание с историей записей
func (s *ScheduleService) GetSchedule(ctx context.Context, scheduleID string) (*model.RecurringSchedule, error) {
	schedule, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, storeFailure("get recurring schedule", "schedule", scheduleID, err)
	}
	return schedule, nil
}

// ListTeacherSchedules расписания учителя, новые первыми
func (s *ScheduleService) ListTeacherSchedules(ctx context.Context, teacherID string) ([]*model.RecurringSchedule, error) {
	schedules, err := s.schedules.ListSchedulesByTeacher(ctx, teacherID)
	if err != nil {
		return nil, &StoreError{Op: "list teacher schedules", Err: err}
	}
	return schedules, nil
}

// UpdateSchedule меняет описательные поля расписания. Новые значения попадают
// только в занятия, сгенерированные после изменения.
func (s *ScheduleService) UpdateSchedule(ctx context.Context, scheduleID string, input UpdateScheduleInput) (*model.RecurringSchedule, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, validationFailure(err)
	}
	if input.Name != nil && strings.TrimSpace(*input.Name) == "" {
		return nil, &ValidationError{Field: "name", Message: "is required"}
	}

	unlock, err := s.locker.Lock(ctx, lock.ScheduleKey(scheduleID))
	if err != nil {
		return nil, &StoreError{Op: "lock schedule", Err: err}
	}
	defer unlock()

	schedule, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, storeFailure("get recurring schedule", "schedule", scheduleID, err)
	}

	if input.Name != nil {
		schedule.Name = strings.TrimSpace(*input.Name)
	}
	if input.CourseID != nil {
		schedule.CourseID = input.CourseID
	}
	if input.DurationMinutes != nil {
		schedule.DurationMinutes = *input.DurationMinutes
	}
	if input.CreditCost != nil {
		schedule.CreditCost = *input.CreditCost
	}
	if input.MaxParticipants != nil {
		schedule.MaxParticipants = *input.MaxParticipants
	}
	if input.RecordingEnabled != nil {
		schedule.RecordingEnabled = *input.RecordingEnabled
	}
	if input.MeetingMode != nil {
		schedule.MeetingMode = *input.MeetingMode
	}
	schedule.UpdatedAt = s.clock.Now()

	if err := s.schedules.UpdateScheduleDetails(ctx, schedule); err != nil {
		return nil, storeFailure("update recurring schedule", "schedule", scheduleID, err)
	}

	s.logger.Info("Recurring schedule updated", zap.String("schedule_id", scheduleID))
	return schedule, nil
}

// ListInstances занятия расписания по времени начала. Перед выборкой горизонт продлевается
// при необходимости; ошибка продления только логируется.
func (s *ScheduleService) ListInstances(ctx context.Context, scheduleID string, statuses ...model.InstanceStatus) ([]*model.ClassInstance, error) {
	if _, err := s.GetSchedule(ctx, scheduleID); err != nil {
		return nil, err
	}

	if _, err := s.renewal.CheckAndRenew(ctx, scheduleID, 0, 0); err != nil {
		s.logger.Warn("Failed to renew schedule on load",
			zap.String("schedule_id", scheduleID),
			zap.Error(err))
	}

	instances, err := s.instances.ListInstances(ctx, repository.InstanceFilter{
		ScheduleID: &scheduleID,
		Statuses:   statuses,
	})
	if err != nil {
		return nil, &StoreError{Op: "list schedule instances", Err: err}
	}
	return instances, nil
}

// PauseSchedule останавливает генерацию. Уже созданные занятия остаются.
func (s *ScheduleService) PauseSchedule(ctx context.Context, scheduleID string) (*model.RecurringSchedule, error) {
	schedule, _, err := s.changeStatus(ctx, scheduleID, model.ScheduleStatusPaused, false, model.ScheduleStatusActive)
	return schedule, err
}

// ResumeSchedule возвращает расписание в active и догенерирует горизонт
func (s *ScheduleService) ResumeSchedule(ctx context.Context, scheduleID string) (*CreateScheduleResult, error) {
	schedule, created, err := s.changeStatus(ctx, scheduleID, model.ScheduleStatusActive, true, model.ScheduleStatusPaused)
	if err != nil {
		return nil, err
	}
	return &CreateScheduleResult{Schedule: schedule, Created: created}, nil
}

// EndSchedule завершает расписание навсегда
func (s *ScheduleService) EndSchedule(ctx context.Context, scheduleID string) (*model.RecurringSchedule, error) {
	schedule, _, err := s.changeStatus(ctx, scheduleID, model.ScheduleStatusEnded, false,
		model.ScheduleStatusActive, model.ScheduleStatusPaused)
	return schedule, err
}

// DeleteSchedule удаляет расписание и его ещё не начавшиеся занятия.
// live, ended и cancelled занятия остаются как история.
func (s *ScheduleService) DeleteSchedule(ctx context.Context, scheduleID string) (int, error) {
	unlock, err := s.locker.Lock(ctx, lock.ScheduleKey(scheduleID))
	if err != nil {
		return 0, &StoreError{Op: "lock schedule", Err: err}
	}
	defer unlock()

	if _, err := s.schedules.GetSchedule(ctx, scheduleID); err != nil {
		return 0, storeFailure("get recurring schedule", "schedule", scheduleID, err)
	}

	deleted, err := s.instances.DeleteScheduledBySchedule(ctx, scheduleID)
	if err != nil {
		return 0, &StoreError{Op: "delete scheduled instances", Err: err}
	}

	if err := s.schedules.DeleteSchedule(ctx, scheduleID); err != nil {
		return deleted, storeFailure("delete recurring schedule", "schedule", scheduleID, err)
	}

	s.logger.Info("Recurring schedule deleted",
		zap.String("schedule_id", scheduleID),
		zap.Int("instances_deleted", deleted))

	return deleted, nil
}

func (s *ScheduleService) changeStatus(
	ctx context.Context,
	scheduleID string,
	to model.ScheduleStatus,
	regenerate bool,
	from ...model.ScheduleStatus,
) (*model.RecurringSchedule, int, error) {
	unlock, err := s.locker.Lock(ctx, lock.ScheduleKey(scheduleID))
	if err != nil {
		return nil, 0, &StoreError{Op: "lock schedule", Err: err}
	}
	defer unlock()

	schedule, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, 0, storeFailure("get recurring schedule", "schedule", scheduleID, err)
	}

	allowed := false
	for _, status := range from {
		if schedule.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, 0, fmt.Errorf("schedule %s is %s, cannot become %s: %w",
			scheduleID, schedule.Status, to, ErrInvalidTransition)
	}

	now := s.clock.Now()
	if err := s.schedules.UpdateScheduleStatus(ctx, scheduleID, to, now); err != nil {
		return nil, 0, storeFailure("update schedule status", "schedule", scheduleID, err)
	}
	schedule.Status = to
	schedule.UpdatedAt = now

	s.logger.Info("Schedule status changed",
		zap.String("schedule_id", scheduleID),
		zap.String("status", string(to)))

	if !regenerate {
		return schedule, 0, nil
	}

	// блокировка уже взята, генерируем без повторного захвата
	created, err := s.generator.generateLocked(ctx, schedule, s.cfg.HorizonWeeks)
	return schedule, created, err
}

func (s *ScheduleService) buildSchedule(input CreateScheduleInput) (*model.RecurringSchedule, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, validationFailure(err)
	}

	timezone := strings.TrimSpace(input.Timezone)
	if timezone == "" {
		timezone = s.cfg.DefaultTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, &ValidationError{Field: "timezone", Message: "unknown time zone " + timezone}
	}

	validFrom, err := parseDate(input.ValidFrom, loc)
	if err != nil {
		return nil, &ValidationError{Field: "valid_from", Message: err.Error()}
	}

	var validUntil *time.Time
	if strings.TrimSpace(input.ValidUntil) != "" {
		until, err := parseDate(input.ValidUntil, loc)
		if err != nil {
			return nil, &ValidationError{Field: "valid_until", Message: err.Error()}
		}
		if until.Before(validFrom) {
			return nil, &ValidationError{Field: "valid_until", Message: "must not be before valid_from"}
		}
		validUntil = &until
	}

	seen := make(map[string]struct{}, len(input.Patterns))
	for i, p := range input.Patterns {
		key := fmt.Sprintf("%d/%s", p.DayOfWeek, p.StartTime)
		if _, ok := seen[key]; ok {
			return nil, &ValidationError{
				Field:   fmt.Sprintf("patterns[%d]", i),
				Message: "duplicate day_of_week and start_time",
			}
		}
		seen[key] = struct{}{}
	}

	duration := input.DurationMinutes
	if duration == 0 {
		duration = defaultDurationMinutes
	}
	mode := input.MeetingMode
	if mode == "" {
		mode = model.MeetingModeLive
	}

	now := s.clock.Now()
	return &model.RecurringSchedule{
		ID:               uuid.NewString(),
		TeacherID:        strings.TrimSpace(input.TeacherID),
		CourseID:         input.CourseID,
		Name:             strings.TrimSpace(input.Name),
		Patterns:         input.Patterns,
		Timezone:         timezone,
		ValidFrom:        validFrom,
		ValidUntil:       validUntil,
		Enrollments:      []model.Enrollment{},
		Status:           model.ScheduleStatusActive,
		DurationMinutes:  duration,
		CreditCost:       input.CreditCost,
		MaxParticipants:  input.MaxParticipants,
		RecordingEnabled: input.RecordingEnabled,
		MeetingMode:      mode,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// parseDate принимает YYYY-MM-DD (полночь в loc) или RFC3339
func parseDate(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", value)
}
