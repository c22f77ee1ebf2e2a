package service

import (
	"context"
	"errors"
	"slices"
	"sort"
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

// LifecycleConfig параметры побочных эффектов жизненного цикла
type LifecycleConfig struct {
	SideEffectTimeout time.Duration // ограничение на вызовы провайдера встреч и уведомлений
	AppURL            string        // база для ссылок на занятие в уведомлениях
}

// CreateSingleSessionInput одиночное занятие вне расписания
type CreateSingleSessionInput struct {
	TeacherID       string            `json:"teacher_id" validate:"required"`
	CourseID        *string           `json:"course_id"`
	Name            string            `json:"name" validate:"required,max=200"`
	ScheduledStart  *time.Time        `json:"scheduled_start" validate:"required"`
	DurationMinutes int               `json:"duration_minutes" validate:"omitempty,min=1,max=1440"`
	MeetingMode     model.MeetingMode `json:"meeting_mode" validate:"omitempty,oneof=live async"`
	StudentIDs      []string          `json:"student_ids" validate:"dive,required"`
}

// SessionLifecycle ведёт занятие по состояниям scheduled → live → ended или scheduled → cancelled.
// Сбои провайдера встреч и уведомлений логируются и не откатывают переход.
type SessionLifecycle struct {
	schedules ScheduleStore
	instances InstanceStore
	meetings  MeetingProvider
	notifier  Notifier
	locker    lock.Locker
	clock     clock.Clock
	validate  *validator.Validate
	cfg       LifecycleConfig
	metrics   *Metrics
	logger    *zap.Logger
}

func NewSessionLifecycle(
	schedules ScheduleStore,
	instances InstanceStore,
	meetings MeetingProvider,
	notifier Notifier,
	locker lock.Locker,
	clk clock.Clock,
	cfg LifecycleConfig,
	metrics *Metrics,
	logger *zap.Logger,
) *SessionLifecycle {
	if cfg.SideEffectTimeout <= 0 {
		cfg.SideEffectTimeout = 5 * time.Second
	}

	return &SessionLifecycle{
		schedules: schedules,
		instances: instances,
		meetings:  meetings,
		notifier:  notifier,
		locker:    locker,
		clock:     clk,
		validate:  newValidator(),
		cfg:       cfg,
		metrics:   metrics,
		logger:    logger,
	}
}

// CreateSingleSession создаёт одиночное занятие с явным составом
func (l *SessionLifecycle) CreateSingleSession(ctx context.Context, input CreateSingleSessionInput) (*model.ClassInstance, error) {
	if err := l.validate.Struct(input); err != nil {
		return nil, validationFailure(err)
	}

	now := l.clock.Now()
	if input.ScheduledStart.Before(now) {
		return nil, &ValidationError{Field: "scheduled_start", Message: "cannot create session in the past"}
	}

	duration := input.DurationMinutes
	if duration == 0 {
		duration = defaultDurationMinutes
	}
	mode := input.MeetingMode
	if mode == "" {
		mode = model.MeetingModeLive
	}

	instance := &model.ClassInstance{
		ID:                 uuid.NewString(),
		Name:               strings.TrimSpace(input.Name),
		TeacherID:          input.TeacherID,
		CourseID:           input.CourseID,
		ScheduledStart:     *input.ScheduledStart,
		ScheduledEnd:       input.ScheduledStart.Add(time.Duration(duration) * time.Minute),
		MeetingMode:        mode,
		EligibleStudentIDs: uniqueSorted(input.StudentIDs),
		AttendedStudentIDs: []string{},
		Status:             model.InstanceStatusScheduled,
		CreatedAt:          now,
	}

	if err := l.instances.CreateInstance(ctx, instance); err != nil {
		return nil, &StoreError{Op: "create class instance", Err: err}
	}

	l.logger.Info("Single session created",
		zap.String("instance_id", instance.ID),
		zap.String("teacher_id", instance.TeacherID),
		zap.Time("scheduled_start", instance.ScheduledStart))

	return instance, nil
}

// Start переводит занятие в live, открывает встречу и уведомляет допущенных студентов
func (l *SessionLifecycle) Start(ctx context.Context, instanceID string) (*model.ClassInstance, error) {
	instance, err := l.transition(ctx, instanceID, model.ActionStart, "", nil)
	if err != nil {
		return nil, err
	}

	sctx, cancel := l.sideEffectContext(ctx)
	defer cancel()

	if instance.MeetingMode == model.MeetingModeLive && l.meetings != nil {
		meetingID, err := l.meetings.CreateSession(sctx, instance)
		if err != nil {
			l.metrics.sideEffectFailed("meeting")
			l.logger.Warn("Failed to create meeting session, class is live without a link",
				zap.String("instance_id", instance.ID),
				zap.Error(err))
		} else if err := l.instances.SetMeetingSession(sctx, instance.ID, meetingID, l.clock.Now()); err != nil {
			l.metrics.sideEffectFailed("meeting")
			l.logger.Warn("Failed to save meeting session id",
				zap.String("instance_id", instance.ID),
				zap.String("meeting_session_id", meetingID),
				zap.Error(err))
		} else {
			instance.MeetingSessionID = &meetingID
		}
	}

	l.notify(sctx, instance, model.EventClassStarted, nil)

	l.logger.Info("Class started", zap.String("instance_id", instance.ID))
	return instance, nil
}

// End завершает live-занятие. attended != nil сохраняется как посещаемость.
func (l *SessionLifecycle) End(ctx context.Context, instanceID string, attended []string) (*model.ClassInstance, error) {
	if attended != nil {
		attended = uniqueSorted(attended)
	}

	instance, err := l.transition(ctx, instanceID, model.ActionEnd, "", attended)
	if err != nil {
		return nil, err
	}

	sctx, cancel := l.sideEffectContext(ctx)
	defer cancel()

	if instance.MeetingSessionID != nil && l.meetings != nil {
		if err := l.meetings.EndSession(sctx, *instance.MeetingSessionID); err != nil {
			l.metrics.sideEffectFailed("meeting")
			l.logger.Warn("Failed to end meeting session",
				zap.String("instance_id", instance.ID),
				zap.String("meeting_session_id", *instance.MeetingSessionID),
				zap.Error(err))
		}
	}

	l.notify(sctx, instance, model.EventClassEnded, nil)

	l.logger.Info("Class ended", zap.String("instance_id", instance.ID))
	return instance, nil
}

// Cancel отменяет ещё не начавшееся занятие
func (l *SessionLifecycle) Cancel(ctx context.Context, instanceID, reason string) (*model.ClassInstance, error) {
	reason = strings.TrimSpace(reason)

	instance, err := l.transition(ctx, instanceID, model.ActionCancel, reason, nil)
	if err != nil {
		return nil, err
	}

	sctx, cancel := l.sideEffectContext(ctx)
	defer cancel()

	l.notify(sctx, instance, model.EventClassCancelled, map[string]any{"reason": reason})

	l.logger.Info("Class cancelled",
		zap.String("instance_id", instance.ID),
		zap.String("reason", reason))
	return instance, nil
}

// RecordAttendance записывает пришедших студентов для live или завершённого занятия
func (l *SessionLifecycle) RecordAttendance(ctx context.Context, instanceID string, studentIDs []string) (*model.ClassInstance, error) {
	allowed := []model.InstanceStatus{model.InstanceStatusLive, model.InstanceStatusEnded}

	instance, err := l.instances.SetAttendance(ctx, instanceID, uniqueSorted(studentIDs), allowed, l.clock.Now())
	if err != nil {
		return nil, l.transitionFailure(ctx, instanceID, model.ActionRecordAttendance, err)
	}

	l.logger.Info("Attendance recorded",
		zap.String("instance_id", instanceID),
		zap.Int("count", len(instance.AttendedStudentIDs)))
	return instance, nil
}

// AssignStudent добавляет студента в состав одиночного занятия, пока оно не началось
func (l *SessionLifecycle) AssignStudent(ctx context.Context, instanceID, studentID string) (*model.ClassInstance, error) {
	return l.changeRoster(ctx, instanceID, studentID, model.ActionAssignStudent)
}

// UnassignStudent убирает студента из состава одиночного занятия.
// Если студента в составе нет, занятие возвращается без изменений.
func (l *SessionLifecycle) UnassignStudent(ctx context.Context, instanceID, studentID string) (*model.ClassInstance, error) {
	return l.changeRoster(ctx, instanceID, studentID, model.ActionUnassignStudent)
}

func (l *SessionLifecycle) changeRoster(ctx context.Context, instanceID, studentID string, action model.InstanceAction) (*model.ClassInstance, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, &ValidationError{Field: "student_id", Message: "is required"}
	}

	unlock, err := l.locker.Lock(ctx, lock.InstanceKey(instanceID))
	if err != nil {
		return nil, &StoreError{Op: "lock class instance", Err: err}
	}
	defer unlock()

	instance, err := l.instances.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, l.transitionFailure(ctx, instanceID, action, err)
	}
	if !instance.IsStandalone() {
		return nil, &ValidationError{
			Field:   "instance_id",
			Message: "belongs to a recurring schedule; its roster follows schedule enrollments",
		}
	}
	if instance.Status != model.InstanceStatusScheduled {
		return nil, &TransitionError{InstanceID: instanceID, From: instance.Status, Action: action}
	}

	assigned := slices.Contains(instance.EligibleStudentIDs, studentID)
	var students []string
	switch action {
	case model.ActionAssignStudent:
		if assigned {
			return nil, ErrAlreadyEnrolled
		}
		students = uniqueSorted(append(slices.Clone(instance.EligibleStudentIDs), studentID))
	default:
		if !assigned {
			return instance, nil
		}
		students = slices.DeleteFunc(slices.Clone(instance.EligibleStudentIDs), func(id string) bool { return id == studentID })
	}

	now := l.clock.Now()
	ok, err := l.instances.UpdateEligible(ctx, instanceID, students, now)
	if err != nil {
		return nil, &StoreError{Op: "update class instance roster", Err: err}
	}
	if !ok {
		// занятие успели начать или отменить
		return nil, l.transitionFailure(ctx, instanceID, action, repository.ErrConflict)
	}

	instance.EligibleStudentIDs = students
	instance.UpdatedAt = now

	l.logger.Info("Single session roster changed",
		zap.String("instance_id", instanceID),
		zap.String("student_id", studentID),
		zap.String("action", string(action)),
		zap.Int("students", len(students)))
	return instance, nil
}

// GetInstance возвращает занятие по ID
func (l *SessionLifecycle) GetInstance(ctx context.Context, instanceID string) (*model.ClassInstance, error) {
	instance, err := l.instances.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, storeFailure("get class instance", "instance", instanceID, err)
	}
	return instance, nil
}

// ListTeacherInstances занятия учителя, опционально по статусам
func (l *SessionLifecycle) ListTeacherInstances(ctx context.Context, teacherID string, statuses ...model.InstanceStatus) ([]*model.ClassInstance, error) {
	return l.list(ctx, repository.InstanceFilter{TeacherID: &teacherID, Statuses: statuses})
}

// ListStudentInstances занятия, в составе которых есть студент
func (l *SessionLifecycle) ListStudentInstances(ctx context.Context, studentID string, statuses ...model.InstanceStatus) ([]*model.ClassInstance, error) {
	return l.list(ctx, repository.InstanceFilter{StudentID: &studentID, Statuses: statuses})
}

// ListLiveInstances идущие сейчас занятия; teacherID пустой = все учителя
func (l *SessionLifecycle) ListLiveInstances(ctx context.Context, teacherID string) ([]*model.ClassInstance, error) {
	filter := repository.InstanceFilter{Statuses: []model.InstanceStatus{model.InstanceStatusLive}}
	if teacherID != "" {
		filter.TeacherID = &teacherID
	}
	return l.list(ctx, filter)
}

// ListUpcoming запланированные занятия, начинающиеся в ближайшее window
func (l *SessionLifecycle) ListUpcoming(ctx context.Context, window time.Duration) ([]*model.ClassInstance, error) {
	now := l.clock.Now()
	until := now.Add(window)
	return l.list(ctx, repository.InstanceFilter{
		Statuses: []model.InstanceStatus{model.InstanceStatusScheduled},
		From:     &now,
		To:       &until,
	})
}

func (l *SessionLifecycle) list(ctx context.Context, filter repository.InstanceFilter) ([]*model.ClassInstance, error) {
	instances, err := l.instances.ListInstances(ctx, filter)
	if err != nil {
		return nil, &StoreError{Op: "list class instances", Err: err}
	}
	return instances, nil
}

func (l *SessionLifecycle) transition(ctx context.Context, instanceID string, action model.InstanceAction, reason string, attended []string) (*model.ClassInstance, error) {
	target, _ := model.TargetStatus(action)

	instance, err := l.instances.TransitionInstance(ctx, instanceID, repository.InstanceTransition{
		From:     model.SourceStatuses(action),
		To:       target,
		At:       l.clock.Now(),
		Reason:   reason,
		Attended: attended,
	})
	if err != nil {
		return nil, l.transitionFailure(ctx, instanceID, action, err)
	}

	l.metrics.transition(string(action))
	return instance, nil
}

// transitionFailure разбирает отказ хранилища: нет занятия, чужой статус или сбой хранилища
func (l *SessionLifecycle) transitionFailure(ctx context.Context, instanceID string, action model.InstanceAction, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// ID расписания вместо ID занятия: ошибка вызывающего, не переход
		if _, schedErr := l.schedules.GetSchedule(ctx, instanceID); schedErr == nil {
			return &ValidationError{
				Field:   "instance_id",
				Message: "refers to a recurring schedule; only its class instances can be started, ended or cancelled",
			}
		}
		return &NotFoundError{Entity: "instance", ID: instanceID}

	case errors.Is(err, repository.ErrConflict):
		current, getErr := l.instances.GetInstance(ctx, instanceID)
		if getErr != nil {
			return storeFailure("get class instance", "instance", instanceID, getErr)
		}
		return &TransitionError{InstanceID: instanceID, From: current.Status, Action: action}

	default:
		return &StoreError{Op: "transition class instance", Err: err}
	}
}

// sideEffectContext ограничен по времени и не отменяется вместе с запросом:
// переход уже зафиксирован
func (l *SessionLifecycle) sideEffectContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), l.cfg.SideEffectTimeout)
}

func (l *SessionLifecycle) notify(ctx context.Context, instance *model.ClassInstance, kind model.EventKind, extra map[string]any) {
	if l.notifier == nil || len(instance.EligibleStudentIDs) == 0 {
		return
	}

	payload := instancePayload(instance, l.cfg.AppURL)
	for k, v := range extra {
		payload[k] = v
	}

	if err := l.notifier.Notify(ctx, instance.EligibleStudentIDs, kind, payload); err != nil {
		l.metrics.sideEffectFailed("notifier")
		l.logger.Warn("Failed to notify students",
			zap.String("instance_id", instance.ID),
			zap.String("event", string(kind)),
			zap.Int("students", len(instance.EligibleStudentIDs)),
			zap.Error(err))
	}
}

func instancePayload(instance *model.ClassInstance, appURL string) map[string]any {
	payload := map[string]any{
		"instance_id":     instance.ID,
		"name":            instance.Name,
		"teacher_id":      instance.TeacherID,
		"scheduled_start": instance.ScheduledStart.Format(time.RFC3339),
		"join_url":        strings.TrimRight(appURL, "/") + "/class-instance/" + instance.ID,
	}
	if instance.CourseID != nil {
		payload["course_id"] = *instance.CourseID
	}
	if instance.ScheduleID != nil {
		payload["schedule_id"] = *instance.ScheduleID
	}
	if instance.MeetingSessionID != nil {
		payload["meeting_session_id"] = *instance.MeetingSessionID
	}
	return payload
}

func uniqueSorted(ids []string) []string {
	out := []string{}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
