package service

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/clock"
	"github.com/Freeeeeet/class_scheduler/internal/lock"
	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/repository"
	"go.uber.org/zap"
)

// EnrollmentResult итог записи или отписки
type EnrollmentResult struct {
	Enrollment       model.Enrollment `json:"enrollment"`
	InstancesUpdated int              `json:"instances_updated"`
}

// EnrollmentManager меняет историю записей расписания и пересчитывает составы будущих занятий.
// Никаких уведомлений и вызовов провайдера встреч здесь нет.
type EnrollmentManager struct {
	schedules ScheduleStore
	instances InstanceStore
	locker    lock.Locker
	clock     clock.Clock
	logger    *zap.Logger
}

func NewEnrollmentManager(
	schedules ScheduleStore,
	instances InstanceStore,
	locker lock.Locker,
	clk clock.Clock,
	logger *zap.Logger,
) *EnrollmentManager {
	return &EnrollmentManager{
		schedules: schedules,
		instances: instances,
		locker:    locker,
		clock:     clk,
		logger:    logger,
	}
}

// Enroll записывает студента с текущего момента. Возвращается только после пересчёта составов.
func (m *EnrollmentManager) Enroll(ctx context.Context, scheduleID, studentID, studentName string) (*EnrollmentResult, error) {
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return nil, &ValidationError{Field: "student_id", Message: "is required"}
	}

	unlock, err := m.locker.Lock(ctx, lock.ScheduleKey(scheduleID))
	if err != nil {
		return nil, &StoreError{Op: "lock schedule", Err: err}
	}
	defer unlock()

	schedule, err := m.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, storeFailure("get recurring schedule", "schedule", scheduleID, err)
	}

	if _, _, active := schedule.ActiveEnrollment(studentID); active {
		return nil, ErrAlreadyEnrolled
	}

	now := m.clock.Now()
	enrollment := model.NewEnrollment(studentID, strings.TrimSpace(studentName), now)

	if err := m.schedules.AddEnrollment(ctx, scheduleID, enrollment); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ErrAlreadyEnrolled
		}
		return nil, storeFailure("add enrollment", "schedule", scheduleID, err)
	}

	schedule.Enrollments = append(slices.Clone(schedule.Enrollments), enrollment)

	updated, err := m.recompute(ctx, schedule, now)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Student enrolled",
		zap.String("schedule_id", scheduleID),
		zap.String("student_id", studentID),
		zap.Int("instances_updated", updated))

	return &EnrollmentResult{Enrollment: enrollment, InstancesUpdated: updated}, nil
}

// Unenroll закрывает активную запись студента текущим моментом
func (m *EnrollmentManager) Unenroll(ctx context.Context, scheduleID, studentID string) (*EnrollmentResult, error) {
	unlock, err := m.locker.Lock(ctx, lock.ScheduleKey(scheduleID))
	if err != nil {
		return nil, &StoreError{Op: "lock schedule", Err: err}
	}
	defer unlock()

	schedule, err := m.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, storeFailure("get recurring schedule", "schedule", scheduleID, err)
	}

	enrollment, idx, active := schedule.ActiveEnrollment(studentID)
	if !active {
		return nil, &NotFoundError{Entity: "enrollment", ID: scheduleID + "/" + studentID}
	}

	now := m.clock.Now()
	// unenrolledAt строго позже enrolledAt; хранение с точностью до микросекунд
	unenrolledAt := now
	if !unenrolledAt.After(enrollment.EnrolledAt) {
		unenrolledAt = enrollment.EnrolledAt.Add(time.Microsecond)
	}

	if err := m.schedules.CloseEnrollment(ctx, scheduleID, studentID, unenrolledAt); err != nil {
		return nil, storeFailure("close enrollment", "enrollment", scheduleID+"/"+studentID, err)
	}

	closed := enrollment.Close(unenrolledAt)
	enrollments := slices.Clone(schedule.Enrollments)
	enrollments[idx] = closed
	schedule.Enrollments = enrollments

	updated, err := m.recompute(ctx, schedule, now)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Student unenrolled",
		zap.String("schedule_id", scheduleID),
		zap.String("student_id", studentID),
		zap.Int("instances_updated", updated))

	return &EnrollmentResult{Enrollment: closed, InstancesUpdated: updated}, nil
}

// RecomputeEligibility пересчитывает составы будущих занятий по текущим записям. Идемпотентно.
func (m *EnrollmentManager) RecomputeEligibility(ctx context.Context, scheduleID string) (int, error) {
	unlock, err := m.locker.Lock(ctx, lock.ScheduleKey(scheduleID))
	if err != nil {
		return 0, &StoreError{Op: "lock schedule", Err: err}
	}
	defer unlock()

	schedule, err := m.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return 0, storeFailure("get recurring schedule", "schedule", scheduleID, err)
	}

	return m.recompute(ctx, schedule, m.clock.Now())
}

// recompute обновляет занятия со status=scheduled и scheduledStart >= from.
// Состав считается на scheduledStart самого занятия, а не на from.
func (m *EnrollmentManager) recompute(ctx context.Context, schedule *model.RecurringSchedule, from time.Time) (int, error) {
	scheduleID := schedule.ID

	upcoming, err := m.instances.ListInstances(ctx, repository.InstanceFilter{
		ScheduleID: &scheduleID,
		Statuses:   []model.InstanceStatus{model.InstanceStatusScheduled},
		From:       &from,
	})
	if err != nil {
		return 0, &StoreError{Op: "list upcoming instances", Err: err}
	}

	updated := 0
	for _, instance := range upcoming {
		eligible := EligibleStudents(schedule.Enrollments, instance.ScheduledStart)
		if sameIDs(eligible, instance.EligibleStudentIDs) {
			continue
		}

		ok, err := m.instances.UpdateEligible(ctx, instance.ID, eligible, from)
		if err != nil {
			return updated, &StoreError{Op: "update eligible students", Err: err}
		}
		// занятие успело начаться или отмениться, его состав заморожен
		if !ok {
			continue
		}
		updated++
	}

	return updated, nil
}
