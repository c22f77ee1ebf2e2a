package service

import (
	"context"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/repository"
)

// ScheduleStore хранилище расписаний и истории записей
type ScheduleStore interface {
	CreateSchedule(ctx context.Context, schedule *model.RecurringSchedule) error
	GetSchedule(ctx context.Context, id string) (*model.RecurringSchedule, error)
	ListSchedulesByTeacher(ctx context.Context, teacherID string) ([]*model.RecurringSchedule, error)
	ListActiveSchedules(ctx context.Context) ([]*model.RecurringSchedule, error)
	UpdateScheduleStatus(ctx context.Context, id string, status model.ScheduleStatus, at time.Time) error
	UpdateScheduleDetails(ctx context.Context, schedule *model.RecurringSchedule) error
	DeleteSchedule(ctx context.Context, id string) error
	AddEnrollment(ctx context.Context, scheduleID string, enrollment model.Enrollment) error
	CloseEnrollment(ctx context.Context, scheduleID, studentID string, at time.Time) error
}

// InstanceStore хранилище занятий
type InstanceStore interface {
	InsertInstanceIfAbsent(ctx context.Context, instance *model.ClassInstance) (bool, error)
	CreateInstance(ctx context.Context, instance *model.ClassInstance) error
	GetInstance(ctx context.Context, id string) (*model.ClassInstance, error)
	ListInstances(ctx context.Context, filter repository.InstanceFilter) ([]*model.ClassInstance, error)
	CountInstances(ctx context.Context, filter repository.InstanceFilter) (int, error)
	UpdateEligible(ctx context.Context, id string, studentIDs []string, at time.Time) (bool, error)
	TransitionInstance(ctx context.Context, id string, tr repository.InstanceTransition) (*model.ClassInstance, error)
	SetMeetingSession(ctx context.Context, id, meetingSessionID string, at time.Time) error
	SetAttendance(ctx context.Context, id string, studentIDs []string, allowed []model.InstanceStatus, at time.Time) (*model.ClassInstance, error)
	MarkReminded(ctx context.Context, id string, at time.Time) (bool, error)
	DeleteScheduledBySchedule(ctx context.Context, scheduleID string) (int, error)
}

// MeetingProvider внешний провайдер видеовстреч
type MeetingProvider interface {
	CreateSession(ctx context.Context, instance *model.ClassInstance) (string, error)
	EndSession(ctx context.Context, meetingSessionID string) error
}

// Notifier рассылка уведомлений студентам
type Notifier interface {
	Notify(ctx context.Context, studentIDs []string, kind model.EventKind, payload map[string]any) error
}
