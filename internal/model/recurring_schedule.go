package model

import (
	"fmt"
	"time"
)

type ScheduleStatus string

const (
	ScheduleStatusActive ScheduleStatus = "active" // генерирует инстансы
	ScheduleStatusPaused ScheduleStatus = "paused" // генерация остановлена, можно возобновить
	ScheduleStatusEnded  ScheduleStatus = "ended"  // терминальное состояние
)

type MeetingMode string

const (
	MeetingModeLive  MeetingMode = "live"
	MeetingModeAsync MeetingMode = "async"
)

// RecurringSchedule представляет шаблон еженедельного расписания занятий
type RecurringSchedule struct {
	ID               string         `json:"id"`
	TeacherID        string         `json:"teacher_id"`
	CourseID         *string        `json:"course_id,omitempty"`
	Name             string         `json:"name"`
	Patterns         []DayPattern   `json:"patterns"`
	Timezone         string         `json:"timezone"`              // IANA, в нём считаются даты паттернов
	ValidFrom        time.Time      `json:"valid_from"`            // первая дата расписания
	ValidUntil       *time.Time     `json:"valid_until,omitempty"` // nil = бессрочно, сам день validUntil не генерируется
	Enrollments      []Enrollment   `json:"enrollments"`
	Status           ScheduleStatus `json:"status"`
	DurationMinutes  int            `json:"duration_minutes"`
	CreditCost       int            `json:"credit_cost"`
	MaxParticipants  int            `json:"max_participants"`
	RecordingEnabled bool           `json:"recording_enabled"`
	MeetingMode      MeetingMode    `json:"meeting_mode"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// IsActive проверяет что расписание генерирует инстансы
func (s *RecurringSchedule) IsActive() bool {
	return s.Status == ScheduleStatusActive
}

// Location возвращает часовой пояс расписания
func (s *RecurringSchedule) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

// ActiveEnrollment ищет активную запись студента
func (s *RecurringSchedule) ActiveEnrollment(studentID string) (Enrollment, int, bool) {
	for i, e := range s.Enrollments {
		if e.StudentID == studentID && e.IsActive() {
			return e, i, true
		}
	}
	return Enrollment{}, -1, false
}
