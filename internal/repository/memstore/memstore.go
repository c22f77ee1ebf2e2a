// Package memstore хранилище в памяти с теми же контрактами, что и postgres-репозитории:
// уникальность (schedule_id, scheduled_start), одна активная запись студента,
// compare-and-set переходов статуса.
package memstore

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/repository"
)

type instanceKey struct {
	scheduleID string
	start      int64
}

// Store потокобезопасное хранилище расписаний, занятий, встреч и уведомлений
type Store struct {
	mu            sync.RWMutex
	schedules     map[string]*model.RecurringSchedule
	instances     map[string]*model.ClassInstance
	byKey         map[instanceKey]string
	students      map[string]*model.Student
	meetSessions  map[string]*model.MeetSession
	notifications []*model.Notification
}

func New() *Store {
	return &Store{
		schedules:    make(map[string]*model.RecurringSchedule),
		instances:    make(map[string]*model.ClassInstance),
		byKey:        make(map[instanceKey]string),
		students:     make(map[string]*model.Student),
		meetSessions: make(map[string]*model.MeetSession),
	}
}

// --- расписания ---

func (s *Store) CreateSchedule(_ context.Context, schedule *model.RecurringSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[schedule.ID]; ok {
		return fmt.Errorf("create recurring schedule: %w", repository.ErrConflict)
	}
	schedule.UpdatedAt = schedule.CreatedAt
	s.schedules[schedule.ID] = cloneSchedule(schedule)
	return nil
}

func (s *Store) GetSchedule(_ context.Context, id string) (*model.RecurringSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("get recurring schedule %s: %w", id, repository.ErrNotFound)
	}
	return cloneSchedule(schedule), nil
}

func (s *Store) ListSchedulesByTeacher(_ context.Context, teacherID string) ([]*model.RecurringSchedule, error) {
	return s.listSchedules(func(rs *model.RecurringSchedule) bool { return rs.TeacherID == teacherID }, true), nil
}

func (s *Store) ListActiveSchedules(_ context.Context) ([]*model.RecurringSchedule, error) {
	return s.listSchedules(func(rs *model.RecurringSchedule) bool { return rs.IsActive() }, false), nil
}

func (s *Store) UpdateScheduleStatus(_ context.Context, id string, status model.ScheduleStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("update recurring schedule status %s: %w", id, repository.ErrNotFound)
	}
	schedule.Status = status
	schedule.UpdatedAt = at
	return nil
}

// UpdateScheduleDetails сохраняет поля расписания, не влияющие на шаблоны и период
func (s *Store) UpdateScheduleDetails(_ context.Context, schedule *model.RecurringSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.schedules[schedule.ID]
	if !ok {
		return fmt.Errorf("update recurring schedule %s: %w", schedule.ID, repository.ErrNotFound)
	}
	stored.Name = schedule.Name
	stored.CourseID = nil
	if schedule.CourseID != nil {
		courseID := *schedule.CourseID
		stored.CourseID = &courseID
	}
	stored.DurationMinutes = schedule.DurationMinutes
	stored.CreditCost = schedule.CreditCost
	stored.MaxParticipants = schedule.MaxParticipants
	stored.RecordingEnabled = schedule.RecordingEnabled
	stored.MeetingMode = schedule.MeetingMode
	stored.UpdatedAt = schedule.UpdatedAt
	return nil
}

func (s *Store) DeleteSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return fmt.Errorf("delete recurring schedule %s: %w", id, repository.ErrNotFound)
	}
	delete(s.schedules, id)
	return nil
}

func (s *Store) AddEnrollment(_ context.Context, scheduleID string, enrollment model.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[scheduleID]
	if !ok {
		return fmt.Errorf("add enrollment: %w", repository.ErrNotFound)
	}
	if _, _, active := schedule.ActiveEnrollment(enrollment.StudentID); active {
		return fmt.Errorf("add enrollment: %w", repository.ErrConflict)
	}

	// новый срез, старые значения не меняются
	schedule.Enrollments = append(slices.Clone(schedule.Enrollments), enrollment)
	schedule.UpdatedAt = enrollment.EnrolledAt
	return nil
}

func (s *Store) CloseEnrollment(_ context.Context, scheduleID, studentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	schedule, ok := s.schedules[scheduleID]
	if !ok {
		return fmt.Errorf("close enrollment: %w", repository.ErrNotFound)
	}
	enrollment, idx, active := schedule.ActiveEnrollment(studentID)
	if !active {
		return fmt.Errorf("close enrollment %s/%s: %w", scheduleID, studentID, repository.ErrNotFound)
	}

	enrollments := slices.Clone(schedule.Enrollments)
	enrollments[idx] = enrollment.Close(at)
	schedule.Enrollments = enrollments
	schedule.UpdatedAt = at
	return nil
}

func (s *Store) listSchedules(match func(*model.RecurringSchedule) bool, newestFirst bool) []*model.RecurringSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.RecurringSchedule
	for _, schedule := range s.schedules {
		if match(schedule) {
			out = append(out, cloneSchedule(schedule))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// --- занятия ---

func (s *Store) InsertInstanceIfAbsent(_ context.Context, instance *model.ClassInstance) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if instance.ScheduleID != nil {
		key := instanceKey{scheduleID: *instance.ScheduleID, start: instance.ScheduledStart.UnixNano()}
		if _, exists := s.byKey[key]; exists {
			return false, nil
		}
		s.byKey[key] = instance.ID
	}

	instance.UpdatedAt = instance.CreatedAt
	s.instances[instance.ID] = cloneInstance(instance)
	return true, nil
}

func (s *Store) CreateInstance(ctx context.Context, instance *model.ClassInstance) error {
	created, err := s.InsertInstanceIfAbsent(ctx, instance)
	if err != nil {
		return err
	}
	if !created {
		return fmt.Errorf("create class instance: %w", repository.ErrConflict)
	}
	return nil
}

func (s *Store) GetInstance(_ context.Context, id string) (*model.ClassInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instance, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("get class instance %s: %w", id, repository.ErrNotFound)
	}
	return cloneInstance(instance), nil
}

func (s *Store) ListInstances(_ context.Context, filter repository.InstanceFilter) ([]*model.ClassInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.filter(filter)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	for i, instance := range out {
		out[i] = cloneInstance(instance)
	}
	return out, nil
}

func (s *Store) CountInstances(_ context.Context, filter repository.InstanceFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.filter(filter)), nil
}

func (s *Store) UpdateEligible(_ context.Context, id string, studentIDs []string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[id]
	if !ok || instance.Status != model.InstanceStatusScheduled {
		return false, nil
	}
	instance.EligibleStudentIDs = slices.Clone(studentIDs)
	instance.UpdatedAt = at
	return true, nil
}

func (s *Store) TransitionInstance(_ context.Context, id string, tr repository.InstanceTransition) (*model.ClassInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("get class instance %s: %w", id, repository.ErrNotFound)
	}
	if !slices.Contains(tr.From, instance.Status) {
		return nil, fmt.Errorf("transition class instance %s to %s: %w", id, tr.To, repository.ErrConflict)
	}

	at := tr.At
	instance.Status = tr.To
	switch tr.To {
	case model.InstanceStatusLive:
		instance.StartedAt = &at
	case model.InstanceStatusEnded:
		instance.EndedAt = &at
	case model.InstanceStatusCancelled:
		instance.CancelledAt = &at
		instance.CancelReason = tr.Reason
	}
	if tr.Attended != nil {
		instance.AttendedStudentIDs = slices.Clone(tr.Attended)
	}
	instance.UpdatedAt = at

	return cloneInstance(instance), nil
}

func (s *Store) SetMeetingSession(_ context.Context, id, meetingSessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[id]
	if !ok {
		return fmt.Errorf("set meeting session %s: %w", id, repository.ErrNotFound)
	}
	instance.MeetingSessionID = &meetingSessionID
	instance.UpdatedAt = at
	return nil
}

func (s *Store) SetAttendance(_ context.Context, id string, studentIDs []string, allowed []model.InstanceStatus, at time.Time) (*model.ClassInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("get class instance %s: %w", id, repository.ErrNotFound)
	}
	if !slices.Contains(allowed, instance.Status) {
		return nil, fmt.Errorf("set attendance %s: %w", id, repository.ErrConflict)
	}
	instance.AttendedStudentIDs = slices.Clone(studentIDs)
	instance.UpdatedAt = at
	return cloneInstance(instance), nil
}

func (s *Store) MarkReminded(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	instance, ok := s.instances[id]
	if !ok || instance.RemindedAt != nil {
		return false, nil
	}
	instance.RemindedAt = &at
	return true, nil
}

func (s *Store) DeleteScheduledBySchedule(_ context.Context, scheduleID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, instance := range s.instances {
		if instance.ScheduleID == nil || *instance.ScheduleID != scheduleID || instance.Status != model.InstanceStatusScheduled {
			continue
		}
		delete(s.byKey, instanceKey{scheduleID: scheduleID, start: instance.ScheduledStart.UnixNano()})
		delete(s.instances, id)
		deleted++
	}
	return deleted, nil
}

func (s *Store) filter(filter repository.InstanceFilter) []*model.ClassInstance {
	var out []*model.ClassInstance
	for _, instance := range s.instances {
		if filter.ScheduleID != nil && (instance.ScheduleID == nil || *instance.ScheduleID != *filter.ScheduleID) {
			continue
		}
		if filter.TeacherID != nil && instance.TeacherID != *filter.TeacherID {
			continue
		}
		if filter.StudentID != nil && !instance.HasEligible(*filter.StudentID) {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, instance.Status) {
			continue
		}
		if filter.From != nil && instance.ScheduledStart.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !instance.ScheduledStart.Before(*filter.To) {
			continue
		}
		out = append(out, instance)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ScheduledStart.Equal(out[j].ScheduledStart) {
			return out[i].ID < out[j].ID
		}
		return out[i].ScheduledStart.Before(out[j].ScheduledStart)
	})
	return out
}

// --- студенты, встречи, уведомления ---

func (s *Store) UpsertStudent(_ context.Context, student *model.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.students[student.ID]; ok {
		student.CreatedAt = existing.CreatedAt
	}
	copied := *student
	s.students[student.ID] = &copied
	return nil
}

func (s *Store) GetStudentsByIDs(_ context.Context, ids []string) ([]*model.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Student
	for _, id := range ids {
		if student, ok := s.students[id]; ok {
			copied := *student
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetStudentByTelegramID(_ context.Context, telegramID int64) (*model.Student, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, student := range s.students {
		if student.TelegramID == telegramID {
			copied := *student
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("get student by telegram id %d: %w", telegramID, repository.ErrNotFound)
}

func (s *Store) CreateMeetSession(_ context.Context, session *model.MeetSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *session
	s.meetSessions[session.ID] = &copied
	return nil
}

func (s *Store) EndMeetSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.meetSessions[id]
	if !ok {
		return fmt.Errorf("end meet session %s: %w", id, repository.ErrNotFound)
	}
	session.Status = model.MeetSessionStatusEnded
	if session.EndedAt == nil {
		session.EndedAt = &at
	}
	return nil
}

// MeetSession возвращает встречу по ID
func (s *Store) MeetSession(id string) (*model.MeetSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.meetSessions[id]
	if !ok {
		return nil, false
	}
	copied := *session
	return &copied, true
}

func (s *Store) CreateNotifications(_ context.Context, notifications []*model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, n := range notifications {
		copied := *n
		s.notifications = append(s.notifications, &copied)
	}
	return nil
}

func (s *Store) ListByStudent(_ context.Context, studentID string, limit int) ([]*model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Notification
	for i := len(s.notifications) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if n := s.notifications[i]; n.StudentID == studentID {
			copied := *n
			out = append(out, &copied)
		}
	}
	return out, nil
}

func cloneSchedule(schedule *model.RecurringSchedule) *model.RecurringSchedule {
	copied := *schedule
	copied.Patterns = slices.Clone(schedule.Patterns)
	copied.Enrollments = slices.Clone(schedule.Enrollments)
	return &copied
}

func cloneInstance(instance *model.ClassInstance) *model.ClassInstance {
	copied := *instance
	copied.EligibleStudentIDs = slices.Clone(instance.EligibleStudentIDs)
	copied.AttendedStudentIDs = slices.Clone(instance.AttendedStudentIDs)
	return &copied
}
