package memstore

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

func recurring(id, scheduleID string, start time.Time) *model.ClassInstance {
	return &model.ClassInstance{
		ID:                 id,
		ScheduleID:         &scheduleID,
		Name:               "Английский",
		TeacherID:          "teacher-1",
		ScheduledStart:     start,
		ScheduledEnd:       start.Add(time.Hour),
		MeetingMode:        model.MeetingModeLive,
		EligibleStudentIDs: []string{"student-1"},
		AttendedStudentIDs: []string{},
		Status:             model.InstanceStatusScheduled,
		CreatedAt:          base,
	}
}

func TestInsertInstanceIfAbsentUniqueKey(t *testing.T) {
	s := New()
	ctx := context.Background()

	var inserted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := s.InsertInstanceIfAbsent(ctx, recurring(string(rune('a'+i)), "sched-1", base))
			if assert.NoError(t, err) && created {
				inserted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, inserted.Load())

	created, err := s.InsertInstanceIfAbsent(ctx, recurring("other", "sched-2", base))
	require.NoError(t, err)
	assert.True(t, created)

	// одиночные занятия без ключа
	single := recurring("single", "", base)
	single.ScheduleID = nil
	require.NoError(t, s.CreateInstance(ctx, single))
}

func TestCreateInstanceConflict(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateInstance(ctx, recurring("a", "sched-1", base)))
	err := s.CreateInstance(ctx, recurring("b", "sched-1", base))
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestReturnedCopiesAreIsolated(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateInstance(ctx, recurring("a", "sched-1", base)))

	got, err := s.GetInstance(ctx, "a")
	require.NoError(t, err)
	got.Status = model.InstanceStatusEnded
	got.EligibleStudentIDs[0] = "intruder"

	again, err := s.GetInstance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusScheduled, again.Status)
	assert.Equal(t, []string{"student-1"}, again.EligibleStudentIDs)

	_, err = s.GetInstance(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestTransitionInstanceCompareAndSet(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateInstance(ctx, recurring("a", "sched-1", base)))

	start := repository.InstanceTransition{
		From: []model.InstanceStatus{model.InstanceStatusScheduled},
		To:   model.InstanceStatusLive,
		At:   base,
	}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.TransitionInstance(ctx, "a", start); err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, repository.ErrConflict)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, wins.Load())

	ended, err := s.TransitionInstance(ctx, "a", repository.InstanceTransition{
		From:     []model.InstanceStatus{model.InstanceStatusLive},
		To:       model.InstanceStatusEnded,
		At:       base.Add(time.Hour),
		Attended: []string{"student-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusEnded, ended.Status)
	require.NotNil(t, ended.StartedAt)
	require.NotNil(t, ended.EndedAt)
	assert.Equal(t, base, *ended.StartedAt)
	assert.Equal(t, []string{"student-1"}, ended.AttendedStudentIDs)

	_, err = s.TransitionInstance(ctx, "missing", start)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestUpdateEligibleOnlyScheduled(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateInstance(ctx, recurring("a", "sched-1", base)))
	require.NoError(t, s.CreateInstance(ctx, recurring("b", "sched-1", base.AddDate(0, 0, 7))))

	_, err := s.TransitionInstance(ctx, "a", repository.InstanceTransition{
		From: []model.InstanceStatus{model.InstanceStatusScheduled},
		To:   model.InstanceStatusCancelled,
		At:   base,
	})
	require.NoError(t, err)

	updated, err := s.UpdateEligible(ctx, "a", []string{"student-2"}, base)
	require.NoError(t, err)
	assert.False(t, updated)

	updated, err = s.UpdateEligible(ctx, "b", []string{"student-2"}, base)
	require.NoError(t, err)
	assert.True(t, updated)

	b, err := s.GetInstance(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"student-2"}, b.EligibleStudentIDs)
}

func TestListInstancesFilter(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i, id := range []string{"w3", "w1", "w2"} {
		start := base.AddDate(0, 0, 7*(3-i))
		require.NoError(t, s.CreateInstance(ctx, recurring(id, "sched-1", start)))
	}
	require.NoError(t, s.CreateInstance(ctx, recurring("x", "sched-2", base)))

	scheduleID := "sched-1"
	all, err := s.ListInstances(ctx, repository.InstanceFilter{ScheduleID: &scheduleID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].ScheduledStart.Before(all[i].ScheduledStart))
	}

	from := all[1].ScheduledStart
	to := all[2].ScheduledStart
	window, err := s.ListInstances(ctx, repository.InstanceFilter{ScheduleID: &scheduleID, From: &from, To: &to})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, all[1].ID, window[0].ID)

	student := "student-1"
	count, err := s.CountInstances(ctx, repository.InstanceFilter{
		StudentID: &student,
		Statuses:  []model.InstanceStatus{model.InstanceStatusScheduled},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	limited, err := s.ListInstances(ctx, repository.InstanceFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestEnrollmentsAndScheduleStatus(t *testing.T) {
	s := New()
	ctx := context.Background()

	schedule := &model.RecurringSchedule{
		ID:          "sched-1",
		TeacherID:   "teacher-1",
		Status:      model.ScheduleStatusActive,
		Enrollments: []model.Enrollment{},
		CreatedAt:   base,
	}
	require.NoError(t, s.CreateSchedule(ctx, schedule))
	assert.ErrorIs(t, s.CreateSchedule(ctx, schedule), repository.ErrConflict)

	require.NoError(t, s.AddEnrollment(ctx, "sched-1", model.NewEnrollment("student-1", "Иван", base)))
	assert.ErrorIs(t,
		s.AddEnrollment(ctx, "sched-1", model.NewEnrollment("student-1", "Иван", base)),
		repository.ErrConflict)

	require.NoError(t, s.CloseEnrollment(ctx, "sched-1", "student-1", base.Add(time.Hour)))
	assert.ErrorIs(t, s.CloseEnrollment(ctx, "sched-1", "student-1", base.Add(time.Hour)), repository.ErrNotFound)

	require.NoError(t, s.UpdateScheduleStatus(ctx, "sched-1", model.ScheduleStatusPaused, base))
	active, err := s.ListActiveSchedules(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	stored, err := s.GetSchedule(ctx, "sched-1")
	require.NoError(t, err)
	require.Len(t, stored.Enrollments, 1)
	assert.NotNil(t, stored.Enrollments[0].UnenrolledAt)

	require.NoError(t, s.DeleteSchedule(ctx, "sched-1"))
	_, err = s.GetSchedule(ctx, "sched-1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestMarkRemindedOnce(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateInstance(ctx, recurring("a", "sched-1", base)))

	marked, err := s.MarkReminded(ctx, "a", base)
	require.NoError(t, err)
	assert.True(t, marked)

	marked, err = s.MarkReminded(ctx, "a", base)
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestStudentsAndNotifications(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.UpsertStudent(ctx, &model.Student{ID: "student-2", TelegramID: 42, CreatedAt: base}))
	require.NoError(t, s.UpsertStudent(ctx, &model.Student{ID: "student-1", CreatedAt: base}))
	require.NoError(t, s.UpsertStudent(ctx, &model.Student{ID: "student-2", TelegramID: 43, CreatedAt: base.Add(time.Hour)}))

	students, err := s.GetStudentsByIDs(ctx, []string{"student-2", "student-1", "missing"})
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "student-1", students[0].ID)
	assert.EqualValues(t, 43, students[1].TelegramID)
	assert.Equal(t, base, students[1].CreatedAt)

	byTelegram, err := s.GetStudentByTelegramID(ctx, 43)
	require.NoError(t, err)
	assert.Equal(t, "student-2", byTelegram.ID)
	_, err = s.GetStudentByTelegramID(ctx, 42)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, s.CreateNotifications(ctx, []*model.Notification{
		{ID: "n1", StudentID: "student-1", Kind: model.EventClassStarted},
		{ID: "n2", StudentID: "student-2", Kind: model.EventClassStarted},
		{ID: "n3", StudentID: "student-1", Kind: model.EventClassEnded},
	}))

	inbox, err := s.ListByStudent(ctx, "student-1", 0)
	require.NoError(t, err)
	require.Len(t, inbox, 2)
	assert.Equal(t, "n3", inbox[0].ID)

	latest, err := s.ListByStudent(ctx, "student-1", 1)
	require.NoError(t, err)
	assert.Len(t, latest, 1)
}
