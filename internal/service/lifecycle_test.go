package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	instance := f.standalone(t, mondayMorning.Add(time.Hour), "s2", "s1", "s1")
	assert.Equal(t, []string{"s1", "s2"}, instance.EligibleStudentIDs)
	assert.True(t, instance.IsStandalone())

	live, err := f.lifecycle.Start(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusLive, live.Status)
	require.NotNil(t, live.StartedAt)
	assert.Equal(t, mondayMorning, *live.StartedAt)
	require.NotNil(t, live.MeetingSessionID)
	assert.Equal(t, "meet-"+instance.ID, *live.MeetingSessionID)

	stored, err := f.lifecycle.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, live.MeetingSessionID, stored.MeetingSessionID)

	f.clock.Advance(time.Hour)
	ended, err := f.lifecycle.End(ctx, instance.ID, []string{"s1"})
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)
	assert.Equal(t, []string{"s1"}, ended.AttendedStudentIDs)

	assert.Equal(t, []string{"meet-" + instance.ID}, f.meetings.ended)
	assert.Equal(t, []model.EventKind{model.EventClassStarted, model.EventClassEnded}, f.notifier.kinds())

	started := f.notifier.calls[0]
	assert.Equal(t, []string{"s1", "s2"}, started.studentIDs)
	assert.Equal(t, "https://app.test/class-instance/"+instance.ID, started.payload["join_url"])
	assert.Equal(t, instance.ID, started.payload["instance_id"])

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.transitions.WithLabelValues("start")))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.transitions.WithLabelValues("end")))
}

func TestLifecycleLegality(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	scheduled := f.standalone(t, mondayMorning.Add(time.Hour))
	_, err := f.lifecycle.End(ctx, scheduled.ID, nil)
	var transitionErr *TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, model.InstanceStatusScheduled, transitionErr.From)
	assert.Equal(t, model.ActionEnd, transitionErr.Action)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	live := f.standalone(t, mondayMorning.Add(2*time.Hour))
	_, err = f.lifecycle.Start(ctx, live.ID)
	require.NoError(t, err)
	_, err = f.lifecycle.Cancel(ctx, live.ID, "болезнь")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.lifecycle.Start(ctx, live.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.lifecycle.End(ctx, live.ID, nil)
	require.NoError(t, err)
	_, err = f.lifecycle.Start(ctx, live.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.lifecycle.End(ctx, live.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	stored, err := f.lifecycle.GetInstance(ctx, live.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusEnded, stored.Status)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	instance := f.standalone(t, mondayMorning.Add(time.Hour), "s1")

	cancelled, err := f.lifecycle.Cancel(ctx, instance.ID, "  учитель заболел ")
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusCancelled, cancelled.Status)
	assert.Equal(t, "учитель заболел", cancelled.CancelReason)
	require.NotNil(t, cancelled.CancelledAt)

	require.Len(t, f.notifier.calls, 1)
	assert.Equal(t, model.EventClassCancelled, f.notifier.calls[0].kind)
	assert.Equal(t, "учитель заболел", f.notifier.calls[0].payload["reason"])
	assert.Empty(t, f.meetings.created)

	_, err = f.lifecycle.Start(ctx, instance.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSideEffectFailuresAreNonFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.meetings.createErr = errProviderDown
	f.notifier.err = errProviderDown

	instance := f.standalone(t, mondayMorning.Add(time.Hour), "s1")

	live, err := f.lifecycle.Start(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusLive, live.Status)
	assert.Nil(t, live.MeetingSessionID)

	stored, err := f.lifecycle.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusLive, stored.Status)

	ended, err := f.lifecycle.End(ctx, instance.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusEnded, ended.Status)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.sideEffectFailures.WithLabelValues("meeting")))
	assert.Equal(t, float64(2), testutil.ToFloat64(f.metrics.sideEffectFailures.WithLabelValues("notifier")))
}

func TestSideEffectsAreTimeBounded(t *testing.T) {
	f := newFixture(t)
	f.notifier.block = true
	f.lifecycle.cfg.SideEffectTimeout = 20 * time.Millisecond

	instance := f.standalone(t, mondayMorning.Add(time.Hour), "s1")

	done := make(chan error, 1)
	go func() {
		_, err := f.lifecycle.Start(context.Background(), instance.ID)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start blocked on notifier")
	}

	stored, err := f.lifecycle.GetInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusLive, stored.Status)
}

func TestSideEffectsSurviveCallerCancel(t *testing.T) {
	f := newFixture(t)
	instance := f.standalone(t, mondayMorning.Add(time.Hour), "s1")

	// запрос отменён, но переход уже зафиксирован и встреча всё равно создаётся
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	live, err := f.lifecycle.Start(ctx, instance.ID)
	require.NoError(t, err)
	assert.NotNil(t, live.MeetingSessionID)
	assert.Len(t, f.notifier.calls, 1)
}

func TestAsyncModeSkipsMeeting(t *testing.T) {
	f := newFixture(t)
	start := mondayMorning.Add(time.Hour)

	instance, err := f.lifecycle.CreateSingleSession(context.Background(), CreateSingleSessionInput{
		TeacherID:      "teacher-1",
		Name:           "Разбор домашнего задания",
		ScheduledStart: &start,
		MeetingMode:    model.MeetingModeAsync,
	})
	require.NoError(t, err)

	live, err := f.lifecycle.Start(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Nil(t, live.MeetingSessionID)
	assert.Empty(t, f.meetings.created)
}

func TestStartScheduleIDIsCallerError(t *testing.T) {
	f := newFixture(t)
	schedule := f.mondaySchedule(t)

	_, err := f.lifecycle.Start(context.Background(), schedule.ID)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.False(t, errors.Is(err, ErrInvalidTransition))

	_, err = f.lifecycle.Start(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecordAttendance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	instance := f.standalone(t, mondayMorning.Add(time.Hour), "s1", "s2")

	_, err := f.lifecycle.RecordAttendance(ctx, instance.ID, []string{"s1"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.lifecycle.Start(ctx, instance.ID)
	require.NoError(t, err)

	updated, err := f.lifecycle.RecordAttendance(ctx, instance.ID, []string{"s2", "s1", "s2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, updated.AttendedStudentIDs)

	_, err = f.lifecycle.End(ctx, instance.ID, nil)
	require.NoError(t, err)

	updated, err = f.lifecycle.RecordAttendance(ctx, instance.ID, []string{"s1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, updated.AttendedStudentIDs)
}

func TestCreateSingleSessionValidation(t *testing.T) {
	f := newFixture(t)
	past := mondayMorning.Add(-time.Minute)
	future := mondayMorning.Add(time.Hour)

	tests := []struct {
		name  string
		input CreateSingleSessionInput
		field string
	}{
		{"missing teacher", CreateSingleSessionInput{Name: "x", ScheduledStart: &future}, "teacher_id"},
		{"missing name", CreateSingleSessionInput{TeacherID: "t", ScheduledStart: &future}, "name"},
		{"missing start", CreateSingleSessionInput{TeacherID: "t", Name: "x"}, "scheduled_start"},
		{"past start", CreateSingleSessionInput{TeacherID: "t", Name: "x", ScheduledStart: &past}, "scheduled_start"},
		{"bad mode", CreateSingleSessionInput{TeacherID: "t", Name: "x", ScheduledStart: &future, MeetingMode: "hybrid"}, "meeting_mode"},
		{"bad duration", CreateSingleSessionInput{TeacherID: "t", Name: "x", ScheduledStart: &future, DurationMinutes: -5}, "duration_minutes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.lifecycle.CreateSingleSession(context.Background(), tt.input)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.field, validationErr.Field)
		})
	}
}

func TestCreateSingleSessionDefaults(t *testing.T) {
	f := newFixture(t)
	instance := f.standalone(t, mondayMorning.Add(time.Hour))

	assert.Equal(t, 60*time.Minute, instance.ScheduledEnd.Sub(instance.ScheduledStart))
	assert.Equal(t, model.MeetingModeLive, instance.MeetingMode)
	assert.Equal(t, model.InstanceStatusScheduled, instance.Status)
	assert.NotNil(t, instance.EligibleStudentIDs)
	assert.Nil(t, instance.ScheduleID)
}

func TestInstanceQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	soon := f.standalone(t, mondayMorning.Add(30*time.Minute), "s1")
	later := f.standalone(t, mondayMorning.Add(48*time.Hour), "s1", "s2")
	other, err := f.lifecycle.CreateSingleSession(ctx, CreateSingleSessionInput{
		TeacherID:      "teacher-2",
		Name:           "Физика",
		ScheduledStart: ptrTime(mondayMorning.Add(2 * time.Hour)),
		StudentIDs:     []string{"s2"},
	})
	require.NoError(t, err)

	_, err = f.lifecycle.Start(ctx, soon.ID)
	require.NoError(t, err)

	teacher, err := f.lifecycle.ListTeacherInstances(ctx, "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, []string{soon.ID, later.ID}, ids(teacher))

	scheduledOnly, err := f.lifecycle.ListTeacherInstances(ctx, "teacher-1", model.InstanceStatusScheduled)
	require.NoError(t, err)
	assert.Equal(t, []string{later.ID}, ids(scheduledOnly))

	student, err := f.lifecycle.ListStudentInstances(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID, later.ID}, ids(student))

	liveAll, err := f.lifecycle.ListLiveInstances(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{soon.ID}, ids(liveAll))

	liveOther, err := f.lifecycle.ListLiveInstances(ctx, "teacher-2")
	require.NoError(t, err)
	assert.Empty(t, liveOther)

	upcoming, err := f.lifecycle.ListUpcoming(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID}, ids(upcoming))
}

func ptrTime(t time.Time) *time.Time {
	return &t
}

func ids(instances []*model.ClassInstance) []string {
	out := make([]string, 0, len(instances))
	for _, instance := range instances {
		out = append(out, instance.ID)
	}
	return out
}

func TestAssignAndUnassignStudent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	instance := f.standalone(t, mondayMorning.Add(time.Hour), "s2")

	assigned, err := f.lifecycle.AssignStudent(ctx, instance.ID, " s1 ")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, assigned.EligibleStudentIDs)

	_, err = f.lifecycle.AssignStudent(ctx, instance.ID, "s1")
	assert.ErrorIs(t, err, ErrAlreadyEnrolled)

	unassigned, err := f.lifecycle.UnassignStudent(ctx, instance.ID, "s2")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, unassigned.EligibleStudentIDs)

	// повторное удаление ничего не меняет
	again, err := f.lifecycle.UnassignStudent(ctx, instance.ID, "s2")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, again.EligibleStudentIDs)

	stored, err := f.lifecycle.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, stored.EligibleStudentIDs)

	_, err = f.lifecycle.AssignStudent(ctx, instance.ID, "  ")
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "student_id", validationErr.Field)
}

func TestAssignStudentRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("only while scheduled", func(t *testing.T) {
		instance := f.standalone(t, mondayMorning.Add(time.Hour), "s1")
		_, err := f.lifecycle.Start(ctx, instance.ID)
		require.NoError(t, err)

		_, err = f.lifecycle.AssignStudent(ctx, instance.ID, "s2")
		var transitionErr *TransitionError
		require.ErrorAs(t, err, &transitionErr)
		assert.Equal(t, model.InstanceStatusLive, transitionErr.From)
		assert.Equal(t, model.ActionAssignStudent, transitionErr.Action)

		_, err = f.lifecycle.UnassignStudent(ctx, instance.ID, "s1")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("recurring instance", func(t *testing.T) {
		schedule := f.mondaySchedule(t)
		_, err := f.generator.Generate(ctx, schedule, 1)
		require.NoError(t, err)
		instances := f.instances(t, schedule.ID)
		require.NotEmpty(t, instances)

		_, err = f.lifecycle.AssignStudent(ctx, instances[0].ID, "s1")
		var validationErr *ValidationError
		require.ErrorAs(t, err, &validationErr)
		assert.Equal(t, "instance_id", validationErr.Field)
	})

	t.Run("unknown instance", func(t *testing.T) {
		_, err := f.lifecycle.AssignStudent(ctx, "missing", "s1")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAssignStudentConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	instance := f.standalone(t, mondayMorning.Add(time.Hour))

	students := []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8"}
	var wg sync.WaitGroup
	for _, id := range students {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.lifecycle.AssignStudent(ctx, instance.ID, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := f.lifecycle.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, students, stored.EligibleStudentIDs)
}
