package service

import (
	"context"
	"testing"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoStartSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clock.Now()

	soon := f.standalone(t, now.Add(90*time.Second), "student-1")
	reminder := f.standalone(t, now.Add(5*time.Minute), "student-1")
	gap := f.standalone(t, now.Add(3*time.Minute), "student-1")
	later := f.standalone(t, now.Add(20*time.Minute), "student-1")

	result, err := f.autostart.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{Started: 1, Reminded: 1}, result)

	started, err := f.lifecycle.GetInstance(ctx, soon.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusLive, started.Status)
	assert.Equal(t, []string{soon.ID}, f.meetings.created)

	reminded, err := f.lifecycle.GetInstance(ctx, reminder.ID)
	require.NoError(t, err)
	assert.Equal(t, model.InstanceStatusScheduled, reminded.Status)
	assert.NotNil(t, reminded.RemindedAt)

	for _, id := range []string{gap.ID, later.ID} {
		untouched, err := f.lifecycle.GetInstance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.InstanceStatusScheduled, untouched.Status)
		assert.Nil(t, untouched.RemindedAt)
	}

	assert.ElementsMatch(t,
		[]model.EventKind{model.EventClassStarted, model.EventClassStartingSoon},
		f.notifier.kinds())
	for _, call := range f.notifier.calls {
		if call.kind == model.EventClassStartingSoon {
			assert.Equal(t, 5, call.payload["minutes_until_start"])
		}
	}
}

func TestAutoStartRemindsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.standalone(t, f.clock.Now().Add(6*time.Minute-time.Second), "student-1")

	result, err := f.autostart.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reminded)

	f.clock.Advance(30 * time.Second)
	result, err = f.autostart.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Reminded)
	assert.Len(t, f.notifier.kinds(), 1)
}

func TestAutoStartSkipsRemindersWithoutStudents(t *testing.T) {
	f := newFixture(t)
	instance := f.standalone(t, f.clock.Now().Add(5*time.Minute))

	result, err := f.autostart.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Reminded)

	stored, err := f.lifecycle.GetInstance(context.Background(), instance.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RemindedAt)
}

func TestAutoStartIgnoresManuallyStarted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	instance := f.standalone(t, f.clock.Now().Add(time.Minute), "student-1")

	_, err := f.lifecycle.Start(ctx, instance.ID)
	require.NoError(t, err)

	result, err := f.autostart.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Started)
	assert.Len(t, f.meetings.created, 1)
}

func TestAutoStartStartsRecurringInstances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	schedule := f.mondaySchedule(t)
	_, err := f.generator.Generate(ctx, schedule, 1)
	require.NoError(t, err)

	f.clock.Set(time.Date(2025, 1, 6, 9, 59, 10, 0, time.UTC))

	result, err := f.autostart.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Started)

	instances := f.instances(t, schedule.ID)
	require.Len(t, instances, 1)
	assert.Equal(t, model.InstanceStatusLive, instances[0].Status)
}
