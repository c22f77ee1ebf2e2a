package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/clock"
	"github.com/Freeeeeet/class_scheduler/internal/lock"
	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/repository"
	"github.com/Freeeeeet/class_scheduler/internal/repository/memstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// понедельник, 09:00 UTC
var mondayMorning = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

type fixture struct {
	clock       *clock.Manual
	store       *memstore.Store
	meetings    *fakeMeetings
	notifier    *fakeNotifier
	metrics     *Metrics
	registry    *prometheus.Registry
	generator   *InstanceGenerator
	enrollments *EnrollmentManager
	lifecycle   *SessionLifecycle
	renewal     *AutoRenewalMonitor
	schedules   *ScheduleService
	autostart   *AutoStarter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	clk := clock.NewManual(mondayMorning)
	store := memstore.New()
	locker := lock.NewKeyedMutex()
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)

	f := &fixture{
		clock:    clk,
		store:    store,
		meetings: &fakeMeetings{},
		notifier: &fakeNotifier{},
		metrics:  metrics,
		registry: registry,
	}

	f.generator = NewInstanceGenerator(store, store, locker, clk, metrics, logger)
	f.enrollments = NewEnrollmentManager(store, store, locker, clk, logger)
	f.lifecycle = NewSessionLifecycle(store, store, f.meetings, f.notifier, locker, clk,
		LifecycleConfig{SideEffectTimeout: time.Second, AppURL: "https://app.test/"}, metrics, logger)
	f.renewal = NewAutoRenewalMonitor(store, store, f.generator, clk, 3, 4, logger)
	f.schedules = NewScheduleService(store, store, f.generator, f.renewal, locker, clk,
		ScheduleConfig{DefaultTimezone: "UTC", HorizonWeeks: 2}, logger)
	f.autostart = NewAutoStarter(f.lifecycle, logger)

	return f
}

// mondaySchedule еженедельно по понедельникам 10:00-11:00 с 2025-01-01
func (f *fixture) mondaySchedule(t *testing.T, mutate ...func(*model.RecurringSchedule)) *model.RecurringSchedule {
	t.Helper()

	schedule := &model.RecurringSchedule{
		ID:              "sched-1",
		TeacherID:       "teacher-1",
		Name:            "Английский B1",
		Patterns:        []model.DayPattern{{DayOfWeek: 1, StartTime: "10:00", EndTime: "11:00"}},
		Timezone:        "UTC",
		ValidFrom:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Enrollments:     []model.Enrollment{},
		Status:          model.ScheduleStatusActive,
		DurationMinutes: 60,
		MeetingMode:     model.MeetingModeLive,
		CreatedAt:       f.clock.Now(),
	}
	for _, m := range mutate {
		m(schedule)
	}

	require.NoError(t, f.store.CreateSchedule(context.Background(), schedule))
	return schedule
}

func (f *fixture) instances(t *testing.T, scheduleID string) []*model.ClassInstance {
	t.Helper()

	instances, err := f.store.ListInstances(context.Background(), repository.InstanceFilter{ScheduleID: &scheduleID})
	require.NoError(t, err)
	return instances
}

// standalone одиночное занятие учителя teacher-1
func (f *fixture) standalone(t *testing.T, start time.Time, students ...string) *model.ClassInstance {
	t.Helper()

	instance, err := f.lifecycle.CreateSingleSession(context.Background(), CreateSingleSessionInput{
		TeacherID:      "teacher-1",
		Name:           "Консультация",
		ScheduledStart: &start,
		StudentIDs:     students,
	})
	require.NoError(t, err)
	return instance
}

type notifyCall struct {
	studentIDs []string
	kind       model.EventKind
	payload    map[string]any
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
	block bool
}

func (n *fakeNotifier) Notify(ctx context.Context, studentIDs []string, kind model.EventKind, payload map[string]any) error {
	if n.block {
		<-ctx.Done()
		return ctx.Err()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notifyCall{studentIDs: studentIDs, kind: kind, payload: payload})
	return n.err
}

func (n *fakeNotifier) kinds() []model.EventKind {
	n.mu.Lock()
	defer n.mu.Unlock()

	var kinds []model.EventKind
	for _, c := range n.calls {
		kinds = append(kinds, c.kind)
	}
	return kinds
}

type fakeMeetings struct {
	mu        sync.Mutex
	created   []string
	ended     []string
	createErr error
	endErr    error
}

func (m *fakeMeetings) CreateSession(ctx context.Context, instance *model.ClassInstance) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return "", m.createErr
	}
	m.created = append(m.created, instance.ID)
	return "meet-" + instance.ID, nil
}

func (m *fakeMeetings) EndSession(_ context.Context, meetingSessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.endErr != nil {
		return m.endErr
	}
	m.ended = append(m.ended, meetingSessionID)
	return nil
}

var errProviderDown = errors.New("provider unavailable")

// failingInstances хранилище занятий, у которого ломается выбранная операция
type failingInstances struct {
	InstanceStore
	failInsert bool
	failList   bool
}

func (s *failingInstances) InsertInstanceIfAbsent(ctx context.Context, instance *model.ClassInstance) (bool, error) {
	if s.failInsert {
		return false, errors.New("connection reset")
	}
	return s.InstanceStore.InsertInstanceIfAbsent(ctx, instance)
}

func (s *failingInstances) ListInstances(ctx context.Context, filter repository.InstanceFilter) ([]*model.ClassInstance, error) {
	if s.failList {
		return nil, errors.New("connection reset")
	}
	return s.InstanceStore.ListInstances(ctx, filter)
}
