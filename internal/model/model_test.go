package model

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnrollmentCovers(t *testing.T) {
	enrolled := time.Date(2025, 1, 6, 9, 30, 0, 0, time.UTC)
	unenrolled := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)

	open := NewEnrollment("s1", "Анна", enrolled)
	closed := open.Close(unenrolled)

	tests := []struct {
		name       string
		enrollment Enrollment
		at         time.Time
		want       bool
	}{
		{"before enrollment", open, enrolled.Add(-time.Second), false},
		{"at enrollment", open, enrolled, true},
		{"open ended far future", open, enrolled.AddDate(1, 0, 0), true},
		{"inside closed interval", closed, unenrolled.Add(-time.Nanosecond), true},
		{"at unenrollment", closed, unenrolled, false},
		{"after unenrollment", closed, unenrolled.Add(time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.enrollment.Covers(tt.at))
		})
	}
}

func TestEnrollmentCloseKeepsOriginal(t *testing.T) {
	at := time.Date(2025, 1, 6, 9, 30, 0, 0, time.UTC)
	open := NewEnrollment("s1", "", at)

	closed := open.Close(at.Add(time.Hour))

	assert.True(t, open.IsActive())
	assert.Nil(t, open.UnenrolledAt)
	assert.False(t, closed.IsActive())
	assert.Equal(t, EnrollmentStatusInactive, closed.Status)
	assert.Equal(t, at, closed.EnrolledAt)
}

func TestDayPatternOccurrence(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Moscow")
	require.NoError(t, err)
	day := time.Date(2025, 1, 6, 0, 0, 0, 0, loc)

	t.Run("explicit end", func(t *testing.T) {
		start, end, err := DayPattern{DayOfWeek: 1, StartTime: "10:00", EndTime: "11:30"}.Occurrence(day, loc, 60)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2025, 1, 6, 10, 0, 0, 0, loc), start)
		assert.Equal(t, 90*time.Minute, end.Sub(start))
	})

	t.Run("empty end uses duration", func(t *testing.T) {
		start, end, err := DayPattern{DayOfWeek: 1, StartTime: "18:15"}.Occurrence(day, loc, 45)
		require.NoError(t, err)
		assert.Equal(t, 45*time.Minute, end.Sub(start))
	})

	t.Run("crosses midnight", func(t *testing.T) {
		start, end, err := DayPattern{DayOfWeek: 1, StartTime: "23:30", EndTime: "00:30"}.Occurrence(day, loc, 60)
		require.NoError(t, err)
		assert.Equal(t, time.Hour, end.Sub(start))
		assert.Equal(t, 7, end.Day())
	})

	t.Run("invalid clock", func(t *testing.T) {
		_, _, err := DayPattern{DayOfWeek: 1, StartTime: "25:00"}.Occurrence(day, loc, 60)
		assert.Error(t, err)
	})
}

func TestParseClock(t *testing.T) {
	h, m, err := ParseClock("07:05")
	require.NoError(t, err)
	assert.Equal(t, 7, h)
	assert.Equal(t, 5, m)

	for _, bad := range []string{"", "7", "10:60", "noon", "10:00:00"} {
		_, _, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestTransitionsTable(t *testing.T) {
	tests := []struct {
		from   InstanceStatus
		action InstanceAction
		to     InstanceStatus
		ok     bool
	}{
		{InstanceStatusScheduled, ActionStart, InstanceStatusLive, true},
		{InstanceStatusScheduled, ActionCancel, InstanceStatusCancelled, true},
		{InstanceStatusLive, ActionEnd, InstanceStatusEnded, true},
		{InstanceStatusScheduled, ActionEnd, "", false},
		{InstanceStatusEnded, ActionStart, "", false},
		{InstanceStatusLive, ActionCancel, "", false},
		{InstanceStatusCancelled, ActionStart, "", false},
		{InstanceStatusLive, ActionStart, "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.action), func(t *testing.T) {
			ok := slices.Contains(SourceStatuses(tt.action), tt.from)
			assert.Equal(t, tt.ok, ok)
			if ok {
				to, found := TargetStatus(tt.action)
				require.True(t, found)
				assert.Equal(t, tt.to, to)
			}
		})
	}
}

func TestNoTransitionReentersScheduled(t *testing.T) {
	for _, tr := range transitionsTable {
		assert.NotEqual(t, InstanceStatusScheduled, tr.To)
	}
	for _, action := range []InstanceAction{ActionStart, ActionEnd, ActionCancel} {
		to, ok := TargetStatus(action)
		require.True(t, ok)
		assert.NotEqual(t, InstanceStatusScheduled, to)
		assert.NotEmpty(t, SourceStatuses(action))
	}

	_, ok := TargetStatus(ActionRecordAttendance)
	assert.False(t, ok)
}

func TestScheduleLocation(t *testing.T) {
	s := &RecurringSchedule{}
	loc, err := s.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	s.Timezone = "Mars/Olympus"
	_, err = s.Location()
	assert.Error(t, err)
}

func TestActiveEnrollment(t *testing.T) {
	at := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	s := &RecurringSchedule{Enrollments: []Enrollment{
		NewEnrollment("s1", "", at).Close(at.Add(time.Hour)),
		NewEnrollment("s1", "", at.Add(2*time.Hour)),
	}}

	e, idx, ok := s.ActiveEnrollment("s1")
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, at.Add(2*time.Hour), e.EnrolledAt)

	_, _, ok = s.ActiveEnrollment("s2")
	assert.False(t, ok)
}
