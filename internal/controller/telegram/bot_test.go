package telegram

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestStartPayload(t *testing.T) {
	assert.Equal(t, "student-1", startPayload("/start student-1"))
	assert.Equal(t, "student-1", startPayload("/start   student-1  extra"))
	assert.Empty(t, startPayload("/start"))
}

func TestFormatClasses(t *testing.T) {
	moscow, err := time.LoadLocation("Europe/Moscow")
	if err != nil {
		t.Skip("tzdata is not available")
	}

	assert.Equal(t, "📭 Ближайших занятий нет.", FormatClasses(nil, moscow))

	start := time.Date(2025, 1, 6, 7, 0, 0, 0, time.UTC)
	text := FormatClasses([]*model.ClassInstance{
		{Name: "Английский", ScheduledStart: start, Status: model.InstanceStatusLive},
		{Name: "Немецкий", ScheduledStart: start.AddDate(0, 0, 2), Status: model.InstanceStatusScheduled},
	}, moscow)

	assert.Equal(t, "📅 Ближайшие занятия:\n\n🔴 06.01 10:00 Английский\n• 08.01 10:00 Немецкий", text)
}

func TestFormatClassesTruncates(t *testing.T) {
	start := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)

	var instances []*model.ClassInstance
	for i := 0; i < maxListedClasses+3; i++ {
		instances = append(instances, &model.ClassInstance{
			Name:           fmt.Sprintf("Урок %d", i+1),
			ScheduledStart: start.AddDate(0, 0, i),
			Status:         model.InstanceStatusScheduled,
		})
	}

	text := FormatClasses(instances, nil)
	assert.Equal(t, maxListedClasses, strings.Count(text, "•"))
	assert.True(t, strings.HasSuffix(text, "...и ещё 3"))
	assert.Contains(t, text, "06.01 10:00 Урок 1")
}
