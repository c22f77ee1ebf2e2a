package model

import (
	"fmt"
	"time"
)

// DayPattern один недельный слот: день недели и время начала/конца в формате HH:MM
type DayPattern struct {
	DayOfWeek int    `json:"day_of_week" validate:"min=0,max=6"` // 0 = Sunday, 6 = Saturday
	StartTime string `json:"start_time" validate:"required,clock"`
	EndTime   string `json:"end_time" validate:"omitempty,clock"` // пусто = start + DurationMinutes расписания
}

// ParseClock разбирает время вида "10:00"
func ParseClock(value string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: expected HH:MM", value)
	}
	return t.Hour(), t.Minute(), nil
}

// Weekday возвращает день недели паттерна
func (p DayPattern) Weekday() time.Weekday {
	return time.Weekday(p.DayOfWeek)
}

// Occurrence вычисляет начало и конец занятия на указанную дату.
// Конец раньше или равный началу означает переход через полночь.
func (p DayPattern) Occurrence(date time.Time, loc *time.Location, fallbackMinutes int) (time.Time, time.Time, error) {
	startHour, startMinute, err := ParseClock(p.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	start := time.Date(date.Year(), date.Month(), date.Day(), startHour, startMinute, 0, 0, loc)

	if p.EndTime == "" {
		return start, start.Add(time.Duration(fallbackMinutes) * time.Minute), nil
	}

	endHour, endMinute, err := ParseClock(p.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	end := time.Date(date.Year(), date.Month(), date.Day(), endHour, endMinute, 0, 0, loc)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}

	return start, end, nil
}
