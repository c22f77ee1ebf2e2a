package model

import "time"

type EventKind string

const (
	EventClassStarted      EventKind = "class_started"
	EventClassEnded        EventKind = "class_ended"
	EventClassCancelled    EventKind = "class_cancelled"
	EventClassStartingSoon EventKind = "class_starting_soon"
)

// Notification запись во входящих уведомлениях студента
type Notification struct {
	ID        string         `json:"id"`
	StudentID string         `json:"student_id"`
	Kind      EventKind      `json:"kind"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Payload   map[string]any `json:"payload"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"created_at"`
}

// Title заголовок уведомления для события
func (k EventKind) Title() string {
	switch k {
	case EventClassStarted:
		return "Class is live"
	case EventClassEnded:
		return "Class ended"
	case EventClassCancelled:
		return "Class cancelled"
	case EventClassStartingSoon:
		return "Class starts soon"
	default:
		return string(k)
	}
}
