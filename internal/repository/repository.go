package repository

import (
	"errors"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/model"
)

var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("not found")
	// ErrConflict нарушен ключ уникальности или условие обновления
	ErrConflict = errors.New("conflict")
)

// InstanceFilter условия выборки занятий. Пустые поля не фильтруют.
// Результат всегда упорядочен по scheduled_start.
type InstanceFilter struct {
	ScheduleID *string
	TeacherID  *string
	StudentID  *string // среди eligible_student_ids
	Statuses   []model.InstanceStatus
	From       *time.Time // scheduled_start >= From
	To         *time.Time // scheduled_start < To
	Limit      int
}

// InstanceTransition атомарная смена статуса занятия: применяется только если
// текущий статус входит в From, иначе ErrConflict
type InstanceTransition struct {
	From     []model.InstanceStatus
	To       model.InstanceStatus
	At       time.Time
	Reason   string
	Attended []string // nil = не менять
}

func statusStrings(statuses []model.InstanceStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
