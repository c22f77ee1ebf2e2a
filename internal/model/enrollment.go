package model

import "time"

type EnrollmentStatus string

const (
	EnrollmentStatusActive   EnrollmentStatus = "active"
	EnrollmentStatusInactive EnrollmentStatus = "inactive"
)

// Enrollment запись студента в расписание. Значение неизменяемое:
// после создания можно только закрыть запись через Close.
type Enrollment struct {
	StudentID    string           `json:"student_id"`
	StudentName  string           `json:"student_name"`
	EnrolledAt   time.Time        `json:"enrolled_at"`
	UnenrolledAt *time.Time       `json:"unenrolled_at,omitempty"`
	Status       EnrollmentStatus `json:"status"`
}

// NewEnrollment создаёт активную запись
func NewEnrollment(studentID, studentName string, at time.Time) Enrollment {
	return Enrollment{
		StudentID:   studentID,
		StudentName: studentName,
		EnrolledAt:  at,
		Status:      EnrollmentStatusActive,
	}
}

// IsActive проверяет что запись не закрыта
func (e Enrollment) IsActive() bool {
	return e.Status == EnrollmentStatusActive && e.UnenrolledAt == nil
}

// Covers проверяет что интервал записи покрывает момент at: [enrolledAt, unenrolledAt)
func (e Enrollment) Covers(at time.Time) bool {
	if e.EnrolledAt.After(at) {
		return false
	}
	return e.UnenrolledAt == nil || e.UnenrolledAt.After(at)
}

// Close возвращает закрытую копию записи
func (e Enrollment) Close(at time.Time) Enrollment {
	closed := e
	closed.UnenrolledAt = &at
	closed.Status = EnrollmentStatusInactive
	return closed
}
