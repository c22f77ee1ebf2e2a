package model

import "time"

type InstanceStatus string

const (
	InstanceStatusScheduled InstanceStatus = "scheduled" // ожидает начала
	InstanceStatusLive      InstanceStatus = "live"      // идёт занятие
	InstanceStatusEnded     InstanceStatus = "ended"     // завершено
	InstanceStatusCancelled InstanceStatus = "cancelled" // отменено
)

// ClassInstance конкретное занятие с датой: сгенерированное из расписания
// или одиночное (ScheduleID == nil)
type ClassInstance struct {
	ID                 string         `json:"id"`
	ScheduleID         *string        `json:"schedule_id,omitempty"`
	Name               string         `json:"name"`
	TeacherID          string         `json:"teacher_id"`
	CourseID           *string        `json:"course_id,omitempty"`
	ScheduledStart     time.Time      `json:"scheduled_start"`
	ScheduledEnd       time.Time      `json:"scheduled_end"`
	MeetingMode        MeetingMode    `json:"meeting_mode"`
	EligibleStudentIDs []string       `json:"eligible_student_ids"`
	AttendedStudentIDs []string       `json:"attended_student_ids"`
	Status             InstanceStatus `json:"status"`
	StartedAt          *time.Time     `json:"started_at,omitempty"`
	EndedAt            *time.Time     `json:"ended_at,omitempty"`
	CancelledAt        *time.Time     `json:"cancelled_at,omitempty"`
	CancelReason       string         `json:"cancel_reason,omitempty"`
	MeetingSessionID   *string        `json:"meeting_session_id,omitempty"`
	RemindedAt         *time.Time     `json:"reminded_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// IsStandalone проверяет что занятие не привязано к расписанию
func (i *ClassInstance) IsStandalone() bool {
	return i.ScheduleID == nil
}

// HasEligible проверяет что студент в списке допущенных
func (i *ClassInstance) HasEligible(studentID string) bool {
	for _, id := range i.EligibleStudentIDs {
		if id == studentID {
			return true
		}
	}
	return false
}

// InstanceAction действие над занятием в жизненном цикле
type InstanceAction string

const (
	ActionStart  InstanceAction = "start"
	ActionEnd    InstanceAction = "end"
	ActionCancel InstanceAction = "cancel"
	// вне машины состояний: допустимо для live и ended
	ActionRecordAttendance InstanceAction = "record_attendance"
	// состав одиночного занятия меняется только пока оно scheduled
	ActionAssignStudent   InstanceAction = "assign_student"
	ActionUnassignStudent InstanceAction = "unassign_student"
)

// Transition разрешённое ребро машины состояний
type Transition struct {
	From   InstanceStatus
	To     InstanceStatus
	Action InstanceAction
}

var transitionsTable = []Transition{
	{From: InstanceStatusScheduled, To: InstanceStatusLive, Action: ActionStart},
	{From: InstanceStatusScheduled, To: InstanceStatusCancelled, Action: ActionCancel},
	{From: InstanceStatusLive, To: InstanceStatusEnded, Action: ActionEnd},
}

// TargetStatus возвращает состояние, в которое ведёт действие
func TargetStatus(action InstanceAction) (InstanceStatus, bool) {
	for _, tr := range transitionsTable {
		if tr.Action == action {
			return tr.To, true
		}
	}
	return "", false
}

// SourceStatuses возвращает состояния, из которых действие допустимо
func SourceStatuses(action InstanceAction) []InstanceStatus {
	var from []InstanceStatus
	for _, tr := range transitionsTable {
		if tr.Action == action {
			from = append(from, tr.From)
		}
	}
	return from
}
