package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const instanceColumns = `id, schedule_id, name, teacher_id, course_id, scheduled_start, scheduled_end, meeting_mode,
	eligible_student_ids, attended_student_ids, status, started_at, ended_at, cancelled_at, cancel_reason,
	meeting_session_id, reminded_at, created_at, updated_at`

type ClassInstanceRepository struct {
	*base.Repository
}

func NewClassInstanceRepository(pool *pgxpool.Pool) *ClassInstanceRepository {
	return &ClassInstanceRepository{Repository: base.NewRepository(pool)}
}

// InsertInstanceIfAbsent вставляет занятие, если для (schedule_id, scheduled_start) его ещё нет.
// Возвращает false, если занятие уже существовало.
func (r *ClassInstanceRepository) InsertInstanceIfAbsent(ctx context.Context, instance *model.ClassInstance) (bool, error) {
	query := `
		INSERT INTO class_instances (id, schedule_id, name, teacher_id, course_id, scheduled_start, scheduled_end,
			meeting_mode, eligible_student_ids, attended_student_ids, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (schedule_id, scheduled_start) DO NOTHING
		RETURNING id
	`

	var id string
	err := r.QueryRow(ctx, query, instanceArgs(instance)...).Scan(&id)
	if base.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert class instance: %w", err)
	}

	instance.UpdatedAt = instance.CreatedAt
	return true, nil
}

// CreateInstance создаёт одиночное занятие
func (r *ClassInstanceRepository) CreateInstance(ctx context.Context, instance *model.ClassInstance) error {
	query := `
		INSERT INTO class_instances (id, schedule_id, name, teacher_id, course_id, scheduled_start, scheduled_end,
			meeting_mode, eligible_student_ids, attended_student_ids, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
	`

	if _, err := r.Pool().Exec(ctx, query, instanceArgs(instance)...); err != nil {
		if base.IsUniqueViolation(err) {
			return fmt.Errorf("create class instance: %w", ErrConflict)
		}
		return fmt.Errorf("create class instance: %w", err)
	}

	instance.UpdatedAt = instance.CreatedAt
	return nil
}

// GetInstance получает занятие по ID
func (r *ClassInstanceRepository) GetInstance(ctx context.Context, id string) (*model.ClassInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM class_instances WHERE id = $1`

	instance, err := scanInstance(r.QueryRow(ctx, query, id))
	if base.IsNotFound(err) {
		return nil, fmt.Errorf("get class instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get class instance by id: %w", err)
	}

	return instance, nil
}

// ListInstances получает занятия по фильтру, упорядоченные по времени начала
func (r *ClassInstanceRepository) ListInstances(ctx context.Context, filter InstanceFilter) ([]*model.ClassInstance, error) {
	where, args := filterClause(filter)
	query := `SELECT ` + instanceColumns + ` FROM class_instances` + where + ` ORDER BY scheduled_start, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list class instances: %w", err)
	}
	defer rows.Close()

	var instances []*model.ClassInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan class instance: %w", err)
		}
		instances = append(instances, instance)
	}

	return instances, rows.Err()
}

// CountInstances считает занятия по фильтру
func (r *ClassInstanceRepository) CountInstances(ctx context.Context, filter InstanceFilter) (int, error) {
	where, args := filterClause(filter)

	var count int
	if err := r.QueryRow(ctx, `SELECT COUNT(*) FROM class_instances`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count class instances: %w", err)
	}
	return count, nil
}

// UpdateEligible перезаписывает список допущенных студентов.
// Начавшиеся и завершённые занятия не трогаются: возвращает false.
func (r *ClassInstanceRepository) UpdateEligible(ctx context.Context, id string, studentIDs []string, at time.Time) (bool, error) {
	affected, err := r.ExecAffected(ctx, `
		UPDATE class_instances
		SET eligible_student_ids = $2, updated_at = $3
		WHERE id = $1 AND status = 'scheduled'
	`, id, nonNil(studentIDs), at)
	if err != nil {
		return false, fmt.Errorf("update eligible students: %w", err)
	}
	return affected > 0, nil
}

// TransitionInstance атомарно меняет статус занятия (compare-and-set по статусу)
func (r *ClassInstanceRepository) TransitionInstance(ctx context.Context, id string, tr InstanceTransition) (*model.ClassInstance, error) {
	query := `
		UPDATE class_instances SET
			status = $3,
			started_at = CASE WHEN $3 = 'live' THEN $4 ELSE started_at END,
			ended_at = CASE WHEN $3 = 'ended' THEN $4 ELSE ended_at END,
			cancelled_at = CASE WHEN $3 = 'cancelled' THEN $4 ELSE cancelled_at END,
			cancel_reason = CASE WHEN $3 = 'cancelled' THEN $5 ELSE cancel_reason END,
			attended_student_ids = COALESCE($6, attended_student_ids),
			updated_at = $4
		WHERE id = $1 AND status = ANY($2)
		RETURNING ` + instanceColumns

	var attended any
	if tr.Attended != nil {
		attended = tr.Attended
	}

	instance, err := scanInstance(r.QueryRow(ctx, query, id, statusStrings(tr.From), string(tr.To), tr.At, tr.Reason, attended))
	if base.IsNotFound(err) {
		// Либо нет занятия, либо статус уже другой
		if _, getErr := r.GetInstance(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("transition class instance %s to %s: %w", id, tr.To, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("transition class instance: %w", err)
	}

	return instance, nil
}

// SetMeetingSession сохраняет ссылку на встречу
func (r *ClassInstanceRepository) SetMeetingSession(ctx context.Context, id, meetingSessionID string, at time.Time) error {
	affected, err := r.ExecAffected(ctx,
		`UPDATE class_instances SET meeting_session_id = $2, updated_at = $3 WHERE id = $1`,
		id, meetingSessionID, at)
	if err != nil {
		return fmt.Errorf("set meeting session: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set meeting session %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetAttendance записывает посещаемость, если статус занятия входит в allowed
func (r *ClassInstanceRepository) SetAttendance(ctx context.Context, id string, studentIDs []string, allowed []model.InstanceStatus, at time.Time) (*model.ClassInstance, error) {
	query := `
		UPDATE class_instances
		SET attended_student_ids = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($4)
		RETURNING ` + instanceColumns

	instance, err := scanInstance(r.QueryRow(ctx, query, id, nonNil(studentIDs), at, statusStrings(allowed)))
	if base.IsNotFound(err) {
		if _, getErr := r.GetInstance(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("set attendance %s: %w", id, ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("set attendance: %w", err)
	}
	return instance, nil
}

// MarkReminded отмечает отправку напоминания. Возвращает false, если уже отмечено.
func (r *ClassInstanceRepository) MarkReminded(ctx context.Context, id string, at time.Time) (bool, error) {
	affected, err := r.ExecAffected(ctx,
		`UPDATE class_instances SET reminded_at = $2 WHERE id = $1 AND reminded_at IS NULL`,
		id, at)
	if err != nil {
		return false, fmt.Errorf("mark reminded: %w", err)
	}
	return affected > 0, nil
}

// DeleteScheduledBySchedule удаляет ещё не начавшиеся занятия расписания
func (r *ClassInstanceRepository) DeleteScheduledBySchedule(ctx context.Context, scheduleID string) (int, error) {
	affected, err := r.ExecAffected(ctx,
		`DELETE FROM class_instances WHERE schedule_id = $1 AND status = 'scheduled'`,
		scheduleID)
	if err != nil {
		return 0, fmt.Errorf("delete scheduled class instances: %w", err)
	}
	return int(affected), nil
}

func filterClause(filter InstanceFilter) (string, []any) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.ScheduleID != nil {
		add("schedule_id = $%d", *filter.ScheduleID)
	}
	if filter.TeacherID != nil {
		add("teacher_id = $%d", *filter.TeacherID)
	}
	if filter.StudentID != nil {
		add("$%d = ANY(eligible_student_ids)", *filter.StudentID)
	}
	if len(filter.Statuses) > 0 {
		add("status = ANY($%d)", statusStrings(filter.Statuses))
	}
	if filter.From != nil {
		add("scheduled_start >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("scheduled_start < $%d", *filter.To)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func instanceArgs(instance *model.ClassInstance) []any {
	return []any{
		instance.ID,
		instance.ScheduleID,
		instance.Name,
		instance.TeacherID,
		instance.CourseID,
		instance.ScheduledStart,
		instance.ScheduledEnd,
		instance.MeetingMode,
		nonNil(instance.EligibleStudentIDs),
		nonNil(instance.AttendedStudentIDs),
		instance.Status,
		instance.CreatedAt,
	}
}

func scanInstance(row pgx.Row) (*model.ClassInstance, error) {
	instance := &model.ClassInstance{}
	err := row.Scan(
		&instance.ID,
		&instance.ScheduleID,
		&instance.Name,
		&instance.TeacherID,
		&instance.CourseID,
		&instance.ScheduledStart,
		&instance.ScheduledEnd,
		&instance.MeetingMode,
		&instance.EligibleStudentIDs,
		&instance.AttendedStudentIDs,
		&instance.Status,
		&instance.StartedAt,
		&instance.EndedAt,
		&instance.CancelledAt,
		&instance.CancelReason,
		&instance.MeetingSessionID,
		&instance.RemindedAt,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return instance, nil
}
