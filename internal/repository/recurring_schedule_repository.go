package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const scheduleColumns = `id, teacher_id, course_id, name, patterns, timezone, valid_from, valid_until, status,
	duration_minutes, credit_cost, max_participants, recording_enabled, meeting_mode, created_at, updated_at`

// RecurringScheduleRepository управляет recurring расписаниями и записями студентов в базе данных
type RecurringScheduleRepository struct {
	*base.Repository
	logger *zap.Logger
}

// NewRecurringScheduleRepository создаёт новый репозиторий
func NewRecurringScheduleRepository(pool *pgxpool.Pool, logger *zap.Logger) *RecurringScheduleRepository {
	return &RecurringScheduleRepository{
		Repository: base.NewRepository(pool),
		logger:     logger,
	}
}

// CreateSchedule создаёт новый recurring schedule
func (r *RecurringScheduleRepository) CreateSchedule(ctx context.Context, schedule *model.RecurringSchedule) error {
	query := `
		INSERT INTO recurring_schedules (id, teacher_id, course_id, name, patterns, timezone, valid_from, valid_until,
			status, duration_minutes, credit_cost, max_participants, recording_enabled, meeting_mode, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
	`

	_, err := r.Pool().Exec(
		ctx,
		query,
		schedule.ID,
		schedule.TeacherID,
		schedule.CourseID,
		schedule.Name,
		schedule.Patterns,
		schedule.Timezone,
		schedule.ValidFrom,
		schedule.ValidUntil,
		schedule.Status,
		schedule.DurationMinutes,
		schedule.CreditCost,
		schedule.MaxParticipants,
		schedule.RecordingEnabled,
		schedule.MeetingMode,
		schedule.CreatedAt,
	)
	if err != nil {
		if base.IsUniqueViolation(err) {
			return fmt.Errorf("create recurring schedule: %w", ErrConflict)
		}
		return fmt.Errorf("create recurring schedule: %w", err)
	}

	schedule.UpdatedAt = schedule.CreatedAt
	return nil
}

// GetSchedule получает recurring schedule по ID вместе с историей записей
func (r *RecurringScheduleRepository) GetSchedule(ctx context.Context, id string) (*model.RecurringSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM recurring_schedules WHERE id = $1`

	schedule, err := scanSchedule(r.QueryRow(ctx, query, id))
	if base.IsNotFound(err) {
		return nil, fmt.Errorf("get recurring schedule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get recurring schedule by id: %w", err)
	}

	enrollments, err := r.enrollments(ctx, id)
	if err != nil {
		return nil, err
	}
	schedule.Enrollments = enrollments

	return schedule, nil
}

// ListSchedulesByTeacher получает все recurring schedules учителя
func (r *RecurringScheduleRepository) ListSchedulesByTeacher(ctx context.Context, teacherID string) ([]*model.RecurringSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM recurring_schedules WHERE teacher_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, "get recurring schedules by teacher", query, teacherID)
}

// ListActiveSchedules получает все активные recurring schedules
func (r *RecurringScheduleRepository) ListActiveSchedules(ctx context.Context) ([]*model.RecurringSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM recurring_schedules WHERE status = 'active' ORDER BY created_at`
	return r.list(ctx, "get all active recurring schedules", query)
}

// UpdateScheduleStatus меняет статус расписания
func (r *RecurringScheduleRepository) UpdateScheduleStatus(ctx context.Context, id string, status model.ScheduleStatus, at time.Time) error {
	affected, err := r.ExecAffected(ctx,
		`UPDATE recurring_schedules SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, at)
	if err != nil {
		return fmt.Errorf("update recurring schedule status: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update recurring schedule status %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateScheduleDetails обновляет описательные поля и параметры занятий расписания.
// Шаблоны, часовой пояс и период действия не меняются.
func (r *RecurringScheduleRepository) UpdateScheduleDetails(ctx context.Context, schedule *model.RecurringSchedule) error {
	affected, err := r.ExecAffected(ctx, `
		UPDATE recurring_schedules SET
			name = $2,
			course_id = $3,
			duration_minutes = $4,
			credit_cost = $5,
			max_participants = $6,
			recording_enabled = $7,
			meeting_mode = $8,
			updated_at = $9
		WHERE id = $1
	`,
		schedule.ID,
		schedule.Name,
		schedule.CourseID,
		schedule.DurationMinutes,
		schedule.CreditCost,
		schedule.MaxParticipants,
		schedule.RecordingEnabled,
		schedule.MeetingMode,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update recurring schedule: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update recurring schedule %s: %w", schedule.ID, ErrNotFound)
	}
	return nil
}

// DeleteSchedule удаляет recurring schedule, записи удаляются каскадом
func (r *RecurringScheduleRepository) DeleteSchedule(ctx context.Context, id string) error {
	affected, err := r.ExecAffected(ctx, `DELETE FROM recurring_schedules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete recurring schedule: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("delete recurring schedule %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddEnrollment добавляет запись студента. Вторая активная запись
// отсекается частичным уникальным индексом и возвращает ErrConflict.
func (r *RecurringScheduleRepository) AddEnrollment(ctx context.Context, scheduleID string, enrollment model.Enrollment) error {
	return r.InTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO schedule_enrollments (schedule_id, student_id, student_name, enrolled_at, status)
			VALUES ($1, $2, $3, $4, $5)
		`, scheduleID, enrollment.StudentID, enrollment.StudentName, enrollment.EnrolledAt, enrollment.Status)
		if err != nil {
			if base.IsUniqueViolation(err) {
				return fmt.Errorf("add enrollment: %w", ErrConflict)
			}
			return fmt.Errorf("add enrollment: %w", err)
		}

		_, err = tx.Exec(ctx, `UPDATE recurring_schedules SET updated_at = $2 WHERE id = $1`, scheduleID, enrollment.EnrolledAt)
		if err != nil {
			return fmt.Errorf("touch recurring schedule: %w", err)
		}
		return nil
	})
}

// CloseEnrollment закрывает активную запись студента
func (r *RecurringScheduleRepository) CloseEnrollment(ctx context.Context, scheduleID, studentID string, at time.Time) error {
	return r.InTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE schedule_enrollments
			SET unenrolled_at = $3, status = 'inactive'
			WHERE schedule_id = $1 AND student_id = $2 AND status = 'active'
		`, scheduleID, studentID, at)
		if err != nil {
			return fmt.Errorf("close enrollment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("close enrollment %s/%s: %w", scheduleID, studentID, ErrNotFound)
		}

		_, err = tx.Exec(ctx, `UPDATE recurring_schedules SET updated_at = $2 WHERE id = $1`, scheduleID, at)
		if err != nil {
			return fmt.Errorf("touch recurring schedule: %w", err)
		}
		return nil
	})
}

func (r *RecurringScheduleRepository) enrollments(ctx context.Context, scheduleID string) ([]model.Enrollment, error) {
	rows, err := r.Query(ctx, `
		SELECT student_id, student_name, enrolled_at, unenrolled_at, status
		FROM schedule_enrollments
		WHERE schedule_id = $1
		ORDER BY enrolled_at, id
	`, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("get enrollments: %w", err)
	}
	defer rows.Close()

	var enrollments []model.Enrollment
	for rows.Next() {
		var e model.Enrollment
		if err := rows.Scan(&e.StudentID, &e.StudentName, &e.EnrolledAt, &e.UnenrolledAt, &e.Status); err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		enrollments = append(enrollments, e)
	}

	return enrollments, rows.Err()
}

func (r *RecurringScheduleRepository) list(ctx context.Context, op, query string, args ...any) ([]*model.RecurringSchedule, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var schedules []*model.RecurringSchedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan recurring schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// Записи грузим после закрытия rows, чтобы не держать два соединения
	for _, schedule := range schedules {
		enrollments, err := r.enrollments(ctx, schedule.ID)
		if err != nil {
			return nil, err
		}
		schedule.Enrollments = enrollments
	}

	return schedules, nil
}

func scanSchedule(row pgx.Row) (*model.RecurringSchedule, error) {
	schedule := &model.RecurringSchedule{}
	err := row.Scan(
		&schedule.ID,
		&schedule.TeacherID,
		&schedule.CourseID,
		&schedule.Name,
		&schedule.Patterns,
		&schedule.Timezone,
		&schedule.ValidFrom,
		&schedule.ValidUntil,
		&schedule.Status,
		&schedule.DurationMinutes,
		&schedule.CreditCost,
		&schedule.MaxParticipants,
		&schedule.RecordingEnabled,
		&schedule.MeetingMode,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return schedule, nil
}
