package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/repository/base"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StudentRepository хранит студентов и их привязку к Telegram
type StudentRepository struct {
	*base.Repository
}

func NewStudentRepository(pool *pgxpool.Pool) *StudentRepository {
	return &StudentRepository{Repository: base.NewRepository(pool)}
}

// UpsertStudent создаёт студента или обновляет имя и telegram_id
func (r *StudentRepository) UpsertStudent(ctx context.Context, student *model.Student) error {
	query := `
		INSERT INTO students (id, telegram_id, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET telegram_id = EXCLUDED.telegram_id, name = EXCLUDED.name
		RETURNING created_at
	`

	if err := r.QueryRow(ctx, query, student.ID, student.TelegramID, student.Name).Scan(&student.CreatedAt); err != nil {
		return fmt.Errorf("upsert student: %w", err)
	}
	return nil
}

// GetStudentsByIDs получает студентов по списку ID, отсутствующие пропускаются
func (r *StudentRepository) GetStudentsByIDs(ctx context.Context, ids []string) ([]*model.Student, error) {
	rows, err := r.Query(ctx, `
		SELECT id, telegram_id, name, created_at
		FROM students
		WHERE id = ANY($1)
		ORDER BY id
	`, nonNil(ids))
	if err != nil {
		return nil, fmt.Errorf("get students by ids: %w", err)
	}
	defer rows.Close()

	var students []*model.Student
	for rows.Next() {
		var s model.Student
		if err := rows.Scan(&s.ID, &s.TelegramID, &s.Name, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan student: %w", err)
		}
		students = append(students, &s)
	}

	return students, rows.Err()
}

// GetStudentByTelegramID ищет студента по привязанному чату
func (r *StudentRepository) GetStudentByTelegramID(ctx context.Context, telegramID int64) (*model.Student, error) {
	var s model.Student
	err := r.QueryRow(ctx, `
		SELECT id, telegram_id, name, created_at
		FROM students
		WHERE telegram_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, telegramID).Scan(&s.ID, &s.TelegramID, &s.Name, &s.CreatedAt)
	if base.IsNotFound(err) {
		return nil, fmt.Errorf("get student by telegram id %d: %w", telegramID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get student by telegram id: %w", err)
	}
	return &s, nil
}
