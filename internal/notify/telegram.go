package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	telegramConcurrency = 8
	telegramMaxRetries  = 3
)

// MessageSender часть *bot.Bot, нужная для отправки
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// StudentDirectory даёт telegram_id студентов
type StudentDirectory interface {
	GetStudentsByIDs(ctx context.Context, ids []string) ([]*model.Student, error)
}

// TelegramNotifier отправляет событие в личный чат каждого привязанного студента
type TelegramNotifier struct {
	sender   MessageSender
	students StudentDirectory
	backoff  time.Duration
	logger   *zap.Logger
}

func NewTelegramNotifier(sender MessageSender, students StudentDirectory, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		sender:   sender,
		students: students,
		backoff:  500 * time.Millisecond,
		logger:   logger,
	}
}

func (n *TelegramNotifier) Notify(ctx context.Context, studentIDs []string, kind model.EventKind, payload map[string]any) error {
	if len(studentIDs) == 0 {
		return nil
	}

	students, err := n.students.GetStudentsByIDs(ctx, studentIDs)
	if err != nil {
		return fmt.Errorf("load students: %w", err)
	}

	text := messageFor(kind, payload)
	if url, _ := payload["join_url"].(string); url != "" && kind != model.EventClassCancelled {
		text += "\n\n" + url
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(telegramConcurrency)

	for _, student := range students {
		if student.TelegramID == 0 {
			continue
		}
		chatID := student.TelegramID
		studentID := student.ID

		g.Go(func() error {
			if err := n.send(gctx, chatID, text); err != nil {
				// заблокировавший бота студент не должен срывать рассылку остальным
				if errors.Is(err, bot.ErrorForbidden) {
					n.logger.Warn("Student blocked the bot",
						zap.String("student_id", studentID),
						zap.Int64("chat_id", chatID))
					return nil
				}
				return fmt.Errorf("send to student %s: %w", studentID, err)
			}
			return nil
		})
	}

	return g.Wait()
}

// send повторяет отправку при 429 от Telegram
func (n *TelegramNotifier) send(ctx context.Context, chatID int64, text string) error {
	backoff := retry.WithMaxRetries(telegramMaxRetries, retry.NewExponential(n.backoff))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   text,
		})

		var tooMany *bot.TooManyRequestsError
		if errors.As(err, &tooMany) {
			return retry.RetryableError(err)
		}
		return err
	})
}
