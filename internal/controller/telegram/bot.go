// Package telegram команды бота: привязка чата к студенту и список ближайших занятий
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/repository"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const maxListedClasses = 10

// StudentLinks привязка чатов к студентам
type StudentLinks interface {
	UpsertStudent(ctx context.Context, student *model.Student) error
	GetStudentByTelegramID(ctx context.Context, telegramID int64) (*model.Student, error)
}

// ClassLister занятия студента
type ClassLister interface {
	ListStudentInstances(ctx context.Context, studentID string, statuses ...model.InstanceStatus) ([]*model.ClassInstance, error)
}

type BotController struct {
	bot      *bot.Bot
	students StudentLinks
	classes  ClassLister
	location *time.Location
	logger   *zap.Logger
}

func NewBotController(
	botInstance *bot.Bot,
	students StudentLinks,
	classes ClassLister,
	location *time.Location,
	logger *zap.Logger,
) *BotController {
	return &BotController{
		bot:      botInstance,
		students: students,
		classes:  classes,
		location: location,
		logger:   logger,
	}
}

// RegisterHandlers регистрирует команды бота
func (c *BotController) RegisterHandlers(ctx context.Context) error {
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, c.HandleStart)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/classes", bot.MatchTypeExact, c.HandleClasses)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, c.HandleHelp)

	return c.setCommands(ctx)
}

func (c *BotController) setCommands(ctx context.Context) error {
	commands := []models.BotCommand{
		{Command: "start", Description: "🔗 Привязать чат к аккаунту"},
		{Command: "classes", Description: "📅 Ближайшие занятия"},
		{Command: "help", Description: "❓ Справка"},
	}

	_, err := c.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{
		Commands: commands,
	})
	if err != nil {
		c.logger.Error("Failed to set bot commands", zap.Error(err))
		return err
	}

	c.logger.Info("Bot commands menu set")
	return nil
}

// Start запускает long polling до отмены ctx
func (c *BotController) Start(ctx context.Context) {
	c.logger.Info("Starting bot...")
	c.bot.Start(ctx)
}

// HandleStart обрабатывает /start <student_id>: ссылка из личного кабинета передаёт ID студента
func (c *BotController) HandleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	chatID := update.Message.Chat.ID
	studentID := startPayload(update.Message.Text)
	if studentID == "" {
		c.sendMessage(ctx, b, chatID, "👋 Откройте ссылку на бота из личного кабинета, чтобы получать уведомления о занятиях.")
		return
	}

	student := &model.Student{
		ID:         studentID,
		TelegramID: update.Message.From.ID,
		Name:       strings.TrimSpace(update.Message.From.FirstName + " " + update.Message.From.LastName),
	}
	if err := c.students.UpsertStudent(ctx, student); err != nil {
		c.logger.Error("Failed to link telegram chat",
			zap.String("student_id", studentID),
			zap.Int64("telegram_id", student.TelegramID),
			zap.Error(err))
		c.sendMessage(ctx, b, chatID, "❌ Не удалось привязать чат. Попробуйте позже.")
		return
	}

	c.logger.Info("Telegram chat linked",
		zap.String("student_id", studentID),
		zap.Int64("telegram_id", student.TelegramID))

	c.sendMessage(ctx, b, chatID, "✅ Чат привязан. Сюда будут приходить уведомления о начале и отмене занятий.\n\n/classes - ближайшие занятия")
}

// HandleClasses обрабатывает /classes
func (c *BotController) HandleClasses(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	chatID := update.Message.Chat.ID
	student, err := c.students.GetStudentByTelegramID(ctx, update.Message.From.ID)
	if errors.Is(err, repository.ErrNotFound) {
		c.sendMessage(ctx, b, chatID, "❌ Чат не привязан. Откройте ссылку на бота из личного кабинета.")
		return
	}
	if err != nil {
		c.logger.Error("Failed to get student", zap.Int64("telegram_id", update.Message.From.ID), zap.Error(err))
		c.sendMessage(ctx, b, chatID, "❌ Произошла ошибка. Попробуйте позже.")
		return
	}

	instances, err := c.classes.ListStudentInstances(ctx, student.ID, model.InstanceStatusScheduled, model.InstanceStatusLive)
	if err != nil {
		c.logger.Error("Failed to list student classes", zap.String("student_id", student.ID), zap.Error(err))
		c.sendMessage(ctx, b, chatID, "❌ Произошла ошибка. Попробуйте позже.")
		return
	}

	c.sendMessage(ctx, b, chatID, FormatClasses(instances, c.location))
}

// HandleHelp обрабатывает /help
func (c *BotController) HandleHelp(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	c.sendMessage(ctx, b, update.Message.Chat.ID, "📚 Команды:\n\n"+
		"/start - Привязать чат (по ссылке из кабинета)\n"+
		"/classes - Ближайшие занятия\n"+
		"/help - Показать эту справку")
}

// sendMessage отправляет сообщение и логирует если не удалось
func (c *BotController) sendMessage(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		c.logger.Error("Failed to send message",
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
	}
}

// startPayload достаёт параметр из "/start <payload>"
func startPayload(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return ""
	}
	return fields[1]
}

// FormatClasses список занятий для сообщения
func FormatClasses(instances []*model.ClassInstance, loc *time.Location) string {
	if len(instances) == 0 {
		return "📭 Ближайших занятий нет."
	}
	if loc == nil {
		loc = time.UTC
	}

	var sb strings.Builder
	sb.WriteString("📅 Ближайшие занятия:\n")

	for i, instance := range instances {
		if i == maxListedClasses {
			fmt.Fprintf(&sb, "\n...и ещё %d", len(instances)-maxListedClasses)
			break
		}

		marker := "•"
		if instance.Status == model.InstanceStatusLive {
			marker = "🔴"
		}
		fmt.Fprintf(&sb, "\n%s %s %s",
			marker,
			instance.ScheduledStart.In(loc).Format("02.01 15:04"),
			instance.Name)
	}

	return sb.String()
}
