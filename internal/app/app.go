package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Freeeeeet/class_scheduler/internal/app/migrations"
	"github.com/Freeeeeet/class_scheduler/internal/clock"
	"github.com/Freeeeeet/class_scheduler/internal/config"
	"github.com/Freeeeeet/class_scheduler/internal/controller/httpapi"
	"github.com/Freeeeeet/class_scheduler/internal/controller/telegram"
	"github.com/Freeeeeet/class_scheduler/internal/lock"
	"github.com/Freeeeeet/class_scheduler/internal/meeting"
	"github.com/Freeeeeet/class_scheduler/internal/model"
	"github.com/Freeeeeet/class_scheduler/internal/notify"
	"github.com/Freeeeeet/class_scheduler/internal/repository"
	"github.com/Freeeeeet/class_scheduler/internal/repository/memstore"
	"github.com/Freeeeeet/class_scheduler/internal/service"
	"github.com/go-redis/redis/v8"
	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 10 * time.Second
	redisLockTTL    = 30 * time.Second
)

type studentStore interface {
	UpsertStudent(ctx context.Context, student *model.Student) error
	GetStudentByTelegramID(ctx context.Context, telegramID int64) (*model.Student, error)
	GetStudentsByIDs(ctx context.Context, ids []string) ([]*model.Student, error)
}

type stores struct {
	schedules service.ScheduleStore
	instances service.InstanceStore
	students  studentStore
	meetings  meeting.SessionStore
	inbox     notify.InboxStore
}

// App собранный процесс: хранилище, сервисы, cron, HTTP и бот
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	server    *http.Server
	scheduler *Scheduler
	bot       *telegram.BotController
	closers   []func()
}

// New собирает зависимости по конфигу
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	st, err := a.openStores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	locker, err := a.newLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := service.NewMetrics(registry)

	clk := clock.Real{}

	var tgBot *bot.Bot
	var telegramNotifier notify.Notifier
	if cfg.TelegramToken != "" {
		tgBot, err = bot.New(cfg.TelegramToken)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create telegram bot: %w", err)
		}
		telegramNotifier = notify.NewTelegramNotifier(tgBot, st.students, logger.Named("telegram"))
	} else {
		logger.Warn("TELEGRAM_TOKEN is empty, telegram notifications disabled")
	}

	notifier := notify.NewMulti(
		notify.NewInboxNotifier(st.inbox, clk, logger.Named("inbox")),
		telegramNotifier,
	)
	meetings := meeting.NewStoreProvider(st.meetings, clk, cfg.AppURL, logger.Named("meeting"))

	generator := service.NewInstanceGenerator(st.schedules, st.instances, locker, clk, metrics, logger.Named("generator"))
	renewal := service.NewAutoRenewalMonitor(st.schedules, st.instances, generator, clk,
		cfg.RenewThreshold, cfg.RenewWeeks, logger.Named("renewal"))
	enrollments := service.NewEnrollmentManager(st.schedules, st.instances, locker, clk, logger.Named("enrollment"))
	lifecycle := service.NewSessionLifecycle(st.schedules, st.instances, meetings, notifier, locker, clk,
		service.LifecycleConfig{SideEffectTimeout: cfg.SideEffectTimeout, AppURL: cfg.AppURL},
		metrics, logger.Named("lifecycle"))
	schedules := service.NewScheduleService(st.schedules, st.instances, generator, renewal, locker, clk,
		service.ScheduleConfig{DefaultTimezone: cfg.Timezone, HorizonWeeks: cfg.HorizonWeeks},
		logger.Named("schedules"))

	handler := httpapi.NewHandler(schedules, enrollments, lifecycle, logger.Named("http"))
	a.server = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(handler, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}

	a.scheduler = NewScheduler(renewal, service.NewAutoStarter(lifecycle, logger.Named("autostart")), logger.Named("scheduler"))

	if tgBot != nil {
		a.bot = telegram.NewBotController(tgBot, st.students, lifecycle, cfg.Location(), logger.Named("bot"))
	}

	return a, nil
}

// Run работает до отмены ctx, затем останавливает всё с ограничением по времени
func (a *App) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx, a.cfg.RenewCron, a.cfg.AutoStartCron); err != nil {
		return err
	}

	if a.bot != nil {
		if err := a.bot.RegisterHandlers(ctx); err != nil {
			a.logger.Warn("Failed to register bot commands", zap.Error(err))
		}
		go a.bot.Start(ctx)
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	select {
	case <-a.scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		a.logger.Warn("Background jobs did not finish before shutdown timeout")
	}

	return runErr
}

// Close освобождает пул и клиентов в обратном порядке
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openStores(ctx context.Context) (*stores, error) {
	if a.cfg.Store == config.StoreMemory {
		a.logger.Warn("Using in-memory store, data is lost on restart")
		mem := memstore.New()
		return &stores{schedules: mem, instances: mem, students: mem, meetings: mem, inbox: mem}, nil
	}

	pool, err := pgxpool.New(ctx, a.cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	a.closers = append(a.closers, pool.Close)

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	a.logger.Info("Connected to database")

	migrator, err := NewMigrator(pool, migrations.FS, a.logger)
	if err != nil {
		return nil, err
	}
	defer migrator.Close()

	if err := migrator.Run(ctx); err != nil {
		return nil, err
	}

	return &stores{
		schedules: repository.NewRecurringScheduleRepository(pool, a.logger.Named("repository")),
		instances: repository.NewClassInstanceRepository(pool),
		students:  repository.NewStudentRepository(pool),
		meetings:  repository.NewMeetSessionRepository(pool),
		inbox:     repository.NewNotificationRepository(pool),
	}, nil
}

func (a *App) newLocker(ctx context.Context) (lock.Locker, error) {
	if a.cfg.RedisAddr == "" {
		return lock.NewKeyedMutex(), nil
	}

	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	a.closers = append(a.closers, func() { _ = client.Close() })

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis %s: %w", a.cfg.RedisAddr, err)
	}
	a.logger.Info("Using redis schedule locks", zap.String("addr", a.cfg.RedisAddr))

	return lock.NewRedisLocker(client, redisLockTTL, a.logger.Named("lock")), nil
}
