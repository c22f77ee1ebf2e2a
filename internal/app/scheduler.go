package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/Freeeeeet/class_scheduler/internal/service"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Renewer продлевает горизонт всех активных расписаний
type Renewer interface {
	CheckAll(ctx context.Context) (int, error)
}

// Sweeper автозапуск и напоминания
type Sweeper interface {
	Run(ctx context.Context) (service.SweepResult, error)
}

// Scheduler управляет фоновыми задачами
type Scheduler struct {
	cron    *cron.Cron
	renewer Renewer
	sweeper Sweeper
	logger  *zap.Logger
	// продление при старте идёт вне cron
	boot    sync.WaitGroup
}

// NewScheduler создаёт новый планировщик
func NewScheduler(renewer Renewer, sweeper Sweeper, logger *zap.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))

	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		renewer: renewer,
		sweeper: sweeper,
		logger:  logger,
	}
}

// Start регистрирует задачи и запускает cron. Пустой autoStartSpec отключает автозапуск.
func (s *Scheduler) Start(ctx context.Context, renewSpec, autoStartSpec string) error {
	s.logger.Info("Starting background scheduler",
		zap.String("renew", renewSpec),
		zap.String("autostart", autoStartSpec))

	if renewSpec != "" {
		if _, err := s.cron.AddFunc(renewSpec, func() { s.renewSchedules(ctx) }); err != nil {
			return fmt.Errorf("add renewal job %q: %w", renewSpec, err)
		}
	}

	if autoStartSpec != "" && s.sweeper != nil {
		if _, err := s.cron.AddFunc(autoStartSpec, func() { s.autoStart(ctx) }); err != nil {
			return fmt.Errorf("add autostart job %q: %w", autoStartSpec, err)
		}
	}

	// Первый запуск продления сразу при старте
	s.boot.Add(1)
	go func() {
		defer s.boot.Done()
		s.renewSchedules(ctx)
	}()

	s.cron.Start()
	return nil
}

// Stop останавливает cron. Возвращённый контекст завершается, когда
// отработали все выполняющиеся задачи, включая продление при старте.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("Stopping background scheduler")
	cronDone := s.cron.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer cancel()
		<-cronDone.Done()
		s.boot.Wait()
	}()
	return ctx
}

// renewSchedules продлевает горизонт расписаний, у которых мало будущих занятий
func (s *Scheduler) renewSchedules(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	renewed, err := s.renewer.CheckAll(ctx)
	if err != nil {
		s.logger.Error("Failed to renew schedules", zap.Error(err))
		return
	}

	s.logger.Info("Schedule renewal completed", zap.Int("count", renewed))
}

func (s *Scheduler) autoStart(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	if _, err := s.sweeper.Run(ctx); err != nil {
		s.logger.Error("Auto-start sweep failed", zap.Error(err))
	}
}
