package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// снимаем блокировку только если она всё ещё наша
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// продлеваем TTL только своей блокировки
var refreshScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// redisClient команды Redis, нужные блокировке. *redis.Client подходит.
type redisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// RedisLocker распределённая блокировка на SET NX PX для нескольких реплик сервиса.
// Пока блокировка удерживается, её TTL продлевается каждые ttl/3.
type RedisLocker struct {
	client redisClient
	ttl    time.Duration
	retry  time.Duration
	logger *zap.Logger
}

func NewRedisLocker(client redisClient, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		ttl:    ttl,
		retry:  50 * time.Millisecond,
		logger: logger,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	redisKey := "class_scheduler:lock:" + key

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.keepAlive(key, redisKey, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			l.release(ctx, key, redisKey, token)
		})
	}, nil
}

func (l *RedisLocker) keepAlive(key, redisKey, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
		extended, err := refreshScript.Run(ctx, l.client, []string{redisKey}, token, l.ttl.Milliseconds()).Int64()
		cancel()

		if err != nil {
			l.logger.Warn("Failed to extend lock", zap.String("key", key), zap.Error(err))
			continue
		}
		if extended == 0 {
			l.logger.Warn("Lock expired while held", zap.String("key", key))
			return
		}
	}
}

func (l *RedisLocker) release(ctx context.Context, key, redisKey, token string) {
	// отпускаем даже если контекст вызова уже отменён
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()

	released, err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Int64()
	if err != nil {
		l.logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
		return
	}
	if released == 0 {
		l.logger.Warn("Lock was no longer held on release", zap.String("key", key))
	}
}
