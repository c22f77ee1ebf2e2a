package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Environment       string        `mapstructure:"ENV"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	DBDSN             string        `mapstructure:"DB_DSN"`
	Store             string        `mapstructure:"STORE"`
	TelegramToken     string        `mapstructure:"TELEGRAM_TOKEN"`
	HTTPAddr          string        `mapstructure:"HTTP_ADDR"`
	RedisAddr         string        `mapstructure:"REDIS_ADDR"`
	Timezone          string        `mapstructure:"TIMEZONE"`
	HorizonWeeks      int           `mapstructure:"HORIZON_WEEKS"`
	RenewThreshold    int           `mapstructure:"RENEW_THRESHOLD"`
	RenewWeeks        int           `mapstructure:"RENEW_WEEKS"`
	RenewCron         string        `mapstructure:"RENEW_CRON"`
	AutoStartCron     string        `mapstructure:"AUTOSTART_CRON"`
	SideEffectTimeout time.Duration `mapstructure:"SIDE_EFFECT_TIMEOUT"`
	AppURL            string        `mapstructure:"APP_URL"`
}

func Load() (*Config, error) {
	// Пытаемся загрузить .env файл (игнорируем ошибку, если файла нет)
	if err := godotenv.Load(".env"); err != nil {
		log.Println("No .env file found, using environment variables")
	} else {
		log.Println("Loaded configuration from .env file")
	}

	return FromEnv(os.LookupEnv)
}

// FromEnv собирает конфиг из переданного источника переменных
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, def string) string {
		if v, ok := lookup(key); ok {
			return strings.TrimSpace(v)
		}
		return def
	}

	cfg := &Config{
		Environment:   get("ENV", "development"),
		LogLevel:      get("LOG_LEVEL", ""),
		DBDSN:         get("DB_DSN", ""),
		Store:         get("STORE", StorePostgres),
		TelegramToken: get("TELEGRAM_TOKEN", ""),
		HTTPAddr:      get("HTTP_ADDR", ":8080"),
		RedisAddr:     get("REDIS_ADDR", ""),
		Timezone:      get("TIMEZONE", "UTC"),
		RenewCron:     get("RENEW_CRON", "@every 1h"),
		AutoStartCron: get("AUTOSTART_CRON", "@every 1m"),
		AppURL:        get("APP_URL", "http://localhost:8080"),
	}

	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	var err error
	if cfg.HorizonWeeks, err = positiveInt("HORIZON_WEEKS", get("HORIZON_WEEKS", "4")); err != nil {
		return nil, err
	}
	if cfg.RenewThreshold, err = positiveInt("RENEW_THRESHOLD", get("RENEW_THRESHOLD", "3")); err != nil {
		return nil, err
	}
	if cfg.RenewWeeks, err = positiveInt("RENEW_WEEKS", get("RENEW_WEEKS", "4")); err != nil {
		return nil, err
	}

	timeout, err := time.ParseDuration(get("SIDE_EFFECT_TIMEOUT", "5s"))
	if err != nil || timeout <= 0 {
		return nil, fmt.Errorf("SIDE_EFFECT_TIMEOUT must be a positive duration like 5s")
	}
	cfg.SideEffectTimeout = timeout

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return nil, fmt.Errorf("TIMEZONE %q is not a known time zone: %w", cfg.Timezone, err)
	}

	// Проверяем обязательные поля
	switch cfg.Store {
	case StorePostgres:
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("DB_DSN is required but not set")
		}
	case StoreMemory:
	default:
		return nil, fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}

	return cfg, nil
}

// Location часовой пояс по умолчанию
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func positiveInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, value)
	}
	return n, nil
}
