package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orbisretail/loyalty/internal/model"
)

type Config struct {
	Handler   HandlerConfig   `yaml:"handler"`
	Store     StoreConfig     `yaml:"store"`
	Logger    LoggerConfig    `yaml:"logger"`
	Broker    BrokerConfig    `yaml:"broker"`
	Auth      AuthConfig      `yaml:"auth"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Reconcile ReconcileConfig `yaml:"reconcile"`
	// Необязательная своя таблица ступеней вместо встроенной
	Tiers []model.Tier `yaml:"tiers"`
}

type HandlerConfig struct {
	ServerAddr      string        `yaml:"server_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StoreConfig struct {
	DBDsn string `yaml:"db_dsn"`
}

type LoggerConfig struct {
	LogLevel string `yaml:"log_level"`
}

type BrokerConfig struct {
	// memory | nats
	Kind           string        `yaml:"kind"`
	NATSURL        string        `yaml:"nats_url"`
	Group          string        `yaml:"group"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseBackoff    time.Duration `yaml:"base_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	HandlerTimeout time.Duration `yaml:"handler_timeout"`
}

type AuthConfig struct {
	AdminLogin    string        `yaml:"admin_login"`
	AdminPassword string        `yaml:"admin_password"`
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
}

type NotifierConfig struct {
	WebhookURL     string        `yaml:"webhook_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type ReconcileConfig struct {
	Interval time.Duration `yaml:"interval"`
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func atoienv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durenv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// GetConfig: значения по умолчанию < yaml-файл (CONFIG_FILE) < переменные окружения
func GetConfig() (Config, error) {
	cfg := Config{
		Handler: HandlerConfig{
			ServerAddr:      ":8080",
			ShutdownTimeout: 15 * time.Second,
		},
		Logger: LoggerConfig{LogLevel: "info"},
		Broker: BrokerConfig{
			Kind:           "memory",
			NATSURL:        "nats://localhost:4222",
			Group:          "customer-service-group",
			MaxAttempts:    3,
			BaseBackoff:    100 * time.Millisecond,
			MaxBackoff:     5 * time.Second,
			HandlerTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			AdminLogin: "admin",
			TokenTTL:   12 * time.Hour,
		},
		Notifier: NotifierConfig{RequestTimeout: 5 * time.Second},
		Reconcile: ReconcileConfig{
			Interval: 10 * time.Minute,
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Handler.ServerAddr = getenv("SERVER_ADDR", cfg.Handler.ServerAddr)
	cfg.Handler.ShutdownTimeout = durenv("SHUTDOWN_TIMEOUT", cfg.Handler.ShutdownTimeout)
	cfg.Store.DBDsn = getenv("DATABASE_DSN", cfg.Store.DBDsn)
	cfg.Logger.LogLevel = getenv("LOG_LEVEL", cfg.Logger.LogLevel)
	cfg.Broker.Kind = getenv("BROKER_KIND", cfg.Broker.Kind)
	cfg.Broker.NATSURL = getenv("NATS_URL", cfg.Broker.NATSURL)
	cfg.Broker.Group = getenv("BROKER_GROUP", cfg.Broker.Group)
	cfg.Broker.MaxAttempts = atoienv("BROKER_MAX_ATTEMPTS", cfg.Broker.MaxAttempts)
	cfg.Broker.BaseBackoff = durenv("BROKER_BASE_BACKOFF", cfg.Broker.BaseBackoff)
	cfg.Broker.MaxBackoff = durenv("BROKER_MAX_BACKOFF", cfg.Broker.MaxBackoff)
	cfg.Broker.HandlerTimeout = durenv("BROKER_HANDLER_TIMEOUT", cfg.Broker.HandlerTimeout)
	cfg.Auth.AdminLogin = getenv("ADMIN_LOGIN", cfg.Auth.AdminLogin)
	cfg.Auth.AdminPassword = getenv("ADMIN_PASSWORD", cfg.Auth.AdminPassword)
	cfg.Auth.JWTSecret = getenv("JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.TokenTTL = durenv("TOKEN_TTL", cfg.Auth.TokenTTL)
	cfg.Notifier.WebhookURL = getenv("WEBHOOK_URL", cfg.Notifier.WebhookURL)
	cfg.Notifier.RequestTimeout = durenv("WEBHOOK_TIMEOUT", cfg.Notifier.RequestTimeout)
	cfg.Reconcile.Interval = durenv("RECONCILE_INTERVAL", cfg.Reconcile.Interval)

	return cfg, nil
}
