package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации всей платформы.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Network   NetworkConfig   `mapstructure:"network"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Approvals ApprovalsConfig `mapstructure:"approvals"`
	Logger    LoggerConfig    `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MetricsPort  int           `mapstructure:"metrics_port"`
}

// DatabaseConfig описывает подключение к PostgreSQL.
// Если URL пуст — сервис работает на in-memory хранилищах (dev-режим).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (сигналы решений между инстансами).
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и список операторов (reviewers).
type AuthConfig struct {
	PublicKeyPath  string         `mapstructure:"public_key_path"`
	PrivateKeyPath string         `mapstructure:"private_key_path"`
	TokenTTL       time.Duration  `mapstructure:"token_ttl"`
	Reviewers      []ReviewerCred `mapstructure:"reviewers"`
	PublicKey      []byte
	PrivateKey     []byte
}

// ReviewerCred — учетка оператора из конфига. Пароли храним только как bcrypt-хэши.
type ReviewerCred struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// NetworkConfig — настройки клиента внешней агентской сети.
type NetworkConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Mock    bool          `mapstructure:"mock"`
	Timeout time.Duration `mapstructure:"timeout"`

	RetryAttempts uint    `mapstructure:"retry_attempts"`
	RateLimit     float64 `mapstructure:"rate_limit"`
	RateBurst     int     `mapstructure:"rate_burst"`

	// Настройки Circuit Breaker
	CBMaxRequests         uint32        `mapstructure:"cb_max_requests"`
	CBInterval            time.Duration `mapstructure:"cb_interval"`
	CBTimeout             time.Duration `mapstructure:"cb_timeout"`
	CBConsecutiveFailures uint32        `mapstructure:"cb_consecutive_failures"`
}

// StreamConfig — настройки SSE-транспорта и шины событий.
type StreamConfig struct {
	KeepaliveInterval time.Duration `mapstructure:"keepalive_interval"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`
	ReconnectMinDelay time.Duration `mapstructure:"reconnect_min_delay"`
	ReconnectMaxDelay time.Duration `mapstructure:"reconnect_max_delay"`
	DedupWindow       int           `mapstructure:"dedup_window"`
}

// ApprovalsConfig — поведение паузы на approval.
type ApprovalsConfig struct {
	// WaitTimeout — верхняя граница ожидания решения человека.
	// 0 недопустим: ход не должен висеть бесконечно.
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	ArchiveSize int           `mapstructure:"archive_buffer_size"`
	ArchiveFreq time.Duration `mapstructure:"archive_flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: SERVER_PORT=9000 перекроет server.port
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключи: PEM может прилететь напрямую в ENV (Docker/K8s) или лежать файлом
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 0) // SSE: без лимита на запись
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("network.mock", true)
	v.SetDefault("network.timeout", 30*time.Second)
	v.SetDefault("network.retry_attempts", 3)
	v.SetDefault("network.rate_limit", 50)
	v.SetDefault("network.rate_burst", 10)
	v.SetDefault("network.cb_max_requests", 3)
	v.SetDefault("network.cb_interval", 5*time.Second)
	v.SetDefault("network.cb_timeout", 30*time.Second)
	v.SetDefault("network.cb_consecutive_failures", 5)
	v.SetDefault("stream.keepalive_interval", 30*time.Second)
	v.SetDefault("stream.subscriber_buffer", 256)
	v.SetDefault("stream.reconnect_min_delay", time.Second)
	v.SetDefault("stream.reconnect_max_delay", 30*time.Second)
	v.SetDefault("stream.dedup_window", 512)
	v.SetDefault("approvals.wait_timeout", 5*time.Minute)
	v.SetDefault("approvals.archive_buffer_size", 1000)
	v.SetDefault("approvals.archive_flush_interval", time.Second)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource — универсальный хелпер: сначала ENV, потом файл
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
