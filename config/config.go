package config

import (
	"fmt"
	"os"
	"strconv"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Telegram TelegramConfig `yaml:"telegram"`
	Tracker  TrackerConfig  `yaml:"tracker"`
}

type DatabaseConfig struct {
	// URL, если задан, имеет приоритет над host/port.
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
}

type TrackerConfig struct {
	HTTPAddr       string `yaml:"http_addr"`
	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	TriggerChannel string `yaml:"trigger_channel"`

	TrackIntervalSeconds  int `yaml:"track_interval_seconds"`
	ResetNotifiedHours    int `yaml:"reset_notified_hours"`
	AbsentCooldownMinutes int `yaml:"absent_cooldown_minutes"`

	MaxLinksPerUser int `yaml:"max_links_per_user"`

	WorkerConcurrency        int `yaml:"worker_concurrency"`
	WorkerRateLimitPerMinute int `yaml:"worker_rate_limit_per_minute"`

	CheckerNavAttempts       int    `yaml:"checker_nav_attempts"`
	CheckerNavTimeoutSeconds int    `yaml:"checker_nav_timeout_seconds"`
	CheckerSettleSeconds     int    `yaml:"checker_settle_seconds"`
	CheckerMarker            string `yaml:"checker_marker"`

	QueueMaxAttempts       int `yaml:"queue_max_attempts"`
	QueueRetryDelaySeconds int `yaml:"queue_retry_delay_seconds"`

	LinksCacheTTLSeconds int `yaml:"links_cache_ttl_seconds"`

	RendererBaseURL string `yaml:"renderer_base_url"`
	RendererToken   string `yaml:"renderer_token"`
}

// LoadConfig читает YAML и поверх накатывает переменные окружения.
// Файл опционален: пустой путь даёт конфиг только из env + дефолтов.
func LoadConfig(filename string) (*Config, error) {
	var config Config

	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
		}
	}

	config.applyEnv()
	return &config, nil
}

// Ключи окружения совпадают с теми, что понимал старый деплой.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = n
		}
	}
	if v := os.Getenv("REDIS_USERNAME"); v != "" {
		c.Redis.Username = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.BotToken = v
	}
	if v := os.Getenv("TRACK_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Tracker.TrackIntervalSeconds = n
		}
	}
	if v := os.Getenv("RESET_NOTIFIED_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Tracker.ResetNotifiedHours = n
		}
	}
	if v := os.Getenv("ABSENT_COOLDOWN_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Tracker.AbsentCooldownMinutes = n
		}
	}
}

// PostgresConnString собирает DSN из URL либо из host/port полей.
func (c *Config) PostgresConnString() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.DBName, sslMode)
}

// RedisAddr возвращает host:port для go-redis (без схемы).
func (c *Config) RedisAddr() string {
	host := c.Redis.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Redis.Port
	if port == 0 {
		port = 6379
	}
	return fmt.Sprintf("%s:%d", host, port)
}
