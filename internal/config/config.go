package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the application configuration
type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	Port        string `env:"PORT" envDefault:"8080"`

	JWTSecret                string `env:"JWT_SECRET,required,notEmpty"`
	JWTAlgorithm             string `env:"JWT_ALGORITHM" envDefault:"HS256"`
	AccessTokenExpireMinutes int    `env:"ACCESS_TOKEN_EXPIRE_MINUTES" envDefault:"30"`
	RefreshTokenRotation     bool   `env:"REFRESH_TOKEN_ROTATION" envDefault:"false"`
	CookieSecure             bool   `env:"COOKIE_SECURE" envDefault:"true"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	TelegramBotToken      string `env:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL        string `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
	TelegramWebhookSecret string `env:"TELEGRAM_WEBHOOK_SECRET"`
	WebhookHostURL        string `env:"WEBHOOK_HOST_URL"`
	TelegramWorkers       int    `env:"TELEGRAM_WORKERS" envDefault:"4"`
	TelegramQueueSize     int    `env:"TELEGRAM_QUEUE_SIZE" envDefault:"256"`

	// Per-IP budget on /auth/login and /auth/register
	AuthRateLimit       int           `env:"AUTH_RATE_LIMIT" envDefault:"20"`
	AuthRateLimitWindow time.Duration `env:"AUTH_RATE_LIMIT_WINDOW" envDefault:"10m"`

	AdminPhone     string `env:"ADMIN_PHONE"`
	AdminPassword  string `env:"ADMIN_PASSWORD"`
	AdminFirstName string `env:"ADMIN_FIRST_NAME" envDefault:"Admin"`
	AdminLastName  string `env:"ADMIN_LAST_NAME" envDefault:"User"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch strings.ToUpper(c.JWTAlgorithm) {
	case "HS256", "HS384", "HS512":
		c.JWTAlgorithm = strings.ToUpper(c.JWTAlgorithm)
	default:
		return fmt.Errorf("JWT_ALGORITHM %q is not supported (use HS256, HS384 or HS512)", c.JWTAlgorithm)
	}
	if c.AccessTokenExpireMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
	}
	if c.TelegramWorkers <= 0 {
		return fmt.Errorf("TELEGRAM_WORKERS must be positive")
	}
	if c.TelegramQueueSize <= 0 {
		return fmt.Errorf("TELEGRAM_QUEUE_SIZE must be positive")
	}
	if (c.AdminPhone == "") != (c.AdminPassword == "") {
		return fmt.Errorf("ADMIN_PHONE and ADMIN_PASSWORD must be set together")
	}
	return nil
}

// AccessTokenTTL is the lifetime of access tokens
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// TelegramEnabled reports whether the bot token is configured
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}
