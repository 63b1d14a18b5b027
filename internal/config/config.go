package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN       string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL       string `env:"RABBITMQ_URL,required=true"`
	RedisURL          string `env:"REDIS_URL,required=true"`
	WebhookSecret     string `env:"JIRA_HMAC_SECRET,required=true"`
	TelegramBotToken  string `env:"TELEGRAM_BOT_TOKEN,required=true"`
	TelegramAPIURL    string `env:"TELEGRAM_API_URL,default=https://api.telegram.org"`
	SMTPHost          string `env:"MAIL_SMTP_HOST,required=true"`
	SMTPPort          int    `env:"MAIL_SMTP_PORT,default=587"`
	SMTPUser          string `env:"MAIL_SMTP_USER"`
	SMTPPassword      string `env:"MAIL_SMTP_PASS"`
	MailFrom          string `env:"MAIL_FROM,default=no-reply@example.com"`
	ChatRatePerSec    int    `env:"CHAT_RATE_PER_SEC,default=1"`
	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=16"`
	DeliveredKeep     int    `env:"DELIVERED_KEEP,default=1000"`
	APIPort           int    `env:"API_PORT,default=8080"`
	MetricsPort       int    `env:"METRICS_PORT,default=9090"`
	Environment       string `env:"ENVIRONMENT,default=production"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// IsProduction gates dev-only conveniences such as logging issued codes.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
