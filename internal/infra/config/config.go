package config

import (
	"log"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервиса.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"dev"`
	TZ     string `envconfig:"TZ" default:"Europe/Amsterdam"`
	Port   int    `envconfig:"PORT" default:"8080"`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	AMQP struct {
		URL          string `envconfig:"AMQP_URL"`
		IntakeQueue  string `envconfig:"AMQP_INTAKE_QUEUE" default:"scan_batches"`
		CommandQueue string `envconfig:"AMQP_COMMAND_QUEUE" default:"scan_commands"`
	} `envconfig:""`

	OpenAI struct {
		APIKey         string `envconfig:"OPENAI_API_KEY"`
		BaseURL        string `envconfig:"OPENAI_BASE_URL"`
		Model          string `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		TimeoutSeconds int    `envconfig:"OPENAI_TIMEOUT_SECONDS" default:"60"`
	} `envconfig:""`

	Telegram struct {
		Token  string `envconfig:"TG_BOT_TOKEN"`
		ChatID int64  `envconfig:"TG_CHAT_ID"`
	} `envconfig:""`

	Billing struct {
		BaseURL string `envconfig:"BILLING_BASE_URL"`
		UserID  string `envconfig:"BILLING_USER_ID"`
	} `envconfig:""`

	Limits struct {
		FreeGroupsLimit int `envconfig:"FREE_GROUPS_LIMIT" default:"3"`
		ScanRate        int `envconfig:"SCAN_RATE" default:"5"`
		ScanRateWindowS int `envconfig:"SCAN_RATE_WINDOW_SECONDS" default:"60"`
		LedgerCap       int `envconfig:"SEEN_LEDGER_CAP" default:"1000"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
