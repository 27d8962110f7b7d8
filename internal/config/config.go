package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Providers ProvidersConfig
	Telegram  TelegramConfig
	Staff     StaffConfig
	Reconcile ReconcileConfig
}

type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"legalbot"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

type HTTPConfig struct {
	Host         string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port         int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10s"`
}

func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	// URL accepts postgres:// DSNs; anything else is treated as a sqlite
	// path for local development.
	URL string `env:"DATABASE_URL" envDefault:"legalbot.db"`
}

type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Per-provider merchant credentials. BaseURL and RefundURL override the
// production endpoints, used in tests.
type ProvidersConfig struct {
	Click ClickConfig
	Payme PaymeConfig
	Uzum  UzumConfig
	// Timeout bounds every outbound provider call.
	Timeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
}

type ClickConfig struct {
	MerchantID string `env:"CLICK_MERCHANT_ID"`
	SecretKey  string `env:"CLICK_SECRET_KEY"`
	ReturnURL  string `env:"CLICK_RETURN_URL"`
	BaseURL    string `env:"CLICK_BASE_URL" envDefault:"https://my.click.uz/services/pay"`
	RefundURL  string `env:"CLICK_REFUND_URL" envDefault:"https://api.click.uz/v2/merchant/payment/reversal"`
}

type PaymeConfig struct {
	MerchantID string `env:"PAYME_MERCHANT_ID"`
	SecretKey  string `env:"PAYME_SECRET_KEY"`
	ReturnURL  string `env:"PAYME_RETURN_URL"`
	BaseURL    string `env:"PAYME_BASE_URL" envDefault:"https://checkout.payme.uz"`
	RefundURL  string `env:"PAYME_REFUND_URL" envDefault:"https://checkout.payme.uz/api"`
}

type UzumConfig struct {
	MerchantID string `env:"UZUM_MERCHANT_ID"`
	SecretKey  string `env:"UZUM_SECRET_KEY"`
	ReturnURL  string `env:"UZUM_RETURN_URL"`
	BaseURL    string `env:"UZUM_BASE_URL" envDefault:"https://api.uzum.uz/payment/create"`
	RefundURL  string `env:"UZUM_REFUND_URL" envDefault:"https://api.uzum.uz/payment/refund"`
}

type TelegramConfig struct {
	BotToken string `env:"TELEGRAM_BOT_TOKEN"`
	APIBase  string `env:"TELEGRAM_API_BASE" envDefault:"https://api.telegram.org"`
	// AdminChatIDs receive new-consultation broadcasts.
	AdminChatIDs []int64 `env:"TELEGRAM_ADMIN_CHAT_IDS" envSeparator:","`
}

// StaffConfig protects the internal endpoints (refunds, completion,
// reconcile) with a static bearer token.
type StaffConfig struct {
	InternalToken string `env:"STAFF_INTERNAL_TOKEN"`
}

type ReconcileConfig struct {
	Interval  time.Duration `env:"RECONCILE_INTERVAL" envDefault:"5m"`
	BatchSize int           `env:"RECONCILE_BATCH_SIZE" envDefault:"100"`
}

// Load reads .env when present, then parses the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
