package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/sakashimaa/order-saga/pkg/utils"
)

type Config struct {
	Env          string       `yaml:"env" env:"ENV" env-default:"local"`
	ServiceName  string       `yaml:"service_name" env:"SERVICE_NAME" env-default:"order-saga"`
	LogLevel     string       `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	HTTP         HTTP         `yaml:"http"`
	Metrics      Metrics      `yaml:"metrics"`
	Postgres     PG           `yaml:"postgres"`
	Redis        Redis        `yaml:"redis"`
	Kafka        Kafka        `yaml:"kafka"`
	Consumer     Consumer     `yaml:"consumer"`
	Outbox       Outbox       `yaml:"outbox"`
	Dedup        Dedup        `yaml:"dedup"`
	Telemetry    Telemetry    `yaml:"telemetry"`
	Cart         Cart         `yaml:"cart"`
	Catalog      Catalog      `yaml:"catalog"`
	Notification Notification `yaml:"notification"`
}

type HTTP struct {
	Port       string        `yaml:"port" env:"HTTP_PORT" env-default:":3000"`
	Timeout    time.Duration `yaml:"timeout" env:"HTTP_TIMEOUT" env-default:"4s"`
	// AdminToken guards operator routes. Empty disables them.
	AdminToken string `yaml:"admin_token" env:"ADMIN_TOKEN"`
}

type Metrics struct {
	Port string `yaml:"port" env:"METRICS_PORT" env-default:":9091"`
}

type PG struct {
	URL            string `yaml:"url" env:"DB_URL"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
}

// Consumer controls redelivery of failed messages before they are dead-lettered.
type Consumer struct {
	MaxDeliveries  int           `yaml:"max_deliveries" env:"CONSUMER_MAX_DELIVERIES" env-default:"5"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"CONSUMER_INITIAL_BACKOFF" env-default:"200ms"`
	MaxBackoff     time.Duration `yaml:"max_backoff" env:"CONSUMER_MAX_BACKOFF" env-default:"10s"`
}

type Outbox struct {
	BatchSize   int           `yaml:"batch_size" env:"OUTBOX_BATCH_SIZE" env-default:"50"`
	Interval    time.Duration `yaml:"interval" env:"OUTBOX_INTERVAL" env-default:"500ms"`
	MaxAttempts int           `yaml:"max_attempts" env:"OUTBOX_MAX_ATTEMPTS" env-default:"10"`
}

type Dedup struct {
	TTL           time.Duration `yaml:"ttl" env:"DEDUP_TTL" env-default:"168h"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"DEDUP_SWEEP_INTERVAL" env-default:"1h"`
}

type Telemetry struct {
	Endpoint string `yaml:"endpoint" env:"JAEGER_ENDPOINT" env-default:"localhost:4318"`
}

type Cart struct {
	TTL        time.Duration `yaml:"ttl" env:"CART_TTL" env-default:"168h"`
	MaxRetries int           `yaml:"max_retries" env:"CART_MAX_RETRIES" env-default:"5"`
	SessionTTL time.Duration `yaml:"session_ttl" env:"SESSION_TTL" env-default:"168h"`
}

type Catalog struct {
	BaseURL  string        `yaml:"base_url" env:"CATALOG_URL" env-default:"http://localhost:3002"`
	Timeout  time.Duration `yaml:"timeout" env:"CATALOG_TIMEOUT" env-default:"2s"`
	CacheTTL time.Duration `yaml:"cache_ttl" env:"PRODUCT_CACHE_TTL" env-default:"1h"`
}

type Notification struct {
	StoreName          string `yaml:"store_name" env:"STORE_NAME" env-default:"Order Saga Shop"`
	LoginURL           string `yaml:"login_url" env:"LOGIN_URL" env-default:"http://localhost:3000/login"`
	ResetURL           string `yaml:"reset_url" env:"RESET_URL" env-default:"http://localhost:3000/reset-password"`
	ResetExpiryMinutes int    `yaml:"reset_expiry_minutes" env:"RESET_EXPIRY_MINUTES" env-default:"60"`
	MaxRetries         int    `yaml:"max_retries" env:"NOTIFICATION_MAX_RETRIES" env-default:"3"`
	SMSEnabled         bool   `yaml:"sms_enabled" env:"SMS_ENABLED" env-default:"false"`
	AdminPhone         string `yaml:"admin_phone" env:"ADMIN_PHONE"`
	SMTP               SMTP   `yaml:"smtp"`
}

type SMTP struct {
	Host     string `yaml:"host" env:"SMTP_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"SMTP_PORT" env-default:"1025"`
	User     string `yaml:"user" env:"SMTP_USER"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"SMTP_FROM" env-default:"no-reply@localhost"`
	// Timeout bounds dialing and the whole SMTP conversation.
	Timeout time.Duration `yaml:"timeout" env:"SMTP_TIMEOUT" env-default:"10s"`
}

// Load reads the yaml file at path when it exists and falls back to the environment otherwise.
func Load(path string) (*Config, error) {
	var cfg Config

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config file: %w", err)
		}

		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("error reading env config: %w", err)
		}

		return &cfg, nil
	}

	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	return &cfg, nil
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	cfg, err := Load(configPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	return cfg
}
