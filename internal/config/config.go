package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root of config/config.yaml.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Notification NotificationConfig `mapstructure:"notification"`
	Settlement   SettlementConfig   `mapstructure:"settlement"`
	Referral     ReferralConfig     `mapstructure:"referral"`
	Payment      PaymentConfig      `mapstructure:"payment"`
	Withdrawal   WithdrawalConfig   `mapstructure:"withdrawal"`
}

type AppConfig struct {
	Env        string `mapstructure:"env"`
	LogLevel   string `mapstructure:"log_level"`
	AdminToken string `mapstructure:"admin_token"`
	WorkerID   int64  `mapstructure:"worker_id"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql, postgres or sqlite
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	DSN          string `mapstructure:"dsn"` // overrides the parts above when set
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type KafkaConfig struct {
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	Notification string `mapstructure:"notification"`
}

type NotificationConfig struct {
	Transport     string        `mapstructure:"transport"` // kafka, asynq or none
	AsynqQueue    string        `mapstructure:"asynq_queue"`
	SendInterval  time.Duration `mapstructure:"send_interval"`
	MaxRetryCount int           `mapstructure:"max_retry_count"`
}

type SettlementConfig struct {
	Cron                string        `mapstructure:"cron"`
	Timezone            string        `mapstructure:"timezone"`
	Workers             int           `mapstructure:"workers"`
	BatchSize           int           `mapstructure:"batch_size"`
	CascadeLookbackDays int           `mapstructure:"cascade_lookback_days"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
}

// Location resolves the settlement timezone; an unknown name falls back to UTC.
func (c SettlementConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ReferralConfig holds commission percentages per upline level.
type ReferralConfig struct {
	Level1Rate float64 `mapstructure:"level1_rate"`
	Level2Rate float64 `mapstructure:"level2_rate"`
	Level3Rate float64 `mapstructure:"level3_rate"`
}

type PaymentConfig struct {
	WebhookSecret string        `mapstructure:"webhook_secret"`
	GatewayURL    string        `mapstructure:"gateway_url"`
	GatewayAPIKey string        `mapstructure:"gateway_api_key"`
	CallbackURL   string        `mapstructure:"callback_url"`
	Currency      string        `mapstructure:"currency"`
	MinDeposit    float64       `mapstructure:"min_deposit"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	PollBatchSize int           `mapstructure:"poll_batch_size"`
	DepositExpiry time.Duration `mapstructure:"deposit_expiry"`
}

type WithdrawalConfig struct {
	FeePercent           float64 `mapstructure:"fee_percent"`
	MinAmount            float64 `mapstructure:"min_amount"`
	AutoApproveMaxAmount float64 `mapstructure:"auto_approve_max_amount"`
}

// LoadConfig reads the YAML file at configPath.
//
// A missing file is not an error: defaults and environment variables
// (database.host -> DATABASE_HOST) still produce a usable config.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.worker_id", 1)

	v.SetDefault("server.port", 8080)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.database", "earnsystem")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic.notification", "earnsystem.notification")

	v.SetDefault("notification.transport", "kafka")
	v.SetDefault("notification.asynq_queue", "default")
	v.SetDefault("notification.send_interval", time.Second)
	v.SetDefault("notification.max_retry_count", 5)

	v.SetDefault("settlement.cron", "5 0 * * *")
	v.SetDefault("settlement.timezone", "UTC")
	v.SetDefault("settlement.workers", 8)
	v.SetDefault("settlement.batch_size", 500)
	v.SetDefault("settlement.cascade_lookback_days", 7)
	v.SetDefault("settlement.lock_ttl", 6*time.Hour)

	v.SetDefault("referral.level1_rate", 7)
	v.SetDefault("referral.level2_rate", 5)
	v.SetDefault("referral.level3_rate", 3)

	v.SetDefault("payment.currency", "USD")
	v.SetDefault("payment.min_deposit", 10)
	v.SetDefault("payment.poll_interval", time.Minute)
	v.SetDefault("payment.poll_batch_size", 100)
	v.SetDefault("payment.deposit_expiry", 24*time.Hour)

	v.SetDefault("withdrawal.fee_percent", 5)
	v.SetDefault("withdrawal.min_amount", 10)
	v.SetDefault("withdrawal.auto_approve_max_amount", 0)
}
