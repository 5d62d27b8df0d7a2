package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"pharmastock/backend/internal/logger"
	"pharmastock/backend/internal/policy"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	MigrateOnStart        bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	BootstrapAdminPass    string
	Log                   logger.Config
	Approval              policy.Thresholds
	Lock                  LockConfig
	Events                EventsConfig
}

type LockConfig struct {
	WaitTimeout time.Duration
	TTL         time.Duration
}

type EventsConfig struct {
	Buffer int
	Stream string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("database_url", "")
	v.SetDefault("database.migrate", true)
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("auth_secret", "")
	v.SetDefault("access_token_ttl_minutes", 480)
	v.SetDefault("bootstrap_admin_password", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("approval.unit_threshold", 50)
	v.SetDefault("approval.value_threshold", "0")
	v.SetDefault("approval.four_eyes_threshold", "0")
	v.SetDefault("lock.wait_timeout", "2s")
	v.SetDefault("lock.ttl", "10s")
	v.SetDefault("events.buffer", 256)
	v.SetDefault("events.stream", "pharmastock:events")
}

// Load reads config.toml (optional) and lets environment variables override
// every key; "approval.unit_threshold" is read from APPROVAL_UNIT_THRESHOLD.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	valueThreshold, err := decimal.NewFromString(strings.TrimSpace(v.GetString("approval.value_threshold")))
	if err != nil {
		return Config{}, fmt.Errorf("approval.value_threshold: %w", err)
	}
	fourEyesThreshold, err := decimal.NewFromString(strings.TrimSpace(v.GetString("approval.four_eyes_threshold")))
	if err != nil {
		return Config{}, fmt.Errorf("approval.four_eyes_threshold: %w", err)
	}

	cfg := Config{
		Port:                  v.GetString("port"),
		AllowedOrigin:         v.GetString("allowed_origin"),
		DatabaseURL:           strings.TrimSpace(v.GetString("database_url")),
		MigrateOnStart:        v.GetBool("database.migrate"),
		RedisAddr:             strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword:         v.GetString("redis_password"),
		RedisDB:               v.GetInt("redis_db"),
		AuthSecret:            strings.TrimSpace(v.GetString("auth_secret")),
		AccessTokenTTLMinutes: v.GetInt("access_token_ttl_minutes"),
		BootstrapAdminPass:    v.GetString("bootstrap_admin_password"),
		Log: logger.Config{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Approval: policy.Thresholds{
			Units:    v.GetInt("approval.unit_threshold"),
			Value:    valueThreshold,
			FourEyes: fourEyesThreshold,
		},
		Lock: LockConfig{
			WaitTimeout: v.GetDuration("lock.wait_timeout"),
			TTL:         v.GetDuration("lock.ttl"),
		},
		Events: EventsConfig{
			Buffer: v.GetInt("events.buffer"),
			Stream: v.GetString("events.stream"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.AccessTokenTTLMinutes < 1 {
		return fmt.Errorf("access_token_ttl_minutes must be positive")
	}
	if c.Approval.Units < 0 || c.Approval.Value.IsNegative() || c.Approval.FourEyes.IsNegative() {
		return fmt.Errorf("approval thresholds must not be negative")
	}
	if c.Lock.WaitTimeout <= 0 {
		return fmt.Errorf("lock.wait_timeout must be positive")
	}
	if c.Lock.TTL < c.Lock.WaitTimeout {
		return fmt.Errorf("lock.ttl must be at least lock.wait_timeout")
	}
	if c.Events.Buffer < 1 {
		return fmt.Errorf("events.buffer must be positive")
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
