package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds process configuration.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	DatabaseURL string `yaml:"database_url"`
	CommunityID string `yaml:"community_id"`
	JWTSecret   string `yaml:"jwt_secret"`
	Debug       bool   `yaml:"debug"`

	ImportPrice int64         `yaml:"import_price"`
	Battery     BatteryConfig `yaml:"battery"`
	Devices     DevicesConfig `yaml:"devices"`
	Members     []MemberSeed  `yaml:"members"`

	Audit  AuditConfig  `yaml:"audit"`
	Meter  MeterConfig  `yaml:"meter"`
	Outbox OutboxConfig `yaml:"outbox"`
}

// BatteryConfig configures the shared battery at startup.
// A zero capacity leaves the battery unconfigured.
type BatteryConfig struct {
	Price       int64 `yaml:"price"`
	MaxCapacity int64 `yaml:"max_capacity"`
}

// DevicesConfig names the reserved devices.
type DevicesConfig struct {
	Export    string `yaml:"export"`
	Community string `yaml:"community"`
}

// MemberSeed is a member registered on an empty ledger at startup.
type MemberSeed struct {
	ID       string   `yaml:"id"`
	Devices  []string `yaml:"devices"`
	ShareBps int      `yaml:"share_bps"`
}

// AuditConfig controls the zero-sum auditor.
type AuditConfig struct {
	Schedule   string `yaml:"schedule"`
	WebhookURL string `yaml:"webhook_url"`
}

// MeterConfig controls signed meter ingestion.
type MeterConfig struct {
	Secret        string        `yaml:"secret"`
	MaxSkew       time.Duration `yaml:"max_skew"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

// OutboxConfig controls event delivery retries. A zero interval disables
// the background drain; events are then only dispatched on publish.
type OutboxConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
}

// Load reads an optional .env file, environment variables and the YAML
// file named by ENERGY_CONFIG, in that order of precedence (later wins).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL: getEnv("DATABASE_URL", getEnv("PG_DSN", "")),
		CommunityID: getEnv("COMMUNITY_ID", "community-demo"),
		JWTSecret:   getEnv("AUTH_JWT_SECRET", getEnv("JWT_SECRET", "")),
		Debug:       getEnvBool("DEBUG", false),
		ImportPrice: getEnvInt64("IMPORT_PRICE", 0),
		Battery: BatteryConfig{
			Price:       getEnvInt64("BATTERY_PRICE", 0),
			MaxCapacity: getEnvInt64("BATTERY_MAX_CAPACITY", 0),
		},
		Devices: DevicesConfig{
			Export:    getEnv("EXPORT_DEVICE", ""),
			Community: getEnv("COMMUNITY_DEVICE", ""),
		},
		Audit: AuditConfig{
			Schedule:   getEnv("AUDIT_SCHEDULE", "@every 5m"),
			WebhookURL: getEnv("AUDIT_WEBHOOK_URL", ""),
		},
		Meter: MeterConfig{
			Secret:        getEnv("METER_HMAC_SECRET", ""),
			MaxSkew:       getEnvDuration("METER_MAX_SKEW", 5*time.Minute),
			RatePerSecond: getEnvFloat("METER_RATE_PER_SECOND", 5),
			Burst:         int(getEnvInt64("METER_BURST", 10)),
		},
		Outbox: OutboxConfig{
			MaxAttempts:      int(getEnvInt64("OUTBOX_MAX_ATTEMPTS", 5)),
			DispatchInterval: getEnvDuration("OUTBOX_DISPATCH_INTERVAL", 10*time.Second),
		},
	}

	if path := os.Getenv("ENERGY_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at bootstrap.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: AUTH_JWT_SECRET is required")
	}
	if strings.TrimSpace(c.CommunityID) == "" {
		return errors.New("config: community_id is required")
	}
	if c.ImportPrice < 0 {
		return errors.New("config: import_price must not be negative")
	}
	if c.Battery.Price < 0 || c.Battery.MaxCapacity < 0 {
		return errors.New("config: battery price and capacity must not be negative")
	}
	for _, member := range c.Members {
		if member.ShareBps < 0 || member.ShareBps > 10000 {
			return fmt.Errorf("config: member %q share %d outside 0..10000", member.ID, member.ShareBps)
		}
	}
	if c.Meter.Burst < 0 || c.Meter.RatePerSecond < 0 {
		return errors.New("config: meter rate must not be negative")
	}
	if c.Outbox.MaxAttempts < 1 {
		return errors.New("config: outbox max_attempts must be at least 1")
	}
	if c.Outbox.DispatchInterval < 0 {
		return errors.New("config: outbox dispatch_interval must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
