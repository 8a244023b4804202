package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	AuthIssuer    string `mapstructure:"AUTH_ISSUER"`
	AuthAudience  string `mapstructure:"AUTH_AUDIENCE"`
	JWTSigningKey string `mapstructure:"JWT_SIGNING_KEY"`

	Timezone        string        `mapstructure:"TIMEZONE"`
	SweepEnabled    bool          `mapstructure:"SWEEP_ENABLED"`
	SweepInterval   time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepCutoffHour int           `mapstructure:"SWEEP_CUTOFF_HOUR"`

	SMSEnabled       bool   `mapstructure:"SMS_ENABLED"`
	SMSIRAPIKey      string `mapstructure:"SMSIR_API_KEY"`
	SMSIRSecretKey   string `mapstructure:"SMSIR_SECRET_KEY"`
	SMSIRTemplateID  string `mapstructure:"SMSIR_TEMPLATE_ID"`
	SMSSenderTag     string `mapstructure:"SMS_SENDER_TAG"`
	SMSDefaultRegion string `mapstructure:"SMS_DEFAULT_REGION"`

	MetricsEnabled bool `mapstructure:"METRICS_ENABLED"`

	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogFile       string `mapstructure:"LOG_FILE"`
	LogMaxSizeMB  int    `mapstructure:"LOG_MAX_SIZE_MB"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`
	LogMaxAgeDays int    `mapstructure:"LOG_MAX_AGE_DAYS"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL", "CORS_ORIGINS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "JWT_SIGNING_KEY",
	"TIMEZONE", "SWEEP_ENABLED", "SWEEP_INTERVAL", "SWEEP_CUTOFF_HOUR",
	"SMS_ENABLED", "SMSIR_API_KEY", "SMSIR_SECRET_KEY", "SMSIR_TEMPLATE_ID", "SMS_SENDER_TAG", "SMS_DEFAULT_REGION",
	"METRICS_ENABLED",
	"LOG_LEVEL", "LOG_FILE", "LOG_MAX_SIZE_MB", "LOG_MAX_BACKUPS", "LOG_MAX_AGE_DAYS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("TIMEZONE", "Asia/Manila")
	v.SetDefault("SWEEP_ENABLED", true)
	v.SetDefault("SWEEP_INTERVAL", "15m")
	v.SetDefault("SWEEP_CUTOFF_HOUR", 17)
	v.SetDefault("SMS_ENABLED", false)
	v.SetDefault("SMS_SENDER_TAG", "MCH Clinic")
	v.SetDefault("SMS_DEFAULT_REGION", "PH")
	v.SetDefault("METRICS_ENABLED", true)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_MAX_SIZE_MB", 50)
	v.SetDefault("LOG_MAX_BACKUPS", 5)
	v.SetDefault("LOG_MAX_AGE_DAYS", 30)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: running in DEVELOPMENT mode; unauthenticated requests act as an admin dev-user.")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Location resolves TIMEZONE. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSigningKey == "" {
		return fmt.Errorf("JWT_SIGNING_KEY is required outside development (ENV=%q)", c.Env)
	}
	if !c.IsDev() && strings.TrimSpace(c.AuthIssuer) == "" {
		return fmt.Errorf("AUTH_ISSUER is required outside development (ENV=%q)", c.Env)
	}
	if c.JWTSigningKey != "" && len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 characters")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("TIMEZONE %q is not a valid IANA zone: %w", c.Timezone, err)
	}
	if c.SweepCutoffHour < 0 || c.SweepCutoffHour > 23 {
		return fmt.Errorf("SWEEP_CUTOFF_HOUR must be between 0 and 23, got %d", c.SweepCutoffHour)
	}
	if c.SweepEnabled && c.SweepInterval < time.Minute {
		return fmt.Errorf("SWEEP_INTERVAL must be at least 1m, got %s", c.SweepInterval)
	}
	if c.SMSEnabled {
		if c.SMSIRAPIKey == "" {
			return fmt.Errorf("SMSIR_API_KEY is required when SMS_ENABLED is true")
		}
		if c.SMSIRTemplateID == "" {
			return fmt.Errorf("SMSIR_TEMPLATE_ID is required when SMS_ENABLED is true")
		}
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
