package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// View-audit modes. In strict mode a failed "viewed" audit append fails the read.
const (
	ViewAuditStrict     = "strict"
	ViewAuditBestEffort = "best_effort"
)

type Config struct {
	Port                     string        `mapstructure:"PORT"`
	Env                      string        `mapstructure:"ENV"`
	DatabaseURL              string        `mapstructure:"DATABASE_URL"`
	DBMaxConns               int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns               int32         `mapstructure:"DB_MIN_CONNS"`
	RedisURL                 string        `mapstructure:"REDIS_URL"`
	JWTSecretKey             string        `mapstructure:"JWT_SECRET_KEY"`
	JWTIssuer                string        `mapstructure:"JWT_ISSUER"`
	AccessTokenExpireMinutes int           `mapstructure:"ACCESS_TOKEN_EXPIRE_MINUTES"`
	CORSOrigins              []string      `mapstructure:"CORS_ORIGINS"`
	GeminiAPIKey             string        `mapstructure:"GEMINI_API_KEY"`
	GeminiModel              string        `mapstructure:"GEMINI_MODEL"`
	GeminiBaseURL            string        `mapstructure:"GEMINI_BASE_URL"`
	AIRateLimitRPM           int           `mapstructure:"AI_RATE_LIMIT_RPM"`
	RateLimitRPS             float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst           int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout           time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit                string        `mapstructure:"BODY_LIMIT"`
	ViewAuditMode            string        `mapstructure:"VIEW_AUDIT_MODE"`
	OTLPEndpoint             string        `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	PHIEncryptionKey         string        `mapstructure:"PHI_ENCRYPTION_KEY"`
}

var envKeys = []string{
	"PORT",
	"ENV",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"REDIS_URL",
	"JWT_SECRET_KEY",
	"JWT_ISSUER",
	"ACCESS_TOKEN_EXPIRE_MINUTES",
	"CORS_ORIGINS",
	"GEMINI_API_KEY",
	"GEMINI_MODEL",
	"GEMINI_BASE_URL",
	"AI_RATE_LIMIT_RPM",
	"RATE_LIMIT_RPS",
	"RATE_LIMIT_BURST",
	"REQUEST_TIMEOUT",
	"BODY_LIMIT",
	"VIEW_AUDIT_MODE",
	"OTEL_EXPORTER_OTLP_ENDPOINT",
	"PHI_ENCRYPTION_KEY",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("JWT_ISSUER", "clinote")
	v.SetDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 30)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("GEMINI_MODEL", "gemini-2.0-flash-exp")
	v.SetDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com")
	v.SetDefault("AI_RATE_LIMIT_RPM", 60)
	v.SetDefault("RATE_LIMIT_RPS", 50)
	v.SetDefault("RATE_LIMIT_BURST", 100)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "2M")
	v.SetDefault("VIEW_AUDIT_MODE", ViewAuditStrict)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// viper does not split comma-separated env values into slices
	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
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

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AccessTokenTTL is the lifetime of issued bearer tokens.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// Validate checks that the configuration is safe to run. Outside development a
// JWT signing secret is mandatory; in production it must be at least 32 bytes.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required when ENV=%q", c.Env)
	}
	if c.IsProduction() && len(c.JWTSecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 bytes in production, got %d", len(c.JWTSecretKey))
	}
	if c.AccessTokenExpireMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive, got %d", c.AccessTokenExpireMinutes)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) cannot exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	switch c.ViewAuditMode {
	case ViewAuditStrict, ViewAuditBestEffort:
	default:
		return fmt.Errorf("VIEW_AUDIT_MODE must be %q or %q, got %q", ViewAuditStrict, ViewAuditBestEffort, c.ViewAuditMode)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout)
	}
	if c.PHIEncryptionKey != "" {
		key, err := hex.DecodeString(c.PHIEncryptionKey)
		if err != nil {
			return fmt.Errorf("PHI_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("PHI_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(key))
		}
	}
	return nil
}
