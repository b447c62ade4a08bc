package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  int
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ReportCacheTTLSeconds int
	ReportTimezone        string
	ReportCostBasis       string
	JWTSecret             string
	TokenTTLHours         int
	AdminUsername         string
	AdminPassword         string
	LoginRatePerMinute    int
	Logger                LoggerConfig
}

type LoggerConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment, optionally layered over the
// file named by CONFIG_FILE, and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", 3000)
	v.SetDefault("ALLOWED_ORIGIN", "*")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REPORT_CACHE_TTL_SECONDS", 30)
	v.SetDefault("REPORT_TIMEZONE", "Local")
	v.SetDefault("REPORT_COST_BASIS", "current")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("TOKEN_TTL_HOURS", 168)
	v.SetDefault("ADMIN_USERNAME", "admin")
	v.SetDefault("ADMIN_PASSWORD", "")
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 5)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	if file := strings.TrimSpace(v.GetString("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		Port:                  v.GetInt("PORT"),
		AllowedOrigin:         strings.TrimSpace(v.GetString("ALLOWED_ORIGIN")),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		ReportCacheTTLSeconds: v.GetInt("REPORT_CACHE_TTL_SECONDS"),
		ReportTimezone:        strings.TrimSpace(v.GetString("REPORT_TIMEZONE")),
		ReportCostBasis:       strings.ToLower(strings.TrimSpace(v.GetString("REPORT_COST_BASIS"))),
		JWTSecret:             strings.TrimSpace(v.GetString("JWT_SECRET")),
		TokenTTLHours:         v.GetInt("TOKEN_TTL_HOURS"),
		AdminUsername:         strings.TrimSpace(v.GetString("ADMIN_USERNAME")),
		AdminPassword:         v.GetString("ADMIN_PASSWORD"),
		LoginRatePerMinute:    v.GetInt("LOGIN_RATE_PER_MINUTE"),
		Logger: LoggerConfig{
			Level:  strings.ToLower(strings.TrimSpace(v.GetString("LOG_LEVEL"))),
			Format: strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Port)
	}
	switch c.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logger.Level)
	}
	switch c.Logger.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s", c.Logger.Format)
	}
	switch c.ReportCostBasis {
	case "current", "snapshot":
	default:
		return fmt.Errorf("invalid report cost basis: %s", c.ReportCostBasis)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid report timezone: %w", err)
	}
	if c.ReportCacheTTLSeconds < 1 {
		return errors.New("report cache ttl must be at least 1 second")
	}
	if c.TokenTTLHours < 1 {
		return errors.New("token ttl must be at least 1 hour")
	}
	if c.LoginRatePerMinute < 1 {
		return errors.New("login rate must be at least 1 per minute")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	return nil
}

func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) Location() (*time.Location, error) {
	if c.ReportTimezone == "" || c.ReportTimezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.ReportTimezone)
}

func (c *Config) ReportCacheTTL() time.Duration {
	return time.Duration(c.ReportCacheTTLSeconds) * time.Second
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}
