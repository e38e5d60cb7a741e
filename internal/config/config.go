package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds validated environment configuration.
type Config struct {
	Port            string
	CorsOrigins     []string
	PlatformBaseURL string

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool

	// Rate limits in ulule/limiter format (M = minute, S = second)
	RateLimitWsIP string
}

// FromEnv validates all environment variables and returns a Config object.
// Returns an error if any variable is present but invalid.
func FromEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	// PORT (defaults to 3001)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		cfg.Port = "3001"
	}
	if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	// CORS_ORIGINS (comma separated list)
	origins := os.Getenv("CORS_ORIGINS")
	if origins == "" {
		cfg.CorsOrigins = []string{"http://localhost:3000"}
	} else {
		for _, o := range strings.Split(origins, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CorsOrigins = append(cfg.CorsOrigins, o)
			}
		}
		if len(cfg.CorsOrigins) == 0 {
			errs = append(errs, fmt.Sprintf("CORS_ORIGINS must contain at least one origin (got '%s')", origins))
		}
	}

	// PLATFORM_BASE_URL (optional, platform integration disabled when empty)
	cfg.PlatformBaseURL = strings.TrimRight(os.Getenv("PLATFORM_BASE_URL"), "/")
	if cfg.PlatformBaseURL != "" && !strings.HasPrefix(cfg.PlatformBaseURL, "http") {
		errs = append(errs, fmt.Sprintf("PLATFORM_BASE_URL must be an http(s) URL (got '%s')", cfg.PlatformBaseURL))
	}

	// GO_ENV (defaults to "production"); NODE_ENV accepted for parity with
	// the platform's deploy tooling, purely informational.
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = os.Getenv("NODE_ENV")
	}
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}
	cfg.DevelopmentMode = cfg.GoEnv == "development"

	// LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// logValidatedConfig logs the validated configuration.
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated",
		"port", cfg.Port,
		"cors_origins", strings.Join(cfg.CorsOrigins, ","),
		"platform_base_url", cfg.PlatformBaseURL,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"rate_limit_ws_ip", cfg.RateLimitWsIP,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
