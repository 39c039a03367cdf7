package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the widget host.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	ServiceHost       string
	AllowedHosts      []string
	BackendMode       string
	DefaultMerchantID string
	MockChunkDelay    time.Duration

	ChatTimeout      time.Duration
	ConfigTimeout    time.Duration
	TelemetryTimeout time.Duration
	TelemetryEnabled bool

	EscalationThreshold int
	UnhelpfulPhrases    []string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "seep"),
		AllowAnyOrigin:           false,
		ServiceHost:              strings.TrimRight(stringsTrimSpace("SEEP_SERVICE_HOST"), "/"),
		BackendMode:              strings.ToLower(envOrDefault("SEEP_BACKEND_MODE", "auto")),
		DefaultMerchantID:        envOrDefault("SEEP_DEFAULT_MERCHANT_ID", "test-merchant"),
		DatabaseURL:              stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		MockChunkDelay:           40 * time.Millisecond,
		ChatTimeout:              60 * time.Second,
		ConfigTimeout:            5 * time.Second,
		TelemetryTimeout:         3 * time.Second,
		TelemetryEnabled:         true,
		EscalationThreshold:      3,
		UnhelpfulPhrases:         listFromEnv("SEEP_UNHELPFUL_PHRASES"),
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.MockChunkDelay, err = durationFromEnv("SEEP_MOCK_CHUNK_DELAY", cfg.MockChunkDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.ChatTimeout, err = durationFromEnv("SEEP_CHAT_TIMEOUT", cfg.ChatTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConfigTimeout, err = durationFromEnv("SEEP_CONFIG_TIMEOUT", cfg.ConfigTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TelemetryTimeout, err = durationFromEnv("SEEP_TELEMETRY_TIMEOUT", cfg.TelemetryTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.TelemetryEnabled, err = boolFromEnv("SEEP_TELEMETRY_ENABLED", cfg.TelemetryEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.EscalationThreshold, err = intFromEnv("SEEP_ESCALATION_THRESHOLD", cfg.EscalationThreshold)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.EscalationThreshold <= 0 {
		return Config{}, fmt.Errorf("SEEP_ESCALATION_THRESHOLD must be positive")
	}
	switch cfg.BackendMode {
	case "auto", "http", "mock":
	default:
		return Config{}, fmt.Errorf("SEEP_BACKEND_MODE must be one of auto, http, mock")
	}
	if cfg.BackendMode == "http" && cfg.ServiceHost == "" {
		return Config{}, fmt.Errorf("SEEP_SERVICE_HOST is required when SEEP_BACKEND_MODE=http")
	}
	cfg.AllowedHosts, err = originsFromEnv("SEEP_ALLOWED_HOSTS")
	if err != nil {
		return Config{}, err
	}
	if len(cfg.AllowedHosts) == 0 && cfg.ServiceHost != "" {
		cfg.AllowedHosts = []string{cfg.ServiceHost}
	}

	return cfg, nil
}

// HostAllowed reports whether the server may call host on behalf of a widget.
// An empty host stands for ServiceHost.
func (c Config) HostAllowed(host string) bool {
	if host == "" || strings.EqualFold(host, c.ServiceHost) {
		return true
	}
	for _, h := range c.AllowedHosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// originsFromEnv reads a comma separated list of http(s) origins, reduced to
// scheme://host.
func originsFromEnv(key string) ([]string, error) {
	var out []string
	for _, raw := range listFromEnv(key) {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%s: %q is not an http(s) origin", key, raw)
		}
		out = append(out, u.Scheme+"://"+u.Host)
	}
	return out, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// listFromEnv splits a comma separated value, dropping empty items.
func listFromEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
