// Package config handles environment-based configuration loading and the
// YAML bootstrap file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/net/http/httpguts"
)

// EnvConfig holds all environment-variable-driven settings.
type EnvConfig struct {
	// Directories
	CacheDir    string
	ResourceDir string

	// Network
	ListenAddress   string
	Port            int
	APIMaxBodyBytes int

	// Auth
	AdminToken string

	// Relay list
	RelayListURL            string
	RelayListUpdateInterval time.Duration
	RelayListCheckSchedule  string
	RelayListFetchTimeout   time.Duration
	UserAgent               string

	// Fetch retry
	FetchRetryBaseDelay  time.Duration
	FetchRetryMaxDelay   time.Duration
	FetchRetryMultiplier float64
	FetchRetryJitter     float64
	FetchRetryWindow     time.Duration

	// Selector
	SelectorCandidateCacheSize int

	// Bootstrap
	BootstrapFile string

	// Logging
	LogLevel  string
	LogFormat string
}

// LoadEnvConfig reads environment variables and returns a validated EnvConfig.
// Every invalid value is reported in the returned error.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.CacheDir = envStr("RELAYD_CACHE_DIR", "/var/cache/relayd")
	cfg.ResourceDir = envStr("RELAYD_RESOURCE_DIR", "/usr/share/relayd")

	// --- Network ---
	cfg.ListenAddress = strings.TrimSpace(envStr("RELAYD_LISTEN_ADDRESS", "127.0.0.1"))
	cfg.Port = envInt("RELAYD_PORT", 2270, &errs)
	cfg.APIMaxBodyBytes = envInt("RELAYD_API_MAX_BODY_BYTES", 1<<20, &errs)

	// --- Auth (must be defined; empty means auth disabled) ---
	adminToken, hasAdminToken := os.LookupEnv("RELAYD_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- Relay list ---
	// No default: the endpoint must serve the relayd relay list document.
	cfg.RelayListURL = strings.TrimSpace(envStr("RELAYD_RELAY_LIST_URL", ""))
	cfg.RelayListUpdateInterval = envDuration("RELAYD_RELAY_LIST_UPDATE_INTERVAL", time.Hour, &errs)
	cfg.RelayListCheckSchedule = envStr("RELAYD_RELAY_LIST_CHECK_SCHEDULE", "@every 15m")
	cfg.RelayListFetchTimeout = envDuration("RELAYD_RELAY_LIST_FETCH_TIMEOUT", 30*time.Second, &errs)
	cfg.UserAgent = envStr("RELAYD_USER_AGENT", "relayd")

	// --- Fetch retry ---
	cfg.FetchRetryBaseDelay = envDuration("RELAYD_FETCH_RETRY_BASE_DELAY", 2*time.Second, &errs)
	cfg.FetchRetryMaxDelay = envDuration("RELAYD_FETCH_RETRY_MAX_DELAY", 5*time.Minute, &errs)
	cfg.FetchRetryMultiplier = envFloat("RELAYD_FETCH_RETRY_MULTIPLIER", 2, &errs)
	cfg.FetchRetryJitter = envFloat("RELAYD_FETCH_RETRY_JITTER", 0.2, &errs)
	cfg.FetchRetryWindow = envDuration("RELAYD_FETCH_RETRY_WINDOW", 15*time.Minute, &errs)

	// --- Selector ---
	cfg.SelectorCandidateCacheSize = envInt("RELAYD_SELECTOR_CANDIDATE_CACHE_SIZE", 256, &errs)

	cfg.BootstrapFile = strings.TrimSpace(envStr("RELAYD_BOOTSTRAP_FILE", ""))

	// --- Logging ---
	cfg.LogLevel = strings.ToLower(envStr("RELAYD_LOG_LEVEL", "info"))
	cfg.LogFormat = strings.ToLower(envStr("RELAYD_LOG_FORMAT", "json"))

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "RELAYD_ADMIN_TOKEN must be defined (can be empty)")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "RELAYD_LISTEN_ADDRESS must not be empty")
	}
	validatePort("RELAYD_PORT", cfg.Port, &errs)
	validatePositive("RELAYD_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)

	if cfg.RelayListURL == "" {
		errs = append(errs, "RELAYD_RELAY_LIST_URL is required")
	} else if u, err := url.Parse(cfg.RelayListURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Sprintf("RELAYD_RELAY_LIST_URL: must be an absolute http(s) URL, got %q", cfg.RelayListURL))
	}
	if cfg.RelayListUpdateInterval <= 0 {
		errs = append(errs, "RELAYD_RELAY_LIST_UPDATE_INTERVAL must be positive")
	}
	if _, err := cron.ParseStandard(cfg.RelayListCheckSchedule); err != nil {
		errs = append(errs, fmt.Sprintf("RELAYD_RELAY_LIST_CHECK_SCHEDULE: invalid cron expression %q: %v", cfg.RelayListCheckSchedule, err))
	}
	if cfg.RelayListFetchTimeout <= 0 {
		errs = append(errs, "RELAYD_RELAY_LIST_FETCH_TIMEOUT must be positive")
	}
	if !httpguts.ValidHeaderFieldValue(cfg.UserAgent) {
		errs = append(errs, fmt.Sprintf("RELAYD_USER_AGENT: invalid header value %q", cfg.UserAgent))
	}

	if cfg.FetchRetryBaseDelay <= 0 {
		errs = append(errs, "RELAYD_FETCH_RETRY_BASE_DELAY must be positive")
	}
	if cfg.FetchRetryMaxDelay < cfg.FetchRetryBaseDelay {
		errs = append(errs, "RELAYD_FETCH_RETRY_MAX_DELAY must be greater than or equal to RELAYD_FETCH_RETRY_BASE_DELAY")
	}
	if cfg.FetchRetryMultiplier < 1 {
		errs = append(errs, fmt.Sprintf("RELAYD_FETCH_RETRY_MULTIPLIER: must be >= 1, got %v", cfg.FetchRetryMultiplier))
	}
	if cfg.FetchRetryJitter < 0 || cfg.FetchRetryJitter > 1 {
		errs = append(errs, fmt.Sprintf("RELAYD_FETCH_RETRY_JITTER: must be within [0, 1], got %v", cfg.FetchRetryJitter))
	}
	if cfg.FetchRetryWindow < 0 {
		errs = append(errs, "RELAYD_FETCH_RETRY_WINDOW must not be negative")
	}

	validatePositive("RELAYD_SELECTOR_CANDIDATE_CACHE_SIZE", cfg.SelectorCandidateCacheSize, &errs)

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("RELAYD_LOG_LEVEL: invalid value %q (allowed: debug, info, warn, error)", cfg.LogLevel))
	}
	switch cfg.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("RELAYD_LOG_FORMAT: invalid value %q (allowed: json, console)", cfg.LogFormat))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envFloat(key string, defaultVal float64, errs *[]string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid number %q", key, v))
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s: must be positive, got %d", name, value))
	}
}
