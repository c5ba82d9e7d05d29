package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// setEnvs sets multiple env vars for the duration of the test.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// requiredEnvs returns the minimum env vars needed for LoadEnvConfig to succeed.
func requiredEnvs() map[string]string {
	return map[string]string{
		"RELAYD_ADMIN_TOKEN":    "admin-secret",
		"RELAYD_RELAY_LIST_URL": "https://relays.example.net/v1/relays",
	}
}

func TestLoadEnvConfig_Defaults(t *testing.T) {
	setEnvs(t, requiredEnvs())

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertEqual(t, "CacheDir", cfg.CacheDir, "/var/cache/relayd")
	assertEqual(t, "ResourceDir", cfg.ResourceDir, "/usr/share/relayd")
	assertEqual(t, "ListenAddress", cfg.ListenAddress, "127.0.0.1")
	assertEqual(t, "Port", cfg.Port, 2270)
	assertEqual(t, "APIMaxBodyBytes", cfg.APIMaxBodyBytes, 1<<20)
	assertEqual(t, "AdminToken", cfg.AdminToken, "admin-secret")

	assertEqual(t, "RelayListURL", cfg.RelayListURL, "https://relays.example.net/v1/relays")
	assertEqual(t, "RelayListUpdateInterval", cfg.RelayListUpdateInterval, time.Hour)
	assertEqual(t, "RelayListCheckSchedule", cfg.RelayListCheckSchedule, "@every 15m")
	assertEqual(t, "RelayListFetchTimeout", cfg.RelayListFetchTimeout, 30*time.Second)
	assertEqual(t, "UserAgent", cfg.UserAgent, "relayd")

	assertEqual(t, "FetchRetryBaseDelay", cfg.FetchRetryBaseDelay, 2*time.Second)
	assertEqual(t, "FetchRetryMaxDelay", cfg.FetchRetryMaxDelay, 5*time.Minute)
	assertEqual(t, "FetchRetryMultiplier", cfg.FetchRetryMultiplier, 2.0)
	assertEqual(t, "FetchRetryJitter", cfg.FetchRetryJitter, 0.2)
	assertEqual(t, "FetchRetryWindow", cfg.FetchRetryWindow, 15*time.Minute)

	assertEqual(t, "SelectorCandidateCacheSize", cfg.SelectorCandidateCacheSize, 256)
	assertEqual(t, "BootstrapFile", cfg.BootstrapFile, "")
	assertEqual(t, "LogLevel", cfg.LogLevel, "info")
	assertEqual(t, "LogFormat", cfg.LogFormat, "json")
}

func TestLoadEnvConfig_EnvOverrides(t *testing.T) {
	envs := requiredEnvs()
	envs["RELAYD_CACHE_DIR"] = "/tmp/relayd-cache"
	envs["RELAYD_RESOURCE_DIR"] = "/opt/relayd"
	envs["RELAYD_LISTEN_ADDRESS"] = " 0.0.0.0 "
	envs["RELAYD_PORT"] = "8080"
	envs["RELAYD_RELAY_LIST_URL"] = "http://relays.internal/v1/relays"
	envs["RELAYD_RELAY_LIST_UPDATE_INTERVAL"] = "30m"
	envs["RELAYD_RELAY_LIST_CHECK_SCHEDULE"] = "*/5 * * * *"
	envs["RELAYD_USER_AGENT"] = "relayd/2.0 (+ops)"
	envs["RELAYD_FETCH_RETRY_MULTIPLIER"] = "1.5"
	envs["RELAYD_FETCH_RETRY_JITTER"] = "0"
	envs["RELAYD_FETCH_RETRY_WINDOW"] = "0s"
	envs["RELAYD_BOOTSTRAP_FILE"] = "/etc/relayd/bootstrap.yaml"
	envs["RELAYD_LOG_LEVEL"] = "DEBUG"
	envs["RELAYD_LOG_FORMAT"] = "console"
	setEnvs(t, envs)

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqual(t, "CacheDir", cfg.CacheDir, "/tmp/relayd-cache")
	assertEqual(t, "ResourceDir", cfg.ResourceDir, "/opt/relayd")
	assertEqual(t, "ListenAddress", cfg.ListenAddress, "0.0.0.0")
	assertEqual(t, "Port", cfg.Port, 8080)
	assertEqual(t, "RelayListURL", cfg.RelayListURL, "http://relays.internal/v1/relays")
	assertEqual(t, "RelayListUpdateInterval", cfg.RelayListUpdateInterval, 30*time.Minute)
	assertEqual(t, "RelayListCheckSchedule", cfg.RelayListCheckSchedule, "*/5 * * * *")
	assertEqual(t, "UserAgent", cfg.UserAgent, "relayd/2.0 (+ops)")
	assertEqual(t, "FetchRetryMultiplier", cfg.FetchRetryMultiplier, 1.5)
	assertEqual(t, "FetchRetryJitter", cfg.FetchRetryJitter, 0.0)
	assertEqual(t, "FetchRetryWindow", cfg.FetchRetryWindow, time.Duration(0))
	assertEqual(t, "BootstrapFile", cfg.BootstrapFile, "/etc/relayd/bootstrap.yaml")
	assertEqual(t, "LogLevel", cfg.LogLevel, "debug")
	assertEqual(t, "LogFormat", cfg.LogFormat, "console")
}

func TestLoadEnvConfig_MissingAdminToken(t *testing.T) {
	t.Setenv("RELAYD_ADMIN_TOKEN", "")
	os.Unsetenv("RELAYD_ADMIN_TOKEN")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for missing RELAYD_ADMIN_TOKEN")
	}
	assertContains(t, err.Error(), "RELAYD_ADMIN_TOKEN must be defined (can be empty)")
}

func TestLoadEnvConfig_EmptyAdminTokenAllowedWhenDefined(t *testing.T) {
	envs := requiredEnvs()
	envs["RELAYD_ADMIN_TOKEN"] = ""
	setEnvs(t, envs)

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqual(t, "AdminToken", cfg.AdminToken, "")
}

func TestLoadEnvConfig_RelayListURLRequired(t *testing.T) {
	setEnvs(t, requiredEnvs())
	os.Unsetenv("RELAYD_RELAY_LIST_URL")

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for missing RELAYD_RELAY_LIST_URL")
	}
	assertContains(t, err.Error(), "RELAYD_RELAY_LIST_URL is required")

	t.Setenv("RELAYD_RELAY_LIST_URL", "  ")
	_, err = LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error for blank RELAYD_RELAY_LIST_URL")
	}
	assertContains(t, err.Error(), "RELAYD_RELAY_LIST_URL is required")
}

func TestLoadEnvConfig_InvalidValues(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		wantErr string
	}{
		{"RELAYD_LISTEN_ADDRESS", "   ", "RELAYD_LISTEN_ADDRESS"},
		{"RELAYD_PORT", "99999", "RELAYD_PORT"},
		{"RELAYD_PORT", "abc", "RELAYD_PORT: invalid integer"},
		{"RELAYD_PORT", "0", "RELAYD_PORT"},
		{"RELAYD_API_MAX_BODY_BYTES", "0", "RELAYD_API_MAX_BODY_BYTES"},
		{"RELAYD_RELAY_LIST_URL", "ftp://relays", "RELAYD_RELAY_LIST_URL"},
		{"RELAYD_RELAY_LIST_URL", "/relative", "RELAYD_RELAY_LIST_URL"},
		{"RELAYD_RELAY_LIST_UPDATE_INTERVAL", "0s", "RELAYD_RELAY_LIST_UPDATE_INTERVAL"},
		{"RELAYD_RELAY_LIST_UPDATE_INTERVAL", "soon", "RELAYD_RELAY_LIST_UPDATE_INTERVAL: invalid duration"},
		{"RELAYD_RELAY_LIST_CHECK_SCHEDULE", "every quarter hour", "invalid cron expression"},
		{"RELAYD_RELAY_LIST_FETCH_TIMEOUT", "-1s", "RELAYD_RELAY_LIST_FETCH_TIMEOUT"},
		{"RELAYD_USER_AGENT", "relayd\r\nX-Injected: 1", "RELAYD_USER_AGENT"},
		{"RELAYD_FETCH_RETRY_BASE_DELAY", "0s", "RELAYD_FETCH_RETRY_BASE_DELAY"},
		{"RELAYD_FETCH_RETRY_MAX_DELAY", "1s", "RELAYD_FETCH_RETRY_MAX_DELAY"},
		{"RELAYD_FETCH_RETRY_MULTIPLIER", "0.5", "RELAYD_FETCH_RETRY_MULTIPLIER"},
		{"RELAYD_FETCH_RETRY_MULTIPLIER", "x", "invalid number"},
		{"RELAYD_FETCH_RETRY_JITTER", "1.5", "RELAYD_FETCH_RETRY_JITTER"},
		{"RELAYD_FETCH_RETRY_WINDOW", "-1m", "RELAYD_FETCH_RETRY_WINDOW"},
		{"RELAYD_SELECTOR_CANDIDATE_CACHE_SIZE", "0", "RELAYD_SELECTOR_CANDIDATE_CACHE_SIZE"},
		{"RELAYD_LOG_LEVEL", "trace", "RELAYD_LOG_LEVEL"},
		{"RELAYD_LOG_FORMAT", "xml", "RELAYD_LOG_FORMAT"},
	}
	for _, tc := range tests {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			envs := requiredEnvs()
			envs[tc.key] = tc.value
			setEnvs(t, envs)

			_, err := LoadEnvConfig()
			if err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.value)
			}
			assertContains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadEnvConfig_ReportsAllErrors(t *testing.T) {
	envs := map[string]string{
		"RELAYD_PORT":      "0",
		"RELAYD_LOG_LEVEL": "loud",
	}
	t.Setenv("RELAYD_ADMIN_TOKEN", "")
	os.Unsetenv("RELAYD_ADMIN_TOKEN")
	setEnvs(t, envs)

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	assertContains(t, err.Error(), "RELAYD_ADMIN_TOKEN")
	assertContains(t, err.Error(), "RELAYD_PORT")
	assertContains(t, err.Error(), "RELAYD_LOG_LEVEL")
}

// --- test helpers ---

func assertEqual[T comparable](t *testing.T, name string, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %v, want %v", name, got, want)
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}
