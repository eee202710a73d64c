// Package config loads herald's configuration from a YAML or JSON file.
// YAML is coerced to JSON so both formats share one strict decoder; unknown
// fields are rejected. The Manager supports hot reload over fsnotify for
// the tunables that apply live (log level, refresh interval).
package config

import (
	"bytes"
	"encoding/json"
	"time"
)

type Config struct {
	// UserAgent identifies this client to the directory. The directory
	// rejects anonymous traffic, so this is required.
	UserAgent string `json:"user_agent"`

	Directory DirectoryConfig `json:"directory,omitempty"`
	Telegram  TelegramConfig  `json:"telegram"`
	Refresh   RefreshConfig   `json:"refresh,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
	Storage   StorageConfig   `json:"storage,omitempty"`
}

// DirectoryConfig tunes the directory client. All durations are Go duration
// strings (e.g. "500ms", "10s", "1m").
type DirectoryConfig struct {
	BaseURL     string `json:"base_url,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
	CacheTTL    string `json:"cache_ttl,omitempty"`
	ReadsPer30s int    `json:"reads_per_30s,omitempty"`

	// StandardDelay / RecruitDelay pace telegram sends per class.
	StandardDelay string `json:"standard_delay,omitempty"`
	RecruitDelay  string `json:"recruit_delay,omitempty"`
}

// TelegramConfig carries the send credentials and per-job defaults.
type TelegramConfig struct {
	ClientKey   string `json:"client_key"`
	TelegramID  string `json:"telegram_id"`
	SecretKey   string `json:"secret_key"`
	Recruitment bool   `json:"recruitment,omitempty"`

	// From is the region recruitment eligibility checks are attributed to.
	From string `json:"from,omitempty"`

	CheckEligibility bool `json:"check_eligibility,omitempty"`
	SkipRepeats      bool `json:"skip_repeats,omitempty"`
}

type RefreshConfig struct {
	// Interval between re-evaluations of continuous jobs. Default "60s".
	Interval string `json:"interval,omitempty"`
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"`
	Console *bool         `json:"console,omitempty"` // default true
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	// Driver is "sqlite" or "none"/empty (disabled).
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// ConsoleEnabled applies the default for the omitted field.
func (l LoggingConfig) ConsoleEnabled() bool {
	return l.Console == nil || *l.Console
}

// RefreshInterval parses the configured interval, defaulting to a minute.
func (r RefreshConfig) RefreshInterval() (time.Duration, error) {
	return ParseDurationOrDefault("refresh.interval", r.Interval, time.Minute)
}

func hashConfig(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

// hashBytes is FNV-1a, enough to detect "editor wrote the same content".
func hashBytes(b []byte) uint64 {
	var h uint64 = 14695981039346656037
	for _, c := range bytes.TrimSpace(b) {
		h ^= uint64(c)
		h *= 1099511628211
	}
	return h
}
