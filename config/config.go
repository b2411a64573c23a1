package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "crosscopy"
	// DataDirEnv overrides the data directory when set.
	DataDirEnv = "CROSSCOPY_DATA_DIR"
	// DefaultServerURL is the public cross-copy server.
	DefaultServerURL = "https://www.cross-copy.net"
	// DefaultHistoryKey is the preference key the history document lives under.
	DefaultHistoryKey = "history"
	// DefaultRequestTimeoutSeconds bounds share, receive and file requests.
	DefaultRequestTimeoutSeconds = 30

	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	// configFileName is the persisted configuration file.
	configFileName = "config.json"
	filesDirName   = "files"
)

// ClientConfig contains persistent client settings.
type ClientConfig struct {
	DeviceID              string `json:"device_id"`
	ServerURL             string `json:"server_url"`
	DiscoverServer        bool   `json:"discover_server"`
	HistoryKey            string `json:"history_key"`
	FilesDir              string `json:"files_dir"`
	LogLevel              string `json:"log_level"`
	WatchErrorBackoffMS   []int  `json:"watch_error_backoff_ms"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// WatchErrorBackoff converts the configured backoff steps to durations.
// Non-positive entries are skipped.
func (c *ClientConfig) WatchErrorBackoff() []time.Duration {
	out := make([]time.Duration, 0, len(c.WatchErrorBackoffMS))
	for _, ms := range c.WatchErrorBackoffMS {
		if ms > 0 {
			out = append(out, time.Duration(ms)*time.Millisecond)
		}
	}
	return out
}

// RequestTimeout returns the timeout for requests other than listener watches.
func (c *ClientConfig) RequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return DefaultRequestTimeoutSeconds * time.Second
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Set updates one setting by its JSON name.
func (c *ClientConfig) Set(key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case "server_url":
		c.ServerURL = value
	case "discover_server":
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("parse %s: %w", key, err)
		}
		c.DiscoverServer = enabled
	case "history_key":
		c.HistoryKey = value
	case "files_dir":
		c.FilesDir = value
	case "log_level":
		level := normalizeLogLevel(value)
		if level == "" {
			return fmt.Errorf("unknown log level %q", value)
		}
		c.LogLevel = level
	case "watch_error_backoff_ms":
		steps := make([]int, 0)
		for _, raw := range strings.Split(value, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			ms, err := strconv.Atoi(raw)
			if err != nil || ms < 0 {
				return fmt.Errorf("parse %s: invalid step %q", key, raw)
			}
			steps = append(steps, ms)
		}
		c.WatchErrorBackoffMS = steps
	case "request_timeout_seconds":
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds <= 0 {
			return fmt.Errorf("parse %s: must be a positive integer", key)
		}
		c.RequestTimeoutSeconds = seconds
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	return nil
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If CROSSCOPY_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, filesDirName),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ClientConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns the config,
// its path and the data directory.
func LoadOrCreate() (*ClientConfig, string, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", "", err
		}

		return cfg, cfgPath, dataDir, nil
	}

	if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", "", err
		}
	}

	return cfg, cfgPath, dataDir, nil
}

func defaultConfig(dataDir string) *ClientConfig {
	return &ClientConfig{
		DeviceID:              uuid.NewString(),
		ServerURL:             DefaultServerURL,
		HistoryKey:            DefaultHistoryKey,
		FilesDir:              filepath.Join(dataDir, filesDirName),
		LogLevel:              LogLevelInfo,
		WatchErrorBackoffMS:   []int{},
		RequestTimeoutSeconds: DefaultRequestTimeoutSeconds,
	}
}

func normalizeDefaults(cfg *ClientConfig, dataDir string) bool {
	updated := false

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		updated = true
	}

	serverURL := strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if serverURL == "" {
		serverURL = DefaultServerURL
	}
	if cfg.ServerURL != serverURL {
		cfg.ServerURL = serverURL
		updated = true
	}

	if strings.TrimSpace(cfg.HistoryKey) == "" {
		cfg.HistoryKey = DefaultHistoryKey
		updated = true
	}

	if cfg.FilesDir == "" {
		cfg.FilesDir = filepath.Join(dataDir, filesDirName)
		updated = true
	}

	level := normalizeLogLevel(cfg.LogLevel)
	if level == "" {
		level = LogLevelInfo
	}
	if cfg.LogLevel != level {
		cfg.LogLevel = level
		updated = true
	}

	if cfg.WatchErrorBackoffMS == nil {
		cfg.WatchErrorBackoffMS = []int{}
		updated = true
	}

	if cfg.RequestTimeoutSeconds <= 0 {
		cfg.RequestTimeoutSeconds = DefaultRequestTimeoutSeconds
		updated = true
	}

	return updated
}

func normalizeLogLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LogLevelDebug:
		return LogLevelDebug
	case LogLevelInfo:
		return LogLevelInfo
	case LogLevelWarn, "warning":
		return LogLevelWarn
	case LogLevelError:
		return LogLevelError
	default:
		return ""
	}
}
