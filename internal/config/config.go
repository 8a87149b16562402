package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const appName = "tagscope"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TAGSCOPE_"

// Config holds all application configuration
type Config struct {
	Version    int              `toml:"version"`
	Browser    BrowserConfig    `toml:"browser"`
	Session    SessionConfig    `toml:"session"`
	Fetch      FetchConfig      `toml:"fetch"`
	Classifier ClassifierConfig `toml:"classifier"`
	Batch      BatchConfig      `toml:"batch"`
	Schedule   ScheduleConfig   `toml:"schedule"`
	Storage    StorageConfig    `toml:"storage"`
	Log        LogConfig        `toml:"log"`
}

type BrowserConfig struct {
	Headless           bool   `toml:"headless"`
	UserAgent          string `toml:"user_agent"`
	Width              int    `toml:"width"`
	Height             int    `toml:"height"`
	NoSandbox          bool   `toml:"no_sandbox"`
	FindTimeoutSeconds int    `toml:"find_timeout_seconds"`
}

type SessionConfig struct {
	CookiePath          string `toml:"cookie_path"`
	HomeURL             string `toml:"home_url"`
	TTLDays             int    `toml:"ttl_days"`
	LoginTimeoutMinutes int    `toml:"login_timeout_minutes"`
}

type FetchConfig struct {
	MaxRetries         int `toml:"max_retries"`
	MaxPosts           int `toml:"max_posts"`
	BackoffBaseSeconds int `toml:"backoff_base_seconds"`
	BackoffCapSeconds  int `toml:"backoff_cap_seconds"`
	SettleMinSeconds   int `toml:"settle_min_seconds"`
	SettleMaxSeconds   int `toml:"settle_max_seconds"`
}

type ClassifierConfig struct {
	RulesPath          string `toml:"rules_path"`
	SkipLoginCheck     bool   `toml:"skip_login_check"`
	SkipRateLimitCheck bool   `toml:"skip_rate_limit_check"`
}

type BatchConfig struct {
	TopicsFile      string `toml:"topics_file"`
	IntervalSeconds int    `toml:"interval_seconds"`
	ContinueOnStop  bool   `toml:"continue_on_stop"`
}

type ScheduleConfig struct {
	Enabled  bool   `toml:"enabled"`
	Cron     string `toml:"cron"`
	Timezone string `toml:"timezone"`
}

type StorageConfig struct {
	DBPath     string `toml:"db_path"`
	ExportDir  string `toml:"export_dir"`
	ExportJSON bool   `toml:"export_json"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Browser: BrowserConfig{
			Headless:           true,
			Width:              1920,
			Height:             1080,
			FindTimeoutSeconds: 5,
		},
		Session: SessionConfig{
			HomeURL:             "https://www.instagram.com/",
			TTLDays:             7,
			LoginTimeoutMinutes: 5,
		},
		Fetch: FetchConfig{
			MaxRetries:         3,
			MaxPosts:           20,
			BackoffBaseSeconds: 5,
			BackoffCapSeconds:  30,
			SettleMinSeconds:   4,
			SettleMaxSeconds:   6,
		},
		Batch: BatchConfig{
			IntervalSeconds: 60,
		},
		Schedule: ScheduleConfig{
			Cron:     "0 9 * * *",
			Timezone: "Asia/Tokyo",
		},
		Storage: StorageConfig{
			ExportJSON: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, appName), nil
}

// CacheDir returns the platform-appropriate cache directory
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, appName), nil
}

// DataDir returns the directory records are exported to by default.
func DataDir() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "data"), nil
}

// ConfigPath returns the full path to the config file
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads config from the default path, writing a default file on first
// run, then applies .env and environment overrides.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadPath(path)
}

// LoadPath is Load for an explicit config file path.
func LoadPath(path string) (*Config, error) {
	cfg, err := LoadFrom(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = Default()
		if err := cfg.SaveTo(path); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	} else if err != nil {
		return nil, err
	}

	// A missing .env is the common case.
	_ = godotenv.Load()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// LoadFrom reads config from path. Keys absent from the file keep their
// default values.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the default path
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes config to path
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}

// ApplyEnv overrides fields from TAGSCOPE_* environment variables.
func (c *Config) ApplyEnv() error {
	strs := map[string]*string{
		"COOKIE_PATH": &c.Session.CookiePath,
		"DB_PATH":     &c.Storage.DBPath,
		"EXPORT_DIR":  &c.Storage.ExportDir,
		"RULES_PATH":  &c.Classifier.RulesPath,
		"TOPICS_FILE": &c.Batch.TopicsFile,
		"LOG_LEVEL":   &c.Log.Level,
		"LOG_FORMAT":  &c.Log.Format,
		"TIMEZONE":    &c.Schedule.Timezone,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(EnvPrefix + key); ok {
			*dst = v
		}
	}

	bools := map[string]*bool{
		"HEADLESS":   &c.Browser.Headless,
		"NO_SANDBOX": &c.Browser.NoSandbox,
	}
	for key, dst := range bools {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
	}

	ints := map[string]*int{
		"MAX_RETRIES": &c.Fetch.MaxRetries,
		"MAX_POSTS":   &c.Fetch.MaxPosts,
	}
	for key, dst := range ints {
		v, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
		*dst = n
	}
	return nil
}

// Validate rejects values the rest of the program cannot work with.
func (c *Config) Validate() error {
	switch {
	case c.Fetch.MaxRetries < 1:
		return fmt.Errorf("fetch.max_retries must be at least 1, got %d", c.Fetch.MaxRetries)
	case c.Fetch.MaxPosts < 0:
		return fmt.Errorf("fetch.max_posts must not be negative, got %d", c.Fetch.MaxPosts)
	case c.Fetch.SettleMaxSeconds < c.Fetch.SettleMinSeconds:
		return errors.New("fetch.settle_max_seconds must not be below settle_min_seconds")
	case c.Session.TTLDays < 1:
		return fmt.Errorf("session.ttl_days must be at least 1, got %d", c.Session.TTLDays)
	}
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	return nil
}

// Seconds converts a whole-second config field to a duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// CookiePath returns the configured cookie file, or the default location.
func (c *Config) CookiePath() (string, error) {
	if c.Session.CookiePath != "" {
		return c.Session.CookiePath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cookies.json"), nil
}

// DBPath returns the configured database file, or the default location.
func (c *Config) DBPath() (string, error) {
	if c.Storage.DBPath != "" {
		return c.Storage.DBPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "tagscope.db"), nil
}

// ExportDir returns the configured JSON export directory, or the default.
func (c *Config) ExportDir() (string, error) {
	if c.Storage.ExportDir != "" {
		return c.Storage.ExportDir, nil
	}
	return DataDir()
}

// SessionTTL returns the credential validity window.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLDays) * 24 * time.Hour
}
