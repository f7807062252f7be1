package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

var (
	// ErrNotSet occurs when a required value is missing
	ErrNotSet = errors.New("config value is not set")
	// ErrInvalid occurs when a value cannot be used
	ErrInvalid = errors.New("invalid config value")
)

// Default values
const (
	DefaultStorageDriver   = "badger"
	DefaultTimezone        = "Local"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
	DefaultHTTPAddr        = ":8080"
	DefaultCooldown        = 5 * time.Minute
	DefaultCacheMaxAge     = 24 * time.Hour
	DefaultDueSpec         = "* * * * *"
	DefaultMissedSpec      = "*/30 * * * *"
	DefaultMaintenanceSpec = "0 0 * * *"
	DefaultPushRatePerSec  = 5
)

// Config for application setup
type Config interface {
	StorageDriver() (string, error)
	StoragePath() (string, error)
	PushoverAPIToken() (string, error)
	RedisURL() (string, error)
	Timezone() (*time.Location, error)
	LogLevel() (string, error)
	LogFormat() (string, error)
	HTTPAddr() (string, error)
	Cooldown() (time.Duration, error)
	CacheMaxAge() (time.Duration, error)
	DueSpec() (string, error)
	MissedSpec() (string, error)
	MaintenanceSpec() (string, error)
	PushRatePerSec() (float64, error)
}

// Load the config file at path, or the environment when path is empty
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		env, err := LoadEnv()
		if err != nil {
			return nil, err
		}

		return env, nil
	}

	file, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	return file, nil
}

// StorageValues select the database
type StorageValues struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// PushoverValues configure the push gateway
type PushoverValues struct {
	APIToken   string  `yaml:"api_token" split_words:"true"`
	RatePerSec float64 `yaml:"rate_per_sec" split_words:"true"`
}

// RedisValues configure the shared dedup cache
type RedisValues struct {
	URL string `yaml:"url"`
}

// SchedulerValues configure the reminder triggers
type SchedulerValues struct {
	Timezone        string `yaml:"timezone"`
	Cooldown        string `yaml:"cooldown"`
	CacheMaxAge     string `yaml:"cache_max_age" split_words:"true"`
	DueSpec         string `yaml:"due_spec" split_words:"true"`
	MissedSpec      string `yaml:"missed_spec" split_words:"true"`
	MaintenanceSpec string `yaml:"maintenance_spec" split_words:"true"`
}

// LogValues configure logging
type LogValues struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// HTTPValues configure the API listener
type HTTPValues struct {
	Addr string `yaml:"addr"`
}

// Values shared by every Config source
type Values struct {
	Storage   StorageValues   `yaml:"storage"`
	Pushover  PushoverValues  `yaml:"pushover"`
	Redis     RedisValues     `yaml:"redis"`
	Scheduler SchedulerValues `yaml:"scheduler"`
	Log       LogValues       `yaml:"log"`
	HTTP      HTTPValues      `yaml:"http"`
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}

	return v
}

// StorageDriver name
func (v Values) StorageDriver() (string, error) {
	return strings.ToLower(orDefault(v.Storage.Driver, DefaultStorageDriver)), nil
}

// StoragePath for the database
func (v Values) StoragePath() (string, error) {
	if strings.TrimSpace(v.Storage.Path) == "" {
		return "", fmt.Errorf("storage.path: %w", ErrNotSet)
	}

	return v.Storage.Path, nil
}

// PushoverAPIToken getter
func (v Values) PushoverAPIToken() (string, error) {
	if strings.TrimSpace(v.Pushover.APIToken) == "" {
		return "", fmt.Errorf("pushover.api_token: %w", ErrNotSet)
	}

	return v.Pushover.APIToken, nil
}

// RedisURL of the shared dedup cache, empty for a process local cache
func (v Values) RedisURL() (string, error) {
	return strings.TrimSpace(v.Redis.URL), nil
}

// Timezone reminders are scheduled in
func (v Values) Timezone() (*time.Location, error) {
	name := orDefault(v.Scheduler.Timezone, DefaultTimezone)
	if strings.EqualFold(name, "local") {
		return time.Local, nil
	}

	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone %q: %w: %v", name, ErrInvalid, err)
	}

	return loc, nil
}

// LogLevel getter
func (v Values) LogLevel() (string, error) {
	return strings.ToLower(orDefault(v.Log.Level, DefaultLogLevel)), nil
}

// LogFormat is console or json
func (v Values) LogFormat() (string, error) {
	format := strings.ToLower(orDefault(v.Log.Format, DefaultLogFormat))
	switch format {
	case "console", "json":
		return format, nil
	}

	return "", fmt.Errorf("log.format %q: %w", format, ErrInvalid)
}

// HTTPAddr to listen on
func (v Values) HTTPAddr() (string, error) {
	return orDefault(v.HTTP.Addr, DefaultHTTPAddr), nil
}

// Cooldown between dispatch attempts of one occurrence
func (v Values) Cooldown() (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.cooldown", v.Scheduler.Cooldown, DefaultCooldown)
}

// CacheMaxAge after which dedup entries are evicted
func (v Values) CacheMaxAge() (time.Duration, error) {
	return ParseDurationOrDefault("scheduler.cache_max_age", v.Scheduler.CacheMaxAge, DefaultCacheMaxAge)
}

// DueSpec is the cron spec of the due check
func (v Values) DueSpec() (string, error) {
	return orDefault(v.Scheduler.DueSpec, DefaultDueSpec), nil
}

// MissedSpec is the cron spec of the missed dose check
func (v Values) MissedSpec() (string, error) {
	return orDefault(v.Scheduler.MissedSpec, DefaultMissedSpec), nil
}

// MaintenanceSpec is the cron spec of daily maintenance
func (v Values) MaintenanceSpec() (string, error) {
	return orDefault(v.Scheduler.MaintenanceSpec, DefaultMaintenanceSpec), nil
}

// PushRatePerSec caps pushover API calls
func (v Values) PushRatePerSec() (float64, error) {
	switch {
	case v.Pushover.RatePerSec < 0:
		return 0, fmt.Errorf("pushover.rate_per_sec %v: %w", v.Pushover.RatePerSec, ErrInvalid)
	case v.Pushover.RatePerSec == 0:
		return DefaultPushRatePerSec, nil
	}

	return v.Pushover.RatePerSec, nil
}

// ParseDurationOrDefault parses raw, returning def when raw is empty or zero
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: duration %q: %v", path, ErrInvalid, raw, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("%s: %w: duration must be >= 0", path, ErrInvalid)
	}

	if d == 0 {
		return def, nil
	}

	return d, nil
}
