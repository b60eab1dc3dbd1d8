package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const envPrefix = "POSSYNC"

type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StoreConfig describes the local SQLite file and its maintenance.
type StoreConfig struct {
	FilePath      string `mapstructure:"file_path"`
	Retention     string `mapstructure:"retention"`
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

func (s StoreConfig) GetRetention() time.Duration {
	return parseDuration(s.Retention, 7*24*time.Hour)
}

// RemoteConfig selects the authoritative store. Driver is one of
// "mysql", "postgres" or "memory".
type RemoteConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	Timeout  string `mapstructure:"timeout"`
}

func (r RemoteConfig) GetTimeout() time.Duration {
	return parseDuration(r.Timeout, 15*time.Second)
}

type SyncConfig struct {
	DeviceID          string `mapstructure:"device_id"`
	StoreID           string `mapstructure:"store_id"`
	LocationID        string `mapstructure:"location_id"`
	BatchSize         int    `mapstructure:"batch_size"`
	MaxBatchesPerPass int    `mapstructure:"max_batches_per_pass"`
	MaxRetries        int    `mapstructure:"max_retries"`
	CustomerLookback  string `mapstructure:"customer_lookback"`
	SigningKey        string `mapstructure:"signing_key"`
}

func (s SyncConfig) GetCustomerLookback() time.Duration {
	return parseDuration(s.CustomerLookback, 7*24*time.Hour)
}

// MonitorConfig configures the connectivity probe. Probe is "http" or "mysql".
type MonitorConfig struct {
	Probe         string `mapstructure:"probe"`
	ProbeURL      string `mapstructure:"probe_url"`
	ProbeInterval string `mapstructure:"probe_interval"`
	ProbeTimeout  string `mapstructure:"probe_timeout"`
	SlowThreshold string `mapstructure:"slow_threshold"`
	AssumeLinkUp  bool   `mapstructure:"assume_link_up"`
}

func (m MonitorConfig) GetProbeInterval() time.Duration {
	return parseDuration(m.ProbeInterval, 15*time.Second)
}

func (m MonitorConfig) GetProbeTimeout() time.Duration {
	return parseDuration(m.ProbeTimeout, 5*time.Second)
}

func (m MonitorConfig) GetSlowThreshold() time.Duration {
	return parseDuration(m.SlowThreshold, 2000*time.Millisecond)
}

type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Interval string `mapstructure:"interval"`
}

type ServerConfig struct {
	Port         int      `mapstructure:"port"`
	Host         string   `mapstructure:"host"`
	AuthToken    string   `mapstructure:"auth_token"`
	ReadTimeout  string   `mapstructure:"read_timeout"`
	WriteTimeout string   `mapstructure:"write_timeout"`
	CorsOrigins  []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) GetReadTimeout() time.Duration {
	return parseDuration(s.ReadTimeout, 10*time.Second)
}

func (s ServerConfig) GetWriteTimeout() time.Duration {
	return parseDuration(s.WriteTimeout, 30*time.Second)
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.file_path", "data/pos-sync.db")
	v.SetDefault("store.retention", "168h")
	v.SetDefault("store.sweep_schedule", "@every 1h")

	v.SetDefault("remote.driver", "mysql")
	v.SetDefault("remote.host", "127.0.0.1")
	v.SetDefault("remote.port", 3306)
	v.SetDefault("remote.ssl_mode", "disable")
	v.SetDefault("remote.timeout", "15s")

	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.max_batches_per_pass", 10)
	v.SetDefault("sync.max_retries", 5)
	v.SetDefault("sync.customer_lookback", "168h")

	v.SetDefault("monitor.probe", "http")
	v.SetDefault("monitor.probe_interval", "15s")
	v.SetDefault("monitor.probe_timeout", "5s")
	v.SetDefault("monitor.slow_threshold", "2000ms")
	v.SetDefault("monitor.assume_link_up", true)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "@every 30s")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
}

// LoadConfig reads path (any format viper understands) layered over the
// defaults and POSSYNC_* environment variables. A missing file is not an
// error when path is empty.
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return decode(v)
}

// Watch reloads path on change and hands the fresh config to onChange.
// Invalid edits are reported through onError and otherwise ignored.
func Watch(path string, onChange func(*Config), onError func(error)) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		onError(err)
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(v)
		if err != nil {
			onError(err)
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Remote.Driver {
	case "mysql", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported remote driver %q", c.Remote.Driver)
	}
	switch c.Monitor.Probe {
	case "http", "mysql":
	default:
		return fmt.Errorf("unsupported probe %q", c.Monitor.Probe)
	}
	if c.Monitor.Probe == "mysql" && c.Remote.Driver != "mysql" {
		return fmt.Errorf("mysql probe requires the mysql remote driver")
	}
	if c.Sync.BatchSize <= 0 {
		return fmt.Errorf("sync.batch_size must be positive")
	}
	if c.Sync.MaxRetries <= 0 {
		return fmt.Errorf("sync.max_retries must be positive")
	}
	if c.Store.FilePath == "" {
		return fmt.Errorf("store.file_path is required")
	}
	return nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
