package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

var ErrLeaseTooShort = errors.New("config: lease duration must exceed poll interval")

type Config struct {
	DataDir  string `env:"AGENDA_DATA_DIR" env-default:".agenda" env-description:"directory for the database, device id and logs"`
	Timezone string `env:"AGENDA_TIMEZONE" env-default:"Local" env-description:"IANA zone used for recurrence arithmetic"`

	DB        DBConfig
	Scheduler SchedulerConfig
	Notify    NotifyConfig
	Log       LogConfig
}

type DBConfig struct {
	Driver string `env:"AGENDA_DB_DRIVER" env-default:"sqlite" env-description:"sqlite or postgres"`
	// DSN is a file path for sqlite and a connection URL for postgres.
	DSN string `env:"AGENDA_DB_DSN" env-default:""`
}

type SchedulerConfig struct {
	PollInterval  time.Duration `env:"AGENDA_POLL_INTERVAL" env-default:"60s"`
	LeaseDuration time.Duration `env:"AGENDA_LEASE_DURATION" env-default:"5m"`
	// RedisURL switches delivery leases from the store to Redis.
	RedisURL string `env:"AGENDA_REDIS_URL" env-default:""`
}

type NotifyConfig struct {
	AlertGrace           time.Duration `env:"AGENDA_ALERT_GRACE" env-default:"10m"`
	DesktopNotifications bool          `env:"AGENDA_DESKTOP_NOTIFICATIONS" env-default:"false"`
	PresenterBuffer      int           `env:"AGENDA_PRESENTER_BUFFER" env-default:"32"`
	SnoozePresets        []int         `env:"AGENDA_SNOOZE_PRESETS" env-default:"5,10,30,60" env-separator:","`
}

type LogConfig struct {
	Level      string `env:"AGENDA_LOG_LEVEL" env-default:"info"`
	Format     string `env:"AGENDA_LOG_FORMAT" env-default:"json"`
	Output     string `env:"AGENDA_LOG_OUTPUT" env-default:"file"`
	FilePath   string `env:"AGENDA_LOG_FILE" env-default:""`
	MaxSizeMB  int    `env:"AGENDA_LOG_MAX_SIZE_MB" env-default:"10"`
	MaxBackups int    `env:"AGENDA_LOG_MAX_BACKUPS" env-default:"3"`
	MaxAgeDays int    `env:"AGENDA_LOG_MAX_AGE_DAYS" env-default:"14"`
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		DataDir:  ".agenda",
		Timezone: "Local",
		DB:       DBConfig{Driver: "sqlite"},
		Scheduler: SchedulerConfig{
			PollInterval:  60 * time.Second,
			LeaseDuration: 5 * time.Minute,
		},
		Notify: NotifyConfig{
			AlertGrace:      10 * time.Minute,
			PresenterBuffer: 32,
			SnoozePresets:   []int{5, 10, 30, 60},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "file",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	c.DB.Driver = strings.ToLower(strings.TrimSpace(c.DB.Driver))
	switch c.DB.Driver {
	case "sqlite":
		if c.DB.DSN == "" {
			c.DB.DSN = filepath.Join(c.DataDir, "agenda.db")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return errors.New("config: AGENDA_DB_DSN is required for postgres")
		}
	default:
		return fmt.Errorf("config: unsupported db driver %q", c.DB.Driver)
	}
	if c.Log.FilePath == "" {
		c.Log.FilePath = filepath.Join(c.DataDir, "logs", "agenda.log")
	}
	return c.Validate()
}

func (c Config) Validate() error {
	if c.Scheduler.PollInterval <= 0 {
		return errors.New("config: poll interval must be positive")
	}
	if c.Scheduler.LeaseDuration <= c.Scheduler.PollInterval {
		return fmt.Errorf("%w: lease=%s poll=%s", ErrLeaseTooShort, c.Scheduler.LeaseDuration, c.Scheduler.PollInterval)
	}
	if c.Notify.PresenterBuffer <= 0 {
		return errors.New("config: presenter buffer must be positive")
	}
	for _, m := range c.Notify.SnoozePresets {
		if m <= 0 {
			return fmt.Errorf("config: snooze preset must be positive, got %d", m)
		}
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c Config) DevicePath() string {
	return filepath.Join(c.DataDir, "device.json")
}
