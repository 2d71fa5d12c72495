package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/subdigest/internal/privacy"
)

const (
	DefaultConfigFile        = "config.yaml"
	DefaultListen            = ":8080"
	DefaultStoragePath       = ".subdigest/subdigest.db"
	DefaultRetainDays        = 90
	DefaultBaseURL           = "https://www.reddit.com"
	DefaultMirrorURL         = "https://old.reddit.com"
	DefaultFetchTimeout      = 15 * time.Second
	DefaultMinDelay          = 500 * time.Millisecond
	DefaultMaxDelay          = 2 * time.Second
	DefaultRequestsPerSecond = 1.0
	DefaultTimezone          = "UTC"
	DefaultSendTime          = "10:00"
	DefaultTick              = "@every 1m"
	DefaultNotifyMode        = "log"
	DefaultSMTPPort          = 587
	DefaultSMTPTLS           = "opportunistic"
	DefaultSendInterval      = 2 * time.Second
	DefaultSessionTTL        = 30 * 24 * time.Hour
	DefaultCookieName        = "subdigest_session"
	DefaultReadTimeout       = 15 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Notify   NotifyConfig   `yaml:"notify"`
	Session  SessionConfig  `yaml:"session"`
}

type ServerConfig struct {
	Listen       string   `yaml:"listen"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	RetainDays int    `yaml:"retain_days"`
}

type FetchConfig struct {
	BaseURL           string   `yaml:"base_url"`
	MirrorURL         string   `yaml:"mirror_url"`
	Timeout           Duration `yaml:"timeout"`
	MinDelay          Duration `yaml:"min_delay"`
	MaxDelay          Duration `yaml:"max_delay"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	UserAgents        []string `yaml:"user_agents"`
}

type ScheduleConfig struct {
	Timezone string `yaml:"timezone"`
	SendTime string `yaml:"send_time"`
	Tick     string `yaml:"tick"`

	// Resolved at load time.
	Location *time.Location `yaml:"-"`
	Hour     int            `yaml:"-"`
	Minute   int            `yaml:"-"`
}

type NotifyConfig struct {
	Mode   string     `yaml:"mode"`
	From   string     `yaml:"from"`
	Redact []string   `yaml:"redact"` // extra patterns masked in log delivery
	SMTP   SMTPConfig `yaml:"smtp"`
}

type SMTPConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	Username     string   `yaml:"username"`
	PasswordEnv  string   `yaml:"password_env"`
	TLS          string   `yaml:"tls"`
	SendInterval Duration `yaml:"send_interval"`

	// Resolved from env var at load time.
	Password string `yaml:"-"`
}

type SessionConfig struct {
	TTL        Duration `yaml:"ttl"`
	CookieName string   `yaml:"cookie_name"`
	Secure     bool     `yaml:"secure"`
}

// Load reads config.yaml from dir, applies defaults, resolves env vars, and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML config data and finishes it the same way Load does.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	cfg.Schedule.Location = time.UTC
	cfg.Schedule.Hour, cfg.Schedule.Minute, _ = ParseSendTime(cfg.Schedule.SendTime)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = DefaultListen
	}
	if cfg.Server.ReadTimeout.Duration == 0 {
		cfg.Server.ReadTimeout.Duration = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout.Duration == 0 {
		cfg.Server.WriteTimeout.Duration = DefaultWriteTimeout
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.RetainDays == 0 {
		cfg.Storage.RetainDays = DefaultRetainDays
	}
	if cfg.Fetch.BaseURL == "" {
		cfg.Fetch.BaseURL = DefaultBaseURL
	}
	if cfg.Fetch.MirrorURL == "" {
		cfg.Fetch.MirrorURL = DefaultMirrorURL
	}
	if cfg.Fetch.Timeout.Duration == 0 {
		cfg.Fetch.Timeout.Duration = DefaultFetchTimeout
	}
	if cfg.Fetch.MinDelay.Duration == 0 && cfg.Fetch.MaxDelay.Duration == 0 {
		cfg.Fetch.MinDelay.Duration = DefaultMinDelay
		cfg.Fetch.MaxDelay.Duration = DefaultMaxDelay
	}
	if cfg.Fetch.RequestsPerSecond == 0 {
		cfg.Fetch.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = DefaultTimezone
	}
	if cfg.Schedule.SendTime == "" {
		cfg.Schedule.SendTime = DefaultSendTime
	}
	if cfg.Schedule.Tick == "" {
		cfg.Schedule.Tick = DefaultTick
	}
	if cfg.Notify.Mode == "" {
		cfg.Notify.Mode = DefaultNotifyMode
	}
	if cfg.Notify.SMTP.Port == 0 {
		cfg.Notify.SMTP.Port = DefaultSMTPPort
	}
	if cfg.Notify.SMTP.TLS == "" {
		cfg.Notify.SMTP.TLS = DefaultSMTPTLS
	}
	if cfg.Notify.SMTP.SendInterval.Duration == 0 {
		cfg.Notify.SMTP.SendInterval.Duration = DefaultSendInterval
	}
	if cfg.Session.TTL.Duration == 0 {
		cfg.Session.TTL.Duration = DefaultSessionTTL
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = DefaultCookieName
	}
}

func resolveEnv(cfg *Config) {
	if cfg.Notify.SMTP.PasswordEnv != "" {
		cfg.Notify.SMTP.Password = os.Getenv(cfg.Notify.SMTP.PasswordEnv)
	}
}

func validate(cfg *Config) error {
	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	cfg.Schedule.Location = loc

	cfg.Schedule.Hour, cfg.Schedule.Minute, err = ParseSendTime(cfg.Schedule.SendTime)
	if err != nil {
		return fmt.Errorf("schedule.send_time: %w", err)
	}

	if _, err := cron.ParseStandard(cfg.Schedule.Tick); err != nil {
		return fmt.Errorf("schedule.tick: %w", err)
	}

	if cfg.Fetch.MinDelay.Duration < 0 || cfg.Fetch.MaxDelay.Duration < cfg.Fetch.MinDelay.Duration {
		return fmt.Errorf("fetch: min_delay %s must be >= 0 and <= max_delay %s",
			cfg.Fetch.MinDelay.Duration, cfg.Fetch.MaxDelay.Duration)
	}
	if cfg.Fetch.RequestsPerSecond < 0 {
		return errors.New("fetch.requests_per_second must not be negative")
	}

	switch cfg.Notify.Mode {
	case "log":
	case "smtp":
		if cfg.Notify.SMTP.Host == "" {
			return errors.New("notify.smtp.host is required in smtp mode")
		}
		if cfg.Notify.From == "" {
			return errors.New("notify.from is required in smtp mode")
		}
		switch cfg.Notify.SMTP.TLS {
		case "opportunistic", "mandatory", "none":
		default:
			return fmt.Errorf("notify.smtp.tls: unknown policy %q (want opportunistic, mandatory or none)", cfg.Notify.SMTP.TLS)
		}
	default:
		return fmt.Errorf("notify.mode: unknown mode %q (want log or smtp)", cfg.Notify.Mode)
	}

	if _, err := privacy.Compile(cfg.Notify.Redact); err != nil {
		return fmt.Errorf("notify.redact: %w", err)
	}

	if cfg.Session.TTL.Duration < time.Minute {
		return errors.New("session.ttl must be at least 1m")
	}

	return nil
}

// ParseSendTime parses a 24-hour "HH:MM" wall-clock time.
func ParseSendTime(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}
