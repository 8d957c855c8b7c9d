// Package config loads service settings from defaults, an optional YAML
// file and the environment (a .env file is honoured), in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/shehryarbajwa/imei-registry/pkg/models"
)

// Browser backends
const (
	BackendLocal  = "local"
	BackendRemote = "remote"
	BackendDocker = "docker"
)

type Config struct {
	Port      string          `yaml:"port"`
	Log       LogConfig       `yaml:"log"`
	Session   SessionConfig   `yaml:"session"`
	Browser   BrowserConfig   `yaml:"browser"`
	Site      SiteConfig      `yaml:"site"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Debug     DebugConfig     `yaml:"debug"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type SessionConfig struct {
	Mode          models.SessionMode `yaml:"mode"`
	TTL           time.Duration      `yaml:"ttl"`
	SweepInterval time.Duration      `yaml:"sweep_interval"`
	MaxActive     int64              `yaml:"max_active"`
}

type BrowserConfig struct {
	Backend    string `yaml:"backend"`
	Headless   bool   `yaml:"headless"`
	ChromePath string `yaml:"chrome_path"`
	UserAgent  string `yaml:"user_agent"`
	// RemoteURL is the DevTools endpoint used by the remote backend
	RemoteURL string `yaml:"remote_url"`
	// Image is the container image used by the docker backend
	Image         string        `yaml:"image"`
	LaunchTimeout time.Duration `yaml:"launch_timeout"`
}

type SiteConfig struct {
	URL             string        `yaml:"url"`
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`
	FormTimeout     time.Duration `yaml:"form_timeout"`
	ResultTimeout   time.Duration `yaml:"result_timeout"`
}

type RateLimitConfig struct {
	RequestsPerHour int `yaml:"requests_per_hour"`
	Burst           int `yaml:"burst"`
}

type DebugConfig struct {
	Proxy bool `yaml:"proxy"`
}

// Default returns the settings used when nothing else is configured
func Default() *Config {
	return &Config{
		Port: "8000",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Session: SessionConfig{
			Mode:          models.ModePerSession,
			TTL:           3 * time.Minute,
			SweepInterval: 30 * time.Second,
			MaxActive:     4,
		},
		Browser: BrowserConfig{
			Backend:       BackendLocal,
			Headless:      true,
			Image:         "browserless/chrome:latest",
			LaunchTimeout: 30 * time.Second,
		},
		Site: SiteConfig{
			URL:             "https://www.imeicolombia.com.co/",
			NavigateTimeout: 20 * time.Second,
			FormTimeout:     5 * time.Second,
			ResultTimeout:   10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerHour: 120,
			Burst:           10,
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment. A missing
// file is not an error.
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("PORT", &c.Port)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("BROWSER_BACKEND", &c.Browser.Backend)
	str("CHROME_PATH", &c.Browser.ChromePath)
	str("BROWSER_USER_AGENT", &c.Browser.UserAgent)
	str("BROWSER_WS_URL", &c.Browser.RemoteURL)
	str("BROWSER_IMAGE", &c.Browser.Image)
	str("SITE_URL", &c.Site.URL)

	if v, ok := lookup("SESSION_MODE"); ok && v != "" {
		c.Session.Mode = models.SessionMode(strings.ToLower(v))
	}

	maxActive := int(c.Session.MaxActive)
	errs := []error{
		dur("SESSION_TTL", &c.Session.TTL),
		dur("SESSION_SWEEP_INTERVAL", &c.Session.SweepInterval),
		integer("SESSION_MAX_ACTIVE", &maxActive),
		boolean("BROWSER_HEADLESS", &c.Browser.Headless),
		dur("BROWSER_LAUNCH_TIMEOUT", &c.Browser.LaunchTimeout),
		dur("SITE_NAVIGATE_TIMEOUT", &c.Site.NavigateTimeout),
		dur("SITE_FORM_TIMEOUT", &c.Site.FormTimeout),
		dur("SITE_RESULT_TIMEOUT", &c.Site.ResultTimeout),
		integer("RATE_LIMIT_PER_HOUR", &c.RateLimit.RequestsPerHour),
		integer("RATE_LIMIT_BURST", &c.RateLimit.Burst),
		boolean("DEBUG_PROXY", &c.Debug.Proxy),
	}
	for _, err := range errs {
		if err != nil {
			return fmt.Errorf("invalid environment: %w", err)
		}
	}
	c.Session.MaxActive = int64(maxActive)

	return nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	switch c.Session.Mode {
	case models.ModePerSession, models.ModeShared:
	default:
		return fmt.Errorf("unknown session mode %q", c.Session.Mode)
	}

	switch c.Browser.Backend {
	case BackendLocal, BackendDocker:
	case BackendRemote:
		if c.Browser.RemoteURL == "" {
			return fmt.Errorf("remote backend requires a DevTools URL")
		}
	default:
		return fmt.Errorf("unknown browser backend %q", c.Browser.Backend)
	}

	if c.Session.TTL <= 0 || c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session ttl and sweep interval must be positive")
	}
	if c.Session.MaxActive < 1 {
		return fmt.Errorf("session max_active must be at least 1")
	}
	if c.Site.URL == "" {
		return fmt.Errorf("site url is required")
	}
	if c.Site.NavigateTimeout <= 0 || c.Site.FormTimeout <= 0 || c.Site.ResultTimeout <= 0 {
		return fmt.Errorf("site timeouts must be positive")
	}
	if c.RateLimit.RequestsPerHour < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit values cannot be negative")
	}
	if c.RateLimit.RequestsPerHour > 0 && c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate limit burst must be at least 1 when the limiter is enabled")
	}

	return nil
}

// Addr is the listen address for the HTTP server
func (c *Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
