package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultAPIURL is the hosted TechClinic API.
const DefaultAPIURL = "https://techclinic-api.techclinic-api.workers.dev/api"

// Config holds all techclinic configuration.
type Config struct {
	Listen   string         `yaml:"listen"`
	API      APIConfig      `yaml:"api"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// APIConfig points at the remote TechClinic API.
type APIConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
	// Token is only used by CLI commands; the server keeps tokens per session.
	Token string `yaml:"token"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type SessionConfig struct {
	TTL          Duration `yaml:"ttl"`
	IdleTimeout  Duration `yaml:"idle_timeout"`
	BcryptCost   int      `yaml:"bcrypt_cost"`
	SecureCookie bool     `yaml:"secure_cookie"`
}

// WorkflowConfig toggles repair workflow behavior.
type WorkflowConfig struct {
	// SampleFallback substitutes the built-in sample jobs and customers when
	// the list fetch fails.
	SampleFallback bool `yaml:"sample_fallback"`
	// StrictTransitions enforces Pending -> In Progress -> Completed.
	StrictTransitions bool `yaml:"strict_transitions"`
	// RefreshBoxesAfterAssign re-fetches boxes after every assignment
	// instead of trusting the local decrement alone.
	RefreshBoxesAfterAssign bool `yaml:"refresh_boxes_after_assign"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Duration is a time.Duration that decodes from "15s"-style YAML strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		API: APIConfig{
			BaseURL: DefaultAPIURL,
			Timeout: Duration{15 * time.Second},
		},
		Database: DatabaseConfig{Path: "techclinic.db"},
		Session: SessionConfig{
			TTL:          Duration{24 * time.Hour},
			IdleTimeout:  Duration{30 * time.Minute},
			BcryptCost:   10,
			SecureCookie: true,
		},
		Workflow: WorkflowConfig{SampleFallback: true},
		Logging:  LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// TECHCLINIC_* environment overrides. A missing file is not an error when
// path is empty.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("TECHCLINIC_API_URL"); v != "" {
		c.API.BaseURL = v
	}
	if v := getenv("TECHCLINIC_TOKEN"); v != "" {
		c.API.Token = v
	}
	if v := getenv("TECHCLINIC_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := getenv("TECHCLINIC_DB"); v != "" {
		c.Database.Path = v
	}
	if v := getenv("TECHCLINIC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url: %q is not an absolute URL", c.API.BaseURL))
	}
	if c.API.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("api.timeout: must be positive"))
	}
	if c.Listen == "" {
		errs = append(errs, errors.New("listen: is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path: is required"))
	}
	if c.Session.TTL.Duration <= 0 {
		errs = append(errs, errors.New("session.ttl: must be positive"))
	}
	if c.Session.BcryptCost < 4 || c.Session.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("session.bcrypt_cost: %d out of range 4-31", c.Session.BcryptCost))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	return errors.Join(errs...)
}
