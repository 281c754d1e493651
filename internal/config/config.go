package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/root4loot/pagesnap/pkg/screener"
	"github.com/root4loot/pagesnap/pkg/tool"
)

// EnvOutputDir overrides the screenshot folder.
const EnvOutputDir = "PAGESNAP_OUTPUT_DIR"

// Config holds everything the CLI and the server can be configured with.
type Config struct {
	// Capture defaults
	Endpoint          string  `yaml:"endpoint"`
	Driver            string  `yaml:"driver"`
	Width             int     `yaml:"width"`
	Height            int     `yaml:"height"`
	DeviceScaleFactor float64 `yaml:"device_scale_factor"`

	// Capture behaviour
	OutputDir   string        `yaml:"output_dir"`
	IdleWindow  time.Duration `yaml:"idle_window"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	SettleDelay time.Duration `yaml:"settle_delay"`
	Timeout     time.Duration `yaml:"timeout"`
	Imprint     bool          `yaml:"imprint"`

	LogLevel string `yaml:"log_level"`
	Listen   string `yaml:"listen"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	opts := screener.NewOptions()
	defaults := tool.DefaultParams()
	return &Config{
		Endpoint:          defaults.Endpoint,
		Driver:            opts.Driver,
		Width:             defaults.Width,
		Height:            defaults.Height,
		DeviceScaleFactor: defaults.DeviceScaleFactor,
		OutputDir:         opts.OutputDir,
		IdleWindow:        opts.IdleWindow,
		IdleTimeout:       opts.IdleTimeout,
		SettleDelay:       opts.SettleDelay,
		Timeout:           opts.Timeout,
		Imprint:           opts.Imprint,
		LogLevel:          "info",
		Listen:            ":8080",
	}
}

// Load reads the YAML file at path over the defaults and then applies environment
// overrides. An empty path or a missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv(tool.EnvEndpoint); url != "" {
		c.Endpoint = url
	}
	if dir := os.Getenv(EnvOutputDir); dir != "" {
		c.OutputDir = dir
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := screener.LookupDriver(c.Driver); err != nil {
		return fmt.Errorf("invalid driver: %s (valid: %v)", c.Driver, screener.Drivers())
	}

	req := screener.CaptureRequest{
		URL:               "about:blank",
		Width:             c.Width,
		Height:            c.Height,
		DeviceScaleFactor: c.DeviceScaleFactor,
		Endpoint:          c.Endpoint,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	if c.IdleWindow <= 0 {
		return fmt.Errorf("idle_window must be positive, got %s", c.IdleWindow)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive, got %s", c.IdleTimeout)
	}
	if c.SettleDelay < 0 || c.Timeout < 0 {
		return fmt.Errorf("settle_delay and timeout must not be negative")
	}
	return nil
}

// CaptureOptions returns the screener options described by c.
func (c *Config) CaptureOptions() screener.Options {
	return screener.Options{
		Driver:      c.Driver,
		OutputDir:   c.OutputDir,
		IdleWindow:  c.IdleWindow,
		IdleTimeout: c.IdleTimeout,
		SettleDelay: c.SettleDelay,
		Timeout:     c.Timeout,
		Imprint:     c.Imprint,
	}
}

// ToolDefaults returns the parameter defaults described by c.
func (c *Config) ToolDefaults() tool.Defaults {
	return tool.Defaults{
		Width:             c.Width,
		Height:            c.Height,
		DeviceScaleFactor: c.DeviceScaleFactor,
		Endpoint:          c.Endpoint,
		Driver:            c.Driver,
	}
}
