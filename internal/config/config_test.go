package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/root4loot/pagesnap/pkg/screener"
	"github.com/root4loot/pagesnap/pkg/tool"
)

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(tool.EnvEndpoint, "")
	t.Setenv(EnvOutputDir, "")
}

func TestDefaultConfig(t *testing.T) {
	clearEnv(t)

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, screener.DefaultEndpoint, cfg.Endpoint)
	assert.Equal(t, "rod", cfg.Driver)
	assert.Equal(t, 2200, cfg.Width)
	assert.Equal(t, 8000, cfg.Height)
	assert.Equal(t, 2.5, cfg.DeviceScaleFactor)
	assert.Equal(t, 500*time.Millisecond, cfg.IdleWindow)
	assert.Equal(t, 15*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 2*time.Second, cfg.SettleDelay)
	assert.Zero(t, cfg.Timeout)
	assert.False(t, cfg.Imprint)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadOverlaysFile(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "pagesnap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
driver: chromedp
endpoint: http://chrome:9222
width: 1440
device_scale_factor: 1
idle_timeout: 30s
timeout: 2m
imprint: true
output_dir: /var/lib/pagesnap
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "chromedp", cfg.Driver)
	assert.Equal(t, "http://chrome:9222", cfg.Endpoint)
	assert.Equal(t, 1440, cfg.Width)
	assert.Equal(t, 8000, cfg.Height)
	assert.Equal(t, 1.0, cfg.DeviceScaleFactor)
	assert.Equal(t, 30*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.True(t, cfg.Imprint)

	opts := cfg.CaptureOptions()
	assert.Equal(t, "/var/lib/pagesnap", opts.OutputDir)
	assert.Equal(t, 2*time.Minute, opts.Timeout)

	defaults := cfg.ToolDefaults()
	assert.Equal(t, "chromedp", defaults.Driver)
	assert.Equal(t, 1440, defaults.Width)
}

func TestLoadEnvironmentWins(t *testing.T) {
	t.Setenv(tool.EnvEndpoint, "ws://env:9222/devtools/browser/abc")
	t.Setenv(EnvOutputDir, "/tmp/shots")

	path := filepath.Join(t.TempDir(), "pagesnap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("endpoint: http://file:9222\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://env:9222/devtools/browser/abc", cfg.Endpoint)
	assert.Equal(t, "/tmp/shots", cfg.OutputDir)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("width: [1, 2"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"driver", func(c *Config) { c.Driver = "lynx" }, "invalid driver: lynx"},
		{"width", func(c *Config) { c.Width = 0 }, "width must be greater than 0"},
		{"endpoint", func(c *Config) { c.Endpoint = "" }, "cdp_url must not be empty"},
		{"output", func(c *Config) { c.OutputDir = "" }, "output_dir must not be empty"},
		{"idle window", func(c *Config) { c.IdleWindow = 0 }, "idle_window must be positive"},
		{"timeout", func(c *Config) { c.Timeout = -time.Second }, "must not be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)

	cfg := DefaultConfig()
	cfg.Driver = "chromedp"
	cfg.SettleDelay = 750 * time.Millisecond

	path := filepath.Join(t.TempDir(), "nested", "pagesnap.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
