package screener

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Request defaults used when the caller leaves a field out.
const (
	DefaultWidth             = 2200
	DefaultHeight            = 8000
	DefaultDeviceScaleFactor = 2.5
	DefaultEndpoint          = "http://localhost:9222"

	// LaunchEndpoint starts a local headless browser instead of connecting to one.
	LaunchEndpoint = "launch"
)

// Options contains the options for capturing screenshots.
type Options struct {
	Driver      string        // Browser driver name (see Drivers)
	OutputDir   string        // Folder screenshots are written to
	IdleWindow  time.Duration // Quiet period that counts as network idle
	IdleTimeout time.Duration // Max wait for network idle before capturing anyway
	SettleDelay time.Duration // Pause after resizing so reflow can finish
	Timeout     time.Duration // Overall capture deadline, 0 for none
	Imprint     bool          // Draw the page origin under the screenshot
}

// NewOptions returns an Options struct initialized with default values.
func NewOptions() Options {
	return Options{
		Driver:      "rod",
		OutputDir:   DefaultOutputDir(),
		IdleWindow:  500 * time.Millisecond,
		IdleTimeout: 15 * time.Second,
		SettleDelay: 2 * time.Second,
		Timeout:     0,
		Imprint:     false,
	}
}

// DefaultOutputDir returns the screenshots folder next to the running executable.
func DefaultOutputDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "screenshots"
	}
	return filepath.Join(filepath.Dir(exe), "screenshots")
}

// CaptureRequest describes a single capture.
type CaptureRequest struct {
	URL               string
	Width             int
	Height            int
	DeviceScaleFactor float64
	Endpoint          string
}

// NewCaptureRequest returns a request for url with every other field defaulted.
func NewCaptureRequest(url string) CaptureRequest {
	return CaptureRequest{
		URL:               url,
		Width:             DefaultWidth,
		Height:            DefaultHeight,
		DeviceScaleFactor: DefaultDeviceScaleFactor,
		Endpoint:          DefaultEndpoint,
	}
}

// Validate reports the first problem with the request, if any.
func (r CaptureRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.URL) == "":
		return errors.New("url must not be empty")
	case r.Width <= 0:
		return fmt.Errorf("width must be greater than 0, got %d", r.Width)
	case r.Height <= 0:
		return fmt.Errorf("height must be greater than 0, got %d", r.Height)
	case r.DeviceScaleFactor <= 0:
		return fmt.Errorf("deviceScaleFactor must be greater than 0, got %v", r.DeviceScaleFactor)
	case strings.TrimSpace(r.Endpoint) == "":
		return errors.New("cdp_url must not be empty")
	}
	return nil
}

// Result is the outcome of a capture: either Success or Failure.
type Result interface {
	OK() bool
	Err() error
	isResult()
}

// Success carries a finished capture.
type Success struct {
	Image             string // base64 encoded PNG
	PageWidth         int
	PageHeight        int
	SourceURL         string
	StoragePath       string
	DeviceScaleFactor float64
	CapturedAt        time.Time
}

// Failure carries the description of what went wrong.
type Failure struct {
	Description string
}

func (Success) isResult() {}
func (Failure) isResult() {}

func (Success) OK() bool { return true }
func (Failure) OK() bool { return false }

func (Success) Err() error   { return nil }
func (f Failure) Err() error { return f }

// Decode returns the raw PNG bytes.
func (s Success) Decode() ([]byte, error) {
	return base64.StdEncoding.DecodeString(s.Image)
}

// Error implements error so a Failure can be wrapped and logged like one.
func (f Failure) Error() string {
	return f.Description
}

func fail(err error) Failure {
	return Failure{Description: err.Error()}
}
