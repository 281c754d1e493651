package tool

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/root4loot/pagesnap/pkg/screener"
)

// EnvEndpoint names the environment variable holding the default DevTools endpoint.
const EnvEndpoint = "BROWSER_CDP_URL"

// ErrInvalidParams marks every parameter validation error.
var ErrInvalidParams = errors.New("invalid parameters")

// ParamError describes a single rejected parameter.
type ParamError struct {
	Param  string
	Reason string
}

func (e *ParamError) Error() string { return e.Reason }

func (e *ParamError) Is(target error) bool { return target == ErrInvalidParams }

func invalid(param, format string, args ...any) error {
	return &ParamError{Param: param, Reason: fmt.Sprintf(format, args...)}
}

// Defaults are substituted for parameters the caller leaves out.
type Defaults struct {
	Width             int
	Height            int
	DeviceScaleFactor float64
	Endpoint          string
	Driver            string
}

// DefaultParams returns the built-in defaults, taking the endpoint from
// BROWSER_CDP_URL when it is set.
func DefaultParams() Defaults {
	endpoint := screener.DefaultEndpoint
	if env := strings.TrimSpace(os.Getenv(EnvEndpoint)); env != "" {
		endpoint = env
	}
	return Defaults{
		Width:             screener.DefaultWidth,
		Height:            screener.DefaultHeight,
		DeviceScaleFactor: screener.DefaultDeviceScaleFactor,
		Endpoint:          endpoint,
		Driver:            "rod",
	}
}

// Params is a parsed invocation.
type Params struct {
	Request screener.CaptureRequest
	Driver  string
}

// ParseParams turns caller parameters into a validated capture request. Numbers may
// arrive as JSON numbers, Go ints or numeric strings.
func ParseParams(raw map[string]any, defaults Defaults) (Params, error) {
	url, err := stringParam(raw, "url", "")
	if err != nil {
		return Params{}, err
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return Params{}, invalid("url", "url is required")
	}

	width, err := intParam(raw, "width", defaults.Width)
	if err != nil {
		return Params{}, err
	}
	height, err := intParam(raw, "height", defaults.Height)
	if err != nil {
		return Params{}, err
	}
	scale, err := floatParam(raw, "deviceScaleFactor", defaults.DeviceScaleFactor)
	if err != nil {
		return Params{}, err
	}
	endpoint, err := stringParam(raw, "cdp_url", defaults.Endpoint)
	if err != nil {
		return Params{}, err
	}
	driver, err := stringParam(raw, "driver", defaults.Driver)
	if err != nil {
		return Params{}, err
	}

	p := Params{
		Request: screener.CaptureRequest{
			URL:               url,
			Width:             width,
			Height:            height,
			DeviceScaleFactor: scale,
			Endpoint:          endpoint,
		},
		Driver: driver,
	}

	if err := p.Request.Validate(); err != nil {
		return Params{}, invalid("", "%s", err.Error())
	}
	return p, nil
}

// stringParam treats a missing, null or blank value as absent.
func stringParam(raw map[string]any, key, def string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalid(key, "%s must be a string, got %T", key, v)
	}
	if strings.TrimSpace(s) == "" {
		return def, nil
	}
	return s, nil
}

func intParam(raw map[string]any, key string, def int) (int, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	switch val := v.(type) {
	case int:
		return val, nil
	case int64:
		return int(val), nil
	case float64:
		if val != math.Trunc(val) {
			return 0, invalid(key, "%s must be a whole number, got %v", key, val)
		}
		return int(val), nil
	case string:
		if strings.TrimSpace(val) == "" {
			return def, nil
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, invalid(key, "invalid %s %q", key, val)
		}
		return parsed, nil
	default:
		return 0, invalid(key, "invalid %s: %v", key, v)
	}
}

func floatParam(raw map[string]any, key string, def float64) (float64, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return def, nil
	}
	switch val := v.(type) {
	case float64:
		return val, nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case string:
		if strings.TrimSpace(val) == "" {
			return def, nil
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, invalid(key, "invalid %s %q", key, val)
		}
		return parsed, nil
	default:
		return 0, invalid(key, "invalid %s: %v", key, v)
	}
}
