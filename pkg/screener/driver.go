package screener

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrIdleTimeout is returned by Page.WaitNetworkIdle when the page never went quiet.
	ErrIdleTimeout = errors.New("timed out waiting for network idle")

	// ErrUnknownDriver is returned by LookupDriver for names nobody registered.
	ErrUnknownDriver = errors.New("unknown browser driver")
)

// Driver opens sessions against a browser speaking the DevTools protocol.
type Driver interface {
	Name() string
	Start(ctx context.Context, cfg SessionConfig) (Session, error)
}

// SessionConfig is what a driver needs to open a session.
type SessionConfig struct {
	Endpoint string // DevTools address, or LaunchEndpoint
	Width    int    // Initial window width
	Height   int    // Initial window height
	Headless bool
}

// Session is one live browser connection. Close must be safe to call once per Start.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	CurrentPage(ctx context.Context) (Page, error)
	Close() error
}

// DeviceMetrics mirrors Emulation.setDeviceMetricsOverride.
type DeviceMetrics struct {
	Width             int
	Height            int
	DeviceScaleFactor float64
	Mobile            bool
}

// Page is a single tab inside a Session.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitNetworkIdle(ctx context.Context, idle, timeout time.Duration) error
	EvalInt(ctx context.Context, expression string) (int, error)
	SetViewport(ctx context.Context, width, height int) error
	OverrideDeviceMetrics(ctx context.Context, m DeviceMetrics) error
	Screenshot(ctx context.Context) (string, error)
	IsClosed() bool
	Close() error
}

var (
	drivers   = make(map[string]Driver)
	driversMu sync.RWMutex
)

// RegisterDriver makes a driver available by name. It panics on duplicates.
func RegisterDriver(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()

	name := d.Name()
	if _, exists := drivers[name]; exists {
		panic(fmt.Sprintf("browser driver %s is already registered", name))
	}
	drivers[name] = d
}

// LookupDriver returns the driver registered under name.
func LookupDriver(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()

	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, name)
	}
	return d, nil
}

// Drivers returns the sorted names of all registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
