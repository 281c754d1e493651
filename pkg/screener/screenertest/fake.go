// Package screenertest provides an in-memory browser driver for tests.
package screenertest

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"time"

	"github.com/root4loot/pagesnap/pkg/screener"
)

// Operations recorded by Driver, in the order the capture performs them.
const (
	OpStart        = "start"
	OpNewPage      = "new_page"
	OpNavigate     = "navigate"
	OpWaitIdle     = "wait_idle"
	OpCurrentPage  = "current_page"
	OpEval         = "eval"
	OpSetViewport  = "set_viewport"
	OpOverride     = "override_metrics"
	OpScreenshot   = "screenshot"
	OpPageClose    = "page_close"
	OpSessionClose = "session_close"
)

// Driver is a fake screener.Driver. Every call is recorded; Fail and PanicOn inject
// errors and panics per operation.
type Driver struct {
	DriverName   string
	ScrollWidth  int
	ScrollHeight int
	PNG          []byte

	Fail    map[string]error
	PanicOn string

	// Block, when set, makes WaitNetworkIdle block until ctx is done.
	Block bool

	mu       sync.Mutex
	calls    []string
	config   screener.SessionConfig
	viewport [2]int
	metrics  screener.DeviceMetrics
	url      string
}

// NewDriver returns a fake driver for a 1280x3000 page.
func NewDriver(name string) *Driver {
	return &Driver{
		DriverName:   name,
		ScrollWidth:  1280,
		ScrollHeight: 3000,
		PNG:          PNG(4, 4),
		Fail:         make(map[string]error),
	}
}

// PNG returns a solid w x h image encoded as PNG.
func PNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: 0x33, G: 0x66, B: 0x99, A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Calls returns the recorded operations.
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// Count returns how many times op was recorded.
func (d *Driver) Count(op string) int {
	n := 0
	for _, c := range d.Calls() {
		if c == op {
			n++
		}
	}
	return n
}

// SessionConfig returns the config the last Start received.
func (d *Driver) SessionConfig() screener.SessionConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.config
}

// Viewport returns the last viewport size set.
func (d *Driver) Viewport() (width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.viewport[0], d.viewport[1]
}

// Metrics returns the last device metrics override.
func (d *Driver) Metrics() screener.DeviceMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metrics
}

// URL returns the last navigated URL.
func (d *Driver) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

func (d *Driver) record(op string) error {
	d.mu.Lock()
	d.calls = append(d.calls, op)
	err := d.Fail[op]
	panicking := d.PanicOn == op
	d.mu.Unlock()

	if panicking {
		panic(fmt.Sprintf("fake driver panicked in %s", op))
	}
	return err
}

func (d *Driver) Name() string { return d.DriverName }

func (d *Driver) Start(_ context.Context, cfg screener.SessionConfig) (screener.Session, error) {
	d.mu.Lock()
	d.config = cfg
	d.mu.Unlock()

	if err := d.record(OpStart); err != nil {
		return nil, err
	}
	return &session{d: d}, nil
}

type session struct {
	d    *Driver
	page *page
}

func (s *session) NewPage(context.Context) (screener.Page, error) {
	if err := s.d.record(OpNewPage); err != nil {
		return nil, err
	}
	s.page = &page{d: s.d}
	return s.page, nil
}

func (s *session) CurrentPage(context.Context) (screener.Page, error) {
	if err := s.d.record(OpCurrentPage); err != nil {
		return nil, err
	}
	if s.page == nil {
		return nil, fmt.Errorf("no page")
	}
	return s.page, nil
}

func (s *session) Close() error {
	return s.d.record(OpSessionClose)
}

type page struct {
	d      *Driver
	closed bool
}

func (p *page) Navigate(_ context.Context, url string) error {
	p.d.mu.Lock()
	p.d.url = url
	p.d.mu.Unlock()
	return p.d.record(OpNavigate)
}

func (p *page) WaitNetworkIdle(ctx context.Context, _, timeout time.Duration) error {
	if err := p.d.record(OpWaitIdle); err != nil {
		return err
	}
	if !p.d.Block {
		return nil
	}
	select {
	case <-time.After(timeout):
		return screener.ErrIdleTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *page) EvalInt(_ context.Context, expression string) (int, error) {
	if err := p.d.record(OpEval); err != nil {
		return 0, err
	}
	switch expression {
	case "document.documentElement.scrollWidth":
		return p.d.ScrollWidth, nil
	case "document.documentElement.scrollHeight":
		return p.d.ScrollHeight, nil
	}
	return 0, fmt.Errorf("unexpected expression %q", expression)
}

func (p *page) SetViewport(_ context.Context, width, height int) error {
	p.d.mu.Lock()
	p.d.viewport = [2]int{width, height}
	p.d.mu.Unlock()
	return p.d.record(OpSetViewport)
}

func (p *page) OverrideDeviceMetrics(_ context.Context, m screener.DeviceMetrics) error {
	p.d.mu.Lock()
	p.d.metrics = m
	p.d.mu.Unlock()
	return p.d.record(OpOverride)
}

func (p *page) Screenshot(context.Context) (string, error) {
	if err := p.d.record(OpScreenshot); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(p.d.PNG), nil
}

func (p *page) IsClosed() bool { return p.closed }

func (p *page) Close() error {
	p.closed = true
	return p.d.record(OpPageClose)
}
