package screener

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Milestones reported while a capture runs, in order.
const (
	StepStartSession = "🚀 Starting browser session…"
	StepNewTab       = "🗂️ Opening new tab…"
	StepNavigate     = "🌐 Navigating to page…"
	StepWaitIdle     = "⏳ Waiting for page resources…"
	StepResize       = "📐 Resizing viewport…"
	StepCapture      = "📸 Capturing screenshot…"
	StepProcess      = "🖼️ Screenshot captured, processing file…"
	StepComplete     = "✅ All done!"
)

// Milestones lists every step message in emission order.
var Milestones = []string{
	StepStartSession,
	StepNewTab,
	StepNavigate,
	StepWaitIdle,
	StepResize,
	StepCapture,
	StepProcess,
	StepComplete,
}

const (
	timestampLayout   = "20060102_150405"
	scrollHeightExpr  = "document.documentElement.scrollHeight"
	scrollWidthExpr   = "document.documentElement.scrollWidth"
	teardownLookupMax = 5 * time.Second
)

// Screener captures full-page screenshots through a browser driver.
type Screener struct {
	CaptureOptions Options
	Driver         Driver // overrides CaptureOptions.Driver when set
}

// NewScreener creates a Screener with default options.
func NewScreener() *Screener {
	return &Screener{CaptureOptions: NewOptions()}
}

// NewScreenerWithOptions creates a Screener with the provided options.
func NewScreenerWithOptions(options Options) *Screener {
	return &Screener{CaptureOptions: options}
}

// ResolveDriver returns the driver this Screener will use.
func (s *Screener) ResolveDriver() (Driver, error) {
	if s.Driver != nil {
		return s.Driver, nil
	}
	return LookupDriver(s.CaptureOptions.Driver)
}

// Capture drives one browser session through the capture pipeline and reports each
// milestone through report before the step starts. It never returns an error: every
// problem ends up in a Failure. The session is torn down on every path.
func (s *Screener) Capture(ctx context.Context, req CaptureRequest, report func(string)) Result {
	if report == nil {
		report = func(string) {}
	}

	if err := req.Validate(); err != nil {
		return fail(err)
	}

	driver, err := s.ResolveDriver()
	if err != nil {
		return fail(err)
	}

	if s.CaptureOptions.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.CaptureOptions.Timeout)
		defer cancel()
	}

	c := &capture{
		opts:   s.CaptureOptions,
		req:    req,
		report: report,
		log:    Log.WithFields(logrus.Fields{"url": req.URL, "driver": driver.Name()}),
	}
	defer c.teardown()

	success, err := c.run(ctx, driver)
	if err != nil {
		c.log.WithError(err).Debug("capture failed")
		return fail(err)
	}
	return success
}

type capture struct {
	opts    Options
	req     CaptureRequest
	report  func(string)
	log     *logrus.Entry
	session Session
	page    Page
}

func (c *capture) run(ctx context.Context, driver Driver) (Success, error) {
	c.report(StepStartSession)
	session, err := driver.Start(ctx, SessionConfig{
		Endpoint: c.req.Endpoint,
		Width:    c.req.Width,
		Height:   c.req.Height,
		Headless: true,
	})
	if err != nil {
		return Success{}, fmt.Errorf("start browser session: %w", err)
	}
	c.session = session

	c.report(StepNewTab)
	page, err := session.NewPage(ctx)
	if err != nil {
		return Success{}, fmt.Errorf("open new tab: %w", err)
	}
	c.page = page

	c.report(StepNavigate)
	if err := page.Navigate(ctx, c.req.URL); err != nil {
		return Success{}, fmt.Errorf("navigate to %s: %w", c.req.URL, err)
	}

	c.report(StepWaitIdle)
	if err := page.WaitNetworkIdle(ctx, c.opts.IdleWindow, c.opts.IdleTimeout); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Success{}, fmt.Errorf("wait for network idle: %w", ctxErr)
		}
		c.log.WithError(err).Warn("Network never went idle, capturing anyway")
	}

	// The handle may have gone stale while the page was loading.
	if current, err := session.CurrentPage(ctx); err != nil {
		c.log.WithError(err).Debug("Could not re-acquire current page, keeping the original")
	} else if current != nil {
		page = current
		c.page = current
	}

	c.report(StepResize)
	height, err := page.EvalInt(ctx, scrollHeightExpr)
	if err != nil {
		return Success{}, fmt.Errorf("measure scroll height: %w", err)
	}
	width, err := page.EvalInt(ctx, scrollWidthExpr)
	if err != nil {
		return Success{}, fmt.Errorf("measure scroll width: %w", err)
	}
	if width <= 0 || height <= 0 {
		return Success{}, fmt.Errorf("page reported an empty content size %dx%d", width, height)
	}
	c.log.Debugf("Measured content size %dx%d", width, height)

	if err := page.SetViewport(ctx, width, height); err != nil {
		return Success{}, fmt.Errorf("set viewport to %dx%d: %w", width, height, err)
	}

	metrics := DeviceMetrics{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: c.req.DeviceScaleFactor,
		Mobile:            false,
	}
	if err := page.OverrideDeviceMetrics(ctx, metrics); err != nil {
		return Success{}, fmt.Errorf("override device metrics: %w", err)
	}

	c.report(StepCapture)
	if err := sleep(ctx, c.opts.SettleDelay); err != nil {
		return Success{}, err
	}

	encoded, err := page.Screenshot(ctx)
	if err != nil {
		return Success{}, fmt.Errorf("capture screenshot: %w", err)
	}

	c.report(StepProcess)
	img, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Success{}, fmt.Errorf("decode screenshot: %w", err)
	}

	capturedAt := time.Now()

	if c.opts.Imprint {
		img, err = Image(img).AddTextToImage(c.req.URL)
		if err != nil {
			return Success{}, fmt.Errorf("imprint screenshot: %w", err)
		}
		encoded = base64.StdEncoding.EncodeToString(img)
	}

	path, err := Image(img).SaveToFolder(c.opts.OutputDir, capturedAt)
	if err != nil {
		return Success{}, fmt.Errorf("save screenshot: %w", err)
	}
	c.log.Debugf("Screenshot saved to %s", path)

	c.report(StepComplete)

	return Success{
		Image:             encoded,
		PageWidth:         width,
		PageHeight:        height,
		SourceURL:         c.req.URL,
		StoragePath:       path,
		DeviceScaleFactor: c.req.DeviceScaleFactor,
		CapturedAt:        capturedAt,
	}, nil
}

// teardown closes the page (if still open) and then the session. Nothing it does may
// change the outcome of the capture.
func (c *capture) teardown() {
	defer func() {
		if r := recover(); r != nil {
			c.log.Debugf("Recovered during teardown: %v", r)
		}
	}()

	if c.session == nil {
		return
	}

	page := c.page
	if page == nil {
		ctx, cancel := context.WithTimeout(context.Background(), teardownLookupMax)
		if p, err := c.session.CurrentPage(ctx); err == nil {
			page = p
		}
		cancel()
	}

	if page != nil && !page.IsClosed() {
		if err := page.Close(); err != nil {
			c.log.WithError(err).Debug("Closing page failed")
		}
	}

	if err := c.session.Close(); err != nil {
		c.log.WithError(err).Debug("Closing browser session failed")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ScreenshotFileName returns the file name for a capture taken at t.
func ScreenshotFileName(t time.Time) string {
	return "screenshot_" + t.Format(timestampLayout) + ".png"
}

// SaveToFolder writes the image into folder as screenshot_<timestamp>.png. When that
// name is taken a numeric suffix is added, so captures never overwrite each other.
func (img Image) SaveToFolder(folder string, at time.Time) (filename string, err error) {
	if len(img) == 0 {
		return "", errors.New("screenshot is empty")
	}

	if err := os.MkdirAll(folder, os.ModePerm); err != nil {
		return "", err
	}

	base := "screenshot_" + at.Format(timestampLayout)
	for i := 1; ; i++ {
		name := base + ".png"
		if i > 1 {
			name = fmt.Sprintf("%s_%d.png", base, i)
		}
		filename = filepath.Join(folder, name)

		file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}

		if _, err := file.Write(img); err != nil {
			file.Close()
			return "", err
		}
		if err := file.Close(); err != nil {
			return "", err
		}
		return filename, nil
	}
}
