package screener

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

func init() {
	RegisterDriver(chromedpDriver{})
}

// chromedpDriver drives the browser through chromedp.
type chromedpDriver struct{}

func (chromedpDriver) Name() string { return "chromedp" }

func (chromedpDriver) Start(ctx context.Context, cfg SessionConfig) (Session, error) {
	// Browser lifetime is owned by the session, not by the caller's context.
	base := context.WithoutCancel(ctx)

	s := &chromedpSession{cfg: cfg}

	if cfg.Endpoint == LaunchEndpoint {
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.WindowSize(cfg.Width, cfg.Height),
			chromedp.NoSandbox,
		)
		if !cfg.Headless {
			opts = append(opts, chromedp.Flag("headless", false))
		}
		s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(base, opts...)
		s.rootCtx, s.rootCancel = chromedp.NewContext(s.allocCtx)
		s.launched = true
	} else {
		s.allocCtx, s.allocCancel = chromedp.NewRemoteAllocator(base, cfg.Endpoint)
		s.rootCtx, s.rootCancel = chromedp.NewContext(s.allocCtx, chromedp.WithNewBrowserContext())
	}

	// The first Run connects and binds the browser to rootCtx.
	if err := attach(ctx, s.rootCtx, s.rootCancel); err != nil {
		s.Close()
		return nil, fmt.Errorf("connect to %s: %w", cfg.Endpoint, err)
	}

	Log.Debugf("chromedp connected to %s", cfg.Endpoint)
	return s, nil
}

// attach performs the first Run on a chromedp context. That Run must use the
// chromedp context itself, so ctx can only abort it by cancelling the target.
func attach(ctx, cdpCtx context.Context, cancel context.CancelFunc) error {
	errc := make(chan error, 1)
	go func() {
		errc <- chromedp.Run(cdpCtx)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		cancel()
		<-errc
		return ctx.Err()
	}
}

type chromedpSession struct {
	cfg         SessionConfig
	launched    bool
	allocCtx    context.Context
	allocCancel context.CancelFunc
	rootCtx     context.Context
	rootCancel  context.CancelFunc
	page        *chromedpPage
}

func (s *chromedpSession) NewPage(ctx context.Context) (Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(s.rootCtx)
	return s.open(ctx, tabCtx, tabCancel)
}

func (s *chromedpSession) open(ctx, tabCtx context.Context, tabCancel context.CancelFunc) (Page, error) {
	p := &chromedpPage{
		ctx:     tabCtx,
		cancel:  tabCancel,
		tracker: newIdleTracker(),
	}

	// Registered before the target exists so navigation requests are counted.
	chromedp.ListenTarget(tabCtx, p.onEvent)

	if err := attach(ctx, tabCtx, tabCancel); err != nil {
		tabCancel()
		return nil, err
	}
	s.page = p
	return p, nil
}

func (s *chromedpSession) CurrentPage(ctx context.Context) (Page, error) {
	runCtx, cancel := bind(ctx, s.rootCtx)
	defer cancel()

	infos, err := chromedp.Targets(runCtx)
	if err != nil {
		return nil, err
	}

	contextID := chromedp.FromContext(s.rootCtx).BrowserContextID
	var candidate target.ID
	for _, info := range infos {
		if info.Type != "page" || (!s.launched && info.BrowserContextID != contextID) {
			continue
		}
		if s.page != nil && s.page.targetID() == info.TargetID {
			return s.page, nil
		}
		candidate = info.TargetID
	}

	if candidate == "" {
		return nil, errors.New("no open page in browser context")
	}

	tabCtx, tabCancel := chromedp.NewContext(s.rootCtx, chromedp.WithTargetID(candidate))
	return s.open(ctx, tabCtx, tabCancel)
}

func (s *chromedpSession) Close() error {
	var err error
	if s.page != nil {
		s.page.cancel()
	}
	if s.launched && s.rootCtx != nil {
		// Gracefully closes the browser we started.
		err = chromedp.Cancel(s.rootCtx)
	}
	if s.rootCancel != nil {
		s.rootCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	return err
}

type chromedpPage struct {
	ctx     context.Context
	cancel  context.CancelFunc
	tracker *idleTracker
	closed  bool
}

func (p *chromedpPage) onEvent(ev any) {
	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		if ev.Type == network.ResourceTypeWebSocket || ev.Type == network.ResourceTypeEventSource {
			return
		}
		p.tracker.started(string(ev.RequestID))
	case *network.EventLoadingFinished:
		p.tracker.finished(string(ev.RequestID))
	case *network.EventLoadingFailed:
		p.tracker.finished(string(ev.RequestID))
	}
}

func (p *chromedpPage) targetID() target.ID {
	if c := chromedp.FromContext(p.ctx); c != nil && c.Target != nil {
		return c.Target.TargetID
	}
	return ""
}

// bind derives a context for one Run on cdpCtx that also ends when ctx does.
func bind(ctx, cdpCtx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(cdpCtx)
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := bind(ctx, p.ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromedpPage) WaitNetworkIdle(ctx context.Context, idle, timeout time.Duration) error {
	return p.tracker.waitIdle(ctx, idle, timeout)
}

func (p *chromedpPage) EvalInt(ctx context.Context, expression string) (int, error) {
	var v float64
	if err := p.run(ctx, chromedp.Evaluate(expression, &v)); err != nil {
		return 0, err
	}
	return int(v), nil
}

func (p *chromedpPage) SetViewport(ctx context.Context, width, height int) error {
	return p.run(ctx, chromedp.EmulateViewport(int64(width), int64(height)))
}

func (p *chromedpPage) OverrideDeviceMetrics(ctx context.Context, m DeviceMetrics) error {
	return p.run(ctx, emulation.SetDeviceMetricsOverride(
		int64(m.Width),
		int64(m.Height),
		m.DeviceScaleFactor,
		m.Mobile,
	))
}

func (p *chromedpPage) Screenshot(ctx context.Context) (string, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

func (p *chromedpPage) IsClosed() bool {
	return p.closed || p.ctx.Err() != nil
}

func (p *chromedpPage) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	// Cancelling a tab context closes the tab.
	p.cancel()
	return nil
}
