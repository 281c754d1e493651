package screener

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

func init() {
	RegisterDriver(rodDriver{})
}

// rodDriver drives the browser through go-rod.
type rodDriver struct{}

func (rodDriver) Name() string { return "rod" }

func (rodDriver) Start(ctx context.Context, cfg SessionConfig) (Session, error) {
	s := &rodSession{cfg: cfg}

	controlURL, err := s.resolve()
	if err != nil {
		return nil, err
	}

	// The websocket lives as long as the session, not as long as the caller's context.
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	browser := rod.New().
		ControlURL(controlURL).
		Context(sessionCtx).
		NoDefaultDevice()

	if err := browser.Connect(); err != nil {
		s.shutdown()
		return nil, fmt.Errorf("connect to %s: %w", controlURL, err)
	}
	s.root = browser

	// Remote browsers are shared, so all work happens in a private context we can dispose.
	incognito, err := browser.Incognito()
	if err != nil {
		s.shutdown()
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	s.browser = incognito

	Log.Debugf("rod connected to %s", controlURL)
	return s, nil
}

type rodSession struct {
	cfg      SessionConfig
	launcher *launcher.Launcher
	root     *rod.Browser
	browser  *rod.Browser
	page     *rodPage
	cancel   context.CancelFunc
}

func (s *rodSession) resolve() (string, error) {
	if s.cfg.Endpoint != LaunchEndpoint {
		u, err := launcher.ResolveURL(s.cfg.Endpoint)
		if err != nil {
			return "", fmt.Errorf("resolve DevTools endpoint %s: %w", s.cfg.Endpoint, err)
		}
		return u, nil
	}

	l := launcher.New().
		Headless(s.cfg.Headless).
		NoSandbox(true).
		Set("window-size", fmt.Sprintf("%d,%d", s.cfg.Width, s.cfg.Height))

	if path, has := launcher.LookPath(); has {
		l = l.Bin(path)
	}

	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("launch browser: %w", err)
	}
	s.launcher = l
	return u, nil
}

func (s *rodSession) NewPage(ctx context.Context) (Page, error) {
	width, height := s.cfg.Width, s.cfg.Height
	page, err := s.browser.Context(ctx).Page(proto.TargetCreateTarget{
		Width:  &width,
		Height: &height,
	})
	if err != nil {
		return nil, err
	}

	// Page inherits the per-call context; keep a handle bound to the session instead.
	// Tracking starts while the target is still blank so no request of the
	// navigation is missed.
	s.page = newRodPage(page.Context(s.root.GetContext()))
	return s.page, nil
}

func (s *rodSession) CurrentPage(ctx context.Context) (Page, error) {
	targets, err := proto.TargetGetTargets{}.Call(s.root.Context(ctx))
	if err != nil {
		return nil, err
	}

	var candidate proto.TargetTargetID
	for _, info := range targets.TargetInfos {
		if info.Type != proto.TargetTargetInfoTypePage || info.BrowserContextID != s.browser.BrowserContextID {
			continue
		}
		if s.page != nil && info.TargetID == s.page.page.TargetID {
			return s.page, nil
		}
		candidate = info.TargetID
	}

	if candidate == "" {
		return nil, fmt.Errorf("no open page in browser context %s", s.browser.BrowserContextID)
	}

	page, err := s.browser.PageFromTarget(candidate)
	if err != nil {
		return nil, err
	}
	if s.page != nil {
		s.page.stop()
	}
	s.page = newRodPage(page)
	return s.page, nil
}

func (s *rodSession) Close() error {
	var err error
	if s.browser != nil {
		// Disposes only the private browser context.
		err = s.browser.Close()
	}
	if s.launcher != nil && s.root != nil {
		if cerr := s.root.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.shutdown()
	return err
}

func (s *rodSession) shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.launcher != nil {
		s.launcher.Kill()
		s.launcher.Cleanup()
	}
}

type rodPage struct {
	page    *rod.Page
	closed  bool
	tracker *idleTracker
	stop    context.CancelFunc
}

// newRodPage subscribes to the page's network events before returning. EachEvent
// enables the Network domain itself.
func newRodPage(page *rod.Page) *rodPage {
	ctx, cancel := context.WithCancel(page.GetContext())
	p := &rodPage{page: page, tracker: newIdleTracker(), stop: cancel}

	wait := page.Context(ctx).EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			if e.Type == proto.NetworkResourceTypeWebSocket || e.Type == proto.NetworkResourceTypeEventSource {
				return
			}
			p.tracker.started(string(e.RequestID))
		},
		func(e *proto.NetworkLoadingFinished) {
			p.tracker.finished(string(e.RequestID))
		},
		func(e *proto.NetworkLoadingFailed) {
			p.tracker.finished(string(e.RequestID))
		},
	)
	go wait()
	return p
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	return p.page.Context(ctx).Navigate(url)
}

func (p *rodPage) WaitNetworkIdle(ctx context.Context, idle, timeout time.Duration) error {
	return p.tracker.waitIdle(ctx, idle, timeout)
}

func (p *rodPage) EvalInt(ctx context.Context, expression string) (int, error) {
	res, err := p.page.Context(ctx).Eval("() => " + expression)
	if err != nil {
		return 0, err
	}
	return res.Value.Int(), nil
}

func (p *rodPage) SetViewport(ctx context.Context, width, height int) error {
	return p.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  width,
		Height: height,
	})
}

func (p *rodPage) OverrideDeviceMetrics(ctx context.Context, m DeviceMetrics) error {
	return proto.EmulationSetDeviceMetricsOverride{
		Width:             m.Width,
		Height:            m.Height,
		DeviceScaleFactor: m.DeviceScaleFactor,
		Mobile:            m.Mobile,
	}.Call(p.page.Context(ctx))
}

func (p *rodPage) Screenshot(ctx context.Context) (string, error) {
	img, err := p.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(img), nil
}

func (p *rodPage) IsClosed() bool {
	if p.closed {
		return true
	}
	_, err := p.page.Info()
	return err != nil
}

func (p *rodPage) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.stop()
	return p.page.Close()
}
