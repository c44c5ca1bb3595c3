// Package preview renders documents in a headless Chrome through Rod. It
// takes version thumbnails and simulates clicks in edit mode, driving the
// same selection script the browser preview runs.
package preview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/livepage/locator"
)

// ErrClosed is returned once the renderer has been closed.
var ErrClosed = errors.New("preview: renderer is closed")

// Config configures the renderer.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local headless Chrome.
	RemoteURL string

	// Viewport of rendered pages. Default: 1280x800.
	Width  int
	Height int

	// Timeout bounds one render. Default: 20s.
	Timeout time.Duration

	// Stealth opens pages with the stealth evasions applied, for documents
	// whose third-party scripts refuse to run under automation.
	Stealth bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Width <= 0 {
		c.Width = 1280
	}
	if c.Height <= 0 {
		c.Height = 800
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Renderer owns one browser. Chrome is launched lazily on first use.
type Renderer struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// New creates a Renderer.
func New(cfg Config) *Renderer {
	cfg.defaults()
	return &Renderer{cfg: cfg}
}

// Close shuts Chrome down.
func (r *Renderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cleanup()
	return nil
}

func (r *Renderer) cleanup() {
	if r.browser != nil {
		r.browser.Close()
		r.browser = nil
	}
	if r.lnch != nil {
		r.lnch.Cleanup()
		r.lnch = nil
	}
}

func (r *Renderer) connect() (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if r.browser != nil {
		return r.browser, nil
	}

	wsURL := r.cfg.RemoteURL
	if wsURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("preview: launch: %w", err)
		}
		wsURL = u
		r.lnch = l
		r.cfg.Logger.Info("preview: launched local chrome", "url", wsURL)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		r.cleanup()
		return nil, fmt.Errorf("preview: connect: %w", err)
	}
	r.browser = b
	return b, nil
}

// open loads doc into a fresh page. The caller closes the page.
func (r *Renderer) open(ctx context.Context, doc string, setup func(*rod.Page) error) (*rod.Page, error) {
	b, err := r.connect()
	if err != nil {
		return nil, err
	}
	var page *rod.Page
	if r.cfg.Stealth {
		page, err = stealth.Page(b)
		if err == nil {
			page = page.Context(ctx)
		}
	} else {
		page, err = b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	}
	if err != nil {
		return nil, fmt.Errorf("preview: create page: %w", err)
	}
	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             r.cfg.Width,
		Height:            r.cfg.Height,
		DeviceScaleFactor: 1,
	})
	if err == nil && setup != nil {
		err = setup(page)
	}
	if err == nil {
		err = page.SetDocumentContent(doc)
	}
	if err == nil {
		err = page.WaitLoad()
	}
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("preview: load document: %w", err)
	}
	return page, nil
}

// Screenshot renders doc and returns a PNG of the viewport.
func (r *Renderer) Screenshot(ctx context.Context, doc string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	page, err := r.open(ctx, doc, nil)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	png, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("preview: screenshot: %w", err)
	}
	return png, nil
}

// Click loads doc with the selection script, clicks the first element
// matching the CSS selector css and returns the event the script reported.
func (r *Renderer) Click(ctx context.Context, doc, css string) (locator.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	page, err := r.open(ctx, locator.Inject(doc), func(p *rod.Page) error {
		return proto.RuntimeAddBinding{Name: locator.BindingName}.Call(p)
	})
	if err != nil {
		return nil, err
	}
	defer page.Close()

	var (
		ev     locator.Event
		decErr error
	)
	wait := page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) bool {
		if e.Name != locator.BindingName {
			return false
		}
		ev, decErr = locator.DecodeMessage([]byte(e.Payload))
		return true
	})

	el, err := page.Context(ctx).Element(css)
	if err != nil {
		return nil, fmt.Errorf("preview: find %q: %w", css, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("preview: click %q: %w", css, err)
	}
	wait()

	if decErr != nil {
		return nil, decErr
	}
	if ev == nil {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("preview: no selection reported: %w", err)
		}
		return nil, errors.New("preview: no selection reported")
	}
	r.cfg.Logger.Debug("preview: click", "css", css, "locator", ev.Locator())
	return ev, nil
}
