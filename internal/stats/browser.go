package stats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/gleaner/internal/source"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// BrowserProvider renders the profile page in headless Chrome and reads the
// counts out of the DOM. The browser is started lazily and reused until Close.
type BrowserProvider struct {
	// ControlURL attaches to a running browser instead of launching one.
	ControlURL string
	BaseURL    string
	UserAgent  string
	Timeout    time.Duration
	Logger     *slog.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

func (p *BrowserProvider) connect() (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browser != nil {
		return p.browser, nil
	}

	controlURL := p.ControlURL
	if controlURL == "" {
		u, err := launcher.New().Headless(true).NoSandbox(true).Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	p.browser = b
	return b, nil
}

func (p *BrowserProvider) Stats(ctx context.Context, handle string) (Stats, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	base := p.BaseURL
	if base == "" {
		base = source.DefaultSocialBaseURL
	}

	b, err := p.connect()
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	tab, err := stealth.Page(b)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: open page: %v", ErrUnavailable, err)
	}
	defer func() {
		if err := tab.Close(); err != nil {
			logger.Debug("close page", "err", err)
		}
	}()

	page := tab.Context(ctx).Timeout(timeout)
	if p.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: p.UserAgent}); err != nil {
			return Stats{}, fmt.Errorf("%w: set user agent: %v", ErrUnavailable, err)
		}
	}

	target := strings.TrimRight(base, "/") + "/" + handle + "/"
	if err := page.Navigate(target); err != nil {
		return Stats{}, fmt.Errorf("%w: navigate: %v", ErrUnavailable, err)
	}
	if err := page.WaitLoad(); err != nil {
		logger.Debug("wait load failed, reading page anyway", "handle", handle, "err", err)
	}
	page.WaitRequestIdle(time.Second, nil, nil, nil)()

	html, err := page.HTML()
	if err != nil {
		return Stats{}, fmt.Errorf("%w: read html: %v", ErrUnavailable, err)
	}
	return ParseRendered(html)
}

// Close shuts the browser down if one was started.
func (p *BrowserProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser == nil {
		return nil
	}
	err := p.browser.Close()
	p.browser = nil
	return err
}
