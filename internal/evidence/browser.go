package evidence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// dismissPopups clicks anything that looks like a close button.
const dismissPopups = `() => {
	for (const el of document.querySelectorAll("button, a")) {
		const t = (el.textContent || "").toLowerCase();
		if (t.includes("close") || t.includes("×")) {
			try { el.click(); } catch (e) {}
		}
	}
}`

// browserFetcher drives one Chromium instance for the life of a session.
type browserFetcher struct {
	browser   *rod.Browser
	launcher  *launcher.Launcher
	timeout   time.Duration
	userAgent string
}

func newBrowserFetcher(cfg WebConfig) (*browserFetcher, error) {
	controlURL := cfg.ControlURL
	var l *launcher.Launcher
	if controlURL == "" {
		l = launcher.New().Headless(!cfg.Headful)
		if cfg.BrowserBin != "" {
			l = l.Bin(cfg.BrowserBin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}
	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	return &browserFetcher{browser: b, launcher: l, timeout: cfg.NavigationTimeout, userAgent: cfg.UserAgent}, nil
}

func (f *browserFetcher) Fetch(ctx context.Context, url, waitSelector string) (string, error) {
	page, err := f.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	p := page.Context(ctx).Timeout(f.timeout)
	if f.userAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: f.userAgent}); err != nil {
			return "", fmt.Errorf("set user agent: %w", err)
		}
	}
	if err := p.Navigate(url); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return "", fmt.Errorf("wait load: %w", err)
	}
	if waitSelector != "" {
		if _, err := p.Element(waitSelector); err != nil {
			return "", fmt.Errorf("wait for %s: %w", waitSelector, err)
		}
	} else {
		_, _ = p.Eval(dismissPopups)
	}
	return p.HTML()
}

// Close shuts down a browser this session launched. An attached browser is
// left running.
func (f *browserFetcher) Close() error {
	if f.launcher == nil {
		return nil
	}
	err := f.browser.Close()
	f.launcher.Kill()
	f.launcher.Cleanup()
	return err
}
