// Package browser delivers the shield to a real Chromium through go-rod.
package browser

import (
	"fmt"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"fingerprint-shield/internal/config"
	"fingerprint-shield/internal/seed"
	"fingerprint-shield/pkg/logger"
)

type Manager struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	config   *config.Config
	deriver  *seed.Deriver
	tag      string
	logger   logger.Logger
}

// NewManager launches Chromium. tag identifies this browser instance in
// seed derivation the way a context tag identifies a realm.
func NewManager(cfg *config.Config, tag string, log logger.Logger) (*Manager, error) {
	l := launcher.New().
		Headless(cfg.Browser.Headless).
		Leakless(false)

	if cfg.Browser.UserDataDir != "" {
		l = l.UserDataDir(cfg.Browser.UserDataDir)
	}
	if cfg.Browser.ProxyURL != "" {
		l = l.Proxy(cfg.Browser.ProxyURL)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(u)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect browser: %w", err)
	}

	return &Manager{
		browser:  browser,
		launcher: l,
		config:   cfg,
		deriver:  seed.NewDeriver(cfg.Seed.Salt, cfg.Seed.RotationWindow, cfg.Seed.FallbackOriginMarker),
		tag:      tag,
		logger:   log,
	}, nil
}

// Open creates a tab with the shield applied for the target's origin and
// navigates to it.
func (m *Manager) Open(target string) (*rod.Page, error) {
	page, err := m.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}

	origin := Origin(target)
	if err := m.ApplyStealth(page, origin); err != nil {
		_ = page.Close()
		return nil, err
	}

	vp := m.config.Browser.Viewport
	if vp.Width > 0 && vp.Height > 0 {
		if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             vp.Width,
			Height:            vp.Height,
			DeviceScaleFactor: 1,
		}); err != nil {
			m.logger.Warn("Viewport not applied", "error", err)
		}
	}

	if err := page.Timeout(30 * time.Second).Navigate(target); err != nil {
		_ = page.Close()
		return nil, fmt.Errorf("navigate %s: %w", target, err)
	}
	if err := page.Timeout(30 * time.Second).WaitLoad(); err != nil {
		m.logger.Warn("Page load did not settle", "url", target, "error", err)
	}

	m.logger.Info("Shielded page opened", "origin", origin)
	return page, nil
}

func (m *Manager) Close() error {
	err := m.browser.Close()
	m.launcher.Kill()
	return err
}

// Origin reduces a URL to scheme://host[:port]. Anything unparsable has no
// origin and derives from the fallback marker.
func Origin(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
