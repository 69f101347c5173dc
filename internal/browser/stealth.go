package browser

import (
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"

	"fingerprint-shield/internal/prng"
	"fingerprint-shield/internal/schedule"
	"fingerprint-shield/internal/seed"
)

// ApplyStealth registers go-rod/stealth's evasions and then the shield
// prelude for origin. Both run before any script on every new document.
func (m *Manager) ApplyStealth(page *rod.Page, origin string) error {
	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		return fmt.Errorf("baseline evasions: %w", err)
	}

	js, err := m.Prelude(origin, time.Now())
	if err != nil {
		return err
	}
	if _, err := page.EvalOnNewDocument(js); err != nil {
		return fmt.Errorf("shield prelude: %w", err)
	}
	return nil
}

// Prelude renders the shield for origin with the seed state current at now.
func (m *Manager) Prelude(origin string, now time.Time) (string, error) {
	kind, err := prng.ParseKind(m.config.Seed.Generator)
	if err != nil {
		return "", fmt.Errorf("seed generator: %w", err)
	}
	pool := seed.NewPool(m.deriver, origin, m.tag,
		seed.WithScheduler(schedule.NewVirtual(now)),
		seed.WithLogger(m.logger),
		seed.WithGenerator(kind),
	)
	js, err := NewPrelude(pool.Acquire(), m.config.Noise, now).Render()
	if err != nil {
		return "", fmt.Errorf("render prelude: %w", err)
	}
	m.logger.Debug("Prelude rendered", "origin", origin, "seed_key", pool.Key())
	return js, nil
}
