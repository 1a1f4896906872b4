// Package frustration detects rage clicks, rapid click bursts and reloads.
package frustration

import (
	"math"
	"time"

	"github.com/gosight/gosight/tracker/internal/config"
	"github.com/gosight/gosight/tracker/internal/signal"
)

// ClickSample is one click kept in the rolling buffer.
type ClickSample struct {
	Timestamp time.Time
	X         float64
	Y         float64
	Selector  string
}

// Detector evaluates the rage click and rapid click tests on every click.
// Each test has its own cooldown. Not safe for concurrent use.
type Detector struct {
	rage    config.RageClickConfig
	rapid   config.RapidClickConfig
	horizon time.Duration

	buffer     []ClickSample
	rageUntil  time.Time
	rapidUntil time.Time
}

// NewDetector creates a detector from the frustration thresholds.
func NewDetector(cfg config.FrustrationConfig) *Detector {
	horizon := ms(cfg.RageClick.TimeWindowMs)
	if w := ms(cfg.RapidClick.TimeWindowMs); w > horizon {
		horizon = w
	}
	return &Detector{
		rage:    cfg.RageClick,
		rapid:   cfg.RapidClick,
		horizon: horizon,
		buffer:  make([]ClickSample, 0, 16),
	}
}

func ms(v int64) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// Record adds a click and returns the patterns it completed, if any. Clicks
// may arrive out of order; one older than the newest buffered click by more
// than the buffer horizon is discarded.
func (d *Detector) Record(click ClickSample) []signal.FrustrationDetail {
	if click.Selector == "" {
		click.Selector = UnknownTarget
	}
	now := click.Timestamp

	latest := now
	for _, c := range d.buffer {
		if c.Timestamp.After(latest) {
			latest = c.Timestamp
		}
	}
	if latest.Sub(now) > d.horizon {
		return nil
	}

	d.buffer = append(d.buffer, click)
	d.purge(latest)

	var found []signal.FrustrationDetail
	if detail, ok := d.rageClick(click); ok {
		found = append(found, detail)
	}
	if detail, ok := d.rapidClicks(now); ok {
		found = append(found, detail)
	}
	return found
}

// purge drops samples older than the longest window, measured from the
// newest sample.
func (d *Detector) purge(latest time.Time) {
	kept := d.buffer[:0]
	for _, c := range d.buffer {
		if latest.Sub(c.Timestamp) <= d.horizon {
			kept = append(kept, c)
		}
	}
	d.buffer = kept
}

func (d *Detector) rageClick(click ClickSample) (signal.FrustrationDetail, bool) {
	if !d.rage.Enabled || click.Timestamp.Before(d.rageUntil) {
		return nil, false
	}

	window := ms(d.rage.TimeWindowMs)
	count := 0
	for _, c := range d.buffer {
		if !within(click.Timestamp, c.Timestamp, window) {
			continue
		}
		if c.Selector != click.Selector {
			continue
		}
		if distance(c, click) > float64(d.rage.RadiusPx) {
			continue
		}
		count++
	}
	if count < d.rage.MinClicks {
		return nil, false
	}

	d.rageUntil = click.Timestamp.Add(ms(d.rage.CooldownMs))
	return signal.RageClick{Selector: click.Selector, Count: count}, true
}

func (d *Detector) rapidClicks(now time.Time) (signal.FrustrationDetail, bool) {
	if !d.rapid.Enabled || now.Before(d.rapidUntil) {
		return nil, false
	}

	window := ms(d.rapid.TimeWindowMs)
	count := 0
	for _, c := range d.buffer {
		if within(now, c.Timestamp, window) {
			count++
		}
	}
	if count < d.rapid.MinClicks {
		return nil, false
	}

	d.rapidUntil = now.Add(ms(d.rapid.CooldownMs))
	return signal.RapidClicks{Count: count}, true
}

// within reports whether ts falls in the window ending at now. Samples
// later than now are outside it.
func within(now, ts time.Time, window time.Duration) bool {
	age := now.Sub(ts)
	return age >= 0 && age <= window
}

func distance(a, b ClickSample) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Buffered returns the number of clicks currently in the window.
func (d *Detector) Buffered() int {
	return len(d.buffer)
}

// NavigationReload is the navigation timing type of a reloaded page.
const NavigationReload = "reload"

// Navigation inspects the navigation type of a page load. A reload is its
// own one-shot signal and does not touch the click cooldowns.
func (d *Detector) Navigation(navType string) (signal.FrustrationDetail, bool) {
	if navType != NavigationReload {
		return nil, false
	}
	return signal.PageReload{}, true
}
