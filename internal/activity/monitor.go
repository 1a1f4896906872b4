// Package activity throttles "session still active" updates and detects
// idle sessions.
package activity

import (
	"time"

	"github.com/coder/quartz"
)

// Kind is an interaction-class event.
type Kind string

const (
	KindClick       Kind = "click"
	KindScroll      Kind = "scroll"
	KindKeyPress    Kind = "keypress"
	KindPointerMove Kind = "pointermove"
)

// Kinds lists the interaction events that count as activity.
var Kinds = []Kind{KindClick, KindScroll, KindKeyPress, KindPointerMove}

// IsActivity reports whether kind counts as user activity.
func IsActivity(kind Kind) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Monitor tracks the emission throttle and the idle timer of one session.
// It is not safe for concurrent use: callers serialize Record, Arm, Stop and
// Current, including the call made from the idle callback.
type Monitor struct {
	clock     quartz.Clock
	throttle  time.Duration
	idleAfter time.Duration
	onIdle    func(gen uint64)

	emitted  bool
	lastEmit time.Time

	timer *quartz.Timer
	gen   uint64
}

// NewMonitor creates a monitor. onIdle runs on its own goroutine after
// idleAfter without activity and receives the generation of the timer that
// fired; compare it with Current to discard stale fires.
func NewMonitor(clock quartz.Clock, throttle, idleAfter time.Duration, onIdle func(gen uint64)) *Monitor {
	return &Monitor{
		clock:     clock,
		throttle:  throttle,
		idleAfter: idleAfter,
		onIdle:    onIdle,
	}
}

// Record registers activity at now and restarts the idle timer. It returns
// true when a session update should be emitted. wake forces emission for the
// idle to active transition and opens a new throttle window.
func (m *Monitor) Record(now time.Time, wake bool) bool {
	m.Arm()

	if wake || !m.emitted || now.Sub(m.lastEmit) >= m.throttle {
		m.emitted = true
		m.lastEmit = now
		return true
	}
	return false
}

// Arm (re)starts the idle timer.
func (m *Monitor) Arm() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.gen++
	gen := m.gen
	m.timer = m.clock.AfterFunc(m.idleAfter, func() {
		m.onIdle(gen)
	}, "activity", "idle")
}

// Current reports whether gen belongs to the armed timer.
func (m *Monitor) Current(gen uint64) bool {
	return m.timer != nil && gen == m.gen
}

// Disarm forgets the fired timer so later stale fires are ignored.
func (m *Monitor) Disarm() {
	m.timer = nil
}

// Stop cancels the idle timer.
func (m *Monitor) Stop() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.gen++
}
