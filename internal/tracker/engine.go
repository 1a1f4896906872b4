// Package tracker runs the signal detectors of one browser tab.
//
// An Engine owns the session state, the click buffer, the performance latches
// and the idle timer of a single instance. Host adapters call its methods as
// browser events arrive; every detected condition leaves the engine as a
// signal.Signal through the Emitter, in the order the events were processed.
package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/tracker/internal/activity"
	"github.com/gosight/gosight/tracker/internal/classify"
	"github.com/gosight/gosight/tracker/internal/config"
	"github.com/gosight/gosight/tracker/internal/frustration"
	"github.com/gosight/gosight/tracker/internal/performance"
	"github.com/gosight/gosight/tracker/internal/session"
	"github.com/gosight/gosight/tracker/internal/signal"
	"github.com/gosight/gosight/tracker/internal/sink"
)

// Emitter accepts signals without blocking. dispatch.Dispatcher is the
// production implementation.
type Emitter interface {
	Emit(sig signal.Signal)
}

type Option func(*Engine)

// WithClock replaces the real clock, mostly for tests.
func WithClock(clock quartz.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithBeacon sets the fire-and-forget path used on unload.
func WithBeacon(b sink.Beaconer) Option {
	return func(e *Engine) { e.beacon = b }
}

// Engine is safe for concurrent use. All methods, including the idle timer
// callback, run one at a time.
type Engine struct {
	mu sync.Mutex

	cfg     config.TrackerConfig
	env     session.Environment
	emitter Emitter
	beacon  sink.Beaconer
	clock   quartz.Clock
	logger  zerolog.Logger

	state       *session.State
	activity    *activity.Monitor
	frustration *frustration.Detector
	perf        *performance.Monitor
	closed      bool
}

// New creates an engine. No session exists until the first call that needs
// one.
func New(cfg config.TrackerConfig, env session.Environment, emitter Emitter, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		env:     env,
		emitter: emitter,
		clock:   quartz.NewReal(),
		logger:  log.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.activity = activity.NewMonitor(e.clock, cfg.Session.ActivityThrottle, cfg.Session.IdleTimeout, e.idle)
	e.frustration = frustration.NewDetector(cfg.Frustration)
	e.perf = performance.NewMonitor(cfg.Performance)
	return e
}

// guard swallows a panic raised while handling op. Nothing reaches the host.
func (e *Engine) guard(op string) {
	if r := recover(); r != nil {
		e.logger.Debug().
			Str("op", op).
			Str("panic", fmt.Sprint(r)).
			Msg("Tracker operation failed")
	}
}

func (e *Engine) emit(sig signal.Signal) {
	defer e.guard("emit")
	e.emitter.Emit(sig)
}

// EnsureSession starts the session if there is none and returns its id.
// Calling it again returns the same id and emits nothing.
func (e *Engine) EnsureSession(userID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.guard("ensure_session")

	if e.closed {
		return e.sessionID()
	}
	return e.ensureSession(userID).ID
}

func (e *Engine) ensureSession(userID string) *session.State {
	if e.state != nil {
		if userID != "" && e.state.UserID == "" {
			e.state.UserID = userID
		}
		return e.state
	}

	now := e.clock.Now()
	e.state = session.New(e.env, userID, now)
	e.logger.Debug().
		Str("session_id", e.state.ID).
		Str("source", e.state.Attribution.Source).
		Str("device_type", e.state.Client.Device).
		Msg("Session started")

	e.emit(e.state.Update(now))
	e.activity.Arm()
	return e.state
}

func (e *Engine) sessionID() string {
	if e.state == nil {
		return ""
	}
	return e.state.ID
}

// SessionID returns the current session id, or "" before the first call
// that starts one.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID()
}

// RecordActivity registers an interaction event. It restarts the idle timer
// every time; session updates are throttled except when the session wakes
// from idle.
func (e *Engine) RecordActivity(kind activity.Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.guard("record_activity")

	if e.closed {
		return
	}
	if !activity.IsActivity(kind) {
		e.logger.Debug().Str("kind", string(kind)).Msg("Ignoring non-interaction event")
		return
	}

	st := e.ensureSession("")
	now := e.clock.Now()
	wake := !st.Active
	st.Touch(now)
	st.Active = true

	if e.activity.Record(now, wake) {
		e.emit(st.Update(now))
	}
}

// idle runs on the timer goroutine.
func (e *Engine) idle(gen uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.guard("idle")

	if e.closed || e.state == nil || !e.activity.Current(gen) {
		return
	}
	e.activity.Disarm()
	if !e.state.Active {
		return
	}

	e.state.Active = false
	now := e.clock.Now()
	e.logger.Debug().Str("session_id", e.state.ID).Msg("Session idle")
	e.emit(e.state.Update(now))
}

// RecordClick runs the frustration tests on a click. ts is the host's event
// time; the zero time means now.
func (e *Engine) RecordClick(ts time.Time, x, y float64, target frustration.Target) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.guard("record_click")

	if e.closed {
		return
	}
	st := e.ensureSession("")
	if ts.IsZero() {
		ts = e.clock.Now()
	}
	click := frustration.ClickSample{
		Timestamp: ts,
		X:         x,
		Y:         y,
		Selector:  frustration.Selector(target),
	}
	for _, detail := range e.frustration.Record(click) {
		e.emit(signal.Frustration{Header: st.Header(ts), Detail: detail})
	}
}

// RecordPageView closes the open page with its dwell time, then opens page
// and reports it with zero dwell time.
func (e *Engine) RecordPageView(page, title string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.guard("record_page_view")

	if e.closed {
		return
	}
	st := e.ensureSession("")
	now := e.clock.Now()

	if v, dwell, ok := st.ClosePage(now); ok {
		e.emit(st.View(v, dwell, true, now))
	}

	v := st.OpenPage(page, title, e.env.Referrer, classify.CampaignParams(e.env.URL), now)
	e.emit(st.View(v, 0, false, now))
}

// SetURL records the current URL of the tab. Its campaign parameters are
// attached to the next page view.
func (e *Engine) SetURL(rawURL string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.env.URL = rawURL
}

// Unload closes the open page and hands its final view to the beacon when
// there is one, otherwise to the emitter. It never blocks on delivery.
func (e *Engine) Unload() {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.guard("unload")

	if e.closed || e.state == nil {
		return
	}
	now := e.clock.Now()
	v, dwell, ok := e.state.ClosePage(now)
	if !ok {
		return
	}

	view := e.state.View(v, dwell, true, now)
	if e.beacon != nil {
		e.beaconSend(view)
		return
	}
	e.emit(view)
}

func (e *Engine) beaconSend(sig signal.Signal) {
	defer e.guard("beacon")
	e.beacon.Beacon(sig)
}

// ObservePerformance starts observing a page load: it checks for a reload,
// resets the metric latches and evaluates TTFB.
func (e *Engine) ObservePerformance(nav performance.NavigationTiming, caps performance.Capabilities) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.guard("observe_performance")

	if e.closed {
		return
	}
	st := e.ensureSession("")
	now := e.clock.Now()

	if detail, ok := e.frustration.Navigation(nav.Type); ok {
		e.emit(signal.Frustration{Header: st.Header(now), Detail: detail})
	}
	e.emitIssue(st, now)(e.perf.Observe(nav, caps))
}

// ReportLCP handles a largest-contentful-paint report in milliseconds.
func (e *Engine) ReportLCP(value float64) {
	e.report("report_lcp", func() (performance.Issue, bool) {
		return e.perf.ReportLCP(value)
	})
}

// ReportLayoutShift handles one layout-shift entry.
func (e *Engine) ReportLayoutShift(value float64, hadRecentInput bool) {
	e.report("report_layout_shift", func() (performance.Issue, bool) {
		return e.perf.ReportLayoutShift(value, hadRecentInput)
	})
}

// ReportLongTask handles one long-task entry.
func (e *Engine) ReportLongTask(duration time.Duration) {
	e.report("report_long_task", func() (performance.Issue, bool) {
		return e.perf.ReportLongTask(duration)
	})
}

func (e *Engine) report(op string, eval func() (performance.Issue, bool)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.guard(op)

	if e.closed {
		return
	}
	st := e.ensureSession("")
	e.emitIssue(st, e.clock.Now())(eval())
}

func (e *Engine) emitIssue(st *session.State, now time.Time) func(performance.Issue, bool) {
	return func(issue performance.Issue, ok bool) {
		if !ok {
			return
		}
		e.emit(signal.PerformanceIssue{
			Header: st.Header(now),
			Metric: issue.Metric,
			Value:  issue.Value,
		})
	}
}

// TrackFeature reports an explicit feature interaction.
func (e *Engine) TrackFeature(name string, props map[string]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	defer e.guard("track_feature")

	if e.closed || name == "" {
		return
	}
	st := e.ensureSession("")
	e.emit(signal.FeatureUse{
		Header:     st.Header(e.clock.Now()),
		Feature:    name,
		Properties: props,
	})
}

// Close stops the idle timer. Later calls are ignored.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	e.closed = true
	e.activity.Stop()
}
