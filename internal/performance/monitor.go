// Package performance turns browser performance entries into one-shot
// performance issues.
package performance

import (
	"time"

	"github.com/gosight/gosight/tracker/internal/config"
	"github.com/gosight/gosight/tracker/internal/signal"
)

// Capabilities lists the observation primitives the host supports. A metric
// whose primitive is missing is skipped.
type Capabilities struct {
	Navigation bool `json:"navigation"`
	LCP        bool `json:"lcp"`
	CLS        bool `json:"cls"`
	LongTask   bool `json:"longtask"`
}

// AllCapabilities is a host that supports every observer.
var AllCapabilities = Capabilities{Navigation: true, LCP: true, CLS: true, LongTask: true}

// NavigationTiming is the subset of the navigation timing entry the monitor
// reads. Times are milliseconds since navigation start.
type NavigationTiming struct {
	ResponseStart float64 `json:"response_start"`
	Type          string  `json:"type"`
}

// Issue is a metric that crossed its threshold.
type Issue struct {
	Metric signal.Metric
	Value  float64
}

// Monitor evaluates the metrics of one page load. Each metric has its own
// latch and is reported at most once until the next Observe.
// Not safe for concurrent use.
type Monitor struct {
	cfg  config.PerformanceConfig
	caps Capabilities

	observing bool
	lcpDone   bool
	clsDone   bool
	longDone  bool

	clsTotal  float64
	slowTasks int
}

// NewMonitor creates a monitor with the given thresholds.
func NewMonitor(cfg config.PerformanceConfig) *Monitor {
	return &Monitor{cfg: cfg}
}

// Observe starts a new page load: latches reset and TTFB is evaluated at
// once. It returns the TTFB issue when the first byte was late.
func (m *Monitor) Observe(nav NavigationTiming, caps Capabilities) (Issue, bool) {
	*m = Monitor{cfg: m.cfg, caps: caps, observing: true}

	if !caps.Navigation {
		return Issue{}, false
	}
	if nav.ResponseStart > m.cfg.TTFBThresholdMs {
		return Issue{Metric: signal.MetricTTFB, Value: nav.ResponseStart}, true
	}
	return Issue{}, false
}

// ReportLCP handles a largest-contentful-paint report in milliseconds.
func (m *Monitor) ReportLCP(value float64) (Issue, bool) {
	if !m.observing || !m.caps.LCP || m.lcpDone {
		return Issue{}, false
	}
	if value <= m.cfg.LCPThresholdMs {
		return Issue{}, false
	}
	m.lcpDone = true
	return Issue{Metric: signal.MetricLCP, Value: value}, true
}

// ReportLayoutShift accumulates a layout shift. Shifts right after user
// input are expected and do not count.
func (m *Monitor) ReportLayoutShift(value float64, hadRecentInput bool) (Issue, bool) {
	if !m.observing || !m.caps.CLS || m.clsDone || hadRecentInput {
		return Issue{}, false
	}
	m.clsTotal += value
	if m.clsTotal <= m.cfg.CLSThreshold {
		return Issue{}, false
	}
	m.clsDone = true
	return Issue{Metric: signal.MetricCLS, Value: m.clsTotal}, true
}

// ReportLongTask handles a long task entry. One critical task or enough slow
// ones trigger the issue; its value is the number of slow tasks seen.
func (m *Monitor) ReportLongTask(duration time.Duration) (Issue, bool) {
	if !m.observing || !m.caps.LongTask || m.longDone {
		return Issue{}, false
	}

	ms := float64(duration) / float64(time.Millisecond)
	if ms > m.cfg.LongTaskThresholdMs {
		m.slowTasks++
	}
	if ms <= m.cfg.LongTaskCriticalMs && m.slowTasks < m.cfg.LongTaskCountTrigger {
		return Issue{}, false
	}
	m.longDone = true
	return Issue{Metric: signal.MetricLongTasks, Value: float64(m.slowTasks)}, true
}

// CumulativeLayoutShift returns the running CLS total of the page load.
func (m *Monitor) CumulativeLayoutShift() float64 {
	return m.clsTotal
}
