// Package signal defines the normalized outputs of the tracker engine.
//
// A Signal is one of SessionUpdate, PageView, Frustration, PerformanceIssue
// or FeatureUse. The set is closed: only this package can add variants.
package signal

import (
	"time"

	"github.com/gosight/gosight/tracker/internal/classify"
)

// EventType is the event_type column of a generic event.
type EventType string

const (
	EventFrustration EventType = "frustration_signal"
	EventPerfIssue   EventType = "perf_issue"
	EventFeatureUse  EventType = "feature_use"
)

// Header is carried by every signal.
type Header struct {
	ProjectID string    `json:"project_id,omitempty"`
	SessionID string    `json:"session_id"`
	Page      string    `json:"page"`
	Timestamp time.Time `json:"timestamp"`
}

// Signal is the closed set of engine outputs.
type Signal interface {
	Meta() Header
	isSignal()
}

// SessionUpdate reports the current state of a session.
type SessionUpdate struct {
	Header
	UserID       string              `json:"user_id,omitempty"`
	StartedAt    time.Time           `json:"started_at"`
	LastActivity time.Time           `json:"last_activity"`
	IsActive     bool                `json:"is_active"`
	PageViews    int                 `json:"page_views"`
	EntryPage    string              `json:"entry_page,omitempty"`
	Referrer     string              `json:"referrer,omitempty"`
	Source       string              `json:"source"`
	SearchTerm   string              `json:"search_term,omitempty"`
	UserAgent    string              `json:"user_agent,omitempty"`
	Client       classify.ClientInfo `json:"client"`
	Country      string              `json:"country,omitempty"`
	City         string              `json:"city,omitempty"`
}

// PageView reports a page visit. The view emitted when a visit opens has zero
// dwell time; the one emitted when it closes is Final and carries the dwell.
type PageView struct {
	Header
	Title        string       `json:"title,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	DwellSeconds int          `json:"dwell_seconds"`
	Final        bool         `json:"final"`
	Referrer     string       `json:"referrer,omitempty"`
	UTM          classify.UTM `json:"utm"`
}

// Frustration reports a detected frustration pattern.
type Frustration struct {
	Header
	Detail FrustrationDetail `json:"-"`
}

// PerformanceIssue reports a metric that crossed its threshold.
type PerformanceIssue struct {
	Header
	Metric Metric  `json:"metric"`
	Value  float64 `json:"value"`
}

// FeatureUse reports an explicit feature interaction from the host page.
type FeatureUse struct {
	Header
	Feature    string            `json:"feature"`
	Properties map[string]string `json:"properties,omitempty"`
}

func (s SessionUpdate) Meta() Header    { return s.Header }
func (s PageView) Meta() Header         { return s.Header }
func (s Frustration) Meta() Header      { return s.Header }
func (s PerformanceIssue) Meta() Header { return s.Header }
func (s FeatureUse) Meta() Header       { return s.Header }

func (SessionUpdate) isSignal()    {}
func (PageView) isSignal()         {}
func (Frustration) isSignal()      {}
func (PerformanceIssue) isSignal() {}
func (FeatureUse) isSignal()       {}

// Metric names a performance measurement.
type Metric string

const (
	MetricTTFB      Metric = "TTFB"
	MetricLCP       Metric = "LCP"
	MetricCLS       Metric = "CLS"
	MetricLongTasks Metric = "LONG_TASKS"
)

// Event is the shape generic events take on their way to a sink.
type Event struct {
	Header
	Type EventType      `json:"event_type"`
	Data map[string]any `json:"event_data"`
}

// Event converts the frustration signal for the sink.
func (s Frustration) Event() Event {
	data := map[string]any{}
	if s.Detail != nil {
		data["type"] = string(s.Detail.Subtype())
		s.Detail.fill(data)
	}
	return Event{Header: s.Header, Type: EventFrustration, Data: data}
}

// Event converts the performance issue for the sink.
func (s PerformanceIssue) Event() Event {
	return Event{
		Header: s.Header,
		Type:   EventPerfIssue,
		Data: map[string]any{
			"type":  string(s.Metric),
			"value": s.Value,
		},
	}
}

// Event converts the feature use for the sink.
func (s FeatureUse) Event() Event {
	data := map[string]any{"type": s.Feature}
	for k, v := range s.Properties {
		if k == "type" {
			continue
		}
		data[k] = v
	}
	return Event{Header: s.Header, Type: EventFeatureUse, Data: data}
}
