// Package collector is the HTTP host adapter: browser tabs post their raw
// events here and each tab instance drives its own tracker engine.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/tracker/internal/activity"
	"github.com/gosight/gosight/tracker/internal/enricher"
	"github.com/gosight/gosight/tracker/internal/frustration"
	"github.com/gosight/gosight/tracker/internal/performance"
	"github.com/gosight/gosight/tracker/internal/session"
	"github.com/gosight/gosight/tracker/internal/tracker"
)

// Event kinds accepted by /v1/track.
const (
	KindClick       = "click"
	KindScroll      = "scroll"
	KindKeyPress    = "keypress"
	KindPointerMove = "pointermove"
	KindPageView    = "pageview"
	KindNavigation  = "navigation"
	KindLCP         = "lcp"
	KindLayoutShift = "layout_shift"
	KindLongTask    = "longtask"
	KindFeature     = "feature"
	KindUnload      = "unload"
)

var (
	ErrMissingInstance = errors.New("instance_id is required")
	ErrMissingProject  = errors.New("project_id is required")
)

// Authenticator resolves project keys and enforces the per-project rate
// limit. validation.Validator implements it.
type Authenticator interface {
	ValidateAPIKey(ctx context.Context, apiKey string) (string, error)
	CheckRateLimit(ctx context.Context, projectID string) bool
}

// Locator fills geo fields from the client address.
type Locator interface {
	Enrich(env *session.Environment, clientIP string)
}

type HTTPHandler struct {
	registry    *Registry
	auth        Authenticator
	locator     Locator
	maxBodySize int64
}

type Option func(*HTTPHandler)

// WithAuthenticator requires a valid project key on every request.
func WithAuthenticator(a Authenticator) Option {
	return func(h *HTTPHandler) { h.auth = a }
}

func WithLocator(l Locator) Option {
	return func(h *HTTPHandler) { h.locator = l }
}

func WithMaxBodySize(n int64) Option {
	return func(h *HTTPHandler) { h.maxBodySize = n }
}

func NewHTTPHandler(registry *Registry, opts ...Option) *HTTPHandler {
	h := &HTTPHandler{registry: registry, maxBodySize: 1 << 20}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// EnvironmentPayload is what the tab knows about itself.
type EnvironmentPayload struct {
	UserAgent string `json:"user_agent"`
	Referrer  string `json:"referrer"`
	URL       string `json:"url"`
}

// TrackEvent is one raw browser event. Which fields are read depends on Kind.
type TrackEvent struct {
	Kind      string  `json:"kind"`
	Timestamp int64   `json:"timestamp,omitempty"` // unix ms
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`

	Target *frustration.Target `json:"target,omitempty"`

	Page  string `json:"page,omitempty"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`

	Navigation *performance.NavigationTiming `json:"navigation,omitempty"`

	Value          float64 `json:"value,omitempty"`
	HadRecentInput bool    `json:"had_recent_input,omitempty"`
	Duration       float64 `json:"duration,omitempty"` // ms

	Feature    string            `json:"feature,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

type TrackRequest struct {
	ProjectKey   string                    `json:"project_key,omitempty"`
	ProjectID    string                    `json:"project_id,omitempty"`
	InstanceID   string                    `json:"instance_id"`
	UserID       string                    `json:"user_id,omitempty"`
	Environment  EnvironmentPayload        `json:"environment"`
	Capabilities *performance.Capabilities `json:"capabilities,omitempty"`
	Events       []TrackEvent              `json:"events"`
}

type TrackResponse struct {
	Success       bool     `json:"success"`
	SessionID     string   `json:"session_id,omitempty"`
	AcceptedCount int      `json:"accepted_count"`
	RejectedCount int      `json:"rejected_count"`
	Errors        []string `json:"errors,omitempty"`
}

// Routes mounts the collector endpoints on a chi router.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(CORSMiddleware)

	r.Get("/health", HealthCheck)
	r.Post("/v1/track", h.HandleTrack)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func reject(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, TrackResponse{Success: false, Errors: []string{msg}})
}

func (h *HTTPHandler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	defer r.Body.Close()

	var req TrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			reject(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		reject(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.InstanceID == "" {
		reject(w, http.StatusBadRequest, ErrMissingInstance.Error())
		return
	}

	if req.ProjectKey == "" {
		req.ProjectKey = r.Header.Get("X-Project-Key")
	}

	projectID := req.ProjectID
	if h.auth != nil {
		id, err := h.auth.ValidateAPIKey(r.Context(), req.ProjectKey)
		if err != nil {
			reject(w, http.StatusUnauthorized, "Invalid API key")
			return
		}
		if !h.auth.CheckRateLimit(r.Context(), id) {
			reject(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		projectID = id
	}
	if projectID == "" {
		reject(w, http.StatusBadRequest, ErrMissingProject.Error())
		return
	}

	env := session.Environment{
		ProjectID: projectID,
		UserAgent: req.Environment.UserAgent,
		Referrer:  req.Environment.Referrer,
		URL:       req.Environment.URL,
	}
	if env.UserAgent == "" {
		env.UserAgent = r.Header.Get("User-Agent")
	}
	if h.locator != nil {
		h.locator.Enrich(&env, enricher.StripPort(r.RemoteAddr))
	}

	engine := h.registry.Get(projectID+":"+req.InstanceID, env)
	sessionID := engine.EnsureSession(req.UserID)

	caps := performance.AllCapabilities
	if req.Capabilities != nil {
		caps = *req.Capabilities
	}

	resp := TrackResponse{SessionID: sessionID}
	for i, ev := range req.Events {
		if err := Apply(engine, ev, caps); err != nil {
			resp.RejectedCount++
			resp.Errors = append(resp.Errors, fmt.Sprintf("event %d: %v", i, err))
			continue
		}
		resp.AcceptedCount++
	}
	resp.Success = resp.RejectedCount == 0

	if resp.RejectedCount > 0 {
		log.Debug().
			Str("project_id", projectID).
			Str("session_id", sessionID).
			Int("rejected", resp.RejectedCount).
			Msg("Rejected track events")
	}
	writeJSON(w, http.StatusOK, resp)
}

// Apply routes one raw event into the engine.
func Apply(engine *tracker.Engine, ev TrackEvent, caps performance.Capabilities) error {
	switch ev.Kind {
	case KindClick:
		engine.RecordActivity(activity.KindClick)
		var target frustration.Target
		if ev.Target != nil {
			target = *ev.Target
		}
		engine.RecordClick(eventTime(ev.Timestamp), ev.X, ev.Y, target)
	case KindScroll, KindKeyPress, KindPointerMove:
		engine.RecordActivity(activity.Kind(ev.Kind))
	case KindPageView:
		if ev.Page == "" {
			return errors.New("pageview without page")
		}
		if ev.URL != "" {
			engine.SetURL(ev.URL)
		}
		engine.RecordPageView(ev.Page, ev.Title)
	case KindNavigation:
		if ev.Navigation == nil {
			return errors.New("navigation without timing")
		}
		engine.ObservePerformance(*ev.Navigation, caps)
	case KindLCP:
		engine.ReportLCP(ev.Value)
	case KindLayoutShift:
		engine.ReportLayoutShift(ev.Value, ev.HadRecentInput)
	case KindLongTask:
		engine.ReportLongTask(time.Duration(ev.Duration * float64(time.Millisecond)))
	case KindFeature:
		if ev.Feature == "" {
			return errors.New("feature without name")
		}
		engine.TrackFeature(ev.Feature, ev.Properties)
	case KindUnload:
		engine.Unload()
	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return nil
}

// eventTime returns the zero time for a missing timestamp; the engine then
// uses its own clock.
func eventTime(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Project-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
