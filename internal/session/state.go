// Package session holds the state of the one current session of a tracker
// instance: identity, attribution, visited pages and the open page visit.
package session

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/tracker/internal/classify"
	"github.com/gosight/gosight/tracker/internal/signal"
)

// Environment is what the host knows about the browser tab.
type Environment struct {
	ProjectID string
	UserAgent string
	Referrer  string
	URL       string
	Country   string
	City      string
}

// PageVisit is an open visit to one page.
type PageVisit struct {
	Path      string
	Title     string
	StartedAt time.Time
	Referrer  string
	UTM       classify.UTM
}

// State is the current session. It is not safe for concurrent use; the
// tracker engine serializes access.
type State struct {
	ID           string
	ProjectID    string
	UserID       string
	StartedAt    time.Time
	LastActivity time.Time
	Active       bool

	// Pages is append-only
	Pages []string

	Referrer    string
	Attribution classify.Attribution
	UserAgent   string
	Client      classify.ClientInfo
	Country     string
	City        string

	current *PageVisit
}

// NewID returns a time-ordered session id with a random suffix.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// New starts a session. Classification never fails; anything it cannot
// recognize ends up as Unknown.
func New(env Environment, userID string, now time.Time) *State {
	return &State{
		ID:           NewID(),
		ProjectID:    env.ProjectID,
		UserID:       userID,
		StartedAt:    now,
		LastActivity: now,
		Active:       true,
		Referrer:     env.Referrer,
		Attribution:  attribution(env.Referrer),
		UserAgent:    env.UserAgent,
		Client:       client(env.UserAgent),
		Country:      env.Country,
		City:         env.City,
	}
}

func attribution(referrer string) (a classify.Attribution) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Interface("panic", r).Msg("Referrer classification failed")
			a = classify.Attribution{Source: classify.SourceUnknown}
		}
	}()
	return classify.Referrer(referrer)
}

func client(ua string) (c classify.ClientInfo) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Interface("panic", r).Msg("User agent classification failed")
			c = classify.ClientInfo{Device: classify.DeviceDesktop, Browser: classify.Unknown, OS: classify.Unknown}
		}
	}()
	return classify.Client(ua)
}

// Touch records activity at now.
func (s *State) Touch(now time.Time) {
	if now.After(s.LastActivity) {
		s.LastActivity = now
	}
}

// CurrentPage returns the path of the open visit, or "" when none is open.
func (s *State) CurrentPage() string {
	if s.current == nil {
		return ""
	}
	return s.current.Path
}

// Current returns the open visit.
func (s *State) Current() (PageVisit, bool) {
	if s.current == nil {
		return PageVisit{}, false
	}
	return *s.current, true
}

// OpenPage starts a visit and appends it to the page history.
func (s *State) OpenPage(path, title, referrer string, utm classify.UTM, now time.Time) PageVisit {
	v := PageVisit{
		Path:      path,
		Title:     title,
		StartedAt: now,
		Referrer:  referrer,
		UTM:       utm,
	}
	s.current = &v
	s.Pages = append(s.Pages, path)
	return v
}

// ClosePage ends the open visit and returns it with its dwell time in whole
// seconds. ok is false when no visit was open.
func (s *State) ClosePage(now time.Time) (v PageVisit, dwell int, ok bool) {
	if s.current == nil {
		return PageVisit{}, 0, false
	}
	v = *s.current
	s.current = nil
	return v, Dwell(v.StartedAt, now), true
}

// Dwell returns max(0, end-start) rounded to whole seconds.
func Dwell(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds()))
}

// Header returns the signal header for the session at now.
func (s *State) Header(now time.Time) signal.Header {
	return signal.Header{
		ProjectID: s.ProjectID,
		SessionID: s.ID,
		Page:      s.CurrentPage(),
		Timestamp: now,
	}
}

// Update snapshots the session as a SessionUpdate signal.
func (s *State) Update(now time.Time) signal.SessionUpdate {
	var entry string
	if len(s.Pages) > 0 {
		entry = s.Pages[0]
	}
	return signal.SessionUpdate{
		Header:       s.Header(now),
		UserID:       s.UserID,
		StartedAt:    s.StartedAt,
		LastActivity: s.LastActivity,
		IsActive:     s.Active,
		PageViews:    len(s.Pages),
		EntryPage:    entry,
		Referrer:     s.Referrer,
		Source:       s.Attribution.Source,
		SearchTerm:   s.Attribution.SearchTerm,
		UserAgent:    s.UserAgent,
		Client:       s.Client,
		Country:      s.Country,
		City:         s.City,
	}
}

// View builds the PageView signal for a visit. final marks the view that
// closes the visit.
func (s *State) View(v PageVisit, dwell int, final bool, now time.Time) signal.PageView {
	return signal.PageView{
		Header: signal.Header{
			ProjectID: s.ProjectID,
			SessionID: s.ID,
			Page:      v.Path,
			Timestamp: now,
		},
		Title:        v.Title,
		StartedAt:    v.StartedAt,
		DwellSeconds: dwell,
		Final:        final,
		Referrer:     v.Referrer,
		UTM:          v.UTM,
	}
}
