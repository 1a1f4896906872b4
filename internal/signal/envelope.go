package signal

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind tags an Envelope.
type Kind string

const (
	KindSessionUpdate Kind = "session_update"
	KindPageView      Kind = "page_view"
	KindEvent         Kind = "event"
)

var ErrEmptyEnvelope = errors.New("envelope has no payload")

// Envelope is the wire form of a signal. Exactly one payload is set.
type Envelope struct {
	Kind     Kind           `json:"kind"`
	Session  *SessionUpdate `json:"session,omitempty"`
	PageView *PageView      `json:"page_view,omitempty"`
	Event    *Event         `json:"event,omitempty"`
}

// Wrap converts any signal to its envelope. Frustration, performance and
// feature signals all travel as generic events.
func Wrap(sig Signal) Envelope {
	switch s := sig.(type) {
	case SessionUpdate:
		return Envelope{Kind: KindSessionUpdate, Session: &s}
	case PageView:
		return Envelope{Kind: KindPageView, PageView: &s}
	case Frustration:
		ev := s.Event()
		return Envelope{Kind: KindEvent, Event: &ev}
	case PerformanceIssue:
		ev := s.Event()
		return Envelope{Kind: KindEvent, Event: &ev}
	case FeatureUse:
		ev := s.Event()
		return Envelope{Kind: KindEvent, Event: &ev}
	}
	panic(fmt.Sprintf("signal: unhandled variant %T", sig))
}

// SessionID returns the session the payload belongs to.
func (e Envelope) SessionID() string {
	switch {
	case e.Session != nil:
		return e.Session.SessionID
	case e.PageView != nil:
		return e.PageView.SessionID
	case e.Event != nil:
		return e.Event.SessionID
	}
	return ""
}

// Encode marshals sig into its JSON envelope.
func Encode(sig Signal) ([]byte, error) {
	return json.Marshal(Wrap(sig))
}

// Decode parses a JSON envelope and checks that its kind matches its payload.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	var ok bool
	switch env.Kind {
	case KindSessionUpdate:
		ok = env.Session != nil
	case KindPageView:
		ok = env.PageView != nil
	case KindEvent:
		ok = env.Event != nil
	default:
		return Envelope{}, fmt.Errorf("decode envelope: unknown kind %q", env.Kind)
	}
	if !ok {
		return Envelope{}, fmt.Errorf("decode envelope %q: %w", env.Kind, ErrEmptyEnvelope)
	}
	return env, nil
}
