package sink

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/gosight/gosight/tracker/internal/signal"
)

// Log writes every signal to a zerolog logger.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("sink", "log").Logger()}
}

func (l *Log) EmitSessionUpdate(_ context.Context, u signal.SessionUpdate) error {
	l.logger.Info().
		Str("session_id", u.SessionID).
		Str("page", u.Page).
		Bool("is_active", u.IsActive).
		Int("page_views", u.PageViews).
		Str("source", u.Source).
		Str("device_type", u.Client.Device).
		Msg("Session update")
	return nil
}

func (l *Log) EmitPageView(_ context.Context, v signal.PageView) error {
	l.logger.Info().
		Str("session_id", v.SessionID).
		Str("page", v.Page).
		Str("title", v.Title).
		Int("dwell_seconds", v.DwellSeconds).
		Bool("final", v.Final).
		Msg("Page view")
	return nil
}

func (l *Log) EmitEvent(_ context.Context, e signal.Event) error {
	l.logger.Info().
		Str("session_id", e.SessionID).
		Str("page", e.Page).
		Str("event_type", string(e.Type)).
		Interface("event_data", e.Data).
		Msg("Event")
	return nil
}
