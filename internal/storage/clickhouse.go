package storage

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"

	"github.com/gosight/gosight/tracker/internal/config"
)

type ClickHouse struct {
	conn driver.Conn
}

// SessionRow represents a row in the sessions table. The table is a
// ReplacingMergeTree on updated_at, so every update is an insert.
type SessionRow struct {
	SessionID      string
	ProjectID      string
	UserID         string
	StartedAt      time.Time
	LastActivity   time.Time
	UpdatedAt      time.Time
	IsActive       uint8
	PageViews      uint32
	EntryPage      string
	CurrentPage    string
	Referrer       string
	Source         string
	SearchTerm     string
	UserAgent      string
	Browser        string
	BrowserVersion string
	OS             string
	DeviceType     string
	IsBot          uint8
	Country        string
	City           string
}

// PageViewRow represents a row in the page_views table
type PageViewRow struct {
	ProjectID    string
	SessionID    string
	PagePath     string
	PageTitle    string
	Referrer     string
	StartedAt    time.Time
	Timestamp    time.Time
	DwellSeconds uint32
	IsFinal      uint8
	UTMSource    string
	UTMMedium    string
	UTMCampaign  string
	UTMTerm      string
}

// EventRow represents a row in the events table
type EventRow struct {
	EventID   uuid.UUID
	ProjectID string
	SessionID string
	EventType string
	Subtype   string
	Timestamp time.Time
	PagePath  string
	Payload   string
}

func NewClickHouse(cfg config.ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	return &ClickHouse{conn: conn}, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		session_id String,
		project_id String,
		user_id String,
		started_at DateTime64(3),
		last_activity DateTime64(3),
		updated_at DateTime64(3),
		is_active UInt8,
		page_views UInt32,
		entry_page String,
		current_page String,
		referrer String,
		source LowCardinality(String),
		search_term String,
		user_agent String,
		browser LowCardinality(String),
		browser_version String,
		os LowCardinality(String),
		device_type LowCardinality(String),
		is_bot UInt8,
		country LowCardinality(String),
		city String
	) ENGINE = ReplacingMergeTree(updated_at)
	ORDER BY (project_id, session_id)`,
	`CREATE TABLE IF NOT EXISTS page_views (
		project_id String,
		session_id String,
		page_path String,
		page_title String,
		referrer String,
		started_at DateTime64(3),
		timestamp DateTime64(3),
		dwell_seconds UInt32,
		is_final UInt8,
		utm_source String,
		utm_medium String,
		utm_campaign String,
		utm_term String
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (project_id, session_id, timestamp)`,
	`CREATE TABLE IF NOT EXISTS events (
		event_id UUID,
		project_id String,
		session_id String,
		event_type LowCardinality(String),
		subtype LowCardinality(String),
		timestamp DateTime64(3),
		page_path String,
		payload String
	) ENGINE = MergeTree
	PARTITION BY toYYYYMM(timestamp)
	ORDER BY (project_id, event_type, timestamp)`,
}

// Migrate creates the tracker tables when they do not exist.
func (c *ClickHouse) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if err := c.conn.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *ClickHouse) InsertSessions(ctx context.Context, sessions []SessionRow) error {
	if len(sessions) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO sessions (
			session_id, project_id, user_id,
			started_at, last_activity, updated_at, is_active,
			page_views, entry_page, current_page,
			referrer, source, search_term,
			user_agent, browser, browser_version, os, device_type, is_bot,
			country, city
		)
	`)
	if err != nil {
		return err
	}

	for _, s := range sessions {
		err := batch.Append(
			s.SessionID, s.ProjectID, s.UserID,
			s.StartedAt, s.LastActivity, s.UpdatedAt, s.IsActive,
			s.PageViews, s.EntryPage, s.CurrentPage,
			s.Referrer, s.Source, s.SearchTerm,
			s.UserAgent, s.Browser, s.BrowserVersion, s.OS, s.DeviceType, s.IsBot,
			s.Country, s.City,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *ClickHouse) InsertPageViews(ctx context.Context, pageViews []PageViewRow) error {
	if len(pageViews) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO page_views (
			project_id, session_id,
			page_path, page_title, referrer,
			started_at, timestamp, dwell_seconds, is_final,
			utm_source, utm_medium, utm_campaign, utm_term
		)
	`)
	if err != nil {
		return err
	}

	for _, pv := range pageViews {
		err := batch.Append(
			pv.ProjectID, pv.SessionID,
			pv.PagePath, pv.PageTitle, pv.Referrer,
			pv.StartedAt, pv.Timestamp, pv.DwellSeconds, pv.IsFinal,
			pv.UTMSource, pv.UTMMedium, pv.UTMCampaign, pv.UTMTerm,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *ClickHouse) InsertEvents(ctx context.Context, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO events (
			event_id, project_id, session_id,
			event_type, subtype, timestamp, page_path, payload
		)
	`)
	if err != nil {
		return err
	}

	for _, e := range events {
		err := batch.Append(
			e.EventID, e.ProjectID, e.SessionID,
			e.EventType, e.Subtype, e.Timestamp, e.PagePath, e.Payload,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
