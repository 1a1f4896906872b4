package sink

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/tracker/internal/config"
	"github.com/gosight/gosight/tracker/internal/signal"
	"github.com/gosight/gosight/tracker/internal/storage"
)

// RowWriter is the batch insert surface of storage.ClickHouse
type RowWriter interface {
	InsertSessions(ctx context.Context, rows []storage.SessionRow) error
	InsertPageViews(ctx context.Context, rows []storage.PageViewRow) error
	InsertEvents(ctx context.Context, rows []storage.EventRow) error
}

// ClickHouse buffers signals as rows and writes them in batches, either
// when a buffer reaches the batch size or on every flush interval.
type ClickHouse struct {
	store    RowWriter
	batchCfg config.BatchConfig

	sessionBuffer  []storage.SessionRow
	pageViewBuffer []storage.PageViewRow
	eventBuffer    []storage.EventRow

	mu     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewClickHouse creates the batching sink and starts its flush loop
func NewClickHouse(store RowWriter, batchCfg config.BatchConfig) *ClickHouse {
	if batchCfg.Size <= 0 {
		batchCfg.Size = 1000
	}
	if batchCfg.FlushInterval <= 0 {
		batchCfg.FlushInterval = 5 * time.Second
	}
	c := &ClickHouse{
		store:          store,
		batchCfg:       batchCfg,
		sessionBuffer:  make([]storage.SessionRow, 0, 100),
		pageViewBuffer: make([]storage.PageViewRow, 0, 100),
		eventBuffer:    make([]storage.EventRow, 0, batchCfg.Size),
		done:           make(chan struct{}),
	}

	c.ticker = time.NewTicker(batchCfg.FlushInterval)
	c.wg.Add(1)
	go c.flushLoop()

	return c
}

func (c *ClickHouse) EmitSessionUpdate(ctx context.Context, u signal.SessionUpdate) error {
	c.mu.Lock()
	c.sessionBuffer = append(c.sessionBuffer, SessionRow(u))
	full := len(c.sessionBuffer) >= c.batchCfg.Size
	c.mu.Unlock()
	return c.flushIf(ctx, full)
}

func (c *ClickHouse) EmitPageView(ctx context.Context, v signal.PageView) error {
	c.mu.Lock()
	c.pageViewBuffer = append(c.pageViewBuffer, PageViewRow(v))
	full := len(c.pageViewBuffer) >= c.batchCfg.Size
	c.mu.Unlock()
	return c.flushIf(ctx, full)
}

func (c *ClickHouse) EmitEvent(ctx context.Context, e signal.Event) error {
	row, err := EventRow(e)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.eventBuffer = append(c.eventBuffer, row)
	full := len(c.eventBuffer) >= c.batchCfg.Size
	c.mu.Unlock()
	return c.flushIf(ctx, full)
}

func (c *ClickHouse) flushIf(ctx context.Context, full bool) error {
	if !full {
		return nil
	}
	return c.Flush(ctx)
}

func (c *ClickHouse) flushLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case <-c.ticker.C:
			_ = c.Flush(context.Background())
		}
	}
}

// Flush writes all buffered rows. Rows of a failed insert are dropped.
func (c *ClickHouse) Flush(ctx context.Context) error {
	c.mu.Lock()
	if len(c.sessionBuffer) == 0 && len(c.pageViewBuffer) == 0 && len(c.eventBuffer) == 0 {
		c.mu.Unlock()
		return nil
	}

	sessions := c.sessionBuffer
	pageViews := c.pageViewBuffer
	events := c.eventBuffer

	c.sessionBuffer = make([]storage.SessionRow, 0, 100)
	c.pageViewBuffer = make([]storage.PageViewRow, 0, 100)
	c.eventBuffer = make([]storage.EventRow, 0, c.batchCfg.Size)
	c.mu.Unlock()

	start := time.Now()
	var firstErr error

	if len(sessions) > 0 {
		if err := c.store.InsertSessions(ctx, sessions); err != nil {
			log.Error().Err(err).Int("count", len(sessions)).Msg("Failed to insert sessions")
			firstErr = err
		} else {
			log.Debug().Int("count", len(sessions)).Msg("Flushed sessions to ClickHouse")
		}
	}

	if len(pageViews) > 0 {
		if err := c.store.InsertPageViews(ctx, pageViews); err != nil {
			log.Error().Err(err).Int("count", len(pageViews)).Msg("Failed to insert page views")
			if firstErr == nil {
				firstErr = err
			}
		} else {
			log.Debug().Int("count", len(pageViews)).Msg("Flushed page views to ClickHouse")
		}
	}

	if len(events) > 0 {
		if err := c.store.InsertEvents(ctx, events); err != nil {
			log.Error().Err(err).Int("count", len(events)).Msg("Failed to insert events")
			if firstErr == nil {
				firstErr = err
			}
		} else {
			log.Info().
				Int("count", len(events)).
				Dur("duration", time.Since(start)).
				Msg("Flushed events to ClickHouse")
		}
	}

	return firstErr
}

// Close stops the flush loop and writes what is left.
func (c *ClickHouse) Close() error {
	c.ticker.Stop()
	close(c.done)
	c.wg.Wait()
	return c.Flush(context.Background())
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// SessionRow maps a session update to its sessions table row.
func SessionRow(u signal.SessionUpdate) storage.SessionRow {
	return storage.SessionRow{
		SessionID:      u.SessionID,
		ProjectID:      u.ProjectID,
		UserID:         u.UserID,
		StartedAt:      u.StartedAt,
		LastActivity:   u.LastActivity,
		UpdatedAt:      u.Timestamp,
		IsActive:       boolToUInt8(u.IsActive),
		PageViews:      uint32(u.PageViews),
		EntryPage:      u.EntryPage,
		CurrentPage:    u.Page,
		Referrer:       u.Referrer,
		Source:         u.Source,
		SearchTerm:     u.SearchTerm,
		UserAgent:      u.UserAgent,
		Browser:        u.Client.Browser,
		BrowserVersion: u.Client.BrowserVersion,
		OS:             u.Client.OS,
		DeviceType:     u.Client.Device,
		IsBot:          boolToUInt8(u.Client.Bot),
		Country:        u.Country,
		City:           u.City,
	}
}

// PageViewRow maps a page view to its page_views table row.
func PageViewRow(v signal.PageView) storage.PageViewRow {
	dwell := v.DwellSeconds
	if dwell < 0 {
		dwell = 0
	}
	return storage.PageViewRow{
		ProjectID:    v.ProjectID,
		SessionID:    v.SessionID,
		PagePath:     v.Page,
		PageTitle:    v.Title,
		Referrer:     v.Referrer,
		StartedAt:    v.StartedAt,
		Timestamp:    v.Timestamp,
		DwellSeconds: uint32(dwell),
		IsFinal:      boolToUInt8(v.Final),
		UTMSource:    v.UTM.Source,
		UTMMedium:    v.UTM.Medium,
		UTMCampaign:  v.UTM.Campaign,
		UTMTerm:      v.UTM.Term,
	}
}

// EventRow maps a generic event to its events table row. The event data is
// stored as a JSON payload and its "type" key as the subtype column.
func EventRow(e signal.Event) (storage.EventRow, error) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return storage.EventRow{}, err
	}
	sub, _ := e.Data["type"].(string)
	return storage.EventRow{
		EventID:   uuid.New(),
		ProjectID: e.ProjectID,
		SessionID: e.SessionID,
		EventType: string(e.Type),
		Subtype:   sub,
		Timestamp: e.Timestamp,
		PagePath:  e.Page,
		Payload:   string(payload),
	}, nil
}
