package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/gosight/tracker/internal/classify"
	"github.com/gosight/gosight/tracker/internal/config"
	"github.com/gosight/gosight/tracker/internal/signal"
	"github.com/gosight/gosight/tracker/internal/storage"
)

type fakeStore struct {
	mu        sync.Mutex
	sessions  []storage.SessionRow
	pageViews []storage.PageViewRow
	events    []storage.EventRow
	inserts   int
	err       error
}

func (s *fakeStore) InsertSessions(_ context.Context, rows []storage.SessionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	s.sessions = append(s.sessions, rows...)
	return s.err
}

func (s *fakeStore) InsertPageViews(_ context.Context, rows []storage.PageViewRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	s.pageViews = append(s.pageViews, rows...)
	return s.err
}

func (s *fakeStore) InsertEvents(_ context.Context, rows []storage.EventRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserts++
	s.events = append(s.events, rows...)
	return s.err
}

func (s *fakeStore) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions), len(s.pageViews), len(s.events)
}

func TestClickHouseFlushesOnBatchSize(t *testing.T) {
	store := &fakeStore{}
	c := NewClickHouse(store, config.BatchConfig{Size: 2, FlushInterval: time.Hour})
	defer c.Close()
	ctx := context.Background()

	ev := signal.PerformanceIssue{Header: header("s1"), Metric: signal.MetricLCP, Value: 3100}.Event()
	require.NoError(t, c.EmitEvent(ctx, ev))
	_, _, n := store.counts()
	assert.Equal(t, 0, n, "below batch size")

	require.NoError(t, c.EmitEvent(ctx, ev))
	_, _, n = store.counts()
	assert.Equal(t, 2, n)
}

func TestClickHouseCloseFlushesRemainder(t *testing.T) {
	store := &fakeStore{}
	c := NewClickHouse(store, config.BatchConfig{Size: 100, FlushInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, c.EmitSessionUpdate(ctx, signal.SessionUpdate{Header: header("s1"), IsActive: true}))
	require.NoError(t, c.EmitPageView(ctx, signal.PageView{Header: header("s1")}))
	require.NoError(t, c.Close())

	sessions, pageViews, events := store.counts()
	assert.Equal(t, 1, sessions)
	assert.Equal(t, 1, pageViews)
	assert.Equal(t, 0, events)
}

func TestClickHouseFlushesOnInterval(t *testing.T) {
	store := &fakeStore{}
	c := NewClickHouse(store, config.BatchConfig{Size: 100, FlushInterval: 10 * time.Millisecond})
	defer c.Close()

	require.NoError(t, c.EmitPageView(context.Background(), signal.PageView{Header: header("s1")}))
	assert.Eventually(t, func() bool {
		_, pv, _ := store.counts()
		return pv == 1
	}, time.Second, 5*time.Millisecond)
}

func TestClickHouseFlushReportsInsertErrors(t *testing.T) {
	boom := errors.New("table missing")
	store := &fakeStore{err: boom}
	c := NewClickHouse(store, config.BatchConfig{Size: 100, FlushInterval: time.Hour})
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.EmitPageView(ctx, signal.PageView{Header: header("s1")}))
	assert.ErrorIs(t, c.Flush(ctx), boom)
	assert.NoError(t, c.Flush(ctx), "failed rows are not retried")
}

func TestRowMapping(t *testing.T) {
	start := time.UnixMilli(1700000000000)
	u := signal.SessionUpdate{
		Header:    header("s1"),
		StartedAt: start,
		IsActive:  true,
		PageViews: 3,
		EntryPage: "/",
		Client:    classify.ClientInfo{Device: "tablet", Browser: "Chrome", OS: "Android", Bot: true},
	}
	row := SessionRow(u)
	assert.Equal(t, uint8(1), row.IsActive)
	assert.Equal(t, uint32(3), row.PageViews)
	assert.Equal(t, "/pricing", row.CurrentPage)
	assert.Equal(t, "tablet", row.DeviceType)
	assert.Equal(t, uint8(1), row.IsBot)
	assert.Equal(t, u.Timestamp, row.UpdatedAt)

	pv := PageViewRow(signal.PageView{
		Header:       header("s1"),
		DwellSeconds: 42,
		Final:        true,
		UTM:          classify.UTM{Source: "newsletter", Campaign: "spring"},
	})
	assert.Equal(t, uint32(42), pv.DwellSeconds)
	assert.Equal(t, uint8(1), pv.IsFinal)
	assert.Equal(t, "newsletter", pv.UTMSource)
	assert.Equal(t, "spring", pv.UTMCampaign)

	ev, err := EventRow(signal.Frustration{
		Header: header("s1"),
		Detail: signal.RageClick{Selector: "a#cta", Count: 4},
	}.Event())
	require.NoError(t, err)
	assert.Equal(t, "frustration_signal", ev.EventType)
	assert.Equal(t, "rage_click", ev.Subtype)
	assert.NotEqual(t, [16]byte{}, [16]byte(ev.EventID))

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(ev.Payload), &payload))
	assert.Equal(t, "a#cta", payload["selector"])
	assert.Equal(t, float64(4), payload["count"])
}
