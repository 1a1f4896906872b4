package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/gosight/tracker/internal/config"
	"github.com/gosight/gosight/tracker/internal/signal"
	"github.com/gosight/gosight/tracker/internal/sink"
	"github.com/gosight/gosight/tracker/internal/sink/sinktest"
)

func pageView(page string) signal.PageView {
	return signal.PageView{Header: signal.Header{SessionID: "s1", Page: page, Timestamp: time.Now()}}
}

// blockingSink holds every delivery until release is closed.
type blockingSink struct {
	sinktest.Recorder
	started chan struct{}
	release chan struct{}
}

func (b *blockingSink) EmitPageView(ctx context.Context, v signal.PageView) error {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-b.release
	return b.Recorder.EmitPageView(ctx, v)
}

type panicSink struct{ sinktest.Recorder }

// plainSink hides the recorder's beacon path.
type plainSink struct{ sink.Sink }

func (p *panicSink) EmitPageView(context.Context, signal.PageView) error {
	panic("transport exploded")
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	rec := &sinktest.Recorder{}
	d := New(rec, config.DispatchConfig{QueueSize: 16})

	pages := []string{"/a", "/b", "/c", "/d"}
	for _, p := range pages {
		d.Emit(pageView(p))
	}
	require.NoError(t, d.Close(context.Background()))

	views := rec.PageViews()
	require.Len(t, views, len(pages))
	for i, v := range views {
		assert.Equal(t, pages[i], v.Page)
	}
	assert.Equal(t, uint64(4), d.Delivered())
	assert.Zero(t, d.Dropped())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	bs := &blockingSink{started: make(chan struct{}, 1), release: make(chan struct{})}
	d := New(bs, config.DispatchConfig{QueueSize: 2})

	d.Emit(pageView("/in-flight"))
	<-bs.started

	d.Emit(pageView("/q1"))
	d.Emit(pageView("/q2"))

	done := make(chan struct{})
	go func() {
		d.Emit(pageView("/dropped"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a full queue")
	}
	assert.Equal(t, uint64(1), d.Dropped())

	close(bs.release)
	require.NoError(t, d.Close(context.Background()))

	var got []string
	for _, v := range bs.PageViews() {
		got = append(got, v.Page)
	}
	assert.Equal(t, []string{"/in-flight", "/q1", "/q2"}, got)
}

func TestDispatcherSwallowsSinkFailures(t *testing.T) {
	rec := &sinktest.Recorder{Err: errors.New("collector down")}
	d := New(rec, config.DispatchConfig{})
	d.Emit(pageView("/a"))
	d.Emit(signal.FeatureUse{Header: signal.Header{SessionID: "s1"}, Feature: "export"})
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, uint64(2), d.Failed())
	assert.Len(t, rec.PageViews(), 1)
	assert.Len(t, rec.Events(), 1)
}

func TestDispatcherRecoversFromSinkPanic(t *testing.T) {
	ps := &panicSink{}
	d := New(ps, config.DispatchConfig{})
	d.Emit(pageView("/a"))
	d.Emit(signal.FeatureUse{Header: signal.Header{SessionID: "s1"}, Feature: "export"})
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, uint64(1), d.Failed())
	assert.Equal(t, uint64(1), d.Delivered(), "the goroutine survives a panic")
}

func TestDispatcherEmitAfterClose(t *testing.T) {
	d := New(&sinktest.Recorder{}, config.DispatchConfig{})
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()), "close is idempotent")

	assert.NotPanics(t, func() { d.Emit(pageView("/late")) })
	assert.Equal(t, uint64(1), d.Dropped())
}

func TestDispatcherCloseHonoursContext(t *testing.T) {
	bs := &blockingSink{started: make(chan struct{}, 1), release: make(chan struct{})}
	defer close(bs.release)
	d := New(bs, config.DispatchConfig{})
	d.Emit(pageView("/stuck"))
	<-bs.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}

func TestDispatcherBeaconReachesEverySink(t *testing.T) {
	fast := &sinktest.Recorder{}
	slow := &sinktest.Recorder{}
	d := New(sink.Multi{fast, plainSink{slow}}, config.DispatchConfig{})
	require.True(t, d.HasBeacon())

	final := pageView("/checkout")
	final.DwellSeconds = 42
	final.Final = true
	d.Beacon(final)
	require.NoError(t, d.Close(context.Background()))

	require.Len(t, fast.Beacons(), 1)
	assert.Empty(t, fast.PageViews(), "beacon sinks get the view once")

	views := slow.PageViews()
	require.Len(t, views, 1)
	assert.Equal(t, 42, views[0].DwellSeconds)
	assert.True(t, views[0].Final)
	assert.Equal(t, uint64(1), d.Delivered())
}

func TestDispatcherBeaconOnlySinks(t *testing.T) {
	rec := &sinktest.Recorder{}
	d := New(rec, config.DispatchConfig{})
	d.Beacon(pageView("/a"))
	require.NoError(t, d.Close(context.Background()))

	assert.Len(t, rec.Beacons(), 1)
	assert.Empty(t, rec.PageViews())
	assert.Zero(t, d.Delivered())
}

func TestDispatcherWithoutBeaconSinks(t *testing.T) {
	d := New(plainSink{&sinktest.Recorder{}}, config.DispatchConfig{})
	defer d.Close(context.Background())
	assert.False(t, d.HasBeacon())
}

func TestDispatcherBeaconAfterClose(t *testing.T) {
	rec := &sinktest.Recorder{}
	d := New(sink.Multi{rec, plainSink{&sinktest.Recorder{}}}, config.DispatchConfig{})
	require.NoError(t, d.Close(context.Background()))

	assert.NotPanics(t, func() { d.Beacon(pageView("/late")) })
	assert.Empty(t, rec.Beacons())
	assert.Equal(t, uint64(1), d.Dropped())
}
