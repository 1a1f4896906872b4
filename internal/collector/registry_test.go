package collector

import (
	"context"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosight/gosight/tracker/internal/config"
	"github.com/gosight/gosight/tracker/internal/session"
	"github.com/gosight/gosight/tracker/internal/signal"
	"github.com/gosight/gosight/tracker/internal/sink/sinktest"
	"github.com/gosight/gosight/tracker/internal/tracker"
)

// engineFactory builds engines on their own mock clock so that advancing the
// registry clock never runs into an engine idle timer.
func engineFactory(t *testing.T, rec *sinktest.Recorder) EngineFactory {
	engineClock := quartz.NewMock(t)
	return func(env session.Environment) *tracker.Engine {
		return tracker.New(config.DefaultTracker(), env, rec, tracker.WithClock(engineClock))
	}
}

func TestRegistryReusesInstances(t *testing.T) {
	rec := &sinktest.Recorder{}
	r := NewRegistry(quartz.NewMock(t), time.Minute, engineFactory(t, rec))
	defer r.Close()

	a := r.Get("p:1", session.Environment{ProjectID: "p"})
	b := r.Get("p:1", session.Environment{ProjectID: "p"})
	c := r.Get("p:2", session.Environment{ProjectID: "p"})
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, r.Len())

	r.Remove("p:2")
	assert.Equal(t, 1, r.Len())
}

func TestRegistryReapClosesIdleInstances(t *testing.T) {
	rec := &sinktest.Recorder{}
	mClock := quartz.NewMock(t)
	r := NewRegistry(mClock, 10*time.Minute, engineFactory(t, rec))
	defer r.Close()

	stale := r.Get("p:stale", session.Environment{})
	stale.RecordPageView("/a", "A")
	mClock.Advance(6 * time.Minute)
	r.Get("p:fresh", session.Environment{})
	mClock.Advance(5 * time.Minute)

	assert.Equal(t, 1, r.Reap())
	assert.Equal(t, 1, r.Len())

	// The open page was closed before the engine went away
	var final []signal.PageView
	for _, s := range rec.Signals() {
		if v, ok := s.(signal.PageView); ok && v.Final {
			final = append(final, v)
		}
	}
	require.Len(t, final, 1)
	assert.Equal(t, "/a", final[0].Page)

	// A closed engine ignores late events
	n := rec.Len()
	stale.RecordPageView("/b", "B")
	assert.Equal(t, n, rec.Len())
}

func TestRegistryRunReapsOnInterval(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mClock := quartz.NewMock(t)
	trap := mClock.Trap().TickerFunc("registry")
	defer trap.Close()

	r := NewRegistry(mClock, 10*time.Minute, engineFactory(t, &sinktest.Recorder{}))
	defer r.Close()
	r.Get("p:1", session.Environment{})

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- r.Run(runCtx) }()
	trap.MustWait(ctx).MustRelease(ctx)

	mClock.Advance(5 * time.Minute).MustWait(ctx)
	mClock.Advance(5 * time.Minute).MustWait(ctx)
	assert.Equal(t, 1, r.Len(), "exactly the TTL is not stale yet")

	mClock.Advance(5 * time.Minute).MustWait(ctx)
	assert.Equal(t, 0, r.Len())

	stop()
	require.NoError(t, <-done)
}
