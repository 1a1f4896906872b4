package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/tracker/internal/session"
	"github.com/gosight/gosight/tracker/internal/tracker"
)

// EngineFactory builds the engine of a newly seen instance.
type EngineFactory func(env session.Environment) *tracker.Engine

type entry struct {
	engine   *tracker.Engine
	lastSeen time.Time
}

// Registry keeps one engine per browser tab instance. Engines not seen for
// the TTL are closed by Reap.
type Registry struct {
	mu        sync.Mutex
	clock     quartz.Clock
	ttl       time.Duration
	newEngine EngineFactory
	entries   map[string]*entry
}

func NewRegistry(clock quartz.Clock, ttl time.Duration, newEngine EngineFactory) *Registry {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Registry{
		clock:     clock,
		ttl:       ttl,
		newEngine: newEngine,
		entries:   make(map[string]*entry),
	}
}

// Get returns the engine for key, creating it from env on first sight.
func (r *Registry) Get(key string, env session.Environment) *tracker.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if e, ok := r.entries[key]; ok {
		e.lastSeen = now
		return e.engine
	}

	e := &entry{engine: r.newEngine(env), lastSeen: now}
	r.entries[key] = e
	return e.engine
}

// Remove closes and forgets the engine for key.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	e, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()

	if ok {
		e.engine.Close()
	}
}

// Reap closes every engine idle for longer than the TTL and returns how many
// were closed.
func (r *Registry) Reap() int {
	r.mu.Lock()
	now := r.clock.Now()
	var stale []*tracker.Engine
	for key, e := range r.entries {
		if now.Sub(e.lastSeen) > r.ttl {
			stale = append(stale, e.engine)
			delete(r.entries, key)
		}
	}
	r.mu.Unlock()

	for _, engine := range stale {
		engine.Unload()
		engine.Close()
	}
	if len(stale) > 0 {
		log.Debug().Int("count", len(stale)).Msg("Reaped idle tracker instances")
	}
	return len(stale)
}

// Run reaps on a fixed interval until ctx ends.
func (r *Registry) Run(ctx context.Context) error {
	interval := r.ttl / 2
	w := r.clock.TickerFunc(ctx, interval, func() error {
		r.Reap()
		return nil
	}, "registry", "reap")
	err := w.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close unloads and closes every engine.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.engine.Unload()
		e.engine.Close()
	}
}
