// Package sinktest provides an in-memory sink for tests.
package sinktest

import (
	"context"
	"sync"

	"github.com/gosight/gosight/tracker/internal/signal"
)

// Recorder keeps every signal it receives, in arrival order.
type Recorder struct {
	mu      sync.Mutex
	signals []signal.Signal
	updates []signal.SessionUpdate
	views   []signal.PageView
	events  []signal.Event
	beacons []signal.Signal

	// Err, when set, is returned from every Emit call after recording.
	Err error
}

func (r *Recorder) Emit(sig signal.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
}

func (r *Recorder) EmitSessionUpdate(_ context.Context, u signal.SessionUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return r.Err
}

func (r *Recorder) EmitPageView(_ context.Context, v signal.PageView) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views = append(r.views, v)
	return r.Err
}

func (r *Recorder) EmitEvent(_ context.Context, e signal.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.Err
}

func (r *Recorder) Beacon(sig signal.Signal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beacons = append(r.beacons, sig)
}

// Signals returns what was passed to Emit.
func (r *Recorder) Signals() []signal.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signal.Signal(nil), r.signals...)
}

func (r *Recorder) SessionUpdates() []signal.SessionUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signal.SessionUpdate(nil), r.updates...)
}

func (r *Recorder) PageViews() []signal.PageView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signal.PageView(nil), r.views...)
}

func (r *Recorder) Events() []signal.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signal.Event(nil), r.events...)
}

func (r *Recorder) Beacons() []signal.Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]signal.Signal(nil), r.beacons...)
}

// Len is the total number of signals received on any path.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals) + len(r.updates) + len(r.views) + len(r.events) + len(r.beacons)
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals, r.updates, r.views, r.events, r.beacons = nil, nil, nil, nil, nil
}
