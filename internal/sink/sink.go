// Package sink delivers tracker signals to external systems.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/gosight/gosight/tracker/internal/signal"
)

// Sink is the transport the tracker hands signals to. Delivery failures are
// reported to the caller, which logs and discards them.
type Sink interface {
	EmitSessionUpdate(ctx context.Context, update signal.SessionUpdate) error
	EmitPageView(ctx context.Context, view signal.PageView) error
	EmitEvent(ctx context.Context, event signal.Event) error
}

// Beaconer is implemented by sinks with a fire-and-forget path that is safe
// to use while the host tears down. Beacon must not block.
type Beaconer interface {
	Beacon(sig signal.Signal)
}

// Deliver routes a signal to the matching sink method.
func Deliver(ctx context.Context, s Sink, sig signal.Signal) error {
	switch v := sig.(type) {
	case signal.SessionUpdate:
		return s.EmitSessionUpdate(ctx, v)
	case signal.PageView:
		return s.EmitPageView(ctx, v)
	case signal.Frustration:
		return s.EmitEvent(ctx, v.Event())
	case signal.PerformanceIssue:
		return s.EmitEvent(ctx, v.Event())
	case signal.FeatureUse:
		return s.EmitEvent(ctx, v.Event())
	}
	return fmt.Errorf("sink: unhandled signal %T", sig)
}

// DeliverEnvelope routes a decoded envelope to the matching sink method.
func DeliverEnvelope(ctx context.Context, s Sink, env signal.Envelope) error {
	switch {
	case env.Session != nil:
		return s.EmitSessionUpdate(ctx, *env.Session)
	case env.PageView != nil:
		return s.EmitPageView(ctx, *env.PageView)
	case env.Event != nil:
		return s.EmitEvent(ctx, *env.Event)
	}
	return signal.ErrEmptyEnvelope
}

// Multi fans every signal out to all sinks. One failing sink does not stop
// the others; their errors are joined.
type Multi []Sink

func (m Multi) EmitSessionUpdate(ctx context.Context, update signal.SessionUpdate) error {
	var errs []error
	for _, s := range m {
		if err := s.EmitSessionUpdate(ctx, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) EmitPageView(ctx context.Context, view signal.PageView) error {
	var errs []error
	for _, s := range m {
		if err := s.EmitPageView(ctx, view); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) EmitEvent(ctx context.Context, event signal.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.EmitEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SplitBeacon separates the sinks with a beacon path from those without
// one. A Multi is split member by member.
func SplitBeacon(s Sink) ([]Beaconer, Multi) {
	members, ok := s.(Multi)
	if !ok {
		members = Multi{s}
	}

	var beacons []Beaconer
	var rest Multi
	for _, m := range members {
		if b, ok := m.(Beaconer); ok {
			beacons = append(beacons, b)
			continue
		}
		rest = append(rest, m)
	}
	return beacons, rest
}
