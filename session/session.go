// Package session runs the race protocol on each of the three nodes: the
// handheld controller, the master gate and the secondary gate.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Button identifies a controller key.
type Button int

const (
	ButtonHome Button = iota
	ButtonStart
	ButtonPause
	ButtonStop
)

func (b Button) String() string {
	switch b {
	case ButtonHome:
		return "home"
	case ButtonStart:
		return "start"
	case ButtonPause:
		return "pause"
	case ButtonStop:
		return "stop"
	}
	return "unknown"
}

// Display is a two-line character display.
type Display interface {
	RenderLine(row int, text string)
	Clear()
}

// Buttons delivers debounced key presses. ReadButton blocks until a button
// not listed in excluded is pressed or ctx ends.
type Buttons interface {
	ReadButton(ctx context.Context, excluded ...Button) (Button, error)
}

// RaceSession is one accepted Start command. It is aborted by Stop or by the
// end of the node's run.
type RaceSession struct {
	ID         uuid.UUID
	Distance   int
	Started    time.Time
	StagesInit time.Time
	// Stage results in whole seconds, -1 until known.
	Stage1 int
	Stage2 int

	ctx    context.Context
	cancel context.CancelFunc
}

func newRaceSession(parent context.Context, distance int, now time.Time) *RaceSession {
	ctx, cancel := context.WithCancel(parent)
	return &RaceSession{
		ID:       uuid.New(),
		Distance: distance,
		Started:  now,
		Stage1:   -1,
		Stage2:   -1,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Context ends when the race is aborted.
func (r *RaceSession) Context() context.Context { return r.ctx }

func (r *RaceSession) Abort() { r.cancel() }

func (r *RaceSession) Aborted() bool { return r.ctx.Err() != nil }

// elapsedSeconds is end minus init, floored to whole seconds and never negative.
func elapsedSeconds(init, end time.Time) int {
	d := end.Sub(init)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

type options struct {
	log     zerolog.Logger
	metrics *Metrics
	now     func() time.Time
}

// Option configures a Controller, Master or Secondary.
type Option func(*options)

func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock replaces time.Now for stage and pause arithmetic.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// sleepCtx waits d or until ctx ends, reporting whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
