package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ystepanoff/racelink/config"
	proto "github.com/ystepanoff/racelink/protocol"
	"github.com/ystepanoff/racelink/transport"
)

type ControllerState int32

const (
	ControllerIdle ControllerState = iota
	ControllerAwaitStartAck
	ControllerTimingStage1
	ControllerTimingStage2
)

func (s ControllerState) String() string {
	switch s {
	case ControllerIdle:
		return "idle"
	case ControllerAwaitStartAck:
		return "await_start_ack"
	case ControllerTimingStage1:
		return "timing_stage1"
	case ControllerTimingStage2:
		return "timing_stage2"
	}
	return "invalid"
}

// Result is a completed measurement as displayed, pauses already removed.
type Result struct {
	Distance int
	Stage1   int
	Stage2   int
}

// Controller drives the handheld node over Link A.
type Controller struct {
	link    *transport.Link
	display Display
	buttons Buttons
	cfg     config.ControllerConfig
	log     zerolog.Logger
	metrics *Metrics
	now     func() time.Time

	state    atomic.Int32
	distance atomic.Int32
	override atomic.Int32

	mu    sync.Mutex
	timer *StageTimer
}

func NewController(link *transport.Link, d Display, b Buttons, cfg config.ControllerConfig, opts ...Option) *Controller {
	o := buildOptions(opts)
	c := &Controller{
		link:    link,
		display: d,
		buttons: b,
		cfg:     cfg,
		log:     o.log,
		metrics: o.metrics,
		now:     o.now,
	}
	c.distance.Store(proto.SentinelValue)
	if cfg.DistanceOverride != 0 {
		c.SetDistanceOverride(cfg.DistanceOverride)
	}
	return c
}

func (c *Controller) State() ControllerState { return ControllerState(c.state.Load()) }

func (c *Controller) setState(s ControllerState) {
	if prev := ControllerState(c.state.Swap(int32(s))); prev != s {
		c.log.Debug().Stringer("from", prev).Stringer("to", s).Msg("state")
	}
}

// SetDistanceOverride fixes the course distance used by the next
// measurements instead of the last queried one.
func (c *Controller) SetDistanceOverride(meters int) {
	c.override.Store(int32(proto.ClampDistance(meters)))
}

func (c *Controller) ClearDistanceOverride() { c.override.Store(0) }

// Distance is the override if set, otherwise the last queried distance.
func (c *Controller) Distance() int {
	if o := c.override.Load(); o != 0 {
		return int(o)
	}
	return int(c.distance.Load())
}

// QueryDistance asks the master for the course length. Any failure yields
// the sentinel distance.
func (c *Controller) QueryDistance(ctx context.Context) int {
	meters := proto.SentinelValue
	defer func() {
		c.distance.Store(int32(meters))
		c.metrics.distance(meters)
	}()

	c.discardStale()
	if err := c.link.Send(proto.DistanceQuery); err != nil {
		return meters
	}
	m, ok := c.link.Listener().Await(ctx, c.cfg.ResponseTimeout)
	if !ok || !m.Is(proto.KindNumber) {
		c.log.Info().Bool("replied", ok).Stringer("msg", m).Msg("no distance reported")
		return meters
	}
	meters = proto.ClampDistance(m.Value)
	return meters
}

// Measure times one race. It returns proto.ErrTimeout when the master does not
// acknowledge Start and proto.ErrAborted when the stop button or ctx ends the
// race.
func (c *Controller) Measure(ctx context.Context) (Result, error) {
	defer c.setState(ControllerIdle)
	res := Result{Distance: c.Distance()}

	c.setState(ControllerAwaitStartAck)
	c.discardStale()
	if err := c.link.Send(proto.Start); err != nil {
		return res, err
	}
	m, ok := c.link.Listener().Await(ctx, c.cfg.StartAckTimeout)
	if !ok || !m.Is(proto.KindOk) {
		c.log.Info().Bool("replied", ok).Stringer("msg", m).Msg("start not acknowledged")
		return res, fmt.Errorf("start: %w", proto.ErrTimeout)
	}

	c.setState(ControllerTimingStage1)
	c.metrics.race("controller", "started")
	timer := NewStageTimer(c.display, res.Distance, c.now)
	c.mu.Lock()
	c.timer = timer
	c.mu.Unlock()

	raceCtx, cancel := context.WithCancel(ctx)
	var stopped atomic.Bool
	g, gctx := errgroup.WithContext(raceCtx)
	g.Go(func() error {
		timer.Run(gctx, c.cfg.TickInterval)
		return nil
	})
	g.Go(func() error {
		c.watchButtons(gctx, timer, func() {
			stopped.Store(true)
			cancel()
		})
		return nil
	})

	err := c.awaitStages(raceCtx, timer, &res)
	cancel()
	_ = g.Wait()

	if err != nil {
		if stopped.Load() {
			if serr := c.link.Send(proto.Stop); serr != nil {
				c.log.Warn().Err(serr).Msg("stop not delivered")
			}
		}
		c.metrics.race("controller", "aborted")
		c.log.Info().Bool("stop_button", stopped.Load()).Msg("measurement aborted")
		return res, err
	}
	c.metrics.race("controller", "completed")
	return res, nil
}

// discardStale drops late replies to earlier requests so they cannot answer
// the next one.
func (c *Controller) discardStale() {
	if n := c.link.Discard(); n > 0 {
		c.log.Info().Int("frames", n).Msg("discarded stale replies")
	}
}

func (c *Controller) awaitStages(ctx context.Context, timer *StageTimer, res *Result) error {
	for _, s := range []Stage{Stage1, Stage2} {
		m, ok := c.link.Listener().AwaitMatch(ctx, 0, transport.IsKind(proto.KindNumber))
		if !ok {
			return proto.ErrAborted
		}
		shown := timer.FinishStage(s, m.Value)
		c.metrics.stage("controller", strconv.Itoa(int(s)), shown)
		c.log.Info().Int("stage", int(s)).Int("reported_s", m.Value).Int("shown_s", shown).Msg("stage finished")

		if s == Stage1 {
			res.Stage1 = shown
			c.setState(ControllerTimingStage2)
		} else {
			res.Stage2 = shown
		}
	}
	return nil
}

// watchButtons toggles pause and handles stop until ctx ends.
func (c *Controller) watchButtons(ctx context.Context, timer *StageTimer, stop func()) {
	for {
		b, err := c.buttons.ReadButton(ctx, ButtonHome, ButtonStart)
		if err != nil {
			return
		}
		switch b {
		case ButtonPause:
			paused := timer.TogglePause()
			c.log.Debug().Bool("paused", paused).Msg("pause toggled")
		case ButtonStop:
			timer.Halt()
			stop()
			return
		}
	}
}

func (c *Controller) currentTimer() *StageTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer
}

// Run is the home menu: start measures a race, stop queries the distance and
// home drops a manual distance. It returns when ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	for {
		c.renderHome()
		b, err := c.buttons.ReadButton(ctx, ButtonPause)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch b {
		case ButtonStart:
			if _, err := c.Measure(ctx); err != nil {
				if !errors.Is(err, proto.ErrTimeout) && !errors.Is(err, proto.ErrAborted) {
					c.log.Warn().Err(err).Msg("measurement failed")
				}
				continue
			}
			// results stay on screen until acknowledged
			if _, err := c.buttons.ReadButton(ctx, ButtonPause, ButtonStop); err != nil {
				return nil
			}
		case ButtonStop:
			c.display.Clear()
			c.display.RenderLine(0, "MEASURING...")
			meters := c.QueryDistance(ctx)
			c.log.Info().Int("meters", meters).Msg("distance")
		case ButtonHome:
			c.ClearDistanceOverride()
		}
	}
}

func (c *Controller) renderHome() {
	c.display.Clear()
	c.display.RenderLine(0, "START:RACE STOP:DIST")
	c.display.RenderLine(1, fmt.Sprintf("%dMeters", c.Distance()))
}
