package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ystepanoff/racelink/config"
	proto "github.com/ystepanoff/racelink/protocol"
	"github.com/ystepanoff/racelink/sensor"
	"github.com/ystepanoff/racelink/transport"
)

type SecondaryState int32

const (
	SecondaryIdle SecondaryState = iota
	SecondaryWaitStart
	SecondaryTimedWait
)

func (s SecondaryState) String() string {
	switch s {
	case SecondaryIdle:
		return "idle"
	case SecondaryWaitStart:
		return "wait_start"
	case SecondaryTimedWait:
		return "timed_wait"
	}
	return "invalid"
}

// Secondary is the far gate. It answers distance queries with ranging echoes
// and reports its staged edge with End.
type Secondary struct {
	link     *transport.Link
	detector *sensor.Detector
	cfg      config.SecondaryConfig
	echoIdle time.Duration
	log      zerolog.Logger
	metrics  *Metrics

	state atomic.Int32
}

func NewSecondary(link *transport.Link, d *sensor.Detector, cfg config.SecondaryConfig, echoIdle time.Duration, opts ...Option) *Secondary {
	o := buildOptions(opts)
	return &Secondary{
		link:     link,
		detector: d,
		cfg:      cfg,
		echoIdle: echoIdle,
		log:      o.log,
		metrics:  o.metrics,
	}
}

func (s *Secondary) State() SecondaryState { return SecondaryState(s.state.Load()) }

func (s *Secondary) setState(st SecondaryState) {
	if prev := SecondaryState(s.state.Swap(int32(st))); prev != st {
		s.log.Debug().Stringer("from", prev).Stringer("to", st).Msg("state")
	}
}

// Run alternates between waiting for Start and the timed wait until ctx ends.
func (s *Secondary) Run(ctx context.Context) error {
	defer s.setState(SecondaryIdle)
	for ctx.Err() == nil {
		if !s.waitStart(ctx) {
			continue
		}
		s.timedWait(ctx)
	}
	return nil
}

// waitStart services Link B until a Start is acknowledged.
func (s *Secondary) waitStart(ctx context.Context) bool {
	s.setState(SecondaryWaitStart)
	for {
		msg, ok := s.link.Listener().Await(ctx, 0)
		if !ok {
			if ctx.Err() != nil {
				return false
			}
			continue
		}

		switch msg.Kind {
		case proto.KindStart:
			if err := s.link.Send(proto.Ok); err != nil {
				continue
			}
			return true
		case proto.KindDistanceQuery:
			s.echo(ctx)
		case proto.KindStop:
			s.log.Debug().Msg("stop outside a race")
		default:
			s.log.Debug().Stringer("msg", msg).Msg("ignoring message")
		}
	}
}

// timedWait runs the detector while Link B keeps being served. End is sent
// when the edge is seen; Stop aborts the wait unless configured otherwise.
func (s *Secondary) timedWait(ctx context.Context) {
	s.setState(SecondaryTimedWait)
	defer s.setState(SecondaryIdle)
	s.metrics.race("secondary", "started")

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var detected, stopped atomic.Bool
	g, gctx := errgroup.WithContext(waitCtx)
	g.Go(func() error {
		_, ok := s.detector.WaitForEdge(gctx)
		detected.Store(ok)
		cancel()
		return nil
	})
	g.Go(func() error {
		for gctx.Err() == nil {
			msg, ok := s.link.Listener().Await(gctx, 0)
			if !ok {
				continue
			}
			switch msg.Kind {
			case proto.KindDistanceQuery:
				s.echo(gctx)
			case proto.KindStop:
				if s.cfg.StopAbortsWait {
					stopped.Store(true)
					cancel()
					return nil
				}
				s.log.Debug().Msg("stop ignored while waiting")
			default:
				s.log.Debug().Stringer("msg", msg).Msg("ignoring message")
			}
		}
		return nil
	})
	_ = g.Wait()

	if !detected.Load() || stopped.Load() {
		s.metrics.race("secondary", "aborted")
		s.log.Info().Bool("stopped", stopped.Load()).Msg("timed wait ended without edge")
		return
	}
	if err := s.link.Send(proto.End); err != nil {
		s.log.Warn().Err(err).Msg("end not delivered")
		return
	}
	s.metrics.race("secondary", "completed")
	s.log.Info().Msg("edge reported")
}

// echo acknowledges a distance query and answers pings until the master
// stops or goes quiet.
func (s *Secondary) echo(ctx context.Context) {
	_ = s.link.Exchange(func(x *transport.Exchange) error {
		if err := x.Send(proto.Ok); err != nil {
			return err
		}
		pongs := transport.Echo(ctx, x, s.echoIdle)
		s.log.Debug().Int("pongs", pongs).Msg("ranging echo done")
		return nil
	})
}
