package session

import (
	"context"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ystepanoff/racelink/config"
	proto "github.com/ystepanoff/racelink/protocol"
	"github.com/ystepanoff/racelink/sensor"
	"github.com/ystepanoff/racelink/transport"
)

type MasterState int32

const (
	MasterIdle MasterState = iota
	MasterWaitStage1
	MasterSecondaryLeg
	MasterWaitStage2
)

func (s MasterState) String() string {
	switch s {
	case MasterIdle:
		return "idle"
	case MasterWaitStage1:
		return "wait_stage1"
	case MasterSecondaryLeg:
		return "secondary_leg"
	case MasterWaitStage2:
		return "wait_stage2"
	}
	return "invalid"
}

// Master serves the controller on Link A and drives the secondary on Link B.
// Commands from the controller are handled at any time while a race runs.
type Master struct {
	linkA    *transport.Link
	linkB    *transport.Link
	detector *sensor.Detector
	cfg      config.MasterConfig
	ranging  transport.RangingConfig
	log      zerolog.Logger
	metrics  *Metrics
	now      func() time.Time

	state    atomic.Int32
	running  atomic.Bool
	distance atomic.Int32

	mu          sync.Mutex
	race        *RaceSession
	races       chan *RaceSession
	relayCancel context.CancelFunc
}

func NewMaster(linkA, linkB *transport.Link, d *sensor.Detector, cfg config.MasterConfig, ranging transport.RangingConfig, opts ...Option) *Master {
	o := buildOptions(opts)
	m := &Master{
		linkA:    linkA,
		linkB:    linkB,
		detector: d,
		cfg:      cfg,
		ranging:  ranging,
		log:      o.log,
		metrics:  o.metrics,
		now:      o.now,
		races:    make(chan *RaceSession, 1),
	}
	m.distance.Store(proto.SentinelValue)
	return m
}

func (m *Master) State() MasterState { return MasterState(m.state.Load()) }

// Running reports whether a race has been started and not stopped or finished.
func (m *Master) Running() bool { return m.running.Load() }

func (m *Master) setState(s MasterState) {
	if prev := MasterState(m.state.Swap(int32(s))); prev != s {
		m.log.Debug().Stringer("from", prev).Stringer("to", s).Msg("state")
	}
}

// Run serves Link A and runs races until ctx ends.
func (m *Master) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.serveController(gctx, g) })
	g.Go(func() error { return m.raceLoop(gctx) })
	err := g.Wait()

	m.mu.Lock()
	if m.race != nil {
		m.race.Abort()
	}
	m.mu.Unlock()
	return err
}

// serveController handles Link A. Distance relays run as their own task on g
// so Start and Stop are served while ranging.
func (m *Master) serveController(ctx context.Context, g *errgroup.Group) error {
	for ctx.Err() == nil {
		msg, ok := m.linkA.Listener().Await(ctx, 0)
		if !ok {
			continue
		}

		switch msg.Kind {
		case proto.KindStart:
			if !m.reply(ctx, proto.Ok) {
				continue
			}
			m.beginRace(ctx)
		case proto.KindStop:
			m.cancelRelay()
			m.abortRace()
		case proto.KindDistanceQuery:
			m.startRelay(ctx, g)
		default:
			m.log.Debug().Stringer("msg", msg).Msg("ignoring controller message")
		}
	}
	return nil
}

// reply answers the controller after the reply delay so it is back in
// receive mode.
func (m *Master) reply(ctx context.Context, msg proto.Message) bool {
	if !sleepCtx(ctx, m.cfg.ReplyDelay) {
		return false
	}
	return m.linkA.Send(msg) == nil
}

func (m *Master) beginRace(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.race != nil && !m.race.Aborted() {
		m.log.Info().Str("race_id", m.race.ID.String()).Msg("start while racing, keeping current race")
		return
	}

	race := newRaceSession(ctx, int(m.distance.Load()), m.now())
	select {
	case m.races <- race:
	default:
		m.log.Warn().Msg("race already queued")
		race.Abort()
		return
	}
	m.race = race
	m.running.Store(true)
	m.metrics.race("master", "started")
	m.log.Info().Str("race_id", race.ID.String()).Msg("race started")
}

func (m *Master) abortRace() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running.Store(false)
	if m.race == nil || m.race.Aborted() {
		m.log.Debug().Msg("stop without a running race")
		return
	}
	m.race.Abort()
	m.log.Info().Str("race_id", m.race.ID.String()).Msg("race stopped")
}

func (m *Master) startRelay(ctx context.Context, g *errgroup.Group) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.relayCancel != nil {
		m.log.Debug().Msg("distance relay already running")
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	m.relayCancel = cancel
	g.Go(func() error {
		defer func() {
			m.mu.Lock()
			m.relayCancel = nil
			m.mu.Unlock()
			cancel()
		}()
		meters := m.relayDistance(rctx)
		m.reply(rctx, proto.Number(meters))
		return nil
	})
}

// cancelRelay abandons a running distance relay; no reply is sent for it.
func (m *Master) cancelRelay() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.relayCancel != nil {
		m.relayCancel()
		m.log.Info().Msg("distance relay cancelled")
	}
}

// relayDistance asks the secondary to echo and ranges it. Without an Ok
// within the relay timeout the sentinel distance is returned.
func (m *Master) relayDistance(ctx context.Context) int {
	meters := proto.SentinelValue
	err := m.linkB.Exchange(func(x *transport.Exchange) error {
		if err := x.Send(proto.DistanceQuery); err != nil {
			return err
		}
		if _, ok := x.Expect(ctx, m.cfg.DistanceRelayTimeout, transport.IsKind(proto.KindOk)); !ok {
			return proto.ErrTimeout
		}
		est, err := transport.Measure(ctx, x, m.ranging)
		if err != nil {
			return err
		}
		meters = proto.ClampDistance(int(math.Round(est)))
		return nil
	})
	if ctx.Err() != nil {
		return meters
	}
	if err != nil {
		m.log.Info().Err(err).Msg("no distance from secondary")
	}
	m.distance.Store(int32(meters))
	return meters
}

func (m *Master) raceLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case race := <-m.races:
			m.runRace(race)
		}
	}
}

func (m *Master) runRace(race *RaceSession) {
	ctx := race.Context()
	log := m.log.With().Str("race_id", race.ID.String()).Logger()
	secondary := false

	defer func() {
		m.mu.Lock()
		if m.race == race {
			m.race = nil
			m.running.Store(false)
		}
		m.mu.Unlock()
		race.Abort()
		m.setState(MasterIdle)
	}()

	abort := func() {
		m.metrics.race("master", "aborted")
		log.Info().Stringer("state", m.State()).Msg("race aborted")
		if secondary {
			if err := m.linkB.Send(proto.Stop); err != nil {
				log.Warn().Err(err).Msg("secondary not released")
			}
		}
	}

	m.setState(MasterWaitStage1)
	if _, ok := m.detector.WaitForEdge(ctx); !ok {
		abort()
		return
	}
	race.StagesInit = m.now()
	m.setState(MasterSecondaryLeg)

	secondary = m.startSecondary(ctx)
	stage1 := proto.SentinelValue
	if secondary {
		msg, ok := m.linkB.Listener().AwaitMatch(ctx, 0, transport.IsKind(proto.KindEnd, proto.KindNumber))
		if !ok {
			abort()
			return
		}
		secondary = false
		stage1 = elapsedSeconds(race.StagesInit, m.now())
		log.Debug().Stringer("msg", msg).Msg("secondary finished")
	} else {
		log.Info().Msg("secondary did not acknowledge, skipping its leg")
	}
	if ctx.Err() != nil {
		abort()
		return
	}
	race.Stage1 = stage1
	m.report(ctx, Stage1, stage1)

	m.setState(MasterWaitStage2)
	if _, ok := m.detector.WaitForEdge(ctx); !ok {
		abort()
		return
	}
	race.Stage2 = elapsedSeconds(race.StagesInit, m.now())
	m.report(ctx, Stage2, race.Stage2)

	m.metrics.race("master", "completed")
	log.Info().Int("stage1_s", race.Stage1).Int("stage2_s", race.Stage2).Msg("race finished")
}

// startSecondary sends Start on Link B and reports whether the secondary
// acknowledged within the peer timeout.
func (m *Master) startSecondary(ctx context.Context) bool {
	acked := false
	_ = m.linkB.Exchange(func(x *transport.Exchange) error {
		if err := x.Send(proto.Start); err != nil {
			return err
		}
		_, acked = x.Expect(ctx, m.cfg.PeerAckTimeout, transport.IsKind(proto.KindOk))
		return nil
	})
	return acked
}

func (m *Master) report(ctx context.Context, s Stage, seconds int) {
	if ctx.Err() != nil {
		return
	}
	m.metrics.stage("master", strconv.Itoa(int(s)), seconds)
	if err := m.linkA.Send(proto.Number(seconds)); err != nil {
		m.log.Warn().Err(err).Int("stage", int(s)).Msg("stage result not delivered")
	}
}
