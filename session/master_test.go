package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ystepanoff/racelink/config"
	proto "github.com/ystepanoff/racelink/protocol"
	"github.com/ystepanoff/racelink/sensor"
	"github.com/ystepanoff/racelink/transport"
)

// rig wires all three nodes over stub radios.
type rig struct {
	ctl       *Controller
	master    *Master
	secondary *Secondary

	// controller side of Link A and secondary side of Link B
	ctlLink, secLink *transport.Link

	display    *recordingDisplay
	buttons    *scriptedButtons
	masterGate *gate
	secGate    *gate
	clock      *fakeClock
	metrics    *Metrics
}

type rigOptions struct {
	noSecondary    bool
	rawController  bool
	stopAbortsWait bool
}

func newRig(t *testing.T, ro rigOptions) *rig {
	t.Helper()
	r := &rig{
		display:    &recordingDisplay{},
		buttons:    newScriptedButtons(),
		masterGate: newGate(),
		secGate:    newGate(),
		clock:      newFakeClock(),
		metrics:    NewMetrics(prometheus.NewRegistry()),
	}

	ctlLink, masterA := linkPair(t, "a", proto.TextCodec{})
	masterB, secLink := linkPair(t, "b", proto.FixedCodec{})
	r.ctlLink, r.secLink = ctlLink, secLink

	r.master = NewMaster(masterA, masterB, testDetector(r.masterGate), testMasterConfig(), testRanging(),
		WithClock(r.clock.Now), WithMetrics(r.metrics))
	runNode(t, r.master.Run)

	if !ro.noSecondary {
		r.secondary = NewSecondary(secLink, testDetector(r.secGate),
			config.SecondaryConfig{StopAbortsWait: ro.stopAbortsWait}, testRanging().ReceiverIdle,
			WithMetrics(r.metrics))
		runNode(t, r.secondary.Run)
	}
	if !ro.rawController {
		r.ctl = NewController(ctlLink, r.display, r.buttons, testControllerConfig(), WithMetrics(r.metrics))
	}
	return r
}

func (r *rig) raceID() uuid.UUID {
	r.master.mu.Lock()
	defer r.master.mu.Unlock()
	if r.master.race == nil {
		return uuid.Nil
	}
	return r.master.race.ID
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, waitFor, time.Millisecond, msg)
}

func TestMasterAlwaysAcknowledgesStart(t *testing.T) {
	r := newRig(t, rigOptions{noSecondary: true, rawController: true})

	require.NoError(t, r.ctlLink.Send(proto.Start))
	expect(t, r.ctlLink, proto.KindOk)
	eventually(t, r.master.Running, "running after start")
	eventually(t, func() bool { return r.master.State() == MasterWaitStage1 }, "waiting for stage 1")
	id := r.raceID()
	require.NotEqual(t, uuid.Nil, id)

	// a second Start is acknowledged and keeps the race
	require.NoError(t, r.ctlLink.Send(proto.Start))
	expect(t, r.ctlLink, proto.KindOk)
	assert.Equal(t, id, r.raceID())
	assert.True(t, r.master.Running())
}

func TestMasterStopIsIdempotent(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	r := newRig(t, rigOptions{noSecondary: true, rawController: true})

	require.NoError(t, r.ctlLink.Send(proto.Start))
	expect(t, r.ctlLink, proto.KindOk)
	eventually(t, func() bool { return r.master.State() == MasterWaitStage1 }, "waiting for stage 1")

	require.NoError(t, r.ctlLink.Send(proto.Stop))
	eventually(t, func() bool { return r.master.State() == MasterIdle && !r.master.Running() }, "idle after stop")

	require.NoError(t, r.ctlLink.Send(proto.Stop))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, MasterIdle, r.master.State())
	assert.False(t, r.master.Running())
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.Races.WithLabelValues("master", "aborted")))

	// a new race can start afterwards
	require.NoError(t, r.ctlLink.Send(proto.Start))
	expect(t, r.ctlLink, proto.KindOk)
	eventually(t, r.master.Running, "running again")
}

func TestDistanceQueryWithoutSecondary(t *testing.T) {
	r := newRig(t, rigOptions{noSecondary: true})

	start := time.Now()
	assert.Equal(t, proto.SentinelValue, r.ctl.QueryDistance(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), testMasterConfig().DistanceRelayTimeout)
}

func TestDistanceQueryRangesSecondary(t *testing.T) {
	r := newRig(t, rigOptions{})

	// stub radios answer within microseconds to milliseconds, which at the
	// speed of light is far beyond the course limit
	assert.Equal(t, proto.MaxDistance, r.ctl.QueryDistance(context.Background()))
	assert.Equal(t, int32(proto.MaxDistance), r.master.distance.Load())
	assert.Equal(t, SecondaryWaitStart, r.secondary.State())
}

func TestMasterSkipsSilentSecondary(t *testing.T) {
	r := newRig(t, rigOptions{noSecondary: true, rawController: true})

	require.NoError(t, r.ctlLink.Send(proto.Start))
	expect(t, r.ctlLink, proto.KindOk)
	eventually(t, func() bool { return r.master.State() == MasterWaitStage1 }, "waiting for stage 1")
	r.masterGate.pass(t)

	m := expect(t, r.ctlLink, proto.KindNumber)
	assert.Equal(t, proto.SentinelValue, m.Value)
	eventually(t, func() bool { return r.master.State() == MasterWaitStage2 }, "waiting for stage 2")
}

// ackOnlySecondary accepts distance queries on l and then ignores the pings.
func ackOnlySecondary(t *testing.T, l *transport.Link) {
	t.Helper()
	runNode(t, func(ctx context.Context) error {
		for ctx.Err() == nil {
			m, ok := l.Listener().Await(ctx, 0)
			if ok && m.Is(proto.KindDistanceQuery) {
				_ = l.Send(proto.Ok)
			}
		}
		return nil
	})
}

// noNumber asserts the controller side of Link A stays free of results.
func noNumber(t *testing.T, r *rig, window time.Duration) {
	t.Helper()
	m, ok := r.ctlLink.Listener().AwaitMatch(context.Background(), window, transport.IsKind(proto.KindNumber))
	assert.False(t, ok, "unexpected %s", m)
}

func TestMasterStopDuringStage2(t *testing.T) {
	r := newRig(t, rigOptions{noSecondary: true, rawController: true})

	require.NoError(t, r.ctlLink.Send(proto.Start))
	expect(t, r.ctlLink, proto.KindOk)
	eventually(t, func() bool { return r.master.State() == MasterWaitStage1 }, "waiting for stage 1")
	r.masterGate.pass(t)
	expect(t, r.ctlLink, proto.KindNumber)
	eventually(t, func() bool { return r.master.State() == MasterWaitStage2 }, "waiting for stage 2")

	require.NoError(t, r.ctlLink.Send(proto.Stop))
	eventually(t, func() bool { return r.master.State() == MasterIdle && !r.master.Running() }, "idle after stop")

	r.masterGate.set(sensor.NoResponse)
	time.Sleep(20 * time.Millisecond)
	r.masterGate.set(50)
	noNumber(t, r, 150*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.metrics.Races.WithLabelValues("master", "aborted")))
}

func TestMasterStopDuringSecondaryLeg(t *testing.T) {
	r := newRig(t, rigOptions{rawController: true, stopAbortsWait: true})

	require.NoError(t, r.ctlLink.Send(proto.Start))
	expect(t, r.ctlLink, proto.KindOk)
	eventually(t, func() bool { return r.master.State() == MasterWaitStage1 }, "waiting for stage 1")
	r.masterGate.pass(t)
	eventually(t, func() bool { return r.master.State() == MasterSecondaryLeg }, "secondary leg")
	eventually(t, func() bool { return r.secondary.State() == SecondaryTimedWait }, "secondary timing")

	require.NoError(t, r.ctlLink.Send(proto.Stop))
	eventually(t, func() bool { return r.master.State() == MasterIdle && !r.master.Running() }, "idle after stop")
	eventually(t, func() bool { return r.secondary.State() == SecondaryWaitStart }, "secondary released")

	r.secGate.set(50)
	r.masterGate.set(sensor.NoResponse)
	time.Sleep(20 * time.Millisecond)
	r.masterGate.set(50)
	noNumber(t, r, 150*time.Millisecond)
}

func TestMasterServesStartWhileRelayingDistance(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	r := newRig(t, rigOptions{noSecondary: true, rawController: true})
	ackOnlySecondary(t, r.secLink)

	require.NoError(t, r.ctlLink.Send(proto.DistanceQuery))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, r.ctlLink.Send(proto.Start))
	_, ok := r.ctlLink.Listener().AwaitMatch(context.Background(), 300*time.Millisecond, transport.IsKind(proto.KindOk))
	require.True(t, ok, "start acknowledged while ranging")
	eventually(t, r.master.Running, "running after start")

	// the stop also abandons the relay, whose reply would otherwise land
	// once ranging gives up
	require.NoError(t, r.ctlLink.Send(proto.Stop))
	eventually(t, func() bool { return r.master.State() == MasterIdle }, "idle after stop")
	noNumber(t, r, 800*time.Millisecond)
	assert.Equal(t, int32(proto.SentinelValue), r.master.distance.Load(), "cancelled relay keeps the last distance")
}

func TestControllerDropsLateDistanceBeforeStart(t *testing.T) {
	r := newRig(t, rigOptions{noSecondary: true, rawController: true})
	ackOnlySecondary(t, r.secLink)

	cfg := testControllerConfig()
	cfg.ResponseTimeout = 150 * time.Millisecond
	ctl := NewController(r.ctlLink, r.display, r.buttons, cfg)

	assert.Equal(t, proto.SentinelValue, ctl.QueryDistance(context.Background()))
	// the master's reply lands after the controller gave up on it
	time.Sleep(time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan measured, 1)
	go func() {
		res, err := ctl.Measure(ctx)
		out <- measured{res, err}
	}()
	eventually(t, func() bool { return ctl.State() == ControllerTimingStage1 }, "start acknowledged")
	eventually(t, r.master.Running, "master running")
	cancel()
	assert.Error(t, wait(t, out).err)
}
