package session

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ystepanoff/racelink/config"
	"github.com/ystepanoff/racelink/driver/stub"
	proto "github.com/ystepanoff/racelink/protocol"
	"github.com/ystepanoff/racelink/sensor"
	"github.com/ystepanoff/racelink/transport"
)

const (
	poll    = 2 * time.Millisecond
	waitFor = 2 * time.Second
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingDisplay struct {
	mu      sync.Mutex
	lines   [2]string
	cleared int
}

func (d *recordingDisplay) RenderLine(row int, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if row >= 0 && row < len(d.lines) {
		d.lines[row] = text
	}
}

func (d *recordingDisplay) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lines = [2]string{}
	d.cleared++
}

func (d *recordingDisplay) Line(row int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lines[row]
}

// scriptedButtons hands out presses queued by the test.
type scriptedButtons struct {
	presses chan Button
}

func newScriptedButtons() *scriptedButtons {
	return &scriptedButtons{presses: make(chan Button, 8)}
}

func (b *scriptedButtons) ReadButton(ctx context.Context, excluded ...Button) (Button, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case p := <-b.presses:
			if !slices.Contains(excluded, p) {
				return p, nil
			}
		}
	}
}

func (b *scriptedButtons) press(p Button) { b.presses <- p }

// gate is a sensor whose reading the test controls.
type gate struct {
	mu      sync.Mutex
	cm      float64
	samples int
}

func newGate() *gate { return &gate{cm: sensor.NoResponse} }

func (g *gate) SampleRange() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.samples++
	return g.cm
}

func (g *gate) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.samples
}

func (g *gate) set(cm float64) {
	g.mu.Lock()
	g.cm = cm
	g.mu.Unlock()
}

// pass clears the gate, lets the detector seed on the empty reading and then
// puts a runner in front of it.
func (g *gate) pass(t *testing.T) {
	t.Helper()
	g.set(sensor.NoResponse)
	n := g.count()
	require.Eventually(t, func() bool { return g.count() >= n+2 }, waitFor, time.Millisecond)
	g.set(50)
}

func testDetector(g *gate) *sensor.Detector {
	return sensor.NewDetector(g, sensor.DetectorConfig{
		Threshold:      sensor.DefaultThreshold,
		BufferSize:     sensor.DefaultBufferSize,
		SampleInterval: poll,
	}, zerolog.Nop())
}

func linkPair(t *testing.T, name string, codec proto.Codec) (*transport.Link, *transport.Link) {
	t.Helper()
	da, db := stub.NewPair()
	a := transport.NewLink(name+"-a", da, codec, transport.WithPollInterval(poll))
	b := transport.NewLink(name+"-b", db, codec, transport.WithPollInterval(poll))
	t.Cleanup(func() {
		a.Listener().Stop()
		b.Listener().Stop()
	})
	return a, b
}

func expect(t *testing.T, l *transport.Link, kind proto.Kind) proto.Message {
	t.Helper()
	m, ok := l.Listener().AwaitMatch(context.Background(), waitFor, transport.IsKind(kind))
	require.True(t, ok, "no %s on %s", kind, l.Name())
	return m
}

func testControllerConfig() config.ControllerConfig {
	return config.ControllerConfig{
		StartAckTimeout: 300 * time.Millisecond,
		ResponseTimeout: waitFor,
		TickInterval:    time.Hour,
	}
}

func testMasterConfig() config.MasterConfig {
	return config.MasterConfig{
		PeerAckTimeout:       300 * time.Millisecond,
		DistanceRelayTimeout: 100 * time.Millisecond,
		ReplyDelay:           5 * time.Millisecond,
	}
}

func testRanging() transport.RangingConfig {
	return transport.RangingConfig{
		Samples:       3,
		SampleTimeout: 200 * time.Millisecond,
		Pace:          time.Millisecond,
		ReceiverIdle:  500 * time.Millisecond,
	}
}

// runNode runs fn until the test ends.
func runNode(t *testing.T, fn func(context.Context) error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = fn(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}
