package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystepanoff/racelink/config"
	proto "github.com/ystepanoff/racelink/protocol"
	"github.com/ystepanoff/racelink/transport"
)

func newSecondaryRig(t *testing.T, stopAbortsWait bool) (*Secondary, *transport.Link, *gate) {
	t.Helper()
	master, link := linkPair(t, "b", proto.FixedCodec{})
	g := newGate()
	s := NewSecondary(link, testDetector(g), config.SecondaryConfig{StopAbortsWait: stopAbortsWait}, testRanging().ReceiverIdle)
	runNode(t, s.Run)
	return s, master, g
}

func TestSecondaryStopBeforeStartKeepsListening(t *testing.T) {
	s, master, _ := newSecondaryRig(t, true)
	require.Eventually(t, func() bool { return s.State() == SecondaryWaitStart }, waitFor, time.Millisecond)

	require.NoError(t, master.Send(proto.Stop))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, SecondaryWaitStart, s.State())

	require.NoError(t, master.Send(proto.Start))
	expect(t, master, proto.KindOk)
	require.Eventually(t, func() bool { return s.State() == SecondaryTimedWait }, waitFor, time.Millisecond)
}

func TestSecondaryReportsEdgeWithEnd(t *testing.T) {
	s, master, g := newSecondaryRig(t, true)

	require.NoError(t, master.Send(proto.Start))
	expect(t, master, proto.KindOk)
	require.Eventually(t, func() bool { return s.State() == SecondaryTimedWait }, waitFor, time.Millisecond)

	g.pass(t)
	expect(t, master, proto.KindEnd)
	require.Eventually(t, func() bool { return s.State() == SecondaryWaitStart }, waitFor, time.Millisecond)
}

func TestSecondaryStopDuringWait(t *testing.T) {
	tests := []struct {
		name           string
		stopAbortsWait bool
	}{
		{name: "aborts", stopAbortsWait: true},
		{name: "ignored", stopAbortsWait: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, master, g := newSecondaryRig(t, tt.stopAbortsWait)

			require.NoError(t, master.Send(proto.Start))
			expect(t, master, proto.KindOk)
			require.Eventually(t, func() bool { return s.State() == SecondaryTimedWait }, waitFor, time.Millisecond)

			require.NoError(t, master.Send(proto.Stop))
			if tt.stopAbortsWait {
				require.Eventually(t, func() bool { return s.State() == SecondaryWaitStart }, waitFor, time.Millisecond)
				g.set(50)
				_, ok := master.Listener().Await(context.Background(), 50*time.Millisecond)
				assert.False(t, ok, "no End after an aborted wait")
				return
			}

			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, SecondaryTimedWait, s.State())
			g.pass(t)
			expect(t, master, proto.KindEnd)
		})
	}
}

func TestSecondaryEchoesDuringWait(t *testing.T) {
	s, master, _ := newSecondaryRig(t, true)

	require.NoError(t, master.Send(proto.Start))
	expect(t, master, proto.KindOk)
	require.Eventually(t, func() bool { return s.State() == SecondaryTimedWait }, waitFor, time.Millisecond)

	var est float64
	err := master.Exchange(func(x *transport.Exchange) error {
		if err := x.Send(proto.DistanceQuery); err != nil {
			return err
		}
		if _, ok := x.Expect(context.Background(), waitFor, transport.IsKind(proto.KindOk)); !ok {
			return proto.ErrTimeout
		}
		var err error
		est, err = transport.Measure(context.Background(), x, testRanging())
		return err
	})
	require.NoError(t, err)
	assert.Positive(t, est)
	assert.Equal(t, SecondaryTimedWait, s.State(), "ranging does not end the wait")
}
