package console

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ystepanoff/racelink/session"
)

func TestDisplayLogsChangedLinesOnly(t *testing.T) {
	var buf bytes.Buffer
	d := NewDisplay(zerolog.New(&buf))

	d.RenderLine(0, "--M/S T1E00:01")
	d.RenderLine(0, "--M/S T1E00:01")
	d.RenderLine(1, "12Meters T2E00:01")
	d.RenderLine(5, "ignored")

	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
	assert.Equal(t, []string{"--M/S T1E00:01", "12Meters T2E00:01"}, d.Lines())

	d.Clear()
	assert.Equal(t, []string{"", ""}, d.Lines())
}

func TestKeypadSkipsExcluded(t *testing.T) {
	k := NewKeypad()
	k.Press(session.ButtonPause)
	k.Press(session.ButtonStart)

	b, err := k.ReadButton(context.Background(), session.ButtonPause)
	require.NoError(t, err)
	assert.Equal(t, session.ButtonStart, b)
}

func TestKeypadHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := NewKeypad().ReadButton(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFeed(t *testing.T) {
	k := NewKeypad()
	require.NoError(t, k.Feed(context.Background(), strings.NewReader("start\nbogus\n PAUSE \nstop\n")))

	var got []session.Button
	for range 3 {
		b, err := k.ReadButton(context.Background())
		require.NoError(t, err)
		got = append(got, b)
	}
	assert.Equal(t, []session.Button{session.ButtonStart, session.ButtonPause, session.ButtonStop}, got)
}

func TestGateTrip(t *testing.T) {
	g := NewGate()
	assert.Equal(t, -1.0, g.SampleRange())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for ctx.Err() == nil {
			g.SampleRange()
			time.Sleep(time.Millisecond)
		}
	}()

	require.NoError(t, g.Trip(ctx, 40))
	assert.Equal(t, 40.0, g.SampleRange())
}

func TestGateTripCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NewGate().Trip(ctx, 40), context.Canceled)
}
