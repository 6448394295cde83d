package console

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/ystepanoff/racelink/sensor"
)

// Gate is a simulated ultrasonic gate. It reads as empty until Trip puts a
// runner in front of it.
type Gate struct {
	bits    atomic.Uint64
	samples atomic.Int64
}

func NewGate() *Gate {
	g := &Gate{}
	g.Set(sensor.NoResponse)
	return g
}

func (g *Gate) SampleRange() float64 {
	g.samples.Add(1)
	return math.Float64frombits(g.bits.Load())
}

func (g *Gate) Set(cm float64) { g.bits.Store(math.Float64bits(cm)) }

// Samples counts readings taken so far.
func (g *Gate) Samples() int64 { return g.samples.Load() }

// Trip clears the gate, waits until it has been sampled twice so a detector
// has seen it empty, then places a runner at cm.
func (g *Gate) Trip(ctx context.Context, cm float64) error {
	g.Set(sensor.NoResponse)
	target := g.Samples() + 2

	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for g.Samples() < target {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	g.Set(cm)
	return nil
}
