// Package sensor watches an ultrasonic ranging sensor for staged edges: an
// object entering range, or an abrupt change in the measured distance.
package sensor

import (
	"math"
	"time"
)

const (
	// NoResponse is the reading reported when the echo never came back.
	NoResponse = -1.0

	// SoundSpeed is the speed of sound in cm/µs.
	SoundSpeed = 0.0343

	DefaultThreshold      = 20.0 // cm
	DefaultBufferSize     = 10
	DefaultSampleInterval = 20 * time.Millisecond
	DefaultEchoTimeout    = 30 * time.Millisecond
)

// Ranger takes one distance sample in centimeters, or NoResponse. It never fails.
type Ranger interface {
	SampleRange() float64
}

// RangerFunc adapts a function to Ranger.
type RangerFunc func() float64

func (f RangerFunc) SampleRange() float64 { return f() }

// PulseReader triggers the sensor and measures the echo pulse width. It must
// return within timeout.
type PulseReader interface {
	MeasurePulse(timeout time.Duration) (time.Duration, error)
}

// EchoRanger converts echo pulse widths into distances.
type EchoRanger struct {
	Pulse   PulseReader
	Timeout time.Duration
}

func NewEchoRanger(p PulseReader) *EchoRanger {
	return &EchoRanger{Pulse: p, Timeout: DefaultEchoTimeout}
}

func (e *EchoRanger) SampleRange() float64 {
	width, err := e.Pulse.MeasurePulse(e.Timeout)
	if err != nil || width < 0 || width > e.Timeout {
		return NoResponse
	}
	return EchoDistance(width)
}

// EchoDistance converts a round-trip echo time to centimeters, rounded to 0.01.
func EchoDistance(roundTrip time.Duration) float64 {
	us := float64(roundTrip) / float64(time.Microsecond)
	return math.Round(us/2*SoundSpeed*100) / 100
}
