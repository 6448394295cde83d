package sensor

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DetectorConfig tunes edge detection.
type DetectorConfig struct {
	Threshold      float64 // cm between consecutive samples
	BufferSize     int
	SampleInterval time.Duration
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Threshold:      DefaultThreshold,
		BufferSize:     DefaultBufferSize,
		SampleInterval: DefaultSampleInterval,
	}
}

// Detector signals a staged edge once per WaitForEdge call.
type Detector struct {
	ranger Ranger
	cfg    DetectorConfig
	log    zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewDetector(r Ranger, cfg DetectorConfig, log zerolog.Logger) *Detector {
	return &Detector{ranger: r, cfg: cfg, log: log}
}

// IsEdge reports whether cur following prev is a staged edge: the sensor went
// from no echo to an echo, or two readings differ by more than threshold.
func IsEdge(prev, cur, threshold float64) bool {
	if cur == NoResponse {
		return false
	}
	if prev == NoResponse {
		return true
	}
	return math.Abs(cur-prev) > threshold
}

// WaitForEdge samples the sensor until an edge occurs and returns the new
// reading. It returns false when ctx ends or Cancel is called; either is
// observed within one sample interval. The first sample only seeds the buffer.
func (d *Detector) WaitForEdge(ctx context.Context) (float64, bool) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.cancel = nil
		d.mu.Unlock()
		cancel()
	}()

	buf := NewBuffer(d.cfg.BufferSize)
	ticker := time.NewTicker(d.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		cur := d.ranger.SampleRange()
		prev, ok := buf.Push(cur)
		if ok && IsEdge(prev, cur, d.cfg.Threshold) {
			d.log.Debug().Float64("prev_cm", prev).Float64("cm", cur).Msg("edge detected")
			return cur, true
		}

		select {
		case <-ctx.Done():
			return NoResponse, false
		case <-ticker.C:
		}
	}
}

// Cancel ends the current wait, if any.
func (d *Detector) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
}
