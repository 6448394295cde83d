package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	proto "github.com/ystepanoff/racelink/protocol"
)

// Stage numbers a timed segment.
type Stage int

const (
	Stage1 Stage = 1
	Stage2 Stage = 2
)

type counter struct {
	seconds  int
	finished bool
}

// StageTimer is the controller's pair of lock-step stage counters. A ticking
// goroutine advances both counters once per interval; pause freezes them and
// FinishStage overrides a counter with the master's result.
type StageTimer struct {
	display  Display
	distance int
	now      func() time.Time

	mu          sync.Mutex
	counters    [2]counter
	halted      bool
	paused      bool
	pausedAt    time.Time
	pausedTotal time.Duration
}

func NewStageTimer(d Display, distance int, now func() time.Time) *StageTimer {
	if now == nil {
		now = time.Now
	}
	return &StageTimer{display: d, distance: proto.ClampDistance(distance), now: now}
}

// Run ticks every interval until ctx ends.
func (t *StageTimer) Run(ctx context.Context, interval time.Duration) {
	t.Render()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick()
		}
	}
}

// Tick advances every running counter by one second, capped at 99:00.
func (t *StageTimer) Tick() {
	t.mu.Lock()
	if !t.halted && !t.paused {
		for i := range t.counters {
			c := &t.counters[i]
			if !c.finished && c.seconds < proto.MaxStageSeconds {
				c.seconds++
			}
		}
	}
	t.mu.Unlock()
	t.Render()
}

// TogglePause freezes or resumes both counters and reports whether they are
// now paused.
func (t *StageTimer) TogglePause() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.paused {
		t.pausedTotal += t.now().Sub(t.pausedAt)
		t.paused = false
	} else {
		t.pausedAt = t.now()
		t.paused = true
	}
	return t.paused
}

func (t *StageTimer) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// PausedSeconds is the whole seconds spent paused so far, including a pause
// still in progress.
func (t *StageTimer) PausedSeconds() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pausedSecondsLocked()
}

func (t *StageTimer) pausedSecondsLocked() int {
	total := t.pausedTotal
	if t.paused {
		total += t.now().Sub(t.pausedAt)
	}
	return int(total / time.Second)
}

// FinishStage stops a counter and replaces its value with reported minus the
// paused seconds. It returns the displayed value.
func (t *StageTimer) FinishStage(s Stage, reported int) int {
	t.mu.Lock()
	value := reported - t.pausedSecondsLocked()
	value = max(0, min(value, proto.MaxStageSeconds))
	c := &t.counters[s-1]
	c.seconds = value
	c.finished = true
	t.mu.Unlock()

	t.Render()
	return value
}

// Halt stops both counters where they are.
func (t *StageTimer) Halt() {
	t.mu.Lock()
	t.halted = true
	t.mu.Unlock()
	t.Render()
}

func (t *StageTimer) Seconds(s Stage) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[s-1].seconds
}

// Lines renders the two display rows.
func (t *StageTimer) Lines() [2]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	speed := "--"
	if c := t.counters[0]; c.finished && c.seconds > 0 {
		speed = fmt.Sprintf("%.1f", float64(t.distance)/float64(c.seconds))
	}
	return [2]string{
		fmt.Sprintf("%sM/S T1E%s", speed, clock(t.counters[0].seconds)),
		fmt.Sprintf("%dMeters T2E%s", t.distance, clock(t.counters[1].seconds)),
	}
}

func (t *StageTimer) Render() {
	if t.display == nil {
		return
	}
	lines := t.Lines()
	t.display.RenderLine(0, lines[0])
	t.display.RenderLine(1, lines[1])
}

// clock formats seconds as mm:ss.
func clock(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
