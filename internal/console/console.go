// Package console provides host stand-ins for the controller's character
// display and keypad.
package console

import (
	"bufio"
	"context"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ystepanoff/racelink/session"
)

const rows = 2

// Display logs every line change of a two-row display.
type Display struct {
	log zerolog.Logger

	mu    sync.Mutex
	lines [rows]string
}

func NewDisplay(log zerolog.Logger) *Display {
	return &Display{log: log}
}

func (d *Display) RenderLine(row int, text string) {
	if row < 0 || row >= rows {
		return
	}
	d.mu.Lock()
	changed := d.lines[row] != text
	d.lines[row] = text
	d.mu.Unlock()

	if changed {
		d.log.Info().Int("row", row).Str("text", text).Msg("display")
	}
}

func (d *Display) Clear() {
	d.mu.Lock()
	d.lines = [rows]string{}
	d.mu.Unlock()
}

// Lines returns a snapshot of both rows.
func (d *Display) Lines() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.lines[:])
}

// Keypad queues button presses for session.Buttons readers.
type Keypad struct {
	presses chan session.Button
}

func NewKeypad() *Keypad {
	return &Keypad{presses: make(chan session.Button, 16)}
}

// Press queues b; it drops the press when the queue is full like a real
// debounced keypad dropping bounces.
func (k *Keypad) Press(b session.Button) bool {
	select {
	case k.presses <- b:
		return true
	default:
		return false
	}
}

func (k *Keypad) ReadButton(ctx context.Context, excluded ...session.Button) (session.Button, error) {
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case b := <-k.presses:
			if !slices.Contains(excluded, b) {
				return b, nil
			}
		}
	}
}

// ParseButton maps a button name as printed by session.Button.String.
func ParseButton(s string) (session.Button, bool) {
	for _, b := range []session.Button{session.ButtonHome, session.ButtonStart, session.ButtonPause, session.ButtonStop} {
		if strings.EqualFold(strings.TrimSpace(s), b.String()) {
			return b, true
		}
	}
	return 0, false
}

// Feed presses one button per line read from r until EOF or ctx ends. Lines
// that name no button are skipped.
func (k *Keypad) Feed(ctx context.Context, r io.Reader) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if b, ok := ParseButton(sc.Text()); ok {
			k.Press(b)
		}
	}
	return sc.Err()
}
