package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	proto "github.com/ystepanoff/racelink/protocol"
)

// ListenerState is the state of a Listener session.
type ListenerState int32

const (
	ListenerIdle ListenerState = iota
	ListenerListening
	ListenerCaptured
)

func (s ListenerState) String() string {
	switch s {
	case ListenerIdle:
		return "idle"
	case ListenerListening:
		return "listening"
	case ListenerCaptured:
		return "captured"
	}
	return "invalid"
}

// Listener is a single-slot response mailbox for a Link.
//
//	Start: Idle -> Listening (no-op otherwise)
//	frame: Listening -> Captured (the receive loop exits)
//	Take:  Captured -> Idle, returns the message once
//	Stop:  any -> Idle, discards an unread message
type Listener struct {
	link *Link

	mu      sync.Mutex
	state   ListenerState
	pending proto.Message
	cancel  context.CancelFunc
	done    chan struct{}
	// keep tells the running session whether a frame that arrives while it
	// is being halted goes back onto the link.
	keep *atomic.Bool
}

func newListener(l *Link) *Listener {
	return &Listener{link: l}
}

func (r *Listener) State() ListenerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start begins a listener session. Calling it while a session is listening, or
// while a captured message is still unread, does nothing.
func (r *Listener) Start() {
	r.link.radio.Lock()
	defer r.link.radio.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case ListenerListening:
		r.link.log.Debug().Msg("listener already running")
		return
	case ListenerCaptured:
		r.link.log.Debug().Msg("listener holds an unread response")
		return
	}

	done := make(chan struct{})
	r.done = done

	if m, ok := r.link.popDeferred(); ok {
		r.pending = m
		r.state = ListenerCaptured
		close(done)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	keep := new(atomic.Bool)
	r.cancel = cancel
	r.keep = keep
	r.state = ListenerListening
	if r.link.metrics != nil {
		r.link.metrics.ListenerStarts.WithLabelValues(r.link.name).Inc()
	}
	go r.listen(ctx, cancel, done, keep)
}

func (r *Listener) listen(ctx context.Context, cancel context.CancelFunc, done chan struct{}, keep *atomic.Bool) {
	defer close(done)
	defer cancel()

	for ctx.Err() == nil {
		msg, err := r.link.receive(r.link.poll)
		if err != nil {
			r.link.idle(err)
			continue
		}

		r.mu.Lock()
		switch {
		case ctx.Err() == nil:
			r.pending = msg
			r.state = ListenerCaptured
			r.cancel = nil
			r.keep = nil
		case keep.Load():
			r.link.requeue(msg)
		default:
			r.link.log.Debug().Stringer("msg", msg).Msg("dropped frame received while stopping")
		}
		r.mu.Unlock()
		return
	}
}

// Take returns the captured message once and ends the session. It never blocks.
func (r *Listener) Take() (proto.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != ListenerCaptured {
		return proto.Message{}, false
	}
	m := r.pending
	r.pending = proto.Message{}
	r.state = ListenerIdle
	r.done = nil
	return m, true
}

// Stop cancels the receive loop, waits for it to exit and discards any unread message.
func (r *Listener) Stop() {
	r.halt(false)
}

// suspend stops the receive loop like Stop but moves an unread message back
// onto the link so the next session delivers it.
func (r *Listener) suspend() {
	r.halt(true)
}

func (r *Listener) halt(keep bool) {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	if keep && r.state == ListenerCaptured {
		r.link.requeue(r.pending)
	}
	if r.keep != nil {
		r.keep.Store(keep)
		r.keep = nil
	}
	r.cancel = nil
	r.done = nil
	r.pending = proto.Message{}
	r.state = ListenerIdle
	r.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Await starts a session if needed and blocks until a message is captured,
// the session is stopped elsewhere, ctx ends or timeout elapses (zero means no
// limit). A session that times out is stopped.
func (r *Listener) Await(ctx context.Context, timeout time.Duration) (proto.Message, bool) {
	r.Start()

	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return r.Take()
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-done:
		return r.Take()
	case <-ctx.Done():
	case <-expired:
	}

	if m, ok := r.Take(); ok {
		return m, true
	}
	r.Stop()
	return proto.Message{}, false
}

// AwaitMatch waits like Await but keeps listening until match accepts a
// message; rejected messages are dropped. Sessions stopped by a concurrent
// Send are restarted.
func (r *Listener) AwaitMatch(ctx context.Context, timeout time.Duration, match func(proto.Message) bool) (proto.Message, bool) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for ctx.Err() == nil {
		remaining := time.Duration(0)
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return proto.Message{}, false
			}
		}

		m, ok := r.Await(ctx, remaining)
		if !ok {
			continue
		}
		if match(m) {
			return m, true
		}
		r.link.log.Debug().Stringer("msg", m).Msg("ignoring unexpected message")
	}
	return proto.Message{}, false
}

// IsKind matches messages of any of kinds.
func IsKind(kinds ...proto.Kind) func(proto.Message) bool {
	return func(m proto.Message) bool {
		for _, k := range kinds {
			if m.Kind == k {
				return true
			}
		}
		return false
	}
}
