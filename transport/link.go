package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	proto "github.com/ystepanoff/racelink/protocol"
)

// maxDeferred bounds the out-of-context stash; the oldest entry is dropped when full.
const maxDeferred = 4

// Link is one end of a point-to-point radio channel. It owns the driver, the
// codec for the channel's wire format and a single Listener.
type Link struct {
	name    string
	driver  RadioDriver
	codec   proto.Codec
	log     zerolog.Logger
	metrics *Metrics
	poll    time.Duration

	// radio is held while transmitting and for the length of an Exchange so
	// that no listener session reads the driver mid-transmit.
	radio    sync.Mutex
	listener *Listener

	stashMu sync.Mutex
	stash   []proto.Message
}

// Option configures a Link.
type Option func(*Link)

func WithLogger(log zerolog.Logger) Option {
	return func(l *Link) { l.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(l *Link) { l.metrics = m }
}

// WithPollInterval sets the receive tick used by listener loops.
func WithPollInterval(d time.Duration) Option {
	return func(l *Link) {
		if d > 0 {
			l.poll = d
		}
	}
}

// NewLink wraps d and switches it to receive mode.
func NewLink(name string, d RadioDriver, c proto.Codec, opts ...Option) *Link {
	l := &Link{
		name:   name,
		driver: d,
		codec:  c,
		log:    zerolog.Nop(),
		poll:   proto.ListenerPollInterval * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = l.log.With().Str("link", name).Logger()
	l.listener = newListener(l)

	if err := d.StartListening(); err != nil {
		l.log.Warn().Err(err).Msg("radio did not enter receive mode")
	}
	return l
}

func (l *Link) Name() string { return l.name }

// Listener returns the link's single response listener.
func (l *Link) Listener() *Listener { return l.listener }

// PollInterval is the receive tick used by this link.
func (l *Link) PollInterval() time.Duration { return l.poll }

// Send transmits m: stop listener, transmit mode, Tx, receive mode. A response
// the listener already captured is kept for the next listener session.
func (l *Link) Send(m proto.Message) error {
	l.radio.Lock()
	defer l.radio.Unlock()

	l.listener.suspend()
	return l.send(m)
}

func (l *Link) send(m proto.Message) error {
	data, err := l.codec.Encode(m)
	if err != nil {
		l.sendFailed(m, err)
		return fmt.Errorf("encode %s: %w", m, err)
	}

	if err := l.driver.StopListening(); err != nil {
		l.sendFailed(m, err)
		return fmt.Errorf("switch %s to transmit: %w", l.name, err)
	}
	err = l.driver.Tx(data)
	if rerr := l.driver.StartListening(); rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		l.sendFailed(m, err)
		return fmt.Errorf("send %s on %s: %w", m, l.name, err)
	}

	if l.metrics != nil {
		l.metrics.FramesSent.WithLabelValues(l.name, m.Kind.String()).Inc()
	}
	l.log.Debug().Stringer("msg", m).Msg("sent")
	return nil
}

func (l *Link) sendFailed(m proto.Message, err error) {
	if l.metrics != nil {
		l.metrics.SendFailures.WithLabelValues(l.name).Inc()
	}
	l.log.Warn().Err(err).Stringer("msg", m).Msg("send failed")
}

func (l *Link) receive(timeout time.Duration) (proto.Message, error) {
	data, err := l.driver.Rx(timeout)
	if err != nil {
		return proto.Message{}, err
	}

	msg := l.codec.Decode(data)
	if l.metrics != nil {
		l.metrics.FramesReceived.WithLabelValues(l.name, msg.Kind.String()).Inc()
	}
	l.log.Debug().Stringer("msg", msg).Msg("received")
	return msg, nil
}

// idle waits one poll tick after a driver error other than a timeout so that
// receive loops never spin.
func (l *Link) idle(err error) {
	if errors.Is(err, proto.ErrTimeout) {
		return
	}
	time.Sleep(l.poll)
}

func (l *Link) deferMessage(m proto.Message) {
	l.stashMu.Lock()
	defer l.stashMu.Unlock()

	if len(l.stash) == maxDeferred {
		l.log.Debug().Stringer("msg", l.stash[0]).Msg("deferred stash full, dropping oldest")
		l.stash = l.stash[1:]
	}
	l.stash = append(l.stash, m)
	if l.metrics != nil {
		l.metrics.DeferredFrames.WithLabelValues(l.name).Inc()
	}
}

func (l *Link) requeue(m proto.Message) {
	l.stashMu.Lock()
	defer l.stashMu.Unlock()

	l.stash = append([]proto.Message{m}, l.stash...)
	if len(l.stash) > maxDeferred {
		l.stash = l.stash[:maxDeferred]
	}
}

func (l *Link) popDeferred() (proto.Message, bool) {
	l.stashMu.Lock()
	defer l.stashMu.Unlock()

	if len(l.stash) == 0 {
		return proto.Message{}, false
	}
	m := l.stash[0]
	l.stash = l.stash[1:]
	return m, true
}

// maxDiscard bounds how many buffered frames Discard drains from the driver.
const maxDiscard = 64

// Discard drops every reply waiting on the link: an unread listener message,
// the deferred stash and frames buffered by the radio. It returns how many
// were dropped. Call it before a request whose reply must not be confused
// with an answer to an earlier one.
func (l *Link) Discard() int {
	l.radio.Lock()
	defer l.radio.Unlock()

	n := 0
	if _, ok := l.listener.Take(); ok {
		n++
	}
	l.listener.Stop()

	l.stashMu.Lock()
	n += len(l.stash)
	l.stash = nil
	l.stashMu.Unlock()

	for range maxDiscard {
		data, err := l.driver.Rx(0)
		if err != nil {
			break
		}
		n++
		l.log.Debug().Stringer("msg", l.codec.Decode(data)).Msg("discarded stale frame")
	}
	return n
}

// Exchange gives fn exclusive use of the radio: the listener is suspended and
// no listener session can start until fn returns.
func (l *Link) Exchange(fn func(x *Exchange) error) error {
	l.radio.Lock()
	defer l.radio.Unlock()

	l.listener.suspend()
	return fn(&Exchange{link: l})
}

// Exchange is a handle on a link held exclusively by one conversation.
type Exchange struct {
	link *Link
}

func (x *Exchange) Send(m proto.Message) error { return x.link.send(m) }

// Receive reads one frame directly from the driver.
func (x *Exchange) Receive(timeout time.Duration) (proto.Message, error) {
	return x.link.receive(timeout)
}

// Defer stashes a message that arrived out of context; the next listener
// session on the link captures it immediately.
func (x *Exchange) Defer(m proto.Message) { x.link.deferMessage(m) }

// Expect reads frames until match accepts one, timeout elapses or ctx ends.
// Frames rejected by match are deferred for the next listener session.
func (x *Exchange) Expect(ctx context.Context, timeout time.Duration, match func(proto.Message) bool) (proto.Message, bool) {
	deadline := time.Now().Add(timeout)
	for ctx.Err() == nil {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}

		msg, err := x.Receive(min(remaining, x.link.poll))
		if err != nil {
			x.link.idle(err)
			continue
		}
		if match(msg) {
			return msg, true
		}
		x.Defer(msg)
	}
	return proto.Message{}, false
}
