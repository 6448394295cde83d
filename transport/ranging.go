package transport

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	proto "github.com/ystepanoff/racelink/protocol"
)

// RangingConfig tunes the ping/pong distance estimate.
type RangingConfig struct {
	Samples       int
	SampleTimeout time.Duration
	Pace          time.Duration // minimum spacing between pings
	ReceiverIdle  time.Duration // echo side gives up after this long without a ping
}

func DefaultRangingConfig() RangingConfig {
	return RangingConfig{
		Samples:       proto.RangingSamples,
		SampleTimeout: proto.RangingSampleTimeout * time.Millisecond,
		Pace:          proto.RangingPace * time.Millisecond,
		ReceiverIdle:  proto.RangingReceiverIdle * time.Millisecond,
	}
}

// Measure runs the transmitter role: for each sample it sends Ping and times
// the Pong, converting the round trip into a one-way distance in meters. The
// echo side is released with Stop at the end. Returns proto.ErrNoEstimate when
// no sample succeeded.
func Measure(ctx context.Context, x *Exchange, cfg RangingConfig) (float64, error) {
	l := x.link
	limiter := rate.NewLimiter(rate.Every(cfg.Pace), 1)

	var sum float64
	n := 0
	for i := 0; i < cfg.Samples; i++ {
		if err := limiter.Wait(ctx); err != nil {
			break
		}

		start := time.Now()
		if err := x.Send(proto.Ping); err != nil {
			l.rangingSample("send_failed")
			continue
		}
		rtt, ok := awaitPong(ctx, x, start, cfg.SampleTimeout)
		if !ok {
			l.rangingSample("timeout")
			continue
		}

		l.rangingSample("ok")
		sum += rtt.Seconds() * proto.PropagationSpeed / 2
		n++
	}

	if err := x.Send(proto.Stop); err != nil {
		l.log.Debug().Err(err).Msg("ranging stop not delivered")
	}
	if n == 0 {
		return 0, proto.ErrNoEstimate
	}
	return sum / float64(n), nil
}

func awaitPong(ctx context.Context, x *Exchange, start time.Time, timeout time.Duration) (time.Duration, bool) {
	deadline := start.Add(timeout)
	for ctx.Err() == nil {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return 0, false
		}

		msg, err := x.Receive(min(remaining, x.link.poll))
		if err != nil {
			x.link.idle(err)
			continue
		}
		switch msg.Kind {
		case proto.KindPong:
			return time.Since(start), true
		case proto.KindPing, proto.KindOk:
		default:
			x.Defer(msg)
		}
	}
	return 0, false
}

// Echo runs the receiver role: every Ping is answered with Pong and resets the
// idle timer. It returns the number of pongs sent when Stop arrives, the idle
// timer fires or ctx ends.
func Echo(ctx context.Context, x *Exchange, idle time.Duration) int {
	l := x.link
	pongs := 0
	deadline := time.Now().Add(idle)

	for ctx.Err() == nil {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.log.Debug().Int("pongs", pongs).Msg("echo idle timeout")
			return pongs
		}

		msg, err := x.Receive(min(remaining, l.poll))
		if err != nil {
			l.idle(err)
			continue
		}
		switch msg.Kind {
		case proto.KindPing:
			if err := x.Send(proto.Pong); err == nil {
				pongs++
			}
			deadline = time.Now().Add(idle)
		case proto.KindStop:
			return pongs
		case proto.KindPong, proto.KindOk:
		default:
			x.Defer(msg)
		}
	}
	return pongs
}

func (l *Link) rangingSample(outcome string) {
	if l.metrics != nil {
		l.metrics.RangingSamples.WithLabelValues(l.name, outcome).Inc()
	}
}
