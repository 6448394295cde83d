// Package racelink wires the race-timing nodes: a handheld controller, a
// master gate and a secondary gate joined by two half-duplex radio links.
package racelink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ystepanoff/racelink/config"
	"github.com/ystepanoff/racelink/protocol"
	"github.com/ystepanoff/racelink/sensor"
	"github.com/ystepanoff/racelink/session"
	"github.com/ystepanoff/racelink/transport"
)

// The link constructors are split into build-tag specific files:
// - constructors_nrf.go - for embedded platforms (//go:build tinygo || baremetal)
// - constructors_host.go - for development/testing (//go:build !tinygo && !baremetal)

type (
	Message     = protocol.Message
	Kind        = protocol.Kind
	Codec       = protocol.Codec
	Link        = transport.Link
	RadioDriver = transport.RadioDriver
	Config      = config.Config
	Controller  = session.Controller
	Master      = session.Master
	Secondary   = session.Secondary
	Result      = session.Result
	Button      = session.Button
	Display     = session.Display
	Buttons     = session.Buttons
	Ranger      = sensor.Ranger
	PulseReader = sensor.PulseReader
)

var (
	ErrInvalidPayload = protocol.ErrInvalidPayload
	ErrTimeout        = protocol.ErrTimeout
	ErrAborted        = protocol.ErrAborted
	ErrNoEstimate     = protocol.ErrNoEstimate
)

const (
	ButtonHome  = session.ButtonHome
	ButtonStart = session.ButtonStart
	ButtonPause = session.ButtonPause
	ButtonStop  = session.ButtonStop

	SentinelValue = protocol.SentinelValue
)

// Link A carries text frames, Link B fixed-size frames.
var (
	LinkACodec Codec = protocol.TextCodec{}
	LinkBCodec Codec = protocol.FixedCodec{}
)

// Kit builds links and nodes that share one configuration, logger and
// metrics registry.
type Kit struct {
	cfg   config.Config
	log   zerolog.Logger
	links *transport.Metrics
	races *session.Metrics
}

// NewKit returns a Kit. A nil reg keeps metrics unregistered.
func NewKit(cfg config.Config, log zerolog.Logger, reg prometheus.Registerer) *Kit {
	return &Kit{
		cfg:   cfg,
		log:   log,
		links: transport.NewMetrics(reg),
		races: session.NewMetrics(reg),
	}
}

// Link wraps a driver for one end of a radio link.
func (k *Kit) Link(name string, d RadioDriver, c Codec) *Link {
	return transport.NewLink(name, d, c,
		transport.WithLogger(k.component("link")),
		transport.WithMetrics(k.links),
		transport.WithPollInterval(k.cfg.Listener.PollInterval),
	)
}

func (k *Kit) Controller(link *Link, d Display, b Buttons) *Controller {
	return session.NewController(link, d, b, k.cfg.Controller, k.nodeOptions("controller")...)
}

func (k *Kit) Master(linkA, linkB *Link, gate Ranger) *Master {
	return session.NewMaster(linkA, linkB, k.detector(gate, "master"), k.cfg.Master, k.Ranging(), k.nodeOptions("master")...)
}

func (k *Kit) Secondary(link *Link, gate Ranger) *Secondary {
	return session.NewSecondary(link, k.detector(gate, "secondary"), k.cfg.Secondary, k.cfg.Ranging.ReceiverIdle, k.nodeOptions("secondary")...)
}

// EchoRanger reads gate distances from p, giving up after the configured
// echo timeout.
func (k *Kit) EchoRanger(p PulseReader) *sensor.EchoRanger {
	e := sensor.NewEchoRanger(p)
	e.Timeout = k.cfg.Sensor.EchoTimeout
	return e
}

func (k *Kit) Ranging() transport.RangingConfig {
	r := k.cfg.Ranging
	return transport.RangingConfig{
		Samples:       r.Samples,
		SampleTimeout: r.SampleTimeout,
		Pace:          r.Pace,
		ReceiverIdle:  r.ReceiverIdle,
	}
}

func (k *Kit) detector(r Ranger, node string) *sensor.Detector {
	return sensor.NewDetector(r, k.cfg.Detector(), k.component("detector").With().Str("node", node).Logger())
}

func (k *Kit) nodeOptions(node string) []session.Option {
	return []session.Option{
		session.WithLogger(k.component(node)),
		session.WithMetrics(k.races),
	}
}

func (k *Kit) component(name string) zerolog.Logger {
	return k.log.With().Str("component", name).Logger()
}
