// Package config holds the tunables of every node. Values come from defaults,
// then an optional YAML file, then RACELINK_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	proto "github.com/ystepanoff/racelink/protocol"
	"github.com/ystepanoff/racelink/sensor"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "RACELINK_"

type Config struct {
	Log        LogConfig        `yaml:"log" envPrefix:"LOG_"`
	Listener   ListenerConfig   `yaml:"listener" envPrefix:"LISTENER_"`
	Controller ControllerConfig `yaml:"controller" envPrefix:"CONTROLLER_"`
	Master     MasterConfig     `yaml:"master" envPrefix:"MASTER_"`
	Secondary  SecondaryConfig  `yaml:"secondary" envPrefix:"SECONDARY_"`
	Sensor     SensorConfig     `yaml:"sensor" envPrefix:"SENSOR_"`
	Ranging    RangingConfig    `yaml:"ranging" envPrefix:"RANGING_"`
}

type LogConfig struct {
	Level   string `yaml:"level" env:"LEVEL"`
	Console bool   `yaml:"console" env:"CONSOLE"`
}

type ListenerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
}

type ControllerConfig struct {
	StartAckTimeout  time.Duration `yaml:"start_ack_timeout" env:"START_ACK_TIMEOUT"`
	ResponseTimeout  time.Duration `yaml:"response_timeout" env:"RESPONSE_TIMEOUT"`
	TickInterval     time.Duration `yaml:"tick_interval" env:"TICK_INTERVAL"`
	DistanceOverride int           `yaml:"distance_override" env:"DISTANCE_OVERRIDE"` // 0 = query the course
}

type MasterConfig struct {
	PeerAckTimeout       time.Duration `yaml:"peer_ack_timeout" env:"PEER_ACK_TIMEOUT"`
	DistanceRelayTimeout time.Duration `yaml:"distance_relay_timeout" env:"DISTANCE_RELAY_TIMEOUT"`
	ReplyDelay           time.Duration `yaml:"reply_delay" env:"REPLY_DELAY"`
}

type SecondaryConfig struct {
	StopAbortsWait bool `yaml:"stop_aborts_wait" env:"STOP_ABORTS_WAIT"`
}

type SensorConfig struct {
	Threshold      float64       `yaml:"threshold_cm" env:"THRESHOLD_CM"`
	BufferSize     int           `yaml:"buffer_size" env:"BUFFER_SIZE"`
	SampleInterval time.Duration `yaml:"sample_interval" env:"SAMPLE_INTERVAL"`
	EchoTimeout    time.Duration `yaml:"echo_timeout" env:"ECHO_TIMEOUT"`
}

type RangingConfig struct {
	Samples       int           `yaml:"samples" env:"SAMPLES"`
	SampleTimeout time.Duration `yaml:"sample_timeout" env:"SAMPLE_TIMEOUT"`
	Pace          time.Duration `yaml:"pace" env:"PACE"`
	ReceiverIdle  time.Duration `yaml:"receiver_idle" env:"RECEIVER_IDLE"`
}

func Default() Config {
	ms := time.Millisecond
	return Config{
		Log:      LogConfig{Level: "info"},
		Listener: ListenerConfig{PollInterval: proto.ListenerPollInterval * ms},
		Controller: ControllerConfig{
			StartAckTimeout: proto.StartAckTimeout * ms,
			ResponseTimeout: proto.ResponseTimeout * ms,
			TickInterval:    time.Second,
		},
		Master: MasterConfig{
			PeerAckTimeout:       proto.PeerAckTimeout * ms,
			DistanceRelayTimeout: proto.DistanceRelayTimeout * ms,
			ReplyDelay:           proto.ReplyDelay * ms,
		},
		Secondary: SecondaryConfig{StopAbortsWait: true},
		Sensor: SensorConfig{
			Threshold:      sensor.DefaultThreshold,
			BufferSize:     sensor.DefaultBufferSize,
			SampleInterval: sensor.DefaultSampleInterval,
			EchoTimeout:    sensor.DefaultEchoTimeout,
		},
		Ranging: RangingConfig{
			Samples:       proto.RangingSamples,
			SampleTimeout: proto.RangingSampleTimeout * ms,
			Pace:          proto.RangingPace * ms,
			ReceiverIdle:  proto.RangingReceiverIdle * ms,
		},
	}
}

// Load builds the configuration with precedence ENV > file > defaults. An
// empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := decodeYAML(f, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate rejects values that would stall or spin a node.
func (c Config) Validate() error {
	var errs []error
	positive := map[string]time.Duration{
		"listener.poll_interval":        c.Listener.PollInterval,
		"controller.start_ack_timeout":  c.Controller.StartAckTimeout,
		"controller.response_timeout":   c.Controller.ResponseTimeout,
		"controller.tick_interval":      c.Controller.TickInterval,
		"master.peer_ack_timeout":       c.Master.PeerAckTimeout,
		"master.distance_relay_timeout": c.Master.DistanceRelayTimeout,
		"sensor.sample_interval":        c.Sensor.SampleInterval,
		"sensor.echo_timeout":           c.Sensor.EchoTimeout,
		"ranging.sample_timeout":        c.Ranging.SampleTimeout,
		"ranging.receiver_idle":         c.Ranging.ReceiverIdle,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.Master.ReplyDelay < 0 {
		errs = append(errs, fmt.Errorf("master.reply_delay must not be negative, got %s", c.Master.ReplyDelay))
	}
	if c.Ranging.Pace < 0 {
		errs = append(errs, fmt.Errorf("ranging.pace must not be negative, got %s", c.Ranging.Pace))
	}
	if c.Sensor.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("sensor.threshold_cm must be positive, got %v", c.Sensor.Threshold))
	}
	if c.Sensor.BufferSize < 2 {
		errs = append(errs, fmt.Errorf("sensor.buffer_size must be at least 2, got %d", c.Sensor.BufferSize))
	}
	if c.Ranging.Samples < 1 {
		errs = append(errs, fmt.Errorf("ranging.samples must be at least 1, got %d", c.Ranging.Samples))
	}
	if budget := c.DistanceBudget(); c.Controller.ResponseTimeout < budget {
		errs = append(errs, fmt.Errorf("controller.response_timeout %s is shorter than the master's distance relay (%s)", c.Controller.ResponseTimeout, budget))
	}
	if d := c.Controller.DistanceOverride; d != 0 && (d < proto.MinDistance || d > proto.MaxDistance) {
		errs = append(errs, fmt.Errorf("controller.distance_override must be 0 or %d-%d, got %d", proto.MinDistance, proto.MaxDistance, d))
	}
	return errors.Join(errs...)
}

// DistanceBudget is the longest the master may take to answer a distance
// query: reply delay, the secondary's Ok and every ranging sample.
func (c Config) DistanceBudget() time.Duration {
	r := c.Ranging
	return c.Master.ReplyDelay + c.Master.DistanceRelayTimeout +
		time.Duration(r.Samples)*(r.SampleTimeout+r.Pace)
}

// YAML renders the configuration as a config file.
func (c Config) YAML() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Detector returns the sensor section as detector settings.
func (c Config) Detector() sensor.DetectorConfig {
	return sensor.DetectorConfig{
		Threshold:      c.Sensor.Threshold,
		BufferSize:     c.Sensor.BufferSize,
		SampleInterval: c.Sensor.SampleInterval,
	}
}
