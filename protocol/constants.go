package protocol

// Wire and timing constants shared by every node. Higher layers depend on this file.
const (
	// Link B frames are fixed-size; the payload is ASCII text padded with NUL bytes.
	//   Payload (16) | no header, no CRC (the radio adds its own)
	FixedPayloadSize = 16

	// Link A frames are variable-length UTF-8 text.
	MaxTextSize = 250

	// Race distance bounds in meters.
	MinDistance = 1
	MaxDistance = 99

	// SentinelValue is sent when no real measurement is available.
	SentinelValue = 1

	// Counters on the controller stop at 99:00.
	MaxStageSeconds = 99 * 60

	// Timeouts / intervals (milliseconds)
	ListenerPollInterval = 10
	StartAckTimeout      = 5000
	ResponseTimeout      = 7500 // covers the master's worst-case distance relay
	PeerAckTimeout       = 700
	DistanceRelayTimeout = 700
	ReplyDelay           = 200
	RangingSampleTimeout = 1000
	RangingReceiverIdle  = 2000
	RangingPace          = 100

	RangingSamples = 5

	// Radio propagation speed in m/s.
	PropagationSpeed = 3e8
)
