package protocol

import "errors"

var (
	ErrInvalidPayload = errors.New("invalid payload size")
	ErrTimeout        = errors.New("operation timed out")
	ErrNotListening   = errors.New("radio not in receive mode")
	ErrClosed         = errors.New("radio closed")
	ErrNoEstimate     = errors.New("no ranging sample succeeded")
	ErrAborted        = errors.New("race aborted")
	ErrInvalidChannel = errors.New("invalid channel (valid range: 0-125)")
)
