package transport

import "time"

// RadioDriver is the interface that wraps the basic half-duplex radio operations.
//
// Frames that arrive while the radio is not listening are lost. Rx returns
// protocol.ErrTimeout when nothing arrives within timeout.
type RadioDriver interface {
	StartListening() error
	StopListening() error
	Tx(data []byte) error
	Rx(timeout time.Duration) ([]byte, error)
}
