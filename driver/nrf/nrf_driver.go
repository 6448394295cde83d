//go:build tinygo || baremetal

package nrf

import (
	"time"
	"unsafe"

	proto "github.com/ystepanoff/racelink/protocol"

	"device/nrf"
)

// maxOnAir is the longest payload after the length byte.
const maxOnAir = 255

// Driver provides a half-duplex RadioDriver backed by the NRF peripheral
// registers. The packet buffer holds a length byte followed by the payload.
type Driver struct {
	buffer    [1 + maxOnAir]byte
	listening bool
}

// New powers the radio and configures it for one point-to-point link.
func New(c RadioConfig) (*Driver, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	startHFCLK()
	configure(c)
	return &Driver{}, nil
}

func (d *Driver) StartListening() error {
	d.listening = true
	return nil
}

func (d *Driver) StopListening() error {
	d.listening = false
	disable()
	return nil
}

func (d *Driver) Tx(data []byte) error {
	if len(data) > maxOnAir {
		return proto.ErrInvalidPayload
	}
	d.buffer[0] = byte(len(data))
	copy(d.buffer[1:], data)

	nrf.RADIO.PACKETPTR.Set(uint32(uintptr(unsafe.Pointer(&d.buffer[0]))))
	nrf.RADIO.EVENTS_READY.Set(0)
	nrf.RADIO.EVENTS_END.Set(0)
	nrf.RADIO.TASKS_TXEN.Set(1)
	for nrf.RADIO.EVENTS_READY.Get() == 0 {
	}
	nrf.RADIO.TASKS_START.Set(1)
	for nrf.RADIO.EVENTS_END.Get() == 0 {
	}
	disable()
	return nil
}

func (d *Driver) Rx(timeout time.Duration) ([]byte, error) {
	if !d.listening {
		return nil, proto.ErrNotListening
	}

	nrf.RADIO.PACKETPTR.Set(uint32(uintptr(unsafe.Pointer(&d.buffer[0]))))
	nrf.RADIO.EVENTS_READY.Set(0)
	nrf.RADIO.EVENTS_END.Set(0)
	nrf.RADIO.TASKS_RXEN.Set(1)
	for nrf.RADIO.EVENTS_READY.Get() == 0 {
	}
	nrf.RADIO.TASKS_START.Set(1)
	start := time.Now()
	for nrf.RADIO.EVENTS_END.Get() == 0 {
		if time.Since(start) > timeout {
			disable()
			return nil, proto.ErrTimeout
		}
	}
	disable()

	if nrf.RADIO.CRCSTATUS.Get() == 0 {
		return nil, proto.ErrInvalidPayload
	}
	n := int(d.buffer[0])
	out := make([]byte, n)
	copy(out, d.buffer[1:1+n])
	return out, nil
}

func disable() {
	nrf.RADIO.TASKS_DISABLE.Set(1)
	for nrf.RADIO.STATE.Get() != nrf.RADIO_STATE_STATE_Disabled {
	}
}
