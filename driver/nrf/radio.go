//go:build tinygo || baremetal

package nrf

import (
	proto "github.com/ystepanoff/racelink/protocol"

	"device/nrf"
)

// maxChannel is the highest RF channel (2400 MHz + channel).
const maxChannel = 125

// RadioConfig addresses one point-to-point link. Both ends must agree on
// every field.
type RadioConfig struct {
	Address uint32 // base address 0
	Prefix  byte   // prefix byte of logical address 0
	Channel uint8
	// Power is a RADIO_TXPOWER_TXPOWER_* value; zero keeps 0 dBm.
	Power uint32
}

func (c RadioConfig) validate() error {
	if c.Channel > maxChannel {
		return proto.ErrInvalidChannel
	}
	return nil
}

func startHFCLK() {
	nrf.CLOCK.EVENTS_HFCLKSTARTED.Set(0)
	nrf.CLOCK.TASKS_HFCLKSTART.Set(1)
	for nrf.CLOCK.EVENTS_HFCLKSTARTED.Get() == 0 {
	}
}

// configure programs the radio for 1 Mbit Nordic framing with an 8-bit
// length field and a 16-bit CRC. The radio is left disabled.
func configure(c RadioConfig) {
	power := c.Power
	if power == 0 {
		power = nrf.RADIO_TXPOWER_TXPOWER_0dBm
	}

	nrf.RADIO.POWER.Set(1)
	nrf.RADIO.MODE.Set(nrf.RADIO_MODE_MODE_Nrf_1Mbit)
	nrf.RADIO.TXPOWER.Set(power)
	nrf.RADIO.FREQUENCY.Set(uint32(c.Channel))

	// logical address 0 only, for both directions
	nrf.RADIO.BASE0.Set(c.Address)
	nrf.RADIO.PREFIX0.Set(uint32(c.Prefix))
	nrf.RADIO.TXADDRESS.Set(0)
	nrf.RADIO.RXADDRESSES.Set(1)

	nrf.RADIO.PCNF0.Set(8 << nrf.RADIO_PCNF0_LFLEN_Pos)
	nrf.RADIO.PCNF1.Set(
		(maxOnAir << nrf.RADIO_PCNF1_MAXLEN_Pos) |
			(3 << nrf.RADIO_PCNF1_BALEN_Pos) |
			(nrf.RADIO_PCNF1_ENDIAN_Little << nrf.RADIO_PCNF1_ENDIAN_Pos))

	nrf.RADIO.CRCCNF.Set(2)
	nrf.RADIO.CRCINIT.Set(0xFFFF)
	nrf.RADIO.CRCPOLY.Set(0x11021)

	disable()
}
