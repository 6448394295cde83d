//go:build tinygo || baremetal

// This file is built only for embedded targets (using real radio hardware).
package racelink

import (
	"github.com/ystepanoff/racelink/driver/nrf"
	"github.com/ystepanoff/racelink/protocol"
)

// ErrInvalidChannel is returned by RadioLink for a channel outside 0-125.
var ErrInvalidChannel = protocol.ErrInvalidChannel

// RadioConfig addresses one link; both ends use the same values.
type RadioConfig = nrf.RadioConfig

// RadioLink configures the on-chip radio for one link.
func (k *Kit) RadioLink(name string, rc RadioConfig, c Codec) (*Link, error) {
	d, err := nrf.New(rc)
	if err != nil {
		return nil, err
	}
	return k.Link(name, d, c), nil
}
