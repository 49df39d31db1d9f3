/*
mppt-controller - Solar charge controller for the TC2 hat
Copyright (C) 2026, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package hardware drives the charger board from a Raspberry Pi: two
// ADC101C021 converters on I2C for the panel and battery dividers, a
// hardware PWM pin for the buck converter, and plain GPIO outputs for the
// gate driver enable, load switch and status LED.
package hardware

import (
	"encoding/binary"
	"fmt"

	"github.com/TheCacophonyProject/mppt-controller/i2crequest"
	"github.com/TheCacophonyProject/mppt-controller/internal/charger"
)

const (
	ADC101CPanelAddress   = 0x50
	ADC101CBatteryAddress = 0x51

	regConversion = 0x00
	regConfig     = 0x02

	// Conversion on read, alerts off.
	configNormalMode = 0x00

	i2cTimeoutMs = 1000
)

// Bus is the part of periph's i2c.Bus the ADC needs.
type Bus interface {
	Tx(addr uint16, w, r []byte) error
}

// DBusBridge sends transactions through the org.cacophony.i2c service
// instead of opening the bus directly. Use it when other services on the
// hat share the bus.
type DBusBridge struct{}

func (DBusBridge) Tx(addr uint16, w, r []byte) error {
	resp, err := i2crequest.Tx(byte(addr), w, len(r), i2cTimeoutMs)
	if err != nil {
		return err
	}
	if len(resp) != len(r) {
		return fmt.Errorf("read %d bytes from 0x%X, expected %d", len(resp), addr, len(r))
	}
	copy(r, resp)
	return nil
}

// ADC101C reads a TI ADC101C021 per channel. Each conversion is a 10 bit
// value, 0 to 1023.
type ADC101C struct {
	bus   Bus
	addrs map[charger.Channel]uint16
}

// NewADC101C configures both converters and checks they respond.
func NewADC101C(bus Bus, panelAddr, batteryAddr uint16) (*ADC101C, error) {
	a := &ADC101C{
		bus: bus,
		addrs: map[charger.Channel]uint16{
			charger.PanelChannel:   panelAddr,
			charger.BatteryChannel: batteryAddr,
		},
	}
	for _, ch := range []charger.Channel{charger.PanelChannel, charger.BatteryChannel} {
		addr := a.addrs[ch]
		if err := bus.Tx(addr, []byte{regConfig, configNormalMode}, nil); err != nil {
			return nil, fmt.Errorf("failed to configure %s ADC at 0x%X: %w", ch, addr, err)
		}
	}
	return a, nil
}

func (a *ADC101C) Read(ch charger.Channel) (uint16, error) {
	addr, ok := a.addrs[ch]
	if !ok {
		return 0, fmt.Errorf("no ADC for %s", ch)
	}
	var buf [2]byte
	if err := a.bus.Tx(addr, []byte{regConversion}, buf[:]); err != nil {
		return 0, fmt.Errorf("reading %s ADC at 0x%X: %w", ch, addr, err)
	}
	return decodeConversion(buf), nil
}

// decodeConversion drops the alert flag and the two padding bits of the
// 12 bit conversion field.
func decodeConversion(buf [2]byte) uint16 {
	raw := binary.BigEndian.Uint16(buf[:])
	return (raw & 0x0FFF) >> 2
}
