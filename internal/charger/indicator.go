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

package charger

import "time"

// Pattern is what the status LED shows.
type Pattern uint8

const (
	PatternIdle Pattern = iota
	PatternCharging
	PatternFull
	PatternRecoverableFault
	PatternFault
)

func (p Pattern) String() string {
	switch p {
	case PatternIdle:
		return "idle"
	case PatternCharging:
		return "charging"
	case PatternFull:
		return "full"
	case PatternRecoverableFault:
		return "recoverable fault"
	case PatternFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Lit reports whether the LED is on at elapsed time into the pattern.
//
//	idle               off
//	charging           on
//	full               1s on, 1s off
//	recoverable fault  200ms on, 200ms off
//	fault              two 150ms flashes every 2s
func (p Pattern) Lit(elapsed time.Duration) bool {
	switch p {
	case PatternCharging:
		return true
	case PatternFull:
		return elapsed%(2*time.Second) < time.Second
	case PatternRecoverableFault:
		return elapsed%(400*time.Millisecond) < 200*time.Millisecond
	case PatternFault:
		t := elapsed % (2 * time.Second)
		return t < 150*time.Millisecond || (t >= 300*time.Millisecond && t < 450*time.Millisecond)
	default:
		return false
	}
}

// Indicator shows a pattern on the status LED. It is called once per tick.
type Indicator interface {
	Show(p Pattern) error
}

// LoadSwitch powers the load output.
type LoadSwitch interface {
	SetLoad(on bool) error
}

// LoadOn reports whether the load may be powered at the given battery
// voltage.
func (c Config) LoadOn(battery DeciVolts) bool {
	return battery > c.LowBatteryCutoff
}
