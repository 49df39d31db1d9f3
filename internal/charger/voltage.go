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

import (
	"fmt"
	"math"
)

// DeciVolts is a voltage in tenths of a volt. All calibrated readings,
// thresholds and margins are held in this unit so that every tick is
// computed with integer arithmetic.
type DeciVolts int32

// Volts builds a DeciVolts value from a voltage, rounding to the nearest
// tenth.
func Volts(v float64) DeciVolts {
	return DeciVolts(math.Round(v * 10))
}

// Float returns the voltage in volts.
func (v DeciVolts) Float() float64 {
	return float64(v) / 10
}

func (v DeciVolts) String() string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%dV", sign, v/10, v%10)
}

func absDiff(a, b DeciVolts) DeciVolts {
	if a > b {
		return a - b
	}
	return b - a
}
