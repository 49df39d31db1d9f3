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

// Classify maps the panel and battery voltages to a charger state. The
// first matching rule wins:
//
//  1. battery below NoBattery: NoBattery
//  2. battery above Error: Error
//  3. battery strictly between the two and the panel more than
//     SunlightMargin above the battery: Bulk below Float-FloatHysteresis,
//     Float at or above Float
//  4. anything else: Sleep
//
// Inside the hysteresis band [Float-FloatHysteresis, Float) the previous
// state decides, so a battery that reached Float stays there until it falls
// out of the band. prev is not looked at anywhere else.
func (t Thresholds) Classify(panel, battery DeciVolts, prev State) State {
	switch {
	case battery < t.NoBattery:
		return NoBattery
	case battery > t.Error:
		return Error
	case battery > t.NoBattery && battery < t.Error && panel > battery+t.SunlightMargin:
		if battery < t.Float-t.FloatHysteresis {
			return Bulk
		}
		if battery >= t.Float || prev == Float {
			return Float
		}
		return Bulk
	default:
		return Sleep
	}
}
