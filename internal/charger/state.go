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

type State uint8

const (
	NoBattery State = iota
	Sleep
	Bulk
	Float
	Error
)

// States lists every charger state in declaration order.
var States = []State{NoBattery, Sleep, Bulk, Float, Error}

func (s State) String() string {
	switch s {
	case NoBattery:
		return "NO_BATTERY"
	case Sleep:
		return "SLEEP"
	case Bulk:
		return "BULK"
	case Float:
		return "FLOAT"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
