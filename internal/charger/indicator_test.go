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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPatternLit(t *testing.T) {
	ms := time.Millisecond
	assert.False(t, PatternIdle.Lit(0))
	assert.True(t, PatternCharging.Lit(5*time.Hour))

	assert.True(t, PatternFull.Lit(500*ms))
	assert.False(t, PatternFull.Lit(1500*ms))
	assert.True(t, PatternFull.Lit(2500*ms))

	assert.True(t, PatternRecoverableFault.Lit(100*ms))
	assert.False(t, PatternRecoverableFault.Lit(300*ms))

	var flashes int
	lit := false
	for d := time.Duration(0); d < 2*time.Second; d += 10 * ms {
		on := PatternFault.Lit(d)
		if on && !lit {
			flashes++
		}
		lit = on
	}
	assert.Equal(t, 2, flashes)
}
