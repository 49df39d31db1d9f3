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

package mppt

import (
	"testing"
	"time"

	"github.com/TheCacophonyProject/mppt-controller/internal/charger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServiceStatus(t *testing.T) {
	s := newService()
	_, dbusErr := s.Status()
	require.NotNil(t, dbusErr)
	assert.Equal(t, "org.cacophony.MPPT.NoStatus", dbusErr.Name)

	running := bulkStatus()
	running.Uptime = 90 * time.Second
	s.update(running, 80)
	status, dbusErr := s.Status()
	require.Nil(t, dbusErr)
	assert.Equal(t, "BULK", status["state"])
	assert.Equal(t, int32(462), status["duty"])
	assert.InDelta(t, 45.2, status["dutyPercent"], 1e-9)
	assert.InDelta(t, 21.3, status["voc"], 1e-9)
	assert.InDelta(t, 80.0, status["stateOfCharge"], 1e-9)
	assert.Equal(t, true, status["loadEnabled"])
	assert.Equal(t, int64(1700000000), status["time"])
	assert.Equal(t, int64(90), status["uptime"])
	assert.NotContains(t, status, "fault")

	faulted := bulkStatus()
	faulted.Fault = "charger: output fault: no pwm"
	s.update(faulted, -1)
	status, _ = s.Status()
	assert.Equal(t, faulted.Fault, status["fault"])
}

func TestServiceResetIsQueued(t *testing.T) {
	s := newService()
	assert.Nil(t, s.Reset())
	// A second request while one is pending is folded into it.
	assert.Nil(t, s.Reset())
	assert.Len(t, s.resets, 1)
	<-s.resets
	assert.Len(t, s.resets, 0)
}

func TestStateChangedWithoutBus(t *testing.T) {
	assert.NoError(t, newService().stateChanged(charger.Sleep, charger.Bulk))
}
