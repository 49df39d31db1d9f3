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
	"errors"
	"testing"
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/TheCacophonyProject/mppt-controller/internal/charger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	events []eventclient.Event
	err    error
}

func (l *eventLog) add(e eventclient.Event) error {
	l.events = append(l.events, e)
	return l.err
}

func newTestEventReporter(l *eventLog) *eventReporter {
	now := time.Unix(1700000000, 0)
	return &eventReporter{addEvent: l.add, now: func() time.Time { return now }}
}

func TestStateChangeEvents(t *testing.T) {
	l := &eventLog{}
	r := newTestEventReporter(l)

	for _, state := range []charger.State{charger.Sleep, charger.Bulk, charger.Float} {
		r.stateChanged(charger.Status{State: state})
	}
	assert.Empty(t, l.events)

	r.stateChanged(charger.Status{State: charger.Error, Panel: 190, Battery: 152})
	r.stateChanged(charger.Status{State: charger.NoBattery, Panel: 180, Battery: 12})
	require.Len(t, l.events, 2)

	assert.Equal(t, "mpptError", l.events[0].Type)
	assert.Equal(t, time.Unix(1700000000, 0), l.events[0].Timestamp)
	assert.InDelta(t, 15.2, l.events[0].Details["battery"], 1e-9)
	assert.InDelta(t, 19.0, l.events[0].Details["panel"], 1e-9)
	assert.Equal(t, "mpptNoBattery", l.events[1].Type)
}

func TestInitFailureEvent(t *testing.T) {
	l := &eventLog{err: errors.New("event reporter not running")}
	r := newTestEventReporter(l)
	r.initFailure(errors.New("failed to find PWM pin 'GPIO18'"))
	require.Len(t, l.events, 1)
	assert.Equal(t, "mpptInitFailure", l.events[0].Type)
	assert.Equal(t, "failed to find PWM pin 'GPIO18'", l.events[0].Details["error"])
}
