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
	"time"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/TheCacophonyProject/mppt-controller/internal/charger"
)

const (
	errorEventType       = "mpptError"
	noBatteryEventType   = "mpptNoBattery"
	initFailureEventType = "mpptInitFailure"
)

// eventReporter records the charger states worth looking at later.
type eventReporter struct {
	addEvent func(eventclient.Event) error
	now      func() time.Time
}

func newEventReporter() *eventReporter {
	return &eventReporter{addEvent: eventclient.AddEvent, now: time.Now}
}

// stateChanged is called with the first status after each state change.
func (r *eventReporter) stateChanged(s charger.Status) {
	var eventType string
	switch s.State {
	case charger.Error:
		eventType = errorEventType
	case charger.NoBattery:
		eventType = noBatteryEventType
	default:
		return
	}
	r.add(eventType, map[string]interface{}{
		"panel":   s.Panel.Float(),
		"battery": s.Battery.Float(),
	})
}

func (r *eventReporter) initFailure(err error) {
	r.add(initFailureEventType, map[string]interface{}{"error": err.Error()})
}

func (r *eventReporter) add(eventType string, details map[string]interface{}) {
	err := r.addEvent(eventclient.Event{
		Timestamp: r.now(),
		Type:      eventType,
		Details:   details,
	})
	if err != nil {
		log.Errorf("Error adding event: %v", err)
	}
}
