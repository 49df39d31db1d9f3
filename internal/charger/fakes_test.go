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
	"time"
)

type manualClock struct {
	now   time.Time
	slept time.Duration
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Sleep(d time.Duration) {
	c.now = c.now.Add(d)
	c.slept += d
}

func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeADC returns fixed raw values per channel, or replays a sequence when
// one is queued.
type fakeADC struct {
	values map[Channel]uint16
	queued map[Channel][]uint16
	err    error
	reads  map[Channel]int
}

func newFakeADC(panel, battery uint16) *fakeADC {
	return &fakeADC{
		values: map[Channel]uint16{PanelChannel: panel, BatteryChannel: battery},
		queued: map[Channel][]uint16{},
		reads:  map[Channel]int{},
	}
}

func (a *fakeADC) Read(ch Channel) (uint16, error) {
	if a.err != nil {
		return 0, a.err
	}
	a.reads[ch]++
	if q := a.queued[ch]; len(q) > 0 {
		a.queued[ch] = q[1:]
		return q[0], nil
	}
	return a.values[ch], nil
}

func (a *fakeADC) set(panel, battery DeciVolts) {
	a.values[PanelChannel] = uint16(panel)
	a.values[BatteryChannel] = uint16(battery)
}

// output records every write to the converter in order.
type output struct {
	calls   []string
	duty    int
	enabled bool
	dutyErr error
}

func (o *output) SetDuty(duty int) error {
	if o.dutyErr != nil {
		return o.dutyErr
	}
	o.calls = append(o.calls, fmt.Sprintf("duty %d", duty))
	o.duty = duty
	return nil
}

func (o *output) SetEnabled(enabled bool) error {
	if enabled {
		o.calls = append(o.calls, "enable")
	} else {
		o.calls = append(o.calls, "disable")
	}
	o.enabled = enabled
	return nil
}

type recordedPatterns []Pattern

func (r *recordedPatterns) Show(p Pattern) error {
	*r = append(*r, p)
	return nil
}

type loadSwitch struct{ on bool }

func (l *loadSwitch) SetLoad(on bool) error {
	l.on = on
	return nil
}

// testConfig is DefaultConfig with dividers that make one raw count equal
// one decivolt, so tests can feed voltages straight into the fake ADC.
func testConfig() Config {
	conf := DefaultConfig()
	unity := Calibration{ReferenceMilliVolts: 102300, R1Ohms: 0, R2Ohms: 1}
	conf.Panel = unity
	conf.Battery = unity
	conf.Samples = 4
	conf.SampleInterval = time.Millisecond
	return conf
}
