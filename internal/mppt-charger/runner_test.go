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
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/TheCacophonyProject/mppt-controller/internal/charger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time        { return c.now }
func (c *testClock) Sleep(d time.Duration) { c.now = c.now.Add(d) }

// levelADC returns a fixed count per channel.
type levelADC map[charger.Channel]uint16

func (a levelADC) Read(ch charger.Channel) (uint16, error) { return a[ch], nil }

type switchRecorder struct{ on bool }

func (s *switchRecorder) SetDuty(int) error             { return nil }
func (s *switchRecorder) SetEnabled(enabled bool) error { s.on = enabled; return nil }

type testRig struct {
	adc    levelADC
	clock  *testClock
	out    *switchRecorder
	events *eventLog
	lines  *recordingWriter
	svc    *service
	r      *runner
}

// newTestRig reads raw counts straight through as decivolts.
func newTestRig(t *testing.T) *testRig {
	conf := charger.DefaultConfig()
	unity := charger.Calibration{ReferenceMilliVolts: 102300, R1Ohms: 0, R2Ohms: 1}
	conf.Panel = unity
	conf.Battery = unity
	conf.Samples = 2

	rig := &testRig{
		adc:    levelADC{},
		clock:  &testClock{now: time.Unix(1700000000, 0)},
		out:    &switchRecorder{},
		events: &eventLog{},
		lines:  &recordingWriter{},
		svc:    newService(),
	}
	ctrl, err := charger.New(conf, charger.Hardware{
		ADC:    rig.adc,
		PWM:    rig.out,
		Enable: rig.out,
		Clock:  rig.clock,
	})
	require.NoError(t, err)
	rig.r = &runner{
		ctrl:      ctrl,
		battery:   leadAcidBattery(),
		events:    newTestEventReporter(rig.events),
		svc:       rig.svc,
		telemetry: &telemetry{out: rig.lines},
	}
	return rig
}

func (rig *testRig) tick(panel, battery uint16) map[string]interface{} {
	rig.adc[charger.PanelChannel] = panel
	rig.adc[charger.BatteryChannel] = battery
	rig.clock.Sleep(time.Second)
	rig.r.tick()
	status, _ := rig.svc.Status()
	return status
}

func TestRunnerTicks(t *testing.T) {
	rig := newTestRig(t)

	status := rig.tick(180, 125)
	assert.Equal(t, "BULK", status["state"])
	assert.True(t, rig.out.on)
	assert.Empty(t, rig.events.events)
	require.Len(t, rig.lines.lines, 1)
	assert.Contains(t, rig.lines.lines[0], "State BULK")

	status = rig.tick(180, 155)
	assert.Equal(t, "ERROR", status["state"])
	assert.False(t, rig.out.on)
	require.Len(t, rig.events.events, 1)
	assert.Equal(t, "mpptError", rig.events.events[0].Type)

	// Error is latched while nothing resets it.
	status = rig.tick(180, 125)
	assert.Equal(t, "ERROR", status["state"])
	assert.Len(t, rig.events.events, 1)

	require.Nil(t, rig.svc.Reset())
	<-rig.svc.resets
	rig.r.reset()
	status, _ = rig.svc.Status()
	assert.Equal(t, "SLEEP", status["state"])

	status = rig.tick(180, 50)
	assert.Equal(t, "NO_BATTERY", status["state"])
	require.Len(t, rig.events.events, 2)
	assert.Equal(t, "mpptNoBattery", rig.events.events[1].Type)
	assert.InDelta(t, -1, status["stateOfCharge"], 1e-9)
	assert.Len(t, rig.lines.lines, 4)
}

func TestRunnerStateOfCharge(t *testing.T) {
	rig := newTestRig(t)
	status := rig.tick(100, 120)
	assert.Equal(t, "SLEEP", status["state"])
	assert.InDelta(t, 40, status["stateOfCharge"], 0.01)
}

func TestConfigChangeSwitchesOutputOff(t *testing.T) {
	rig := newTestRig(t)
	rig.tick(180, 125)
	require.True(t, rig.out.on)

	changed := make(chan struct{}, 1)
	changed <- struct{}{}
	err := rig.r.run(nil, changed, nil)
	assert.ErrorIs(t, err, errConfigChanged)
	assert.False(t, rig.out.on)
}

func TestConfigChangeWaitsForErrorReset(t *testing.T) {
	rig := newTestRig(t)
	rig.tick(180, 155)
	require.Equal(t, charger.Error, rig.r.ctrl.State())

	changed := make(chan struct{}, 1)
	changed <- struct{}{}
	done := make(chan error, 1)
	go func() { done <- rig.r.run(nil, changed, nil) }()

	// A config restart would clear the latched error without anyone
	// asking for it.
	select {
	case err := <-done:
		t.Fatalf("loop exited while in error: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	require.Nil(t, rig.svc.Reset())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, errConfigChanged)
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after reset")
	}
	assert.False(t, rig.out.on)
}

func TestSignalSwitchesOutputOff(t *testing.T) {
	rig := newTestRig(t)
	rig.tick(180, 125)
	require.True(t, rig.out.on)

	sigs := make(chan os.Signal, 1)
	sigs <- syscall.SIGTERM
	assert.NoError(t, rig.r.run(nil, nil, sigs))
	assert.False(t, rig.out.on)
}
