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
	"errors"
	"fmt"
	"time"
)

// Hardware is everything the controller reads from or drives. Indicator
// and Load are optional.
type Hardware struct {
	ADC       ADC
	PWM       PWM
	Enable    DriverEnable
	Indicator Indicator
	Load      LoadSwitch
	Clock     Clock
}

// Status is a snapshot of the controller after a tick.
type Status struct {
	Time           time.Time
	State          State
	Voc            DeciVolts
	Panel          DeciVolts
	Target         DeciVolts
	Battery        DeciVolts
	Duty           int
	DutyResolution int
	DriverEnabled  bool
	LoadEnabled    bool
	Fault          string
	// Uptime is the time since start up or the last Reset.
	Uptime time.Duration
}

// DutyPermille is the duty cycle in tenths of a percent.
func (s Status) DutyPermille() int {
	if s.DutyResolution <= 0 {
		return 0
	}
	return (s.Duty*1000 + s.DutyResolution/2) / s.DutyResolution
}

type entryAction func(c *Controller) error

// Controller runs one charge control cycle per Tick: measure, classify,
// then run the entry action of the resulting state. It is not safe for
// concurrent use.
type Controller struct {
	conf    Config
	hw      Hardware
	acq     *Acquisition
	guard   *OutputGuard
	tracker *Tracker
	actions map[State]entryAction

	started time.Time
	state   State
	pattern Pattern
	panel   DeciVolts
	battery DeciVolts
	duty    int
	load    bool
}

func New(conf Config, hw Hardware) (*Controller, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	if hw.ADC == nil || hw.Clock == nil {
		return nil, errors.New("charger: an ADC and a clock are required")
	}
	c := &Controller{
		conf: conf,
		hw:   hw,
		actions: map[State]entryAction{
			NoBattery: (*Controller).enterNoBattery,
			Sleep:     (*Controller).enterSleep,
			Bulk:      (*Controller).enterBulk,
			Float:     (*Controller).enterFloat,
			Error:     (*Controller).enterError,
		},
	}
	c.acq = NewAcquisition(conf, hw.ADC, hw.Clock)
	c.guard = NewOutputGuard(conf, hw.PWM, hw.Enable)
	c.tracker = NewTracker(&c.conf, c.acq, c.guard, hw.Clock)
	if hw.PWM == nil || hw.Enable == nil {
		if err := c.guard.Fault(errors.New("no converter output configured")); err != nil {
			return nil, err
		}
	}
	c.resetState()
	return c, nil
}

// Fault puts the converter output into degraded mode after an
// initialisation failure. Measuring and classifying carry on, the output
// stays off.
func (c *Controller) Fault(err error) error {
	log.Errorf("Converter output disabled: %v", err)
	return c.guard.Fault(err)
}

// Reset returns the controller to its power on state with the output
// off. It is the only way out of Error.
func (c *Controller) Reset() error {
	c.resetState()
	err := c.guard.Disable()
	if c.hw.Load != nil {
		err = errors.Join(err, c.hw.Load.SetLoad(false))
	}
	return err
}

func (c *Controller) resetState() {
	c.started = c.hw.Clock.Now()
	c.state = Sleep
	c.pattern = PatternIdle
	c.panel = 0
	c.battery = 0
	c.duty = c.conf.MinDuty
	c.load = false
	c.tracker.reset()
}

func (c *Controller) State() State { return c.state }

// Tick runs one control cycle. Voltages are measured first, then the
// state is classified, then the entry action for the state runs and
// drives the output guard. A measurement error switches the output off
// and leaves the state as it was.
func (c *Controller) Tick() (Status, error) {
	panel, err := c.acq.Measure(PanelChannel)
	if err != nil {
		return c.measurementFailed(err)
	}
	battery, err := c.acq.Measure(BatteryChannel)
	if err != nil {
		return c.measurementFailed(err)
	}
	c.panel, c.battery = panel, battery

	prev := c.state
	// Error is latched, only Reset leaves it.
	if c.state != Error {
		c.state = c.conf.Thresholds.Classify(panel, battery, prev)
	}
	if c.state != prev {
		log.Infof("Charger state changed from %s to %s (panel %s, battery %s)", prev, c.state, panel, battery)
	}

	action, ok := c.actions[c.state]
	if !ok {
		action = (*Controller).enterUnknown
	}
	err = action(c)
	err = errors.Join(err, c.updatePeripherals())
	return c.Status(), err
}

func (c *Controller) measurementFailed(err error) (Status, error) {
	return c.Status(), errors.Join(err, c.guard.Disable())
}

func (c *Controller) updatePeripherals() error {
	var err error
	c.load = c.conf.LoadOn(c.battery)
	if c.hw.Load != nil {
		if e := c.hw.Load.SetLoad(c.load); e != nil {
			err = fmt.Errorf("setting load switch: %w", e)
		}
	}
	if c.hw.Indicator != nil {
		p := c.pattern
		if c.guard.Faulted() != nil {
			p = PatternFault
		}
		if e := c.hw.Indicator.Show(p); e != nil {
			err = errors.Join(err, fmt.Errorf("setting indicator: %w", e))
		}
	}
	return err
}

// enable hands duty to the guard. A guard in degraded mode has already
// been reported so it is not an error for the tick.
func (c *Controller) enable(duty int) error {
	if err := c.guard.Enable(duty); err != nil && !errors.Is(err, ErrOutputFault) {
		return err
	}
	return nil
}

func (c *Controller) enterNoBattery() error {
	c.pattern = PatternRecoverableFault
	return c.guard.Disable()
}

// enterSleep keeps the converter off at night so the battery can not leak
// back into the panel.
func (c *Controller) enterSleep() error {
	c.pattern = PatternIdle
	return c.guard.Disable()
}

func (c *Controller) enterBulk() error {
	c.pattern = PatternCharging
	duty, err := c.tracker.Next(c.duty, c.panel, c.battery)
	if err != nil {
		return errors.Join(err, c.guard.Disable())
	}
	c.duty = duty
	return c.enable(duty)
}

// enterFloat tops the battery off without tracking, the converter runs
// flat out whenever the battery sags below the float threshold.
func (c *Controller) enterFloat() error {
	c.pattern = PatternFull
	c.duty = c.conf.MaxDuty
	if c.battery < c.conf.Thresholds.Float {
		return c.enable(c.duty)
	}
	return c.guard.Disable()
}

func (c *Controller) enterError() error {
	c.pattern = PatternFault
	return c.guard.Disable()
}

func (c *Controller) enterUnknown() error {
	log.Errorf("No entry action for state %d", c.state)
	c.pattern = PatternFault
	return c.guard.Disable()
}

func (c *Controller) Status() Status {
	s := Status{
		Time:           c.hw.Clock.Now(),
		State:          c.state,
		Voc:            c.tracker.Voc(),
		Panel:          c.panel,
		Target:         c.tracker.Target(),
		Battery:        c.battery,
		Duty:           c.duty,
		DutyResolution: c.conf.DutyResolution,
		DriverEnabled:  c.guard.Enabled(),
		LoadEnabled:    c.load,
		Uptime:         c.hw.Clock.Now().Sub(c.started),
	}
	if err := c.guard.Faulted(); err != nil {
		s.Fault = err.Error()
	}
	return s
}
