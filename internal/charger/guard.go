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
)

var ErrOutputFault = errors.New("charger: converter output unavailable")

// PWM sets the duty cycle register of the switching converter.
type PWM interface {
	SetDuty(duty int) error
}

// DriverEnable switches the half bridge gate driver on or off.
type DriverEnable interface {
	SetEnabled(enabled bool) error
}

// OutputGuard is the only place a duty cycle reaches the hardware.
//
// The half bridge is synchronous: asserting the driver enable while the
// duty register still holds a stale value can hold the low side switch on
// and destroy it. Enable therefore always writes the duty first and asserts
// the driver after, and Disable always drops the driver before anything
// else happens.
type OutputGuard struct {
	pwm    PWM
	enable DriverEnable

	minDuty int
	maxDuty int

	duty    int
	enabled bool
	fault   error
}

func NewOutputGuard(conf Config, pwm PWM, enable DriverEnable) *OutputGuard {
	return &OutputGuard{
		pwm:     pwm,
		enable:  enable,
		minDuty: conf.MinDuty,
		maxDuty: conf.MaxDuty,
		duty:    conf.MinDuty,
	}
}

// Enable clamps duty into the configured bounds, writes it, then turns the
// driver on.
func (g *OutputGuard) Enable(duty int) error {
	if g.fault != nil {
		return g.fault
	}
	duty = clamp(duty, g.minDuty, g.maxDuty)
	if err := g.pwm.SetDuty(duty); err != nil {
		// The register may hold anything now.
		return errors.Join(fmt.Errorf("setting duty %d: %w", duty, err), g.Disable())
	}
	g.duty = duty
	if g.enabled {
		return nil
	}
	if err := g.enable.SetEnabled(true); err != nil {
		return errors.Join(fmt.Errorf("enabling driver: %w", err), g.Disable())
	}
	g.enabled = true
	return nil
}

// Disable turns the driver off. The duty register keeps its last value.
func (g *OutputGuard) Disable() error {
	if g.enable == nil {
		g.enabled = false
		return nil
	}
	if err := g.enable.SetEnabled(false); err != nil {
		return fmt.Errorf("disabling driver: %w", err)
	}
	g.enabled = false
	return nil
}

// Fault puts the guard into degraded mode. The driver is switched off and
// every later Enable fails with err.
func (g *OutputGuard) Fault(err error) error {
	g.fault = fmt.Errorf("%w: %w", ErrOutputFault, err)
	return g.Disable()
}

func (g *OutputGuard) Faulted() error { return g.fault }

func (g *OutputGuard) Enabled() bool { return g.enabled }

// Duty is the last value written to the duty register.
func (g *OutputGuard) Duty() int { return g.duty }
