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

// StepAmount is how far the duty cycle moves for a tracking error between
// target and panel. It is proportional to the error, gain counts per volt,
// and never less than one count.
func StepAmount(target, panel DeciVolts, gain int32) int {
	step := int(int64(gain) * int64(absDiff(target, panel)) / 10)
	if step < 1 {
		return 1
	}
	return step
}

// nextDuty moves duty towards the point where the panel sits at target.
// A panel above target is underloaded so the duty goes up, a panel below
// target is overloaded so it comes down.
func nextDuty(duty int, panel, target DeciVolts, conf *Config) int {
	switch {
	case panel > target:
		return clamp(duty+StepAmount(target, panel, conf.StepGain), conf.MinDuty, conf.MaxDuty)
	case panel < target:
		return clamp(duty-StepAmount(target, panel, conf.StepGain), conf.MinDuty, conf.MaxDuty)
	default:
		return duty
	}
}

// Tracker is the constant voltage MPPT controller. It estimates the
// maximum power point as a fixed fraction of the open circuit voltage and
// steers the duty cycle so the loaded panel voltage follows it.
//
// The fill factor does not adapt to temperature or irradiance, so the
// estimate is only as good as FillFactorPercent is for the panel fitted.
type Tracker struct {
	conf  *Config
	acq   *Acquisition
	guard *OutputGuard
	clock Clock

	voc          DeciVolts
	target       DeciVolts
	calibrated   bool
	calibratedAt time.Time
}

func NewTracker(conf *Config, acq *Acquisition, guard *OutputGuard, clock Clock) *Tracker {
	return &Tracker{
		conf:  conf,
		acq:   acq,
		guard: guard,
		clock: clock,
	}
}

// Next returns the duty cycle to run the converter at for the next tick.
// panel is the loaded panel voltage measured this tick.
func (t *Tracker) Next(duty int, panel, battery DeciVolts) (int, error) {
	if t.due() {
		if err := t.recalibrate(); err != nil {
			return duty, err
		}
	}
	// A target below the battery can never be reached and makes the duty
	// cycle run away on start up.
	if t.target < battery {
		t.target = battery + t.conf.TargetMargin
	}
	return nextDuty(duty, panel, t.target, t.conf), nil
}

func (t *Tracker) due() bool {
	return !t.calibrated || t.clock.Now().Sub(t.calibratedAt) >= t.conf.RecalibrationInterval
}

// recalibrate measures the open circuit voltage. The converter is off for
// the settling delay and the sampling time.
func (t *Tracker) recalibrate() error {
	if err := t.guard.Disable(); err != nil {
		return err
	}
	t.clock.Sleep(t.conf.SettlingDelay)
	voc, err := t.acq.Measure(PanelChannel)
	if err != nil {
		return fmt.Errorf("measuring open circuit voltage: %w", err)
	}
	t.voc = voc
	t.target = DeciVolts((int64(voc)*int64(t.conf.FillFactorPercent) + 50) / 100)
	t.calibrated = true
	t.calibratedAt = t.clock.Now()
	log.Debugf("Recalibrated, Voc: %s, target: %s", t.voc, t.target)
	return nil
}

// Voc is the last open circuit voltage measured.
func (t *Tracker) Voc() DeciVolts { return t.voc }

// Target is the panel voltage currently tracked.
func (t *Tracker) Target() DeciVolts { return t.target }

func (t *Tracker) reset() {
	t.voc = 0
	t.target = 0
	t.calibrated = false
	t.calibratedAt = time.Time{}
}
