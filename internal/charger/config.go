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

var ErrInvalidConfig = errors.New("charger: invalid config")

// Calibration describes the resistor divider in front of an ADC channel.
// R1 is the high side resistor, R2 the low side one the ADC reads across.
type Calibration struct {
	ReferenceMilliVolts int64 `mapstructure:"reference-mv"`
	R1Ohms              int64 `mapstructure:"r1-ohms"`
	R2Ohms              int64 `mapstructure:"r2-ohms"`
}

// Thresholds are the battery and panel voltages the mode selector works
// from. They must satisfy NoBattery < Float-FloatHysteresis < Float < Error.
type Thresholds struct {
	NoBattery       DeciVolts `mapstructure:"no-battery"`
	Float           DeciVolts `mapstructure:"float"`
	FloatHysteresis DeciVolts `mapstructure:"float-hysteresis"`
	Error           DeciVolts `mapstructure:"error"`
	// Panel has to be this far above the battery to count as sunlight.
	SunlightMargin DeciVolts `mapstructure:"sunlight-margin"`
}

type Config struct {
	Thresholds Thresholds `mapstructure:"thresholds"`

	LowBatteryCutoff DeciVolts `mapstructure:"low-battery-cutoff"`
	TargetMargin     DeciVolts `mapstructure:"target-margin"`

	RecalibrationInterval time.Duration `mapstructure:"recalibration-interval"`
	SettlingDelay         time.Duration `mapstructure:"settling-delay"`
	FillFactorPercent     int32         `mapstructure:"fill-factor-percent"`
	// StepGain is the number of duty counts moved per volt of tracking error.
	StepGain int32 `mapstructure:"step-gain"`

	DutyResolution int `mapstructure:"duty-resolution"`
	MinDuty        int `mapstructure:"min-duty"`
	MaxDuty        int `mapstructure:"max-duty"`
	PWMFrequencyHz int `mapstructure:"pwm-frequency-hz"`

	Samples        int           `mapstructure:"samples"`
	SampleInterval time.Duration `mapstructure:"sample-interval"`
	ADCFullScale   int64         `mapstructure:"adc-full-scale"`

	Panel   Calibration `mapstructure:"panel"`
	Battery Calibration `mapstructure:"battery"`
}

// DefaultConfig returns the settings for a 12V lead acid battery charged
// from a 36 cell panel.
func DefaultConfig() Config {
	return Config{
		Thresholds: Thresholds{
			NoBattery:       100,
			Float:           136,
			FloatHysteresis: 2,
			Error:           150,
			SunlightMargin:  5,
		},
		LowBatteryCutoff:      115,
		TargetMargin:          5,
		RecalibrationInterval: 15 * time.Second,
		SettlingDelay:         100 * time.Millisecond,
		FillFactorPercent:     76,
		StepGain:              10,
		DutyResolution:        1023,
		MinDuty:               51,
		MaxDuty:               972,
		PWMFrequencyHz:        40000,
		Samples:               100,
		SampleInterval:        100 * time.Microsecond,
		ADCFullScale:          1023,
		Panel: Calibration{
			ReferenceMilliVolts: 3300,
			R1Ohms:              68000,
			R2Ohms:              10000,
		},
		Battery: Calibration{
			ReferenceMilliVolts: 3300,
			R1Ohms:              47000,
			R2Ohms:              10000,
		},
	}
}

func invalid(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, a...))
}

func (t Thresholds) Validate() error {
	if t.NoBattery <= 0 {
		return invalid("no-battery threshold must be positive, got %s", t.NoBattery)
	}
	if t.FloatHysteresis <= 0 {
		return invalid("float hysteresis must be positive, got %s", t.FloatHysteresis)
	}
	if t.NoBattery >= t.Float-t.FloatHysteresis {
		return invalid("no-battery threshold %s must be below float threshold %s less hysteresis %s",
			t.NoBattery, t.Float, t.FloatHysteresis)
	}
	if t.Float >= t.Error {
		return invalid("float threshold %s must be below error threshold %s", t.Float, t.Error)
	}
	if t.SunlightMargin < 0 {
		return invalid("sunlight margin can not be negative, got %s", t.SunlightMargin)
	}
	return nil
}

func (c Calibration) validate(name string) error {
	if c.ReferenceMilliVolts <= 0 || c.R1Ohms < 0 || c.R2Ohms <= 0 {
		return invalid("%s calibration needs a positive reference and R2, got %+v", name, c)
	}
	return nil
}

// Validate checks the orderings the controller relies on. It is run once
// at start up.
func (c Config) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if c.LowBatteryCutoff <= c.Thresholds.NoBattery || c.LowBatteryCutoff >= c.Thresholds.Error {
		return invalid("low battery cutoff %s must be between %s and %s",
			c.LowBatteryCutoff, c.Thresholds.NoBattery, c.Thresholds.Error)
	}
	if c.TargetMargin <= 0 {
		return invalid("target margin must be positive, got %s", c.TargetMargin)
	}
	if c.RecalibrationInterval <= 0 {
		return invalid("recalibration interval must be positive, got %s", c.RecalibrationInterval)
	}
	if c.SettlingDelay < 0 || c.SampleInterval < 0 {
		return invalid("delays can not be negative")
	}
	if c.FillFactorPercent <= 0 || c.FillFactorPercent >= 100 {
		return invalid("fill factor must be between 1 and 99 percent, got %d", c.FillFactorPercent)
	}
	if c.StepGain < 1 {
		return invalid("step gain must be at least 1, got %d", c.StepGain)
	}
	if c.DutyResolution <= 0 {
		return invalid("duty resolution must be positive, got %d", c.DutyResolution)
	}
	// 0 and full scale hold one of the half bridge switches on permanently.
	if c.MinDuty <= 0 || c.MaxDuty >= c.DutyResolution || c.MinDuty >= c.MaxDuty {
		return invalid("duty bounds must satisfy 0 < min (%d) < max (%d) < resolution (%d)",
			c.MinDuty, c.MaxDuty, c.DutyResolution)
	}
	if c.PWMFrequencyHz <= 0 {
		return invalid("pwm frequency must be positive, got %d", c.PWMFrequencyHz)
	}
	if c.Samples < 1 {
		return invalid("samples must be at least 1, got %d", c.Samples)
	}
	if c.ADCFullScale <= 0 {
		return invalid("adc full scale must be positive, got %d", c.ADCFullScale)
	}
	if err := c.Panel.validate("panel"); err != nil {
		return err
	}
	return c.Battery.validate("battery")
}
