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

type Channel uint8

const (
	PanelChannel Channel = iota
	BatteryChannel
)

func (c Channel) String() string {
	switch c {
	case PanelChannel:
		return "panel"
	case BatteryChannel:
		return "battery"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// ADC returns one raw conversion from a channel.
type ADC interface {
	Read(ch Channel) (uint16, error)
}

type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Sampler takes a fixed number of conversions from a channel, waiting
// Interval before each one so the input capacitance can settle.
type Sampler struct {
	ADC      ADC
	Clock    Clock
	Count    int
	Interval time.Duration
}

// Sum returns the sum of Count conversions from ch.
func (s Sampler) Sum(ch Channel) (uint32, error) {
	var sum uint32
	for i := 0; i < s.Count; i++ {
		if s.Interval > 0 {
			s.Clock.Sleep(s.Interval)
		}
		raw, err := s.ADC.Read(ch)
		if err != nil {
			return 0, fmt.Errorf("reading %s sample %d: %w", ch, i, err)
		}
		sum += uint32(raw)
	}
	return sum, nil
}

// DeciVolts converts the sum of count conversions into a voltage.
//
//	V = sum/count * Vref/fullScale * (R1+R2)/R2
//
// The whole expression is kept in one int64 fraction and rounded half up
// once, so the result only depends on the samples.
func (c Calibration) DeciVolts(sum uint32, count int, fullScale int64) DeciVolts {
	num := int64(sum) * c.ReferenceMilliVolts * (c.R1Ohms + c.R2Ohms)
	den := int64(count) * fullScale * c.R2Ohms * 100
	if den <= 0 {
		return 0
	}
	return DeciVolts((num + den/2) / den)
}

// Acquisition turns oversampled ADC readings into calibrated voltages.
type Acquisition struct {
	sampler   Sampler
	fullScale int64
	cal       map[Channel]Calibration
}

func NewAcquisition(conf Config, adc ADC, clock Clock) *Acquisition {
	return &Acquisition{
		sampler: Sampler{
			ADC:      adc,
			Clock:    clock,
			Count:    conf.Samples,
			Interval: conf.SampleInterval,
		},
		fullScale: conf.ADCFullScale,
		cal: map[Channel]Calibration{
			PanelChannel:   conf.Panel,
			BatteryChannel: conf.Battery,
		},
	}
}

// Measure returns the calibrated voltage on ch.
func (a *Acquisition) Measure(ch Channel) (DeciVolts, error) {
	cal, ok := a.cal[ch]
	if !ok {
		return 0, fmt.Errorf("no calibration for %s", ch)
	}
	sum, err := a.sampler.Sum(ch)
	if err != nil {
		return 0, err
	}
	return cal.DeciVolts(sum, a.sampler.Count, a.fullScale), nil
}
