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
	"fmt"

	"github.com/TheCacophonyProject/mppt-controller/internal/charger"
	"github.com/TheCacophonyProject/mppt-controller/internal/hardware"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// board is the charger hardware opened from the command line settings.
type board struct {
	hw charger.Hardware
	// outputErr is set when the converter output could not be set up. The
	// charger still runs, measuring only.
	outputErr error
	closers   []func() error
}

func (b *board) close() {
	for _, c := range b.closers {
		if err := c(); err != nil {
			log.Error(err)
		}
	}
}

// openBoard fails only when the voltages can not be read. A failure on the
// converter output is left in outputErr, a missing LED or load switch is
// logged and skipped.
func openBoard(args Args, conf charger.Config) (*board, error) {
	log.Debug("Initializing host")
	if _, err := host.Init(); err != nil {
		return nil, err
	}

	clock := hardware.SystemClock{}
	b := &board{hw: charger.Hardware{Clock: clock}}

	var bus hardware.Bus
	if args.I2CDBus {
		log.Info("Using the I2C dbus service")
		bus = hardware.DBusBridge{}
	} else {
		i2cBus, err := i2creg.Open(args.I2CBus)
		if err != nil {
			return nil, fmt.Errorf("failed to open I2C bus: %w", err)
		}
		b.closers = append(b.closers, i2cBus.Close)
		bus = i2cBus
	}
	adc, err := hardware.NewADC101C(bus, args.PanelADC, args.BatteryADC)
	if err != nil {
		b.close()
		return nil, err
	}
	b.hw.ADC = adc

	b.outputErr = b.openOutput(args, conf)

	if args.LEDPin != "" {
		if pin, err := hardware.OutPin(args.LEDPin); err != nil {
			log.Warnf("No status LED: %v", err)
		} else {
			led := hardware.NewStatusLED(pin, clock)
			led.Start(hardware.LEDInterval)
			b.hw.Indicator = led
			b.closers = append(b.closers, led.Stop)
		}
	}
	if args.LoadPin != "" {
		if pin, err := hardware.OutPin(args.LoadPin); err != nil {
			log.Warnf("No load switch: %v", err)
		} else {
			b.hw.Load = hardware.NewDigitalOutput(pin, args.LoadActiveLow)
		}
	}
	return b, nil
}

// openOutput sets up the enable pin first so the gate driver is held off
// while PWM starts.
func (b *board) openOutput(args Args, conf charger.Config) error {
	enablePin, err := hardware.OutPin(args.EnablePin)
	if err != nil {
		return fmt.Errorf("gate driver enable: %w", err)
	}
	enable := hardware.NewDigitalOutput(enablePin, false)

	pwmPin := gpioreg.ByName(args.PWMPin)
	if pwmPin == nil {
		return fmt.Errorf("failed to find PWM pin '%s'", args.PWMPin)
	}
	pwm, err := hardware.NewPWMOutput(pwmPin, conf.DutyResolution, conf.PWMFrequencyHz, conf.MinDuty)
	if err != nil {
		return err
	}
	b.hw.PWM = pwm
	b.hw.Enable = enable
	b.closers = append(b.closers, func() error { return enable.SetEnabled(false) })
	return nil
}
