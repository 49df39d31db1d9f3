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

package hardware

import (
	"fmt"
	"sync"
	"time"

	"github.com/TheCacophonyProject/mppt-controller/internal/charger"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
)

// OutPin finds a GPIO by name and drives it low.
func OutPin(name string) (gpio.PinIO, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("failed to find pin '%s'", name)
	}
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to set pin '%s' low: %w", name, err)
	}
	return pin, nil
}

// PWMOutput drives the buck converter switch from a hardware PWM pin. A
// duty of resolution is fully on.
type PWMOutput struct {
	pin        gpio.PinOut
	resolution int
	freq       physic.Frequency
}

// NewPWMOutput starts the pin at initialDuty so the frequency is checked
// before the gate driver can be enabled. initialDuty should be the lowest
// duty the charger ever asks for.
func NewPWMOutput(pin gpio.PinOut, resolution, freqHz, initialDuty int) (*PWMOutput, error) {
	if resolution <= 0 {
		return nil, fmt.Errorf("invalid pwm resolution %d", resolution)
	}
	if initialDuty < 0 || initialDuty > resolution {
		return nil, fmt.Errorf("initial duty %d outside 0..%d", initialDuty, resolution)
	}
	p := &PWMOutput{
		pin:        pin,
		resolution: resolution,
		freq:       physic.Frequency(freqHz) * physic.Hertz,
	}
	if err := pin.PWM(toGPIODuty(initialDuty, resolution), p.freq); err != nil {
		return nil, fmt.Errorf("failed to start pwm on %s at %s: %w", pin, p.freq, err)
	}
	return p, nil
}

func (p *PWMOutput) SetDuty(duty int) error {
	return p.pin.PWM(toGPIODuty(duty, p.resolution), p.freq)
}

func toGPIODuty(duty, resolution int) gpio.Duty {
	return gpio.Duty(int64(duty) * int64(gpio.DutyMax) / int64(resolution))
}

// DigitalOutput is an on/off GPIO. It serves as the gate driver enable and
// as the load switch.
type DigitalOutput struct {
	pin       gpio.PinOut
	activeLow bool
}

func NewDigitalOutput(pin gpio.PinOut, activeLow bool) *DigitalOutput {
	return &DigitalOutput{pin: pin, activeLow: activeLow}
}

func (d *DigitalOutput) set(on bool) error {
	level := gpio.Level(on != d.activeLow)
	return d.pin.Out(level)
}

func (d *DigitalOutput) SetEnabled(enabled bool) error { return d.set(enabled) }

func (d *DigitalOutput) SetLoad(on bool) error { return d.set(on) }

// LEDInterval is how often the status LED is redrawn. It has to be well
// under the shortest flash in a pattern.
const LEDInterval = 50 * time.Millisecond

// StatusLED shows charger patterns on a LED. Show only picks the pattern,
// the LED is redrawn by Update, on its own ticker once Start is called. The
// blink phase restarts when the pattern changes.
type StatusLED struct {
	pin   gpio.PinOut
	clock charger.Clock

	mu      sync.Mutex
	pattern charger.Pattern
	since   time.Time
	started bool
	stop    chan struct{}
	done    chan struct{}
}

func NewStatusLED(pin gpio.PinOut, clock charger.Clock) *StatusLED {
	return &StatusLED{pin: pin, clock: clock}
}

func (l *StatusLED) Show(p charger.Pattern) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started || p != l.pattern {
		l.pattern = p
		l.since = l.clock.Now()
		l.started = true
	}
	return nil
}

// Update drives the pin for the current point in the pattern.
func (l *StatusLED) Update() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.started {
		return l.pin.Out(gpio.Low)
	}
	lit := l.pattern.Lit(l.clock.Now().Sub(l.since))
	return l.pin.Out(gpio.Level(lit))
}

// Start redraws the LED every interval until Stop.
func (l *StatusLED) Start(interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return
	}
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(interval, l.stop, l.done)
}

func (l *StatusLED) run(interval time.Duration, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := l.Update(); err != nil {
				log.Errorf("Failed to update status LED: %v", err)
			}
		}
	}
}

// Stop ends the redraw loop and switches the LED off.
func (l *StatusLED) Stop() error {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
	return l.pin.Out(gpio.Low)
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }
