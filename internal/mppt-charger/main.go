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
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/TheCacophonyProject/mppt-controller/internal/charger"
	"github.com/TheCacophonyProject/mppt-controller/internal/hardware"
	"github.com/TheCacophonyProject/mppt-controller/serialhelper"
	"github.com/alexflint/go-arg"
)

var (
	version = "<not set>"
	log     = logging.NewLogger("info")
)

type Args struct {
	Status *subcommand `arg:"subcommand:status" help:"Print the status of the running charger."`
	Reset  *subcommand `arg:"subcommand:reset"  help:"Reset the running charger. This clears a latched error."`

	ChargerConfig string        `arg:"--charger-config" help:"TOML file with the charger thresholds and calibration."`
	Interval      time.Duration `arg:"--interval" default:"250ms" help:"Time between control ticks."`

	I2CDBus       bool   `arg:"--i2c-dbus" help:"Talk to the ADCs through the org.cacophony.i2c service instead of opening the bus."`
	I2CBus        string `arg:"--i2c-bus" help:"I2C bus to open, defaults to the first one found."`
	PanelADC      uint16 `arg:"--panel-adc" default:"80" help:"I2C address of the panel ADC."`
	BatteryADC    uint16 `arg:"--battery-adc" default:"81" help:"I2C address of the battery ADC."`
	PWMPin        string `arg:"--pwm-pin" default:"GPIO18" help:"Hardware PWM pin driving the buck converter."`
	EnablePin     string `arg:"--enable-pin" default:"GPIO23" help:"Gate driver enable pin."`
	LEDPin        string `arg:"--led-pin" default:"GPIO24" help:"Status LED pin, empty to disable."`
	LoadPin       string `arg:"--load-pin" default:"GPIO25" help:"Load switch pin, empty to disable."`
	LoadActiveLow bool   `arg:"--load-active-low" help:"The load switch turns on when its pin is low."`

	TelemetryPort string `arg:"--telemetry-port" help:"Serial port to write a status line to each tick."`
	BaudRate      int    `arg:"--baud-rate" default:"115200" help:"Telemetry serial baud rate."`

	MQTTServer string `arg:"--mqtt-server" help:"MQTT broker to publish status to, e.g. tcp://127.0.0.1:1883."`
	MQTTTopic  string `arg:"--mqtt-topic" default:"mppt" help:"MQTT topic prefix."`

	goconfig.ConfigArgs
	logging.LogArgs
}

type subcommand struct {
}

var defaultArgs = Args{
	ChargerConfig: charger.DefaultConfigFile,
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs

	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)
	charger.SetLogger(log)
	serialhelper.SetLogger(log)
	hardware.SetLogger(log)

	if args.Status != nil {
		return printStatus()
	}
	if args.Reset != nil {
		return requestReset()
	}

	log.Printf("Running version: %s", version)
	return runCharger(args)
}

// errConfigChanged makes the service exit with an error after a config
// change so systemd restarts it with the new settings.
var errConfigChanged = errors.New("config changed, restarting")

func runCharger(args Args) error {
	conf, err := loadSettings(args)
	if err != nil {
		return err
	}
	configChanged := make(chan struct{}, 1)
	go func() {
		if err := checkConfigChanges(args, conf, configChanged); err != nil {
			log.Errorf("Not watching config for changes: %v", err)
		}
	}()

	events := newEventReporter()
	b, err := openBoard(args, conf.Charger)
	if err != nil {
		events.initFailure(err)
		return err
	}
	defer b.close()

	ctrl, err := charger.New(conf.Charger, b.hw)
	if err != nil {
		return err
	}
	if b.outputErr != nil {
		events.initFailure(b.outputErr)
		if err := ctrl.Fault(b.outputErr); err != nil {
			log.Error(err)
		}
	}

	svc := newService()
	if err := svc.start(); err != nil {
		log.Errorf("Failed to start dbus service: %v", err)
	}

	r := &runner{
		ctrl:      ctrl,
		battery:   conf.Battery,
		events:    events,
		svc:       svc,
		telemetry: newTelemetry(args.TelemetryPort, args.BaudRate),
	}
	if args.MQTTServer != "" {
		client, err := connectMqtt(args.MQTTServer, args.MQTTTopic)
		if err != nil {
			log.Errorf("Not publishing to MQTT: %v", err)
		} else {
			r.mqtt = newMqttReporter(client, args.MQTTTopic)
			hostname, _ := os.Hostname()
			if err := r.mqtt.publishDiscovery(hostname); err != nil {
				log.Errorf("Failed to publish Home Assistant config: %v", err)
			}
			go r.mqtt.run()
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	ticker := time.NewTicker(args.Interval)
	defer ticker.Stop()

	log.Info("Charger running")
	return r.run(ticker.C, configChanged, sigs)
}

// runner does everything that happens around a control tick.
type runner struct {
	ctrl      *charger.Controller
	battery   goconfig.Battery
	events    *eventReporter
	svc       *service
	telemetry *telemetry
	mqtt      *mqttReporter

	lastState charger.State
	ticked    bool
	// restartPending holds a config restart back until a latched error
	// has been reset.
	restartPending bool
}

// run is the control loop. Every way out of it switches the converter
// off first.
func (r *runner) run(ticks <-chan time.Time, configChanged <-chan struct{}, sigs <-chan os.Signal) error {
	for {
		select {
		case sig := <-sigs:
			log.Infof("Received %s, switching converter off", sig)
			return r.ctrl.Reset()
		case <-configChanged:
			if r.ctrl.State() == charger.Error {
				log.Info("Config changed while in error, restarting after the next reset")
				r.restartPending = true
				continue
			}
			log.Info("Config changed, switching converter off to restart")
			return errors.Join(errConfigChanged, r.ctrl.Reset())
		case <-r.svc.resets:
			r.reset()
			if r.restartPending {
				return errConfigChanged
			}
		case <-ticks:
			r.tick()
		}
	}
}

func (r *runner) tick() {
	status, err := r.ctrl.Tick()
	if err != nil {
		log.Errorf("Charger tick failed: %v", err)
	}
	soc := stateOfCharge(&r.battery, status)

	if !r.ticked || status.State != r.lastState {
		if r.ticked {
			if err := r.svc.stateChanged(r.lastState, status.State); err != nil {
				log.Errorf("Failed to signal state change: %v", err)
			}
		}
		r.events.stateChanged(status)
		r.lastState = status.State
		r.ticked = true
	}

	r.svc.update(status, soc)
	if err := r.telemetry.write(status); err != nil {
		log.Error(err)
	}
	if r.mqtt != nil {
		r.mqtt.queue(status, soc)
	}
}

func (r *runner) reset() {
	log.Info("Resetting charger")
	if err := r.ctrl.Reset(); err != nil {
		log.Errorf("Reset failed: %v", err)
	}
	r.svc.update(r.ctrl.Status(), -1)
}
