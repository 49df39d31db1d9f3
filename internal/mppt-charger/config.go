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
	"path/filepath"

	goconfig "github.com/TheCacophonyProject/go-config"
	"github.com/TheCacophonyProject/mppt-controller/internal/charger"
	"github.com/google/go-cmp/cmp"
	"github.com/rjeczalik/notify"
)

// settings is everything read from config files at start up.
type settings struct {
	Charger charger.Config
	Battery goconfig.Battery
}

func loadSettings(args Args) (*settings, error) {
	chargerConf, err := charger.LoadConfig(args.ChargerConfig)
	if err != nil {
		return nil, err
	}
	battery, err := loadBatteryConfig(args.ConfigDir)
	if err != nil {
		return nil, err
	}
	return &settings{Charger: chargerConf, Battery: battery}, nil
}

// loadBatteryConfig reads the shared battery section, the same one the
// ATtiny battery monitor uses.
func loadBatteryConfig(configDir string) (goconfig.Battery, error) {
	conf, err := goconfig.New(configDir)
	if err != nil {
		return goconfig.Battery{}, err
	}
	battery := goconfig.DefaultBattery()
	if err := conf.Unmarshal(goconfig.BatteryKey, &battery); err != nil {
		return goconfig.Battery{}, err
	}
	return battery, nil
}

// stateOfCharge estimates the battery percentage from its voltage. It is
// only known when the battery chemistry has been set by hand, otherwise -1.
func stateOfCharge(battery *goconfig.Battery, s charger.Status) float32 {
	if s.State == charger.NoBattery || s.Battery <= 0 || !battery.IsManuallyConfigured() {
		return -1
	}
	voltage := float32(s.Battery.Float())
	pack, err := battery.GetBatteryPack(voltage)
	if err != nil {
		log.Debugf("No battery pack: %v", err)
		return -1
	}
	percent, err := pack.VoltageToPercent(voltage)
	if err != nil {
		log.Debugf("Can't estimate state of charge: %v", err)
		return -1
	}
	return percent
}

// checkConfigChanges compares the settings from start up with the config
// files each time one is written. If anything changed it tells the control
// loop on changed and returns.
func checkConfigChanges(args Args, current *settings, changed chan<- struct{}) error {
	paths := []string{
		args.ChargerConfig,
		filepath.Join(args.ConfigDir, goconfig.ConfigFileName),
	}
	fsEvents := make(chan notify.EventInfo, 1)
	defer notify.Stop(fsEvents)
	watching := 0
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			log.Debugf("Not watching '%s': %v", path, err)
			continue
		}
		if err := notify.Watch(path, fsEvents, notify.InCloseWrite, notify.InMovedTo); err != nil {
			return err
		}
		watching++
	}
	if watching == 0 {
		return nil
	}

	for {
		ev := <-fsEvents
		log.Debugf("Config file event %s on %s", ev.Event(), ev.Path())
		newSettings, err := loadSettings(args)
		if err != nil {
			log.Error("error reloading config:", err)
			continue
		}
		diff := settingsDiff(current, newSettings)
		log.Debug("Config diff:", diff)
		if diff != "" {
			log.Info("Config changed.")
			changed <- struct{}{}
			return nil
		}
		log.Info("No relevant changes detected in config file.")
	}
}

func settingsDiff(a, b *settings) string {
	return cmp.Diff(a, b)
}
