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
	"os"
	"reflect"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultConfigFile is where the charger settings live on a device.
const DefaultConfigFile = "/etc/cacophony/mppt.toml"

// LoadConfig overlays the TOML file at path on DefaultConfig. Voltages in
// the file are in volts and durations are strings like "15s". A missing
// file leaves the defaults in place.
func LoadConfig(path string) (Config, error) {
	conf := DefaultConfig()
	if path == "" {
		return conf, conf.Validate()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Infof("No charger config at '%s', using defaults", path)
		return conf, conf.Validate()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("failed to read charger config '%s': %w", path, err)
	}
	hooks := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		voltsHook,
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(&conf, hooks); err != nil {
		return Config{}, fmt.Errorf("failed to parse charger config '%s': %w", path, err)
	}
	return conf, conf.Validate()
}

var deciVoltsType = reflect.TypeOf(DeciVolts(0))

func voltsHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if to != deciVoltsType {
		return data, nil
	}
	switch v := data.(type) {
	case float64:
		return Volts(v), nil
	case float32:
		return Volts(float64(v)), nil
	case int64:
		return Volts(float64(v)), nil
	case int:
		return Volts(float64(v)), nil
	default:
		return nil, fmt.Errorf("expected a voltage in volts, got %v (%s)", data, from)
	}
}
