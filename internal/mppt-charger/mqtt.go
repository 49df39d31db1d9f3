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
	"encoding/json"
	"fmt"
	"time"

	"github.com/TheCacophonyProject/mppt-controller/internal/charger"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttTimeout = 5 * time.Second

// publisher is the part of mqtt.Client the reporter uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

func connectMqtt(address, topic string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(address).SetClientID("mppt_" + topic)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetPingTimeout(2 * time.Second)
	opts.SetWill(topic+"/status", "offline", 0, true)
	opts.OnConnect = func(client mqtt.Client) {
		log.Info("MQTT connected")
		client.Publish(topic+"/status", 0, true, "online").Wait()
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Warnf("MQTT connection lost: %v", err)
	}

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("timed out connecting to %s", address)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT server: %w", err)
	}
	return c, nil
}

// statusPayload is what gets published to <topic>/state.
type statusPayload struct {
	Time          time.Time `json:"time"`
	State         string    `json:"state"`
	Voc           float64   `json:"voc"`
	Panel         float64   `json:"panel"`
	Target        float64   `json:"target"`
	Battery       float64   `json:"battery"`
	Duty          int       `json:"duty"`
	DutyPercent   float64   `json:"duty_percent"`
	DriverEnabled bool      `json:"driver_enabled"`
	LoadEnabled   bool      `json:"load_enabled"`
	StateOfCharge *float32  `json:"state_of_charge,omitempty"`
	Fault         string    `json:"fault,omitempty"`
}

func newStatusPayload(s charger.Status, soc float32) statusPayload {
	p := statusPayload{
		Time:          s.Time,
		State:         s.State.String(),
		Voc:           s.Voc.Float(),
		Panel:         s.Panel.Float(),
		Target:        s.Target.Float(),
		Battery:       s.Battery.Float(),
		Duty:          s.Duty,
		DutyPercent:   float64(s.DutyPermille()) / 10,
		DriverEnabled: s.DriverEnabled,
		LoadEnabled:   s.LoadEnabled,
		Fault:         s.Fault,
	}
	if soc >= 0 {
		p.StateOfCharge = &soc
	}
	return p
}

type HassAutoconfig struct {
	DeviceClass       string               `json:"dev_cla,omitempty"`
	UnitOfMeasurement string               `json:"unit_of_meas,omitempty"`
	Name              string               `json:"name"`
	StatusTopic       string               `json:"stat_t"`
	ValueTemplate     string               `json:"val_tpl"`
	AvailabilityTopic string               `json:"avty_t"`
	UniqueID          string               `json:"uniq_id"`
	StateClass        string               `json:"stat_cla,omitempty"`
	Device            HassAutoconfigDevice `json:"dev"`
}

type HassAutoconfigDevice struct {
	IDs  string `json:"ids"`
	Name string `json:"name"`
}

type hassSensor struct {
	field       string
	deviceClass string
	unit        string
}

var hassSensors = []hassSensor{
	{"panel", "voltage", "V"},
	{"battery", "voltage", "V"},
	{"voc", "voltage", "V"},
	{"target", "voltage", "V"},
	{"duty_percent", "", "%"},
	{"state_of_charge", "battery", "%"},
	{"state", "", ""},
}

// mqttReporter publishes off the control loop. Only the newest status
// waits to be sent, older ones are dropped while the broker is slow.
type mqttReporter struct {
	client  publisher
	topic   string
	pending chan statusPayload
}

func newMqttReporter(client publisher, topic string) *mqttReporter {
	return &mqttReporter{
		client:  client,
		topic:   topic,
		pending: make(chan statusPayload, 1),
	}
}

func (r *mqttReporter) discoveryConfigs(hostname string) map[string]HassAutoconfig {
	configs := map[string]HassAutoconfig{}
	for _, s := range hassSensors {
		conf := HassAutoconfig{
			DeviceClass:       s.deviceClass,
			UnitOfMeasurement: s.unit,
			Name:              s.field,
			StatusTopic:       r.topic + "/state",
			ValueTemplate:     "{{ value_json." + s.field + " }}",
			AvailabilityTopic: r.topic + "/status",
			UniqueID:          fmt.Sprint(r.topic, ".", hostname, ".", s.field),
			Device: HassAutoconfigDevice{
				IDs:  hostname,
				Name: hostname,
			},
		}
		if s.unit != "" {
			conf.StateClass = "measurement"
		}
		configs["homeassistant/sensor/mppt_"+hostname+"/"+s.field+"/config"] = conf
	}
	return configs
}

// publishDiscovery pushes Home Assistant sensor configs for each field of
// the state payload.
func (r *mqttReporter) publishDiscovery(hostname string) error {
	for topic, conf := range r.discoveryConfigs(hostname) {
		jsonBytes, err := json.Marshal(&conf)
		if err != nil {
			return err
		}
		if err := r.send(topic, string(jsonBytes)); err != nil {
			return err
		}
	}
	return nil
}

// queue hands a status to run without blocking. It is only called from
// the control loop.
func (r *mqttReporter) queue(s charger.Status, soc float32) {
	p := newStatusPayload(s, soc)
	select {
	case <-r.pending:
	default:
	}
	select {
	case r.pending <- p:
	default:
	}
}

// run publishes queued statuses until pending is closed.
func (r *mqttReporter) run() {
	for p := range r.pending {
		if err := r.publishPayload(p); err != nil {
			log.Errorf("Failed to publish status: %v", err)
		}
	}
}

func (r *mqttReporter) publishPayload(p statusPayload) error {
	jsonBytes, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.send(r.topic+"/state", string(jsonBytes))
}

func (r *mqttReporter) send(topic, payload string) error {
	token := r.client.Publish(topic, 0, true, payload)
	if !token.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	return token.Error()
}
