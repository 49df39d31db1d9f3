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
	"sort"
	"sync"
	"time"

	"github.com/TheCacophonyProject/mppt-controller/internal/charger"
	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	dbusName = "org.cacophony.MPPT"
	dbusPath = "/org/cacophony/MPPT"
)

type service struct {
	mu     sync.Mutex
	status charger.Status
	soc    float32
	conn   *dbus.Conn
	resets chan struct{}
}

func newService() *service {
	return &service{
		soc:    -1,
		resets: make(chan struct{}, 1),
	}
}

func (s *service) start() error {
	log.Info("Starting MPPT service")
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}
	s.conn = conn
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

func makeDbusError(name string, err error) *dbus.Error {
	return &dbus.Error{
		Name: dbusName + name,
		Body: []interface{}{err.Error()},
	}
}

func (s *service) update(status charger.Status, soc float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
	s.soc = soc
}

// stateChanged emits a StateChanged signal with the old and new state
// names.
func (s *service) stateChanged(prev, next charger.State) error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Emit(dbusPath, dbusName+".StateChanged", prev.String(), next.String())
}

// Status returns the last charger status.
func (s *service) Status() (map[string]interface{}, *dbus.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Time.IsZero() {
		return nil, makeDbusError(".NoStatus", errors.New("no charger status yet"))
	}
	return statusMap(s.status, s.soc), nil
}

// Reset asks the control loop to reset the charger before its next tick.
func (s *service) Reset() *dbus.Error {
	select {
	case s.resets <- struct{}{}:
		log.Info("Reset requested over dbus")
	default:
		log.Debug("Reset already pending")
	}
	return nil
}

func statusMap(st charger.Status, soc float32) map[string]interface{} {
	m := map[string]interface{}{
		"time":          st.Time.Unix(),
		"state":         st.State.String(),
		"voc":           st.Voc.Float(),
		"panel":         st.Panel.Float(),
		"target":        st.Target.Float(),
		"battery":       st.Battery.Float(),
		"duty":          int32(st.Duty),
		"dutyPercent":   float64(st.DutyPermille()) / 10,
		"driverEnabled": st.DriverEnabled,
		"loadEnabled":   st.LoadEnabled,
		"stateOfCharge": float64(soc),
		"uptime":        int64(st.Uptime / time.Second),
	}
	if st.Fault != "" {
		m["fault"] = st.Fault
	}
	return m
}

func mpptObject() (dbus.BusObject, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	return conn.Object(dbusName, dbusPath), nil
}

func printStatus() error {
	obj, err := mpptObject()
	if err != nil {
		return err
	}
	var status map[string]dbus.Variant
	if err := obj.Call(dbusName+".Status", 0).Store(&status); err != nil {
		return fmt.Errorf("failed to get charger status: %w", err)
	}
	keys := make([]string, 0, len(status))
	for k := range status {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%-14s %v\n", k+":", status[k].Value())
	}
	return nil
}

func requestReset() error {
	obj, err := mpptObject()
	if err != nil {
		return err
	}
	if err := obj.Call(dbusName+".Reset", 0).Err; err != nil {
		return fmt.Errorf("failed to reset charger: %w", err)
	}
	log.Info("Charger reset requested")
	return nil
}
