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
	"time"

	"github.com/TheCacophonyProject/mppt-controller/internal/charger"
	"github.com/TheCacophonyProject/mppt-controller/serialhelper"
	"github.com/sigurn/crc8"
)

var crcTable = crc8.MakeTable(crc8.CRC8)

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// FormatStatusLine renders a status as a single telemetry line. The CRC-8
// of the text is appended after a '*' so a receiver can drop garbled
// lines.
func FormatStatusLine(s charger.Status) string {
	permille := s.DutyPermille()
	line := fmt.Sprintf("Voc %s | Panel %s | Target %s | Battery %s | Duty %d.%d%% (%d) | Driver %s | State %s | Load %s",
		s.Voc, s.Panel, s.Target, s.Battery,
		permille/10, permille%10, s.Duty,
		onOff(s.DriverEnabled), s.State, onOff(s.LoadEnabled))
	return fmt.Sprintf("%s*%02X", line, crc8.Checksum([]byte(line), crcTable))
}

type lineWriter interface {
	SendLine(line string) error
}

// telemetry writes each status line to the UART when one is configured,
// otherwise the line only goes to the debug log.
type telemetry struct {
	out lineWriter
}

func newTelemetry(port string, baud int) *telemetry {
	if port == "" {
		return &telemetry{}
	}
	log.Infof("Writing telemetry to %s at %d baud", port, baud)
	return &telemetry{out: serialhelper.Sender{
		Port:    port,
		Baud:    baud,
		Retries: 1,
		Wait:    100 * time.Millisecond,
	}}
}

func (t *telemetry) write(s charger.Status) error {
	line := FormatStatusLine(s)
	log.Debug(line)
	if t.out == nil {
		return nil
	}
	if err := t.out.SendLine(line); err != nil {
		if serialhelper.IsUnavailable(err) {
			log.Debugf("Skipping telemetry line: %v", err)
			return nil
		}
		return fmt.Errorf("writing telemetry: %w", err)
	}
	return nil
}
