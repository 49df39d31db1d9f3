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
	"testing"
	"time"

	"github.com/TheCacophonyProject/mppt-controller/internal/charger"
	"github.com/TheCacophonyProject/mppt-controller/serialhelper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bulkStatus() charger.Status {
	return charger.Status{
		Time:           time.Unix(1700000000, 0),
		State:          charger.Bulk,
		Voc:            213,
		Panel:          179,
		Target:         162,
		Battery:        125,
		Duty:           462,
		DutyResolution: 1023,
		DriverEnabled:  true,
		LoadEnabled:    true,
	}
}

func TestFormatStatusLine(t *testing.T) {
	assert.Equal(t,
		"Voc 21.3V | Panel 17.9V | Target 16.2V | Battery 12.5V | Duty 45.2% (462) | Driver ON | State BULK | Load ON*B6",
		FormatStatusLine(bulkStatus()))

	sleeping := charger.Status{State: charger.Sleep, Duty: 51, DutyResolution: 1023}
	assert.Equal(t,
		"Voc 0.0V | Panel 0.0V | Target 0.0V | Battery 0.0V | Duty 5.0% (51) | Driver OFF | State SLEEP | Load OFF*AA",
		FormatStatusLine(sleeping))
}

type recordingWriter struct {
	lines []string
	err   error
}

func (w *recordingWriter) SendLine(line string) error {
	if w.err != nil {
		return w.err
	}
	w.lines = append(w.lines, line)
	return nil
}

func TestTelemetryWrite(t *testing.T) {
	w := &recordingWriter{}
	tel := &telemetry{out: w}
	require.NoError(t, tel.write(bulkStatus()))
	require.Len(t, w.lines, 1)
	assert.Equal(t, FormatStatusLine(bulkStatus()), w.lines[0])

	// Another service holding the port only costs a line.
	w.err = serialhelper.NewSerialUnavailableError("locked")
	assert.NoError(t, tel.write(bulkStatus()))

	w.err = errors.New("port gone")
	assert.Error(t, tel.write(bulkStatus()))
}

func TestTelemetryWithoutPort(t *testing.T) {
	assert.NoError(t, newTelemetry("", 115200).write(bulkStatus()))
}
