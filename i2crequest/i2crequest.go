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

// Package i2crequest makes I2C transactions through the org.cacophony.i2c
// dbus service, which owns the bus on the hat and serialises access to it.
package i2crequest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus"
)

const (
	dbusName = "org.cacophony.i2c"
	dbusPath = "/org/cacophony/i2c"
)

// TxResponse is a canned reply used by MockTxResponses.
type TxResponse struct {
	Response []byte
	Err      error
}

var (
	mockMu      sync.Mutex
	mocking     bool
	mockReplies []TxResponse
	mockWrites  [][]byte
)

var errNoMockResponse = errors.New("no mock i2c response left")

// MockTxResponses replaces the dbus call with the given replies, in order.
// Passing nil goes back to using dbus.
func MockTxResponses(responses []TxResponse) {
	mockMu.Lock()
	defer mockMu.Unlock()
	mocking = responses != nil
	mockReplies = responses
	mockWrites = nil
}

// MockedWrites returns the write buffers seen since MockTxResponses.
func MockedWrites() [][]byte {
	mockMu.Lock()
	defer mockMu.Unlock()
	return mockWrites
}

func mockTx(write []byte) ([]byte, error) {
	mockMu.Lock()
	defer mockMu.Unlock()
	mockWrites = append(mockWrites, append([]byte(nil), write...))
	if len(mockReplies) == 0 {
		return nil, errNoMockResponse
	}
	r := mockReplies[0]
	mockReplies = mockReplies[1:]
	return r.Response, r.Err
}

func isMocking() bool {
	mockMu.Lock()
	defer mockMu.Unlock()
	return mocking
}

// Tx writes write to the device at address and reads readLen bytes back.
// timeout is in milliseconds.
func Tx(address byte, write []byte, readLen, timeout int) ([]byte, error) {
	if isMocking() {
		return mockTx(write)
	}
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, err
	}
	obj := conn.Object(dbusName, dbusPath)

	var response []byte
	if err := obj.Call(dbusName+".Tx", 0, address, write, readLen, timeout).Store(&response); err != nil {
		return nil, err
	}
	if len(response) != readLen {
		return nil, fmt.Errorf("read %d bytes from 0x%X, expected %d", len(response), address, readLen)
	}
	return response, nil
}
