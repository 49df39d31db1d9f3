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

package i2crequest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockTxResponses(t *testing.T) {
	busErr := errors.New("busy timeout")
	MockTxResponses([]TxResponse{
		{Response: []byte{0x01, 0x02}},
		{Err: busErr},
	})
	defer MockTxResponses(nil)

	resp, err := Tx(0x50, []byte{0x00}, 2, 100)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, resp)

	_, err = Tx(0x51, []byte{0x02, 0x00}, 0, 100)
	assert.ErrorIs(t, err, busErr)

	_, err = Tx(0x50, []byte{0x00}, 2, 100)
	assert.ErrorIs(t, err, errNoMockResponse)

	assert.Equal(t, [][]byte{{0x00}, {0x02, 0x00}, {0x00}}, MockedWrites())
}

func TestMockedWritesAreCopies(t *testing.T) {
	MockTxResponses([]TxResponse{{}})
	defer MockTxResponses(nil)

	write := []byte{0x00}
	_, err := Tx(0x50, write, 0, 100)
	require.NoError(t, err)
	write[0] = 0xFF
	assert.Equal(t, [][]byte{{0x00}}, MockedWrites())
}
