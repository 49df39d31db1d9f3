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

// Package serialhelper shares a UART between services. A writer takes an
// exclusive flock on the device node for the length of each send, so
// lines from different services never interleave.
package serialhelper

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/go-utils/logging"
	"github.com/tarm/serial"
)

var log = logging.NewLogger("info")

// SetLogger shares the caller's logger so the log level applies here too.
func SetLogger(l *logging.Logger) {
	log = l
}

const (
	DefaultPort = "/dev/serial0"
	cmdlineFile = "/boot/firmware/cmdline.txt"
)

type SerialUnavailableError struct {
	msg string
}

func (e *SerialUnavailableError) Error() string {
	return e.msg
}

func NewSerialUnavailableError(msg string) error {
	return &SerialUnavailableError{msg: msg}
}

// IsUnavailable reports whether err means another user holds the port.
func IsUnavailable(err error) bool {
	var sue *SerialUnavailableError
	return errors.As(err, &sue)
}

// SerialInUseFromTerminal checks if the kernel console is on the primary
// UART.
func SerialInUseFromTerminal(port string) bool {
	if port != DefaultPort {
		return false
	}
	b, err := os.ReadFile(cmdlineFile)
	if err != nil {
		log.Printf("Error when reading %s: %s", cmdlineFile, err)
		return false
	}
	return strings.Contains(string(b), "console=serial0")
}

// Sender writes to a shared serial port.
type Sender struct {
	Port    string
	Baud    int
	Retries int
	Wait    time.Duration
}

// GetSerial opens the port and takes the lock on it, retrying while
// another process holds it. ReleaseSerial must be called on the result.
func (s Sender) GetSerial() (*os.File, error) {
	if SerialInUseFromTerminal(s.Port) {
		return nil, NewSerialUnavailableError("serial is in use by the terminal console")
	}

	serialFile, err := os.OpenFile(s.Port, os.O_RDWR, 0666)
	if err != nil {
		return nil, err
	}
	lockAcquired := false
	defer func() {
		if !lockAcquired {
			serialFile.Close()
		}
	}()

	i := s.Retries
	for {
		err = syscall.Flock(int(serialFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			lockAcquired = true
			return serialFile, nil
		}

		var errno syscall.Errno
		if !errors.As(err, &errno) || errno != syscall.EWOULDBLOCK {
			return nil, err
		}
		if process, err := getLockingProcess(s.Port); err != nil {
			log.Debugf("Error checking locking process: %v", err)
		} else if process != "" {
			log.Debugf("Serial port is locked by process: %s", process)
		}
		if i <= 0 {
			return nil, NewSerialUnavailableError("failed to get lock on serial, might be in use by other process")
		}
		log.Debugf("Serial port is locked by another process. Retrying %d more times in %s", i, s.Wait)
		time.Sleep(s.Wait)
		i--
	}
}

func getLockingProcess(serialPath string) (string, error) {
	cmd := exec.Command("fuser", serialPath)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	err := cmd.Run()
	if err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) && exitError.ExitCode() == 1 {
			// fuser exits 1 when nothing has the file open.
			return "", nil
		}
		return "", fmt.Errorf("failed to execute fuser: %v", err)
	}
	return strings.TrimSpace(output.String()), nil
}

func ReleaseSerial(serialFile *os.File) error {
	err := syscall.Flock(int(serialFile.Fd()), syscall.LOCK_UN)
	serialFile.Close()
	return err
}

// Send writes data to the port while holding the lock.
func (s Sender) Send(data []byte) error {
	start := time.Now()
	serialFile, err := s.GetSerial()
	if err != nil {
		return err
	}
	defer ReleaseSerial(serialFile)
	log.Debugf("Serial lock took %s", time.Since(start))

	c := &serial.Config{Name: s.Port, Baud: s.Baud, ReadTimeout: time.Second}
	serialPort, err := serial.OpenPort(c)
	if err != nil {
		return err
	}
	defer serialPort.Close()

	n, err := serialPort.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("wrote %d bytes, expected %d", n, len(data))
	}
	return nil
}

// SendLine writes line followed by CRLF.
func (s Sender) SendLine(line string) error {
	return s.Send([]byte(line + "\r\n"))
}
