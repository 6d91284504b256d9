// Package transport wraps the serial link to the basestation.
package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

// Defaults for the basestation's USB CDC-ACM console.
const (
	DefaultBaudRate        = 115200
	DefaultDataBits        = 8
	DefaultTerminalTimeout = 100 * time.Millisecond
	DefaultFlowTimeout     = time.Second
)

// Port is the duplex byte stream to the device. A go.bug.st/serial Port
// satisfies it directly.
//
// Read blocks for at most the configured read timeout and returns 0, nil when
// nothing arrived in that time.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Drain() error
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Params are the fixed link parameters of a session.
type Params struct {
	BaudRate    int
	DataBits    int
	RTSCTS      bool
	ReadTimeout time.Duration
}

// DefaultParams returns 115200 8N1 with hardware handshake lines asserted.
func DefaultParams() Params {
	return Params{
		BaudRate:    DefaultBaudRate,
		DataBits:    DefaultDataBits,
		RTSCTS:      true,
		ReadTimeout: DefaultFlowTimeout,
	}
}

// Opener opens a port by name.
type Opener func(path string, params Params) (Port, error)

// Open opens and configures a serial port. Parity is always none and one stop
// bit is used; software flow control is never enabled.
func Open(path string, params Params) (Port, error) {
	if params.BaudRate <= 0 {
		params.BaudRate = DefaultBaudRate
	}
	if params.DataBits <= 0 {
		params.DataBits = DefaultDataBits
	}

	mode := &serial.Mode{
		BaudRate: params.BaudRate,
		DataBits: params.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if params.RTSCTS {
		// The library has no CRTSCTS switch; assert the handshake outputs so
		// the CDC-ACM side sees a ready host.
		mode.InitialStatusBits = &serial.ModemOutputBits{RTS: true, DTR: true}
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, &Error{Op: "open", Path: path, Err: err}
	}

	if params.ReadTimeout > 0 {
		if err := port.SetReadTimeout(params.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, &Error{Op: "set read timeout", Path: path, Err: err}
		}
	}

	return port, nil
}

// Error is a failure at the transport boundary.
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsDisconnect reports whether err looks like the device went away.
func IsDisconnect(err error) bool {
	if err == nil {
		return false
	}

	var portErrPtr *serial.PortError
	if errors.As(err, &portErrPtr) && portErrPtr != nil {
		return isDisconnectCode(portErrPtr.Code())
	}
	var portErr serial.PortError
	if errors.As(err, &portErr) {
		return isDisconnectCode(portErr.Code())
	}

	if errors.Is(err, ErrClosed) {
		return true
	}

	// OS-level errors that the library passes through unwrapped
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "device not configured") ||
		strings.Contains(errStr, "input/output error") ||
		strings.Contains(errStr, "no such device") ||
		strings.Contains(errStr, "broken pipe")
}

func isDisconnectCode(code serial.PortErrorCode) bool {
	switch code {
	case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
		return true
	default:
		return false
	}
}
