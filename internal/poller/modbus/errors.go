// internal/poller/modbus/errors.go
package modbus

import (
	"errors"
	"fmt"

	"github.com/goburrow/modbus"
)

var (
	// ErrNotConnected is returned without touching the line when no
	// connection is open.
	ErrNotConnected = errors.New("modbus client: not connected")

	ErrAlreadyConnected = errors.New("modbus client: already connected")
	ErrInvalidParams    = errors.New("modbus client: invalid connection parameters")
	ErrInvalidQuantity  = errors.New("modbus client: invalid quantity")
)

// ConnectError reports a failed connect. It never leaves a half-open line.
type ConnectError struct {
	Port string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("modbus client: connect %s: %v", e.Port, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// TransportError is a timeout, I/O failure or malformed response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("modbus client: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ModbusError is a well-formed exception response from the device.
type ModbusError struct {
	FunctionCode  byte
	ExceptionCode byte
}

func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: fc 0x%02X exception 0x%02X (%s)",
		e.FunctionCode, e.ExceptionCode, ExceptionName(e.ExceptionCode))
}

// Code exposes the exception code to callers that only know the
// Code() uint16 shape.
func (e *ModbusError) Code() uint16 { return uint16(e.ExceptionCode) }

// ExceptionName returns the standard name of a Modbus exception code.
func ExceptionName(code byte) string {
	switch code {
	case modbus.ExceptionCodeIllegalFunction:
		return "illegal function"
	case modbus.ExceptionCodeIllegalDataAddress:
		return "illegal data address"
	case modbus.ExceptionCodeIllegalDataValue:
		return "illegal data value"
	case modbus.ExceptionCodeServerDeviceFailure:
		return "server device failure"
	case modbus.ExceptionCodeAcknowledge:
		return "acknowledge"
	case modbus.ExceptionCodeServerDeviceBusy:
		return "server device busy"
	case modbus.ExceptionCodeMemoryParityError:
		return "memory parity error"
	case modbus.ExceptionCodeGatewayPathUnavailable:
		return "gateway path unavailable"
	case modbus.ExceptionCodeGatewayTargetDeviceFailedToRespond:
		return "gateway target device failed to respond"
	}
	return "unknown"
}

// ExceptionCode extracts the device exception code from err, if any.
func ExceptionCode(err error) (byte, bool) {
	var mbErr *ModbusError
	if errors.As(err, &mbErr) {
		return mbErr.ExceptionCode, true
	}
	return 0, false
}

// Classify converts a goburrow error into the client's taxonomy: exception
// responses become *ModbusError, everything else *TransportError.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return &ModbusError{
			FunctionCode:  mbErr.FunctionCode &^ 0x80,
			ExceptionCode: mbErr.ExceptionCode,
		}
	}
	return &TransportError{Op: op, Err: err}
}
