// Package serialport opens the UART link between a host and the device.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Config describes how a port is opened.
type Config struct {
	Path        string
	BaudRate    int
	ReadTimeout time.Duration
}

// DefaultBaudRate is the rate of the micro:bit USB serial link.
const DefaultBaudRate = 115200

// ErrNoPorts is returned by Detect when no serial port is present.
var ErrNoPorts = errors.New("no serial ports found")

// Open opens the port in 8N1 mode. Reads return after at most ReadTimeout with whatever
// arrived, possibly nothing, so a StreamTransport reader can notice Close.
func Open(cfg Config) (io.ReadWriteCloser, error) {
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	port, err := serial.Open(cfg.Path, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Path, err)
	}

	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("failed to set read timeout on %s: %w", cfg.Path, err)
		}
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to reset input buffer on %s: %w", cfg.Path, err)
	}
	return port, nil
}

// List returns the names of the serial ports present on the host.
func List() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// Detect returns the only serial port present, or an error when there is none or several.
func Detect() (string, error) {
	ports, err := List()
	if err != nil {
		return "", err
	}
	return pick(ports)
}

func pick(ports []string) (string, error) {
	switch len(ports) {
	case 0:
		return "", ErrNoPorts
	case 1:
		return ports[0], nil
	default:
		return "", fmt.Errorf("several serial ports found, choose one of %v", ports)
	}
}
