package env

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// DefaultBaudRate is the default serial bitrate.
const DefaultBaudRate = 115200

// OpenSerial opens a serial port in 8N1 mode.
func OpenSerial(port string, baudRate int) (io.ReadWriteCloser, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	p, err := serial.Open(port, &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", port, err)
	}
	return p, nil
}

// SerialPorts lists the serial ports available.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
