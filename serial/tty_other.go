//go:build !linux

package serial

import (
	"github.com/cockroachdb/errors"
	bugst "go.bug.st/serial"
)

// openTTY opens cfg.Device through go.bug.st/serial on platforms without
// the termios implementation. The driver's read timeout gives Read the same
// (0, nil) behaviour on an idle line.
func openTTY(cfg Config) (Port, error) {
	port, err := bugst.Open(cfg.Device, &bugst.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
		port.Close()
		return nil, errors.Wrap(err, "set read timeout")
	}
	return port, nil
}
