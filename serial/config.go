package serial

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultBaudRate        = 115200
	DefaultDelimiter       = "\n"
	DefaultReadTimeout     = 50 * time.Millisecond
	DefaultMaxLineLength   = 64 * 1024
	DefaultReadBufferSize  = 4096
	DefaultMaxReadsPerPoll = 64
)

// Config holds configuration parameters for opening a serial port.
type Config struct {
	Device    string
	BaudRate  int
	Delimiter string // default "\n"; surrounding whitespace, including '\r', is trimmed from lines

	// ReadTimeout bounds how long one read waits for the first byte.
	ReadTimeout time.Duration

	// MaxLineLength caps the raw length of a line, before trimming. A longer
	// line is discarded whether it arrives in one read or several.
	MaxLineLength int

	ReadBufferSize  int
	MaxReadsPerPoll int
}

func (c Config) withDefaults() Config {
	if c.BaudRate == 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.Delimiter == "" {
		c.Delimiter = DefaultDelimiter
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.MaxLineLength <= 0 {
		c.MaxLineLength = DefaultMaxLineLength
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.MaxReadsPerPoll <= 0 {
		c.MaxReadsPerPoll = DefaultMaxReadsPerPoll
	}
	return c
}

// Validate reports configuration that cannot open a port.
func (c Config) Validate() error {
	if c.Device == "" {
		return errors.New("serial: device is required")
	}
	if c.BaudRate < 0 {
		return errors.Newf("serial: invalid baud rate %d", c.BaudRate)
	}
	return nil
}
