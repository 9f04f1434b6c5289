// Package logger builds the zap logger shared by the hub and the CLI.
package logger

import (
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Standard field names for structured logging.
const (
	FieldDevice     = "device"
	FieldLine       = "line"
	FieldKind       = "kind"
	FieldSubscriber = "subscriber"
	FieldState      = "state"
	FieldComponent  = "component"
)

// Options selects the encoder and level.
type Options struct {
	JSON   bool
	Level  string    // debug, info, warn, error; empty means info
	Output io.Writer // console output, default os.Stdout
}

// New returns a JSON production logger or a human-readable console logger.
func New(opts Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if opts.Level != "" {
		l, err := zapcore.ParseLevel(opts.Level)
		if err != nil {
			return nil, errors.Wrapf(err, "log level %q", opts.Level)
		}
		level = l
	}

	if opts.JSON {
		// JSON structured output for machine consumption
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		return cfg.Build()
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	enc.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(out), level)
	return zap.New(core), nil
}

// Component returns l scoped to a named component.
func Component(l *zap.Logger, name string) *zap.Logger {
	return l.Named(name).With(zap.String(FieldComponent, name))
}
