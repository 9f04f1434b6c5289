package config

import (
	"time"

	"github.com/luhtfiimanal/serialhub/serial"
)

func Defaults() *Config {
	return &Config{
		Serial: SerialConfig{
			Device:          "/dev/ttyUSB0",
			BaudRate:        serial.DefaultBaudRate,
			ReadTimeout:     serial.DefaultReadTimeout,
			MaxLineLength:   serial.DefaultMaxLineLength,
			MaxReadsPerPoll: serial.DefaultMaxReadsPerPoll,
		},
		TickInterval:   16 * time.Millisecond,
		ReopenInterval: time.Second,
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
	}
}
