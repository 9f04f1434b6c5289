// Package config loads process-level settings from YAML.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/luhtfiimanal/serialhub/serial"
)

type SerialConfig struct {
	Device          string        `yaml:"device"`    // "/dev/ttyUSB0", "COM5"
	BaudRate        int           `yaml:"baud_rate"` // 115200
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	MaxLineLength   int           `yaml:"max_line_length"`
	MaxReadsPerPoll int           `yaml:"max_reads_per_poll"`
}

type LogConfig struct {
	JSON  bool   `yaml:"json"`
	Level string `yaml:"level"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the listener
	Path string `yaml:"path"`
}

type Config struct {
	Serial         SerialConfig  `yaml:"serial"`
	TickInterval   time.Duration `yaml:"tick_interval"`
	ReopenInterval time.Duration `yaml:"reopen_interval"`
	Log            LogConfig     `yaml:"log"`
	Metrics        MetricsConfig `yaml:"metrics"`
}

// Load reads the YAML file at path over Defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "cannot parse yaml %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate checks the values the hub cannot run without.
func (c *Config) Validate() error {
	if c.Serial.Device == "" {
		return errors.New("serial.device is required")
	}
	if c.Serial.BaudRate <= 0 {
		return errors.Newf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate)
	}
	if c.Serial.ReadTimeout <= 0 {
		return errors.Newf("serial.read_timeout must be positive, got %s", c.Serial.ReadTimeout)
	}
	if c.TickInterval <= 0 {
		return errors.Newf("tick_interval must be positive, got %s", c.TickInterval)
	}
	if c.ReopenInterval < 0 {
		return errors.Newf("reopen_interval must not be negative, got %s", c.ReopenInterval)
	}
	if c.Metrics.Addr != "" && c.Metrics.Path == "" {
		return errors.New("metrics.path is required when metrics.addr is set")
	}
	return nil
}

// SerialReader converts the serial section into a serial.Config.
func (c *Config) SerialReader() serial.Config {
	return serial.Config{
		Device:          c.Serial.Device,
		BaudRate:        c.Serial.BaudRate,
		ReadTimeout:     c.Serial.ReadTimeout,
		MaxLineLength:   c.Serial.MaxLineLength,
		MaxReadsPerPoll: c.Serial.MaxReadsPerPoll,
	}
}
