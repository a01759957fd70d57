// Package config holds the settings of the tca9548 cli. Values come from an
// optional yaml file and may be overridden by command line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mklimuk/tca9548"
)

// Version is injected at build time.
var Version = "latest"

const (
	AdapterPeriph  = "periph"
	AdapterMCP2221 = "mcp2221"
	AdapterNanoPi  = "nanopi"
	AdapterSim     = "sim"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Retry struct {
	Limit   int           `yaml:"limit"`
	Backoff time.Duration `yaml:"backoff"`
}

type Config struct {
	Adapter string `yaml:"adapter"`
	// Device is the periph bus name, e.g. /dev/i2c-1 or "1".
	Device string `yaml:"device"`
	// Bus is the gobot bus number; -1 uses the platform default.
	Bus               int            `yaml:"bus"`
	Address           uint8          `yaml:"address"`
	DeselectOnFailure bool           `yaml:"deselectOnFailure"`
	Retry             Retry          `yaml:"retry"`
	Channels          map[int]string `yaml:"channels"`
}

func Default() *Config {
	return &Config{
		Adapter: AdapterPeriph,
		Device:  "",
		Bus:     -1,
		Address: tca9548.DefaultAddress,
		Retry: Retry{
			Limit:   3,
			Backoff: 10 * time.Millisecond,
		},
		Channels: map[int]string{},
	}
}

// Load reads path on top of the defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	c := Default()
	err := yaml.Unmarshal(data, c)
	if err != nil {
		return nil, fmt.Errorf("could not parse config: %w", err)
	}
	err = c.Validate()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	switch c.Adapter {
	case AdapterPeriph, AdapterMCP2221, AdapterNanoPi, AdapterSim:
	default:
		return fmt.Errorf("%w: unknown adapter %q", ErrInvalidConfig, c.Adapter)
	}
	if c.Address > 0x7F {
		return fmt.Errorf("%w: address %#x is not a 7-bit address", ErrInvalidConfig, c.Address)
	}
	if c.Retry.Limit < 1 {
		return fmt.Errorf("%w: retry limit must be at least 1", ErrInvalidConfig)
	}
	if c.Retry.Backoff < 0 {
		return fmt.Errorf("%w: negative retry backoff", ErrInvalidConfig)
	}
	for ch := range c.Channels {
		if ch < 0 || ch >= tca9548.NumChannels {
			return fmt.Errorf("%w: channel %d out of range", ErrInvalidConfig, ch)
		}
	}
	return nil
}

// ChannelName returns the configured label of channel n or its number.
func (c *Config) ChannelName(n int) string {
	if name, ok := c.Channels[n]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("ch%d", n)
}
