package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"
	"gobot.io/x/gobot/v2/platforms/friendlyelec/nanopi"

	"github.com/mklimuk/tca9548"
	"github.com/mklimuk/tca9548/adapter"
	"github.com/mklimuk/tca9548/config"
	"github.com/mklimuk/tca9548/gobotbus"
	"github.com/mklimuk/tca9548/i2c"
	"github.com/mklimuk/tca9548/muxctx"
	"github.com/mklimuk/tca9548/sim"
)

// loadConfig reads the config file and applies global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("adapter") {
		cfg.Adapter = c.String("adapter")
	}
	if c.IsSet("device") {
		cfg.Device = c.String("device")
	}
	if c.IsSet("bus") {
		cfg.Bus = c.Int("bus")
	}
	if c.IsSet("address") {
		addr, err := parseByte(c.String("address"))
		if err != nil {
			return nil, fmt.Errorf("invalid mux address: %w", err)
		}
		cfg.Address = addr
	}
	return cfg, cfg.Validate()
}

// nanopiBus finalizes the gobot adaptor together with its connections.
type nanopiBus struct {
	*gobotbus.Bus
	finalize func() error
}

func (b *nanopiBus) Close() error {
	return errors.Join(b.Bus.Close(), b.finalize())
}

func openBus(ctx context.Context, cfg *config.Config) (tca9548.Bus, error) {
	switch cfg.Adapter {
	case config.AdapterPeriph:
		bus, err := i2c.NewGenericBus(cfg.Device)
		if err != nil {
			return nil, err
		}
		return bus, nil
	case config.AdapterMCP2221:
		a := adapter.NewMCP2221()
		err := a.Init(ctx)
		if err != nil {
			return nil, fmt.Errorf("adapter initialization error: %w", err)
		}
		return a, nil
	case config.AdapterNanoPi:
		npi := nanopi.NewNeoAdaptor()
		err := npi.I2cBusAdaptor.Connect()
		if err != nil {
			return nil, fmt.Errorf("adaptor connect error: %w", err)
		}
		return &nanopiBus{Bus: gobotbus.New(npi, gobotbus.WithBusNumber(cfg.Bus)), finalize: npi.I2cBusAdaptor.Finalize}, nil
	case config.AdapterSim:
		return sim.New(sim.WithMuxAddress(cfg.Address)), nil
	default:
		return nil, fmt.Errorf("unknown adapter %q", cfg.Adapter)
	}
}

// openMux builds the mux from global flags. The caller closes the returned mux.
func openMux(c *cli.Context) (context.Context, *tca9548.Mux, *config.Config, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx := muxctx.SetVerbose(c.Context, c.Bool("verbose"))
	bus, err := openBus(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	var opts []tca9548.MuxOpt
	if cfg.DeselectOnFailure {
		opts = append(opts, tca9548.WithDeselectOnFailure())
	}
	mux, err := tca9548.New(ctx, bus, cfg.Address, opts...)
	if err != nil {
		if closer, ok := bus.(interface{ Close() error }); ok {
			_ = closer.Close()
		}
		return nil, nil, nil, err
	}
	return ctx, mux, cfg, nil
}

// parseByte parses a hex byte with or without the 0x prefix.
func parseByte(s string) (byte, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 8)
	if err != nil {
		return 0, err
	}
	return byte(v), nil
}

func parseChannel(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n >= tca9548.NumChannels {
		return 0, fmt.Errorf("invalid channel %q (expected 0-%d)", s, tca9548.NumChannels-1)
	}
	return n, nil
}
