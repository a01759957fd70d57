package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/tca9548"
	"github.com/mklimuk/tca9548/cmd/tca9548/console"
)

var resetCmd = cli.Command{
	Name:  "reset",
	Usage: "deselect all channels",
	Action: func(c *cli.Context) error {
		_, mux, _, err := openMux(c)
		if err != nil {
			return console.Exit(1, "could not reset multiplexer: %s", console.Red(err))
		}
		defer func() { _ = mux.Close() }()
		console.PInfof(console.PictoPin, "%s: all channels deselected", console.White(mux))
		return nil
	},
}

type scanEntry struct {
	Channel   int      `yaml:"channel"`
	Name      string   `yaml:"name"`
	Addresses []string `yaml:"addresses,flow"`
}

var scanCmd = cli.Command{
	Name:  "scan",
	Usage: "probe all device addresses on every channel",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "yaml", Usage: "print results as yaml"},
	},
	Action: func(c *cli.Context) error {
		ctx, mux, cfg, err := openMux(c)
		if err != nil {
			return console.Exit(1, "could not open multiplexer: %s", console.Red(err))
		}
		defer func() { _ = mux.Close() }()
		chans, err := mux.Split()
		if err != nil {
			return console.Exit(1, "could not split multiplexer: %s", console.Red(err))
		}
		res, err := chans.Scan(ctx, tca9548.WithScanRetry(cfg.Retry.Limit, cfg.Retry.Backoff))
		if err != nil {
			return console.Exit(1, "scan failed: %s", console.Red(err))
		}
		entries := make([]scanEntry, 0, len(res))
		for _, r := range res {
			e := scanEntry{Channel: r.Channel, Name: cfg.ChannelName(r.Channel), Addresses: []string{}}
			for _, a := range r.Addresses {
				e.Addresses = append(e.Addresses, fmt.Sprintf("%#02x", a))
			}
			entries = append(entries, e)
		}
		if c.Bool("yaml") {
			enc := yaml.NewEncoder(console.Writer())
			defer func() { _ = enc.Close() }()
			if err := enc.Encode(entries); err != nil {
				return console.Exit(1, "encoding error: %s", console.Red(err))
			}
			return nil
		}
		w := tabwriter.NewWriter(console.Writer(), 8, 0, 2, ' ', 0)
		_, _ = fmt.Fprintf(w, "CHANNEL\tNAME\tDEVICES\n")
		for _, e := range entries {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%v\n", e.Channel, e.Name, e.Addresses)
		}
		_ = w.Flush()
		return nil
	},
}

var readCmd = cli.Command{
	Name:      "read",
	Usage:     "read bytes from a device behind the multiplexer",
	ArgsUsage: "<channel> <address> <count>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "reg", Usage: "register (hex) written before reading"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 3 {
			return console.Exit(1, "expected 3 arguments, got %d", c.NArg())
		}
		channel, err := parseChannel(c.Args().Get(0))
		if err != nil {
			return console.Exit(1, "%v", err)
		}
		addr, err := parseByte(c.Args().Get(1))
		if err != nil {
			return console.Exit(1, "could not decode address: %v", err)
		}
		count, err := strconv.Atoi(c.Args().Get(2))
		if err != nil || count < 1 || count > 60 {
			return console.Exit(1, "invalid byte count %q", c.Args().Get(2))
		}
		var ops []tca9548.Operation
		if c.IsSet("reg") {
			reg, err := parseByte(c.String("reg"))
			if err != nil {
				return console.Exit(1, "could not decode register: %v", err)
			}
			ops = append(ops, tca9548.Write([]byte{reg}))
		}
		buf := make([]byte, count)
		ops = append(ops, tca9548.Read(buf))

		ctx, mux, cfg, err := openMux(c)
		if err != nil {
			return console.Exit(1, "could not open multiplexer: %s", console.Red(err))
		}
		defer func() { _ = mux.Close() }()
		chans, err := mux.Split()
		if err != nil {
			return console.Exit(1, "could not split multiplexer: %s", console.Red(err))
		}
		err = tca9548.Retry(ctx, cfg.Retry.Limit, cfg.Retry.Backoff, func(ctx context.Context) error {
			return chans[channel].Transaction(ctx, addr, ops...)
		})
		if err != nil {
			return console.Exit(1, "read from %#x on %s failed: %s", addr, cfg.ChannelName(channel), console.Red(err))
		}
		console.Printf("%s", hex.Dump(buf))
		return nil
	},
}

var writeCmd = cli.Command{
	Name:      "write",
	Usage:     "write bytes to a device behind the multiplexer",
	ArgsUsage: "<channel> <address> <hex data>",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "yes", Aliases: []string{"y"}, Usage: "do not ask for confirmation"},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 3 {
			return console.Exit(1, "expected 3 arguments, got %d", c.NArg())
		}
		channel, err := parseChannel(c.Args().Get(0))
		if err != nil {
			return console.Exit(1, "%v", err)
		}
		addr, err := parseByte(c.Args().Get(1))
		if err != nil {
			return console.Exit(1, "could not decode address: %v", err)
		}
		data, err := hex.DecodeString(c.Args().Get(2))
		if err != nil || len(data) == 0 {
			return console.Exit(1, "could not decode data %q", c.Args().Get(2))
		}
		if !c.Bool("yes") {
			ok, err := console.Confirm(fmt.Sprintf("write % x to %#x on channel %d?", data, addr, channel))
			if err != nil {
				return console.Exit(1, "prompt error: %v", err)
			}
			if !ok {
				console.PInfof(console.PictoStop, "aborted")
				return nil
			}
		}

		ctx, mux, cfg, err := openMux(c)
		if err != nil {
			return console.Exit(1, "could not open multiplexer: %s", console.Red(err))
		}
		defer func() { _ = mux.Close() }()
		chans, err := mux.Split()
		if err != nil {
			return console.Exit(1, "could not split multiplexer: %s", console.Red(err))
		}
		err = tca9548.Retry(ctx, cfg.Retry.Limit, cfg.Retry.Backoff, func(ctx context.Context) error {
			return chans[channel].WriteToAddr(ctx, addr, data)
		})
		if err != nil {
			return console.Exit(1, "write to %#x on %s failed: %s", addr, cfg.ChannelName(channel), console.Red(err))
		}
		console.PInfof(console.PictoPin, "wrote %s bytes to %#x on %s", console.White(len(data)), addr, cfg.ChannelName(channel))
		return nil
	},
}
