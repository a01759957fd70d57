package main

import (
	"context"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/mklimuk/tca9548/adapter"
	"github.com/mklimuk/tca9548/cmd/tca9548/console"
	"github.com/mklimuk/tca9548/muxctx"
)

var mcp2221Flags = []cli.Flag{
	&cli.IntFlag{Name: "id", Usage: "bridge index when several are attached", Value: -1},
}

var mcp2221Cmd = cli.Command{
	Name:  "mcp2221",
	Usage: "MCP2221 bridge maintenance",
	Subcommands: []*cli.Command{
		&mcp2221StatusCmd,
		&mcp2221ReleaseCmd,
	},
}

var mcp2221StatusCmd = cli.Command{
	Name:  "status",
	Flags: mcp2221Flags,
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221()
		status, err := a.Status(bridgeContext(c))
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return printYAML(status)
	},
}

var mcp2221ReleaseCmd = cli.Command{
	Name:  "release",
	Usage: "cancel the pending transfer and free the I2C engine",
	Flags: mcp2221Flags,
	Action: func(c *cli.Context) error {
		a := adapter.NewMCP2221()
		status, err := a.ReleaseBus(bridgeContext(c))
		if err != nil {
			return console.Exit(1, "adapter communication error: %s", console.Red(err))
		}
		return printYAML(status)
	},
}

func bridgeContext(c *cli.Context) context.Context {
	ctx := muxctx.SetVerbose(c.Context, c.Bool("verbose"))
	if id := c.Int("id"); id >= 0 {
		ctx = muxctx.SetDeviceID(ctx, id)
	}
	return ctx
}

func printYAML(v interface{}) error {
	enc := yaml.NewEncoder(console.Writer())
	defer func() { _ = enc.Close() }()
	err := enc.Encode(v)
	if err != nil {
		return console.Exit(1, "encoding error: %s", console.Red(err))
	}
	return nil
}
