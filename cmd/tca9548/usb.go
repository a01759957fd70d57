package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/karalabe/hid"
	"github.com/urfave/cli/v2"

	"github.com/mklimuk/tca9548/adapter"
	"github.com/mklimuk/tca9548/cmd/tca9548/console"
)

var adaptersCmd = cli.Command{
	Name:  "adapters",
	Usage: "list USB HID devices and detect MCP2221 bridges",
	Action: func(c *cli.Context) error {
		if !hid.Supported() {
			return console.Exit(1, "USB HID is not supported on this platform")
		}
		devices := hid.Enumerate(0, 0)

		w := tabwriter.NewWriter(console.Writer(), 24, 0, 1, ' ', 0)
		_, _ = fmt.Fprintf(w, "PATH\tVENDOR\tPRODUCT ID\tMANUFACTURER\tPRODUCT\tBRIDGE\n")
		bridges := 0
		for _, dev := range devices {
			bridge := ""
			if dev.VendorID == adapter.VendorID && dev.ProductID == adapter.ProductID {
				bridge = fmt.Sprintf("%s #%d", console.Green("MCP2221"), bridges)
				bridges++
			}
			_, _ = fmt.Fprintf(w, "%s\t%#x\t%#x\t%s\t%s\t%s\n",
				dev.Path, dev.VendorID, dev.ProductID, dev.Manufacturer, dev.Product, bridge)
		}
		_ = w.Flush()
		return nil
	},
}
