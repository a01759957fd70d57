package cmd

import (
	"fmt"
	"log/slog"

	"github.com/gophertribe/devtool/test"
	"github.com/spf13/cobra"
)

// QualityCmds returns the test, lint and integration-test commands.
func QualityCmds() []*cobra.Command {
	steps := []struct {
		use   string
		short string
		run   func() error
	}{
		{"test", "Run unit tests", test.Test},
		{"lint", "Run linting", test.Lint},
		{"integration-test", "Run tests against a multiplexer attached to the host", test.Integ},
	}
	cmds := make([]*cobra.Command, 0, len(steps))
	for _, s := range steps {
		cmds = append(cmds, &cobra.Command{
			Use:   s.use,
			Short: s.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				slog.Info("running", "step", s.use)
				err := s.run()
				if err != nil {
					return fmt.Errorf("%s failed: %w", s.use, err)
				}
				return nil
			},
		})
	}
	return cmds
}
