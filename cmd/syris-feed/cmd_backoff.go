package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/domody/syris/pkg/retry"
)

func newBackoffCmd(flags *globalFlags) *cobra.Command {
	var attempts int

	cmd := &cobra.Command{
		Use:   "backoff",
		Short: "Print the reconnect delay schedule of the loaded configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if attempts < 1 {
				return fmt.Errorf("backoff: --attempts must be positive, got %d", attempts)
			}
			printSchedule(cmd.OutOrStdout(), cfg.Transport.Reconnect, attempts)
			return nil
		},
	}
	cmd.Flags().IntVarP(&attempts, "attempts", "n", 10, "Number of delays to print")
	return cmd
}

// printSchedule writes one "attempt<TAB>delay" line per reconnect attempt
// and stops early when the configured retries run out.
func printSchedule(w io.Writer, cfg retry.BackoffConfig, attempts int) {
	b := retry.NewBackoff(cfg)
	for i := 1; i <= attempts; i++ {
		d, ok := b.Next()
		if !ok {
			_, _ = fmt.Fprintf(w, "%d\tgive up\n", i)
			return
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\n", i, d)
	}
}
