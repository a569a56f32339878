package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(flags *globalFlags) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration, or save it with --output",
		Long: "config resolves defaults, the config file, SYRIS_* variables and flags, then\n" +
			"prints the result as YAML. With --output the result is written to a file\n" +
			"that --config accepts.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load(cmd)
			if err != nil {
				return err
			}
			if output != "" {
				if err := cfg.SaveToFile(output); err != nil {
					return err
				}
				logger.Info("Configuration saved", "path", output)
				return nil
			}
			data, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the configuration to this .yaml file instead of stdout")
	return cmd
}
