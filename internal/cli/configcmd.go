package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewConfigCommand creates the config command, which prints the
// litestream.yml document generated from the current configuration.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "config",
		Short:         "Show the generated litestream configuration",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			doc, err := cfg.LitestreamConfig()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(doc))
			return nil
		},
	}
}
