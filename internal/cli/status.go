package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlmirror/internal/config"
	"github.com/roach88/sqlmirror/internal/registry"
	"github.com/roach88/sqlmirror/internal/vfs"
)

// NewStatusCommand creates the status command, which probes a replica
// for its transaction id and replication lag.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "status <alias>",
		Short:         "Show replica status (txid, lag, source URL)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}

			reg, err := buildRegistry(cfg)
			if err != nil {
				return err
			}
			defer reg.CloseAll()

			st, err := reg.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "alias:      %s\n", st.Alias)
			fmt.Fprintf(out, "source_url: %s\n", st.SourceURL)
			if st.TXID != "" {
				fmt.Fprintf(out, "txid:       %s\n", st.TXID)
			} else {
				fmt.Fprintf(out, "txid:       unknown\n")
			}
			if st.LagSeconds != nil {
				fmt.Fprintf(out, "lag:        %.1fs\n", *st.LagSeconds)
			} else {
				fmt.Fprintf(out, "lag:        unknown\n")
			}
			return nil
		},
	}
}

// buildRegistry wires the connection registry with an extension loader
// rooted at the configured extension directory.
func buildRegistry(cfg *config.Config) (*registry.Registry, error) {
	path, err := vfs.ExtensionPath(cfg.VFS.ExtensionDir)
	if err != nil {
		return nil, err
	}
	loader := vfs.NewLoader(path, &vfs.Installer{
		BaseURL: cfg.VFS.ExtensionBaseURL,
		Dir:     cfg.VFS.ExtensionDir,
	})
	return registry.New(cfg, loader), nil
}
