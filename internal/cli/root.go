// Package cli implements the sqlmirror command line: litestream
// configuration generation, replica status inspection, backup
// verification, and passthrough commands translated to the litestream
// binary.
package cli

import (
	"errors"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlmirror/internal/config"
)

// defaultConfigFile is the config location probed when --config isn't
// given.
const defaultConfigFile = "sqlmirror.yml"

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	ConfigFile string
	Verbose    bool
}

// NewRootCommand creates the root command for the sqlmirror CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sqlmirror",
		Short: "Lag-aware SQLite read replicas over litestream",
		Long: "sqlmirror manages litestream-fed SQLite read replicas: it generates\n" +
			"the litestream configuration, inspects replica staleness, and wraps\n" +
			"the litestream binary for replication operations.",
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", defaultConfigFile, "path to the sqlmirror configuration file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewDatabasesCommand(opts))
	cmd.AddCommand(NewReplicateCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))
	cmd.AddCommand(NewLTXCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// loadConfig reads the configured file, falling back to defaults only
// when the default location doesn't exist. A file that exists but fails
// to parse or validate is always surfaced, even at the default location.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err == nil {
		return cfg, nil
	}
	if opts.ConfigFile == defaultConfigFile && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}

// resolveDBPath maps a database alias to its file path for commands that
// accept either. Unknown strings pass through as literal paths.
func resolveDBPath(cfg *config.Config, pathOrAlias string) string {
	if pathOrAlias == cfg.PrimaryAlias() {
		return cfg.Primary.Path
	}
	return pathOrAlias
}
