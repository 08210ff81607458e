package cli

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlmirror/internal/config"
)

// Passthrough commands translate their flags into litestream binary
// argv and exec the binary against a temporary generated config file.
// Argv shape follows the litestream CLI: subcommand first, then
// optionals (-config always first), then positionals.

// NewDatabasesCommand creates the databases passthrough command.
func NewDatabasesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "databases",
		Short:         "List databases specified in the generated config",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLitestream(cmd, rootOpts, "databases", nil, nil)
		},
	}
}

// NewReplicateCommand creates the replicate passthrough command.
func NewReplicateCommand(rootOpts *RootOptions) *cobra.Command {
	var execCmd string

	cmd := &cobra.Command{
		Use:           "replicate",
		Short:         "Run a server to replicate databases",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var optionals []string
			if execCmd != "" {
				optionals = append(optionals, "-exec", execCmd)
			}
			return runLitestream(cmd, rootOpts, "replicate", optionals, nil)
		},
	}

	cmd.Flags().StringVar(&execCmd, "exec", "", "subcommand to execute; litestream exits when it exits")
	return cmd
}

// NewRestoreCommand creates the restore passthrough command.
func NewRestoreCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		replica         string
		output          string
		ifReplicaExists bool
		ifDBNotExists   bool
		parallelism     int
		generation      string
		index           int
		timestamp       string
	)

	cmd := &cobra.Command{
		Use:           "restore <db-path-or-alias>",
		Short:         "Recover a database backup from a replica",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var optionals []string
			if replica != "" {
				optionals = append(optionals, "-replica", replica)
			}
			if output != "" {
				optionals = append(optionals, "-o", output)
			}
			if ifReplicaExists {
				optionals = append(optionals, "-if-replica-exists")
			}
			if ifDBNotExists {
				optionals = append(optionals, "-if-db-not-exists")
			}
			if cmd.Flags().Changed("parallelism") {
				optionals = append(optionals, "-parallelism", strconv.Itoa(parallelism))
			}
			if generation != "" {
				optionals = append(optionals, "-generation", generation)
			}
			if cmd.Flags().Changed("index") {
				optionals = append(optionals, "-index", strconv.Itoa(index))
			}
			if timestamp != "" {
				optionals = append(optionals, "-timestamp", timestamp)
			}
			return runLitestream(cmd, rootOpts, "restore", optionals, args)
		},
	}

	cmd.Flags().StringVar(&replica, "replica", "", "restore from a specific replica")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path of the restored database")
	cmd.Flags().BoolVar(&ifReplicaExists, "if-replica-exists", false, "exit 0 if no backups found")
	cmd.Flags().BoolVar(&ifDBNotExists, "if-db-not-exists", false, "exit 0 if the database already exists")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "number of LTX files downloaded in parallel")
	cmd.Flags().StringVar(&generation, "generation", "", "restore from a specific generation")
	cmd.Flags().IntVar(&index, "index", 0, "restore up to a specific LTX index (inclusive)")
	cmd.Flags().StringVar(&timestamp, "timestamp", "", "restore to a specific point-in-time")
	return cmd
}

// NewLTXCommand creates the ltx passthrough command.
func NewLTXCommand(rootOpts *RootOptions) *cobra.Command {
	var replica string

	cmd := &cobra.Command{
		Use:           "ltx <db-path-or-alias>",
		Short:         "List available LTX files for a database",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var optionals []string
			if replica != "" {
				optionals = append(optionals, "-replica", replica)
			}
			return runLitestream(cmd, rootOpts, "ltx", optionals, args)
		},
	}

	cmd.Flags().StringVar(&replica, "replica", "", "filter by replica")
	return cmd
}

// NewVersionCommand creates the version passthrough command. Unlike the
// other passthroughs it needs no config file.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "version",
		Short:         "Print the litestream binary version",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			return execLitestream(cmd, rootOpts, cfg, []string{"version"})
		},
	}
}

// runLitestream generates a temporary litestream config, builds argv as
// [subcommand, -config, <tempfile>, optionals..., positionals...] with
// alias positionals resolved to database paths, and execs the binary.
func runLitestream(cmd *cobra.Command, rootOpts *RootOptions, subcommand string, optionals, positionals []string) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}

	configPath, cleanup, err := writeTempConfig(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	argv := []string{subcommand, "-config", configPath}
	argv = append(argv, optionals...)
	for _, p := range positionals {
		argv = append(argv, resolveDBPath(cfg, p))
	}

	return execLitestream(cmd, rootOpts, cfg, argv)
}

// execLitestream runs the litestream binary with the command's stdio.
func execLitestream(cmd *cobra.Command, rootOpts *RootOptions, cfg *config.Config, argv []string) error {
	if rootOpts.Verbose {
		fmt.Fprintf(cmd.ErrOrStderr(), "litestream bin: %s\n", cfg.Litestream.BinPath)
		fmt.Fprintf(cmd.ErrOrStderr(), "litestream args: %s\n", strings.Join(argv, " "))
	}

	proc := exec.CommandContext(cmd.Context(), cfg.Litestream.BinPath, argv...)
	proc.Stdout = cmd.OutOrStdout()
	proc.Stderr = cmd.ErrOrStderr()
	proc.Stdin = cmd.InOrStdin()
	if err := proc.Run(); err != nil {
		return fmt.Errorf("litestream %s: %w", argv[0], err)
	}
	return nil
}

// writeTempConfig renders litestream.yml into a temp file that lives for
// the duration of one subprocess run.
func writeTempConfig(cfg *config.Config) (string, func(), error) {
	doc, err := cfg.LitestreamConfig()
	if err != nil {
		return "", nil, err
	}

	f, err := os.CreateTemp("", "litestream-*.yml")
	if err != nil {
		return "", nil, fmt.Errorf("create temp config: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(doc); err != nil {
		f.Close()
		os.Remove(path)
		return "", nil, fmt.Errorf("write temp config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", nil, fmt.Errorf("close temp config: %w", err)
	}
	return path, func() { os.Remove(path) }, nil
}
