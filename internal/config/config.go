package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// DefaultMaxLagSeconds is the staleness ceiling applied to replicas that
// don't configure their own threshold. A replica whose measured lag exceeds
// this value is excluded from read routing.
const DefaultMaxLagSeconds = 60

// Config is the application configuration, populated exactly once at
// startup and treated as read-only afterwards. All lookups go through
// explicit accessors; nothing reads configuration dynamically at runtime.
type Config struct {
	// Primary describes the writable database. All writes and schema
	// migrations are routed here.
	Primary Primary `mapstructure:"primary"`

	// VFS configures the read-only replica layer.
	VFS VFS `mapstructure:"vfs"`

	// Litestream configures the external replication engine and the
	// generated litestream.yml document.
	Litestream Litestream `mapstructure:"litestream"`
}

// Primary identifies the writable database.
type Primary struct {
	// Alias is the connection name for the primary. Defaults to "default".
	Alias string `mapstructure:"alias"`

	// Path is the filesystem path of the SQLite database file.
	Path string `mapstructure:"path"`
}

// VFS configures replica connections served by the litestream VFS
// extension.
type VFS struct {
	// Replicas maps a connection alias to the replica source URL
	// (e.g. "s3://mybucket/db.sqlite3").
	Replicas map[string]string `mapstructure:"replicas"`

	// MaxLagSeconds is the staleness threshold for read routing.
	// Defaults to DefaultMaxLagSeconds.
	MaxLagSeconds float64 `mapstructure:"max_lag_seconds"`

	// ExtensionDir is the directory holding the VFS extension shared
	// object. The installer places downloaded extensions here.
	ExtensionDir string `mapstructure:"extension_dir"`

	// ExtensionBaseURL is the release URL prefix the installer downloads
	// platform assets from.
	ExtensionBaseURL string `mapstructure:"extension_base_url"`
}

// Litestream configures invocation of the litestream binary and the
// contents of the generated configuration file.
type Litestream struct {
	// BinPath is the litestream executable. Defaults to "litestream"
	// (resolved via PATH).
	BinPath string `mapstructure:"bin_path"`

	// ConfigFile is where the generated configuration is written when a
	// persistent file is requested. Subprocess runs use a temp file.
	ConfigFile string `mapstructure:"config_file"`

	// PathPrefix is prepended to synthesized replica backup paths.
	PathPrefix string `mapstructure:"path_prefix"`

	// Addr enables the litestream metrics endpoint when set.
	Addr string `mapstructure:"addr"`

	// Logging is passed through verbatim to the generated config.
	Logging map[string]string `mapstructure:"logging"`

	// DBs lists databases to replicate. When empty, a single entry for
	// the primary is synthesized.
	DBs []DBEntry `mapstructure:"dbs"`
}

// DBEntry is one database stanza in the generated litestream config.
type DBEntry struct {
	// Path is a database path or a configured alias; aliases are
	// resolved to their path during generation.
	Path string `mapstructure:"path" yaml:"path"`

	// Replica is an explicit replica block, passed through verbatim.
	// When nil, a default S3 block with env-var placeholders is
	// synthesized.
	Replica map[string]any `mapstructure:"replica" yaml:"replica,omitempty"`
}

// Replica is an immutable replica endpoint derived from configuration.
type Replica struct {
	Alias         string
	URL           string
	MaxLagSeconds float64
}

// envKeys are the scalar keys overridable via SQLMIRROR_* environment
// variables (e.g. SQLMIRROR_VFS_EXTENSION_DIR). Every key must be bound
// explicitly: Unmarshal only consults the environment for keys viper
// already knows about. Map- and list-valued keys (replicas, logging,
// dbs) have no env form.
var envKeys = []string{
	"primary.alias",
	"primary.path",
	"vfs.max_lag_seconds",
	"vfs.extension_dir",
	"vfs.extension_base_url",
	"litestream.bin_path",
	"litestream.config_file",
	"litestream.path_prefix",
	"litestream.addr",
}

// Load reads the configuration file at path, applies SQLMIRROR_* env
// overrides, and validates the result. Call once at startup.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SQLMIRROR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with defaults applied and no replicas.
// Used by commands that can run without a config file.
func Default() *Config {
	return &Config{
		Primary: Primary{Alias: "default", Path: "db.sqlite3"},
		VFS: VFS{
			MaxLagSeconds: DefaultMaxLagSeconds,
		},
		Litestream: Litestream{
			BinPath:    "litestream",
			ConfigFile: "/etc/litestream.yml",
		},
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("primary.alias", "default")
	v.SetDefault("primary.path", "db.sqlite3")
	v.SetDefault("vfs.max_lag_seconds", DefaultMaxLagSeconds)
	v.SetDefault("litestream.bin_path", "litestream")
	v.SetDefault("litestream.config_file", "/etc/litestream.yml")
}

// Validate checks invariants that the rest of the system relies on.
func (c *Config) Validate() error {
	if c.Primary.Alias == "" {
		return fmt.Errorf("config: primary alias must not be empty")
	}
	if c.Primary.Path == "" {
		return fmt.Errorf("config: primary path must not be empty")
	}
	if c.VFS.MaxLagSeconds <= 0 {
		return fmt.Errorf("config: vfs.max_lag_seconds must be positive, got %v", c.VFS.MaxLagSeconds)
	}
	for alias, url := range c.VFS.Replicas {
		if alias == "" {
			return fmt.Errorf("config: replica alias must not be empty")
		}
		// Leading underscores are reserved for internally synthesized
		// aliases (time-travel sessions).
		if strings.HasPrefix(alias, "_") {
			return fmt.Errorf("config: replica alias %q must not start with underscore", alias)
		}
		if alias == c.Primary.Alias {
			return fmt.Errorf("config: replica alias %q collides with primary alias", alias)
		}
		if url == "" {
			return fmt.Errorf("config: replica %q has empty source URL", alias)
		}
	}
	return nil
}

// Replicas returns the configured replica endpoints sorted by alias.
// The returned slice is a fresh copy; callers may not mutate shared state
// through it.
func (c *Config) Replicas() []Replica {
	out := make([]Replica, 0, len(c.VFS.Replicas))
	for alias, url := range c.VFS.Replicas {
		out = append(out, Replica{
			Alias:         alias,
			URL:           url,
			MaxLagSeconds: c.VFS.MaxLagSeconds,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// PrimaryAlias returns the alias of the writable database.
func (c *Config) PrimaryAlias() string {
	return c.Primary.Alias
}

// MaxLagSeconds returns the staleness threshold for read routing.
func (c *Config) MaxLagSeconds() float64 {
	return c.VFS.MaxLagSeconds
}
