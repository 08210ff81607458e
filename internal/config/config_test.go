package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sqlmirror.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
vfs:
  replicas:
    prod_replica: s3://mybucket/db.sqlite3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.PrimaryAlias())
	assert.Equal(t, "db.sqlite3", cfg.Primary.Path)
	assert.Equal(t, float64(DefaultMaxLagSeconds), cfg.MaxLagSeconds())
	assert.Equal(t, "litestream", cfg.Litestream.BinPath)
}

func TestLoad_FullConfig(t *testing.T) {
	path := writeConfigFile(t, `
primary:
  alias: main
  path: /data/app.db
vfs:
  max_lag_seconds: 30
  replicas:
    prod_replica: s3://mybucket/db.sqlite3
    analytics_replica: s3://analytics/analytics.db
litestream:
  bin_path: /usr/local/bin/litestream
  path_prefix: backups/
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "main", cfg.PrimaryAlias())
	assert.Equal(t, 30.0, cfg.MaxLagSeconds())

	replicas := cfg.Replicas()
	require.Len(t, replicas, 2)
	// Sorted by alias.
	assert.Equal(t, "analytics_replica", replicas[0].Alias)
	assert.Equal(t, "prod_replica", replicas[1].Alias)
	assert.Equal(t, "s3://mybucket/db.sqlite3", replicas[1].URL)
	assert.Equal(t, 30.0, replicas[0].MaxLagSeconds)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SQLMIRROR_VFS_EXTENSION_DIR", "/opt/sqlmirror/ext")
	t.Setenv("SQLMIRROR_LITESTREAM_BIN_PATH", "/usr/local/bin/litestream")
	t.Setenv("SQLMIRROR_PRIMARY_ALIAS", "main")

	path := writeConfigFile(t, `
vfs:
  replicas:
    prod_replica: s3://mybucket/db.sqlite3
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Every scalar key honors its SQLMIRROR_* variable, not just the
	// defaulted ones.
	assert.Equal(t, "/opt/sqlmirror/ext", cfg.VFS.ExtensionDir)
	assert.Equal(t, "/usr/local/bin/litestream", cfg.Litestream.BinPath)
	assert.Equal(t, "main", cfg.PrimaryAlias())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)

	// Callers distinguish a missing file from a malformed one.
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestValidate_RejectsUnderscoreAlias(t *testing.T) {
	cfg := Default()
	cfg.VFS.Replicas = map[string]string{"_sneaky": "s3://bucket/db"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "underscore")
}

func TestValidate_RejectsPrimaryCollision(t *testing.T) {
	cfg := Default()
	cfg.VFS.Replicas = map[string]string{"default": "s3://bucket/db"}

	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsNonPositiveLag(t *testing.T) {
	cfg := Default()
	cfg.VFS.MaxLagSeconds = 0

	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsEmptyReplicaURL(t *testing.T) {
	cfg := Default()
	cfg.VFS.Replicas = map[string]string{"prod_replica": ""}

	assert.Error(t, cfg.Validate())
}

func TestReplicas_ReturnsCopy(t *testing.T) {
	cfg := Default()
	cfg.VFS.Replicas = map[string]string{"prod_replica": "s3://bucket/db"}

	first := cfg.Replicas()
	first[0].URL = "mutated"

	second := cfg.Replicas()
	assert.Equal(t, "s3://bucket/db", second[0].URL)
}
