package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestConfig writes a sqlmirror config pointing the litestream
// binary at /bin/echo, so passthrough commands print their translated
// argv instead of replicating anything.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sqlmirror.yml")
	contents := `
primary:
  alias: default
  path: db.sqlite3
vfs:
  replicas:
    prod_replica: s3://mybucket/db.sqlite3
litestream:
  bin_path: /bin/echo
` + extra
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

// chdir switches to dir for the duration of the test, restoring the
// previous working directory on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

// execute runs the CLI with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigCommand_PrintsGeneratedYAML(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	out, err := execute(t, "--config", cfgPath, "config")
	require.NoError(t, err)

	assert.Contains(t, out, "dbs:")
	assert.Contains(t, out, "path: db.sqlite3")
	assert.Contains(t, out, "bucket: $LITESTREAM_REPLICA_BUCKET")
}

func TestConfigCommand_MissingExplicitConfig(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yml"), "config")
	assert.Error(t, err)
}

func TestLoadConfig_MissingDefaultFileFallsBack(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := loadConfig(&RootOptions{ConfigFile: defaultConfigFile})
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.PrimaryAlias())
}

func TestLoadConfig_MalformedDefaultFileSurfaces(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, defaultConfigFile), []byte("primary: ["), 0o644))
	chdir(t, dir)

	// A file that exists but doesn't parse is never silently replaced by
	// defaults.
	_, err := loadConfig(&RootOptions{ConfigFile: defaultConfigFile})
	assert.Error(t, err)
}

func TestLoadConfig_InvalidDefaultFileSurfaces(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, defaultConfigFile),
		[]byte("vfs:\n  max_lag_seconds: -1\n"), 0o644))
	chdir(t, dir)

	_, err := loadConfig(&RootOptions{ConfigFile: defaultConfigFile})
	assert.Error(t, err)
}

func TestDatabasesCommand_TranslatesArgv(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	out, err := execute(t, "--config", cfgPath, "databases")
	require.NoError(t, err)

	// /bin/echo prints the argv litestream would have received.
	assert.Regexp(t, `^databases -config \S+\.yml`, out)
}

func TestRestoreCommand_TranslatesArgv(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	out, err := execute(t, "--config", cfgPath, "restore",
		"--replica", "s3", "--if-db-not-exists", "-o", "out.db", "default")
	require.NoError(t, err)

	// Optionals before positionals; the alias positional resolves to
	// the primary's database path.
	assert.Regexp(t, `^restore -config \S+\.yml -replica s3 -o out\.db -if-db-not-exists db\.sqlite3`, out)
}

func TestRestoreCommand_LiteralPathPassthrough(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	out, err := execute(t, "--config", cfgPath, "restore", "other.db")
	require.NoError(t, err)

	assert.Regexp(t, `^restore -config \S+\.yml other\.db`, out)
}

func TestLTXCommand_TranslatesArgv(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	out, err := execute(t, "--config", cfgPath, "ltx", "--replica", "s3", "default")
	require.NoError(t, err)

	assert.Regexp(t, `^ltx -config \S+\.yml -replica s3 db\.sqlite3`, out)
}

func TestReplicateCommand_ExecFlag(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	out, err := execute(t, "--config", cfgPath, "replicate", "--exec", "myserver -p 8080")
	require.NoError(t, err)

	assert.Regexp(t, `^replicate -config \S+\.yml -exec myserver -p 8080`, out)
}

func TestVersionCommand(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	out, err := execute(t, "--config", cfgPath, "version")
	require.NoError(t, err)
	assert.Equal(t, "version\n", out)
}

func TestStatusCommand_UnknownAlias(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	_, err := execute(t, "--config", cfgPath, "status", "nope")
	assert.Error(t, err)
}

func TestStatusCommand_RequiresArg(t *testing.T) {
	cfgPath := writeTestConfig(t, "")

	_, err := execute(t, "--config", cfgPath, "status")
	assert.Error(t, err)
}
