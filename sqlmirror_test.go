package sqlmirror

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sqlmirror/internal/config"
)

func testMirror(t *testing.T) *Mirror {
	t.Helper()
	cfg := config.Default()
	cfg.Primary.Path = filepath.Join(t.TempDir(), "primary.db")
	cfg.VFS.Replicas = map[string]string{"prod_replica": "s3://mybucket/db.sqlite3"}
	cfg.VFS.ExtensionDir = t.TempDir()
	require.NoError(t, cfg.Validate())

	m, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestNew_AssemblesSubsystem(t *testing.T) {
	m := testMirror(t)

	assert.NotNil(t, m.Registry())
	assert.NotNil(t, m.Router())
	assert.Equal(t, "default", m.Router().WriteTarget())
}

func TestGetStatus_UnknownAliasIsConfigError(t *testing.T) {
	m := testMirror(t)

	_, err := m.GetStatus(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestGetStatus_PrimaryIsConfigError(t *testing.T) {
	m := testMirror(t)

	_, err := m.GetStatus(context.Background(), "default")
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestDB_PrimaryOpensWithoutExtension(t *testing.T) {
	m := testMirror(t)

	db, err := m.DB(context.Background(), "default")
	require.NoError(t, err)
	assert.NoError(t, db.Ping())
}

func TestTimeTravel_RequiresReplica(t *testing.T) {
	m := testMirror(t)

	err := m.TimeTravel(context.Background(), "default", "1 hour ago",
		func(conn *sql.Conn) error { return nil })
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestRegisterMetrics_ExportsRoutingActivity(t *testing.T) {
	m := testMirror(t)

	promReg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(promReg))

	// The replica can't be probed without the extension, so the read
	// falls back to the primary; both the probe failure and the routing
	// decision must be visible through the registered collectors.
	assert.Equal(t, "default", m.Router().ReadTarget(context.Background()))

	families, err := promReg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["sqlmirror_router_reads_routed_total"])
	assert.True(t, names["sqlmirror_probe_failures_total"])
}
