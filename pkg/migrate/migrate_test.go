package migrate

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/storefront-autopilot/pkg/config"
	"github.com/pressly/goose/v3"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestDialectFor(t *testing.T) {
	assert.Equal(t, goose.DialectSQLite3, DialectFor(config.DBConfig{Driver: "sqlite"}))
	assert.Equal(t, goose.DialectPostgres, DialectFor(config.DBConfig{Driver: "postgres"}))
}

func TestScaffold(t *testing.T) {
	fsys := afero.NewMemMapFs()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	path, err := Scaffold(fsys, "migrations", "Add Orders Index!", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("migrations", "20260301120000_add_orders_index.sql"), path)

	data, err := afero.ReadFile(fsys, path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- +goose Up")
	assert.Contains(t, string(data), "-- rollback add_orders_index")

	_, err = Scaffold(fsys, "migrations", "add orders index", now)
	assert.ErrorContains(t, err, "already exists")

	_, err = Scaffold(fsys, "migrations", "!!!", now)
	assert.Error(t, err)
}

func TestLint(t *testing.T) {
	fsys := afero.NewMemMapFs()
	good := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	require.NoError(t, afero.WriteFile(fsys, "m/20260102000000_second.sql", []byte(good), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "m/20260101000000_first.sql", []byte(good), 0o644))
	require.NoError(t, afero.WriteFile(fsys, "m/README.md", []byte("notes"), 0o644))

	versions, err := Lint(fsys, "m")
	require.NoError(t, err)
	assert.Equal(t, []string{"20260101000000", "20260102000000"}, versions)

	require.NoError(t, afero.WriteFile(fsys, "m/20260101000000_again.sql", []byte(good), 0o644))
	_, err = Lint(fsys, "m")
	assert.ErrorContains(t, err, "duplicate migration version")

	bad := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(bad, "m/20260101000000_first.sql", []byte("-- +goose Up\n"), 0o644))
	_, err = Lint(bad, "m")
	assert.ErrorContains(t, err, "-- +goose Down")

	misnamed := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(misnamed, "m/first.sql", []byte(good), 0o644))
	_, err = Lint(misnamed, "m")
	assert.ErrorContains(t, err, "invalid migration filename")
}

func TestBundledMigrationsMatchSourceDir(t *testing.T) {
	onDisk, err := Lint(afero.NewOsFs(), "migrations")
	require.NoError(t, err)

	bundled, err := Lint(afero.FromIOFS{FS: Bundled()}, ".")
	require.NoError(t, err)
	assert.Equal(t, onDisk, bundled)

	data, err := fs.ReadFile(Bundled(), "20260301120000_create_products_table.sql")
	require.NoError(t, err)
	for _, fragment := range []string{
		"CREATE TABLE IF NOT EXISTS products",
		"status VARCHAR(32) NOT NULL DEFAULT 'DRAFT'",
		"metadata TEXT NOT NULL",
		"idx_products_status",
		"DROP TABLE IF EXISTS products",
	} {
		assert.True(t, strings.Contains(string(data), fragment), "missing %q", fragment)
	}
}

func TestRunnerAgainstSQLite(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:migrate_runner?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	pool, err := conn.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	runner, err := NewRunner(pool, goose.DialectSQLite3, Bundled())
	require.NoError(t, err)
	ctx := context.Background()

	applied, err := runner.Up(ctx)
	require.NoError(t, err)
	assert.Contains(t, applied, int64(20260301120000))
	assert.True(t, conn.Migrator().HasTable("products"))

	statuses, err := runner.Status(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, statuses)
	assert.True(t, statuses[0].Applied)
	assert.Equal(t, "20260301120000_create_products_table.sql", statuses[0].Name)

	require.NoError(t, runner.To(ctx, "0"))
	assert.False(t, conn.Migrator().HasTable("products"))

	assert.Error(t, runner.To(ctx, "latest"))
}

func TestNewRunnerValidatesArguments(t *testing.T) {
	_, err := NewRunner(nil, goose.DialectSQLite3, Bundled())
	assert.Error(t, err)
}

func TestMaybeRunDevSkipsOutsideDev(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "prod"}}
	assert.NoError(t, MaybeRunDev(context.Background(), cfg, nil, nil))
}
