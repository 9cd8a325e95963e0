package migrate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSQLMigrationSanitizesName(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

	path, err := createSQLMigration(dir, "Add rider Ratings!", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20261016093000_add_rider_ratings.sql"), path)
	require.NoError(t, ValidateFS(os.DirFS(dir), "."))
}

func TestCreateSQLMigrationSortsAfterNewestFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20261020120000_future.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644))

	path, err := createSQLMigration(dir, "payouts", time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "20261020120001_payouts.sql", filepath.Base(path))
}

func TestCreateSQLMigrationRejectsEmptyName(t *testing.T) {
	_, err := createSQLMigration(t.TempDir(), " !! ", time.Now())
	require.Error(t, err)
}
