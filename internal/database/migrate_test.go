package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_payouts.up.sql",
		"000001_init.up.sql",
		"000001_init.down.sql",
		"000002_payouts.down.sql",
		"README.md",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600))
	}

	up, err := MigrationFiles(dir, Up)
	require.NoError(t, err)
	assert.Equal(t, []string{"000001_init.up.sql", "000002_payouts.up.sql"}, up)

	down, err := MigrationFiles(dir, Down)
	require.NoError(t, err)
	assert.Equal(t, []string{"000002_payouts.down.sql", "000001_init.down.sql"}, down)

	_, err = MigrationFiles(dir, Direction("sideways"))
	assert.Error(t, err)
}

func TestMigrationFilesMissingDir(t *testing.T) {
	_, err := MigrationFiles(filepath.Join(t.TempDir(), "absent"), Up)
	assert.Error(t, err)
}
