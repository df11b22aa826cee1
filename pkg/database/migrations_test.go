package database

import (
	"testing"
	"testing/fstest"

	"github.com/garyjia/reimburse-flow/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadMigrations_SortsByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"010_later.sql":    {Data: []byte("SELECT 1;")},
		"002_second.sql":   {Data: []byte("SELECT 1;")},
		"001_first.sql":    {Data: []byte("SELECT 1;")},
		"README.md":        {Data: []byte("ignored")},
		"nested/003_x.sql": {Data: []byte("SELECT 1;")},
	}

	list, err := LoadMigrations(fsys)
	require.NoError(t, err)
	require.Len(t, list, 4)
	assert.Equal(t, []int{1, 2, 3, 10}, []int{list[0].Version, list[1].Version, list[2].Version, list[3].Version})
	assert.Equal(t, "first", list[0].Name)
}

func TestLoadMigrations_RejectsBadNames(t *testing.T) {
	_, err := LoadMigrations(fstest.MapFS{"schema.sql": {Data: []byte("SELECT 1;")}})
	assert.Error(t, err)

	_, err = LoadMigrations(fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"001_b.sql": {Data: []byte("SELECT 1;")},
	})
	assert.Error(t, err)
}

func TestRunMigrations_EmbeddedSchemaIsIdempotent(t *testing.T) {
	db, err := New(Config{Path: MemoryPath}, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	m := NewMigrator(db, zap.NewNop())
	require.NoError(t, m.RunMigrations(migrations.FS))
	require.NoError(t, m.RunMigrations(migrations.FS))

	applied, err := m.AppliedVersions()
	require.NoError(t, err)
	assert.True(t, applied[1])

	for _, table := range []string{"workflow_definitions", "workflow_instances", "workflow_tasks", "workflow_process_logs"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, table)
	}
}
