package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNamesSortedAndFiltered(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_engagement.sql": {Data: []byte("select 1;")},
		"migrations/001_schema.sql":     {Data: []byte("select 1;")},
		"migrations/README.md":          {Data: []byte("notes")},
		"migrations/old/010_x.sql":      {Data: []byte("select 1;")},
	}

	names, err := migrationNames(fsys)

	require.NoError(t, err)
	assert.Equal(t, []string{"001_schema.sql", "002_engagement.sql"}, names)
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := migrationNames(migrationsFS)

	require.NoError(t, err)
	assert.Equal(t, []string{"001_schema.sql", "002_engagement.sql", "003_attendance.sql"}, names)
}
