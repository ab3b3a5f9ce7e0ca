package bigquery

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_second.sql":       {Data: []byte("SELECT 2 FROM `{{PROJECT_ID}}.{{DATASET_ID}}.t`")},
		"0001_first.sql":        {Data: []byte("SELECT 1")},
		"001_bad_version.sql":   {Data: []byte("x")},
		"0003_missing_ext":      {Data: []byte("x")},
		"0004.sql":              {Data: []byte("x")},
		"README.md":             {Data: []byte("x")},
		"nested/0005_inner.sql": {Data: []byte("x")},
	}

	migrations, err := LoadMigrations(fsys, "proj", "ds")
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "first", migrations[0].Name)
	assert.Equal(t, 2, migrations[1].Version)
	assert.Equal(t, "SELECT 2 FROM `proj.ds.t`", migrations[1].SQL)
	assert.Equal(t, "0002_second.sql", migrations[1].Filename)
}

func TestLoadMigrations_ChecksumIgnoresTarget(t *testing.T) {
	fsys := fstest.MapFS{"0001_t.sql": {Data: []byte("CREATE TABLE `{{PROJECT_ID}}.{{DATASET_ID}}.t` (id INT64)")}}

	a, err := LoadMigrations(fsys, "p1", "d1")
	require.NoError(t, err)
	b, err := LoadMigrations(fsys, "p2", "d2")
	require.NoError(t, err)

	assert.NotEqual(t, a[0].SQL, b[0].SQL)
	assert.Equal(t, a[0].Checksum, b[0].Checksum)
	assert.Len(t, a[0].Checksum, 64)
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_a.sql": {Data: []byte("x")},
		"0001_b.sql": {Data: []byte("y")},
	}
	_, err := LoadMigrations(fsys, "p", "d")
	assert.ErrorContains(t, err, "0001")
}

func TestRepository_EmbeddedMigrations(t *testing.T) {
	repo := NewRepositoryWithClient(nil, "proj", "harvester")
	migrations, err := repo.Migrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)

	assert.Equal(t, "create_cycle_runs", migrations[0].Name)
	assert.Contains(t, migrations[0].SQL, "`proj.harvester.cycle_runs`")
	assert.Equal(t, "create_deliveries", migrations[1].Name)
	assert.Contains(t, migrations[1].SQL, "`proj.harvester.deliveries`")
	assert.NotContains(t, migrations[1].SQL, "{{")
}
