package migrations

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/000002_assignments.up.sql":   {Data: []byte("CREATE TABLE b();")},
		"migrations/000001_roles.up.sql":         {Data: []byte("CREATE TABLE a();")},
		"migrations/000001_roles.down.sql":       {Data: []byte("DROP TABLE a;")},
		"migrations/README.md":                   {Data: []byte("docs")},
		"migrations/broken.up.sql":               {Data: []byte("--")},
		"migrations/000002_assignments.down.sql": {Data: []byte("DROP TABLE b;")},
	}

	ups, err := Load(fsys, Up)
	require.NoError(t, err)
	assert.Equal(t, []string{"000001", "000002"}, Versions(ups))
	assert.Equal(t, "roles", ups[0].Name)
	assert.Equal(t, "000001_roles.up.sql", ups[0].String())

	downs, err := Load(fsys, Down)
	require.NoError(t, err)
	assert.Len(t, downs, 2)
}

func TestLoad_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"000001_a.up.sql": {Data: []byte("")},
		"000001_b.up.sql": {Data: []byte("")},
	}
	_, err := Load(fsys, Up)
	assert.Error(t, err)
}
