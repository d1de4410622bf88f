package jsondb_test

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/installer-core/internal/jsondb"
)

type runRecord struct {
	State    string   `json:"state"`
	Warnings []string `json:"warnings,omitempty"`
}

// If the passed directory is not readable (writable), we should notice on the
// first read (write).
func TestDegenerate(t *testing.T) {
	db := jsondb.New("/non-existant-directory", 0755)

	var r runRecord
	exist, err := db.Read("last-run", &r)
	assert.False(t, exist)
	assert.NoError(t, err)

	err = db.Write("last-run", &r)
	assert.Error(t, err)
}

func TestCorrupt(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(path.Join(dir, "last-run.json"), []byte("{"), 0755)
	require.NoError(t, err)

	db := jsondb.New(dir, 0755)

	var r runRecord
	_, err = db.Read("last-run", &r)
	require.Error(t, err)
}

func TestMultiple(t *testing.T) {
	dir := t.TempDir()

	perm := os.FileMode(0600)
	records := map[string]runRecord{
		"run-1": {"FAILED", []string{"failed to import GPG keys"}},
		"run-2": {"ABORTED", nil},
		"run-3": {"FINISHED", nil},
	}

	db := jsondb.New(dir, perm)

	for name, r := range records {
		err := db.Write(name, r)
		require.NoError(t, err)
	}
	infos, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Equal(t, len(infos), len(records))
	for _, info := range infos {
		i, err := info.Info()
		require.NoError(t, err)
		require.Equal(t, perm, i.Mode())
	}

	names, err := db.List()
	require.NoError(t, err)
	require.Equal(t, []string{"run-1", "run-2", "run-3"}, names)

	for name, r := range records {
		var d runRecord
		exist, err := db.Read(name, &d)
		require.NoError(t, err)
		require.True(t, exist)
		require.Equalf(t, r, d, "error retrieving record '%s'", name)
	}
}
