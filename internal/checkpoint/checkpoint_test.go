package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.log")

	require.NoError(t, Save(path, &Checkpoint{
		NextFileIndex: 17,
		LastFileName:  "GCF_000017_genomic.fna",
	}))

	cp, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 17, cp.NextFileIndex)
	require.Equal(t, 1, cp.Pass)
	require.Equal(t, "GCF_000017_genomic.fna", cp.LastFileName)
	require.False(t, cp.UpdatedAt.IsZero())
}

func TestLoadMissingReturnsSentinel(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "checkpoint.log"))
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestLoadEmptyFileReturnsSentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.log")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	_, err := Load(path)
	require.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.log")

	require.NoError(t, Save(path, &Checkpoint{NextFileIndex: 1, LastFileName: "a.fna"}))
	require.NoError(t, Save(path, &Checkpoint{NextFileIndex: 2, LastFileName: "b.fna"}))

	cp, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, cp.NextFileIndex)
	require.Equal(t, "b.fna", cp.LastFileName)

	// No temp debris left behind.
	_, err = os.Stat(path + ".tmp")
	require.True(t, os.IsNotExist(err))
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.log")
	require.NoError(t, Save(path, &Checkpoint{NextFileIndex: 1}))
	require.NoError(t, Remove(path))
	require.NoError(t, Remove(path)) // idempotent

	_, err := Load(path)
	require.ErrorIs(t, err, ErrNoCheckpoint)
}
