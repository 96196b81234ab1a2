package progress

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirStoreProbesLandingFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewDirStore(dir)

	done, err := store.IsDone("GCF_000001")
	require.NoError(t, err)
	require.False(t, done)

	// A landed sequence file named after the accession is the resume signal.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "GCF_000001_genomic.fna"), []byte(">s\nACGT\n"), 0644))

	done, err = store.IsDone("GCF_000001")
	require.NoError(t, err)
	require.True(t, done)

	// A different accession is unaffected.
	done, err = store.IsDone("GCF_000002")
	require.NoError(t, err)
	require.False(t, done)
}

func TestDirStoreIgnoresEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	store := NewDirStore(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "GCF_000003_genomic.fna"), nil, 0644))

	done, err := store.IsDone("GCF_000003")
	require.NoError(t, err)
	require.False(t, done)
}

func TestDirStoreIgnoresInterruptedCopies(t *testing.T) {
	dir := t.TempDir()
	store := NewDirStore(dir)

	// A cross-filesystem move interrupted mid-copy leaves a dot-prefixed
	// ".partial" file. It must never count as landed.
	partial := filepath.Join(dir, ".GCF_000004_genomic.fna.partial")
	require.NoError(t, os.WriteFile(partial, []byte(">s\nACG"), 0644))

	done, err := store.IsDone("GCF_000004")
	require.NoError(t, err)
	require.False(t, done)
}

func TestLevelDBStoreRoundTrip(t *testing.T) {
	store, err := NewLevelDBStore(filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	defer store.Close()

	done, err := store.IsDone("GCF_000001")
	require.NoError(t, err)
	require.False(t, done)

	require.NoError(t, store.MarkDone("GCF_000001"))

	done, err = store.IsDone("GCF_000001")
	require.NoError(t, err)
	require.True(t, done)
}

func TestLevelDBStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger")

	store, err := NewLevelDBStore(path)
	require.NoError(t, err)
	require.NoError(t, store.MarkDone("GCF_000009"))
	require.NoError(t, store.Close())

	reopened, err := NewLevelDBStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	done, err := reopened.IsDone("GCF_000009")
	require.NoError(t, err)
	require.True(t, done)
}
