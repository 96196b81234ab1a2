package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMoveFileMovesContentAndRemovesSource(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scratch", "genomic.fna")
	dst := filepath.Join(dir, "landing", "GCF_000001_genomic.fna")
	require.NoError(t, os.MkdirAll(filepath.Dir(src), 0755))
	require.NoError(t, os.WriteFile(src, []byte(">a\nACGT\n"), 0644))

	require.NoError(t, MoveFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, ">a\nACGT\n", string(data))
	require.NoFileExists(t, src)
}

func TestMoveFileLeavesNoPartialArtifacts(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "genomic.fna")
	dst := filepath.Join(dir, "landing", "GCF_000002_genomic.fna")
	require.NoError(t, os.WriteFile(src, []byte(">a\nACGT\n"), 0644))

	require.NoError(t, MoveFile(src, dst))

	entries, err := os.ReadDir(filepath.Dir(dst))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, filepath.Base(dst), entries[0].Name())
}

func TestFileNonEmpty(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	require.False(t, FileNonEmpty(empty))

	full := filepath.Join(dir, "full")
	require.NoError(t, os.WriteFile(full, []byte("x"), 0644))
	require.True(t, FileNonEmpty(full))

	require.False(t, FileNonEmpty(filepath.Join(dir, "missing")))
	require.False(t, FileNonEmpty(dir))
}
