package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 5000, cfg.Fetch.BatchSize)
	require.Equal(t, int64(3_000_000_000), cfg.Build.SegmentSizeBytes)
	require.Equal(t, "combined_db", cfg.Build.DBName)
	require.Equal(t, "files", cfg.Progress.Backend)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
work_dir: /srv/blastdb
fetch:
  workers: 8
  batch_size: 1000
build:
  segment_size_bytes: 500000
tools:
  prefix: ["apptainer", "exec", "blast.sif"]
progress:
  backend: leveldb
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "/srv/blastdb", cfg.WorkDir)
	require.Equal(t, 8, cfg.Fetch.Workers)
	require.Equal(t, 1000, cfg.Fetch.BatchSize)
	require.Equal(t, int64(500000), cfg.Build.SegmentSizeBytes)
	require.Equal(t, []string{"apptainer", "exec", "blast.sif"}, cfg.Tools.Prefix)
	require.Equal(t, "leveldb", cfg.Progress.Backend)

	// Untouched sections keep defaults.
	require.Equal(t, "makeblastdb", cfg.Tools.MakeBlastDB)
	require.Equal(t, "combined_db", cfg.Build.DBName)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("progress:\n  backend: postgres\n"), 0644))

	_, err := Load(path)
	require.ErrorContains(t, err, "unknown progress backend")
}

func TestLayoutPaths(t *testing.T) {
	cfg := Default()
	cfg.WorkDir = "/work"

	require.Equal(t, "/work/db/archaea", cfg.GroupDir("archaea"))
	require.Equal(t, "/work/db/concat/nt.fna", cfg.CorpusPath())
	require.Equal(t, "/work/db/concat/checkpoint.log", cfg.CheckpointPath())
	require.Equal(t, "/work/blastnDB", cfg.BlastDBDir())
	require.Equal(t, "/work/summary.log", cfg.SummaryPath())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BLASTDB_BATCH_SIZE", "250")
	t.Setenv("BLASTDB_SEGMENT_SIZE", "1234")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 250, cfg.Fetch.BatchSize)
	require.Equal(t, int64(1234), cfg.Build.SegmentSizeBytes)
}
