// Package config loads pipeline configuration from YAML with environment
// variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/openbiotools/blastdb-builder/internal/logging"
)

// Config is the full pipeline configuration.
type Config struct {
	// WorkDir is the root under which db/, blastnDB/ and summary.log live.
	WorkDir string `yaml:"work_dir"`

	Log      logging.Config `yaml:"log"`
	Manifest ManifestConfig `yaml:"manifest"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Tools    ToolsConfig    `yaml:"tools"`
	Build    BuildConfig    `yaml:"build"`
	Progress ProgressConfig `yaml:"progress"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ManifestConfig controls assembly-summary retrieval.
type ManifestConfig struct {
	// BaseURL is the root of the per-group assembly summaries. Group URLs
	// are derived as <base>/<group>/assembly_summary.txt unless overridden.
	BaseURL string `yaml:"base_url"`

	// Overrides maps a group name to a full manifest URL. Besides http(s),
	// blob URLs (file://, gs://, s3://) are accepted for mirrored manifests.
	Overrides map[string]string `yaml:"overrides"`
}

// FetchConfig controls the download stage.
type FetchConfig struct {
	Workers    int    `yaml:"workers"`     // bounded fetch pool size
	BatchSize  int    `yaml:"batch_size"`  // accessions per batch file
	ScratchDir string `yaml:"scratch_dir"` // archive + extraction scratch
}

// ToolsConfig names the external executables. Prefix is prepended to every
// invocation, e.g. ["apptainer", "exec", "blast.sif"] to run the tools out
// of a container image.
type ToolsConfig struct {
	Prefix      []string `yaml:"prefix"`
	Fetch       string   `yaml:"fetch"`
	Extract     string   `yaml:"extract"`
	MakeBlastDB string   `yaml:"makeblastdb"`
	AliasTool   string   `yaml:"aliastool"`
}

// BuildConfig controls corpus splitting and index building.
type BuildConfig struct {
	SegmentSizeBytes int64  `yaml:"segment_size_bytes"`
	DBName           string `yaml:"db_name"`
	Title            string `yaml:"title"`
}

// ProgressConfig selects the landed-accession ledger backend.
type ProgressConfig struct {
	Backend string `yaml:"backend"` // "files" | "leveldb"
	Path    string `yaml:"path"`    // leveldb directory (leveldb backend only)
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		WorkDir: ".",
		Log: logging.Config{
			Format: "text",
			Level:  "info",
		},
		Manifest: ManifestConfig{
			BaseURL: "https://ftp.ncbi.nlm.nih.gov/genomes/refseq",
		},
		Fetch: FetchConfig{
			Workers:    1,
			BatchSize:  5000,
			ScratchDir: ".scratch",
		},
		Tools: ToolsConfig{
			Fetch:       "datasets",
			Extract:     "unzip",
			MakeBlastDB: "makeblastdb",
			AliasTool:   "blastdb_aliastool",
		},
		Build: BuildConfig{
			SegmentSizeBytes: 3_000_000_000,
			DBName:           "combined_db",
			Title:            "Combined reference genome database",
		},
		Progress: ProgressConfig{
			Backend: "files",
		},
		Metrics: MetricsConfig{
			ListenAddr: ":9108",
		},
	}
}

// Load reads configuration from an optional YAML file, then applies
// environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.WorkDir = getenvDefault("BLASTDB_WORKDIR", cfg.WorkDir)
	cfg.Manifest.BaseURL = getenvDefault("BLASTDB_MANIFEST_BASE_URL", cfg.Manifest.BaseURL)
	if v := os.Getenv("BLASTDB_FETCH_WORKERS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Fetch.Workers = parsed
		}
	}
	if v := os.Getenv("BLASTDB_BATCH_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Fetch.BatchSize = parsed
		}
	}
	if v := os.Getenv("BLASTDB_SEGMENT_SIZE"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			cfg.Build.SegmentSizeBytes = parsed
		}
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Fetch.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive, got %d", c.Fetch.BatchSize)
	}
	if c.Fetch.Workers < 1 {
		return fmt.Errorf("fetch workers must be positive, got %d", c.Fetch.Workers)
	}
	if c.Build.SegmentSizeBytes < 1 {
		return fmt.Errorf("segment_size_bytes must be positive, got %d", c.Build.SegmentSizeBytes)
	}
	if c.Build.DBName == "" {
		return fmt.Errorf("db_name must not be empty")
	}
	switch c.Progress.Backend {
	case "files", "leveldb":
	default:
		return fmt.Errorf("unknown progress backend %q", c.Progress.Backend)
	}
	return nil
}

// DBDir is the per-group landing root.
func (c Config) DBDir() string { return filepath.Join(c.WorkDir, "db") }

// GroupDir is the landing directory for one taxonomic group.
func (c Config) GroupDir(group string) string { return filepath.Join(c.DBDir(), group) }

// ConcatDir holds the assembled corpus and its checkpoint.
func (c Config) ConcatDir() string { return filepath.Join(c.DBDir(), "concat") }

// CorpusPath is the assembled corpus file.
func (c Config) CorpusPath() string { return filepath.Join(c.ConcatDir(), "nt.fna") }

// CheckpointPath is the corpus assembly checkpoint.
func (c Config) CheckpointPath() string { return filepath.Join(c.ConcatDir(), "checkpoint.log") }

// BlastDBDir is the final database output directory.
func (c Config) BlastDBDir() string { return filepath.Join(c.WorkDir, "blastnDB") }

// ScratchDir is the archive/extraction scratch root.
func (c Config) ScratchDir() string {
	if filepath.IsAbs(c.Fetch.ScratchDir) {
		return c.Fetch.ScratchDir
	}
	return filepath.Join(c.WorkDir, c.Fetch.ScratchDir)
}

// SummaryPath is the run-wide summary log.
func (c Config) SummaryPath() string { return filepath.Join(c.WorkDir, "summary.log") }

// ProgressPath is the leveldb ledger directory when that backend is selected.
func (c Config) ProgressPath() string {
	if c.Progress.Path != "" {
		return c.Progress.Path
	}
	return filepath.Join(c.WorkDir, ".progress")
}

func getenvDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
