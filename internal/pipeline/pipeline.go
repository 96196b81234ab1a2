// Package pipeline orchestrates the three stages: landing accessions per
// group, assembling the corpus, and building the segmented database. Each
// stage is independently resumable; the pipeline only sequences them and
// tracks run state.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openbiotools/blastdb-builder/internal/batch"
	"github.com/openbiotools/blastdb-builder/internal/blastdb"
	"github.com/openbiotools/blastdb-builder/internal/config"
	"github.com/openbiotools/blastdb-builder/internal/corpus"
	"github.com/openbiotools/blastdb-builder/internal/extool"
	"github.com/openbiotools/blastdb-builder/internal/fetch"
	"github.com/openbiotools/blastdb-builder/internal/logging"
	"github.com/openbiotools/blastdb-builder/internal/manifest"
	"github.com/openbiotools/blastdb-builder/internal/metrics"
	"github.com/openbiotools/blastdb-builder/internal/progress"
	"github.com/openbiotools/blastdb-builder/internal/summary"
	"github.com/openbiotools/blastdb-builder/internal/util"
)

// State is the pipeline's coarse run state.
type State int

const (
	StatePending State = iota
	StateDownloading
	StateAssembling
	StateIndexing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateDownloading:
		return "downloading"
	case StateAssembling:
		return "assembling"
	case StateIndexing:
		return "indexing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Stages selects which stages a run executes.
type Stages struct {
	Download bool
	Concat   bool
	Build    bool
}

// Pipeline runs the selected stages over one working directory.
type Pipeline struct {
	cfg    config.Config
	runID  string
	sum    *summary.Writer
	runner extool.Runner
	log    *slog.Logger

	mu    sync.Mutex
	state State
}

// New creates a pipeline for the given configuration.
func New(cfg config.Config) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		runID:  uuid.NewString(),
		sum:    summary.New(cfg.SummaryPath()),
		runner: extool.NewExecRunner(cfg.Tools.Prefix, cfg.WorkDir),
		log:    logging.Component("pipeline"),
	}
}

// RunID identifies this process's run in logs.
func (p *Pipeline) RunID() string { return p.runID }

// State returns the current run state.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
	p.log.Info("state changed", "state", s.String(), "run_id", p.runID)
}

// Run executes the selected stages in order. The first stage error marks the
// run failed and stops; completed stages keep their on-disk artifacts so a
// rerun resumes where this one stopped.
func (p *Pipeline) Run(ctx context.Context, stages Stages, groups []string) error {
	p.sum.Logf("run %s started (stages: download=%t concat=%t build=%t)",
		p.runID, stages.Download, stages.Concat, stages.Build)

	if stages.Download {
		if err := p.runStage(ctx, StateDownloading, "download", func(ctx context.Context) error {
			return p.Download(ctx, groups)
		}); err != nil {
			return err
		}
	}
	if stages.Concat {
		if err := p.runStage(ctx, StateAssembling, "concat", p.Concat); err != nil {
			return err
		}
	}
	if stages.Build {
		if err := p.runStage(ctx, StateIndexing, "build", p.Build); err != nil {
			return err
		}
	}

	p.setState(StateDone)
	p.sum.Logf("run %s finished", p.runID)
	return nil
}

func (p *Pipeline) runStage(ctx context.Context, s State, name string, fn func(context.Context) error) error {
	p.setState(s)
	start := time.Now()
	err := fn(ctx)
	if m := metrics.Get(); m != nil {
		m.ObserveStageDuration(name, time.Since(start).Seconds())
	}
	if err != nil {
		p.setState(StateFailed)
		p.sum.Logf("run %s: %s stage failed: %v", p.runID, name, err)
		return fmt.Errorf("%s stage: %w", name, err)
	}
	p.log.Info("stage complete", "stage", name, "duration", time.Since(start).String())
	return nil
}

// Download lands every eligible accession of the requested groups. Batch
// lists written by a previous run are reused so a resumed run walks the
// exact same batches; already-landed accessions are skipped by the progress
// store. Item failures are isolated per accession and reported at the end.
func (p *Pipeline) Download(ctx context.Context, groupNames []string) error {
	if err := util.EnsureDir(p.cfg.ScratchDir()); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	var totals fetch.BatchResult
	for _, name := range groupNames {
		res, err := p.downloadGroup(ctx, name)
		if err != nil {
			return err
		}
		totals.Landed += res.Landed
		totals.Skipped += res.Skipped
		totals.Omitted += res.Omitted
		totals.Failed += res.Failed
	}

	p.sum.Logf("download: %d landed, %d skipped, %d omitted, %d failed",
		totals.Landed, totals.Skipped, totals.Omitted, totals.Failed)
	if totals.Failed > 0 {
		// Item failures never fail the stage: the failed accessions stay
		// unmarked in the progress store and the next run retries them.
		p.log.Error("some accessions failed to land; a rerun will retry them",
			"failed", totals.Failed)
	}
	return nil
}

func (p *Pipeline) downloadGroup(ctx context.Context, name string) (fetch.BatchResult, error) {
	var res fetch.BatchResult

	group, err := manifest.LookupGroup(name)
	if err != nil {
		return res, err
	}
	landingDir := p.cfg.GroupDir(group.Name)
	if err := util.EnsureDir(landingDir); err != nil {
		return res, fmt.Errorf("create landing dir %s: %w", landingDir, err)
	}

	batchFiles, err := p.groupBatches(ctx, group, landingDir)
	if err != nil {
		return res, err
	}

	store, err := p.progressStore(group.Name, landingDir)
	if err != nil {
		return res, err
	}
	defer store.Close()

	worker := fetch.NewWorker(group.Name, landingDir, p.cfg.ScratchDir(), p.cfg.Fetch.Workers,
		&fetch.DatasetsFetcher{Runner: p.runner, Command: p.cfg.Tools.Fetch},
		&fetch.UnzipExtractor{Runner: p.runner, Command: p.cfg.Tools.Extract},
		store,
	)

	for _, bf := range batchFiles {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		items, err := manifest.ReadList(bf)
		if err != nil {
			return res, fmt.Errorf("read batch %s: %w", bf, err)
		}
		br, err := worker.RunBatch(ctx, items)
		res.Landed += br.Landed
		res.Skipped += br.Skipped
		res.Omitted += br.Omitted
		res.Failed += br.Failed
		if err != nil {
			return res, err
		}
	}

	p.sum.Logf("group %s: %d landed, %d skipped, %d omitted, %d failed across %d batches",
		group.Name, res.Landed, res.Skipped, res.Omitted, res.Failed, len(batchFiles))
	return res, nil
}

// groupBatches returns the group's batch list files, enumerating the remote
// manifest and writing fresh lists only when none exist yet.
func (p *Pipeline) groupBatches(ctx context.Context, group manifest.Group, landingDir string) ([]string, error) {
	existing, err := batch.ListBatchFiles(landingDir, group.Name)
	if err != nil {
		return nil, fmt.Errorf("list batch files for %s: %w", group.Name, err)
	}
	if len(existing) > 0 {
		p.log.Info("reusing batch lists from previous run",
			"group", group.Name, "batches", len(existing))
		return existing, nil
	}

	url := group.ManifestURL(p.cfg.Manifest.BaseURL, p.cfg.Manifest.Overrides)
	src, err := manifest.NewSource(url)
	if err != nil {
		return nil, err
	}
	items, err := manifest.Enumerate(ctx, src, group, url)
	if err != nil {
		return nil, fmt.Errorf("enumerate %s manifest: %w", group.Name, err)
	}

	date := time.Now().Format("2006-01-02")
	listPath := filepath.Join(landingDir, fmt.Sprintf("%s_accessions_%s.csv", group.Name, date))
	if err := manifest.WriteList(listPath, items); err != nil {
		return nil, fmt.Errorf("write accession list for %s: %w", group.Name, err)
	}

	batches := batch.Partition(items, p.cfg.Fetch.BatchSize)
	files, err := batch.WriteBatches(landingDir, group.Name, date, batches)
	if err != nil {
		return nil, fmt.Errorf("write batch files for %s: %w", group.Name, err)
	}
	p.sum.Logf("group %s: %d eligible accessions in %d batches", group.Name, len(items), len(files))
	return files, nil
}

func (p *Pipeline) progressStore(group, landingDir string) (progress.Store, error) {
	switch p.cfg.Progress.Backend {
	case "leveldb":
		return progress.NewLevelDBStore(p.cfg.ProgressPath() + "-" + group)
	default:
		return progress.NewDirStore(landingDir), nil
	}
}

// Concat assembles every landed sequence file into the single corpus,
// resuming from the assembly checkpoint when one is valid.
func (p *Pipeline) Concat(ctx context.Context) error {
	if err := util.EnsureDir(p.cfg.ConcatDir()); err != nil {
		return fmt.Errorf("create concat dir: %w", err)
	}

	var roots []string
	for _, name := range manifest.GroupNames() {
		roots = append(roots, p.cfg.GroupDir(name))
	}

	asm := corpus.NewAssembler(roots, p.cfg.CorpusPath(), p.cfg.CheckpointPath())
	res, err := asm.Assemble(ctx)
	if err != nil {
		return err
	}

	if m := metrics.Get(); m != nil {
		m.FilesAppended.Add(float64(res.FilesAppended))
		m.CorpusSequences.Set(float64(res.SequenceCount))
	}
	p.sum.Logf("concat: %d files (%d appended, %d resumed), %d sequences in corpus",
		res.TotalFiles, res.FilesAppended, res.FilesResumed, res.SequenceCount)
	return nil
}

// Build splits the corpus, builds and verifies every segment index, and
// composes the union index. Intermediate inputs (landed files, corpus,
// scratch) are removed only after verification succeeded; on any build or
// verification failure everything stays on disk for the rerun.
func (p *Pipeline) Build(ctx context.Context) error {
	builder := blastdb.NewBuilder(
		p.cfg.BlastDBDir(),
		p.cfg.Build.DBName,
		p.cfg.Build.Title,
		p.cfg.Build.SegmentSizeBytes,
		&blastdb.MakeBlastDB{Runner: p.runner, Command: p.cfg.Tools.MakeBlastDB},
		&blastdb.BlastDBAliasTool{Runner: p.runner, Command: p.cfg.Tools.AliasTool},
		p.sum,
	)

	res, err := builder.Build(ctx, p.cfg.CorpusPath())
	if err != nil {
		return err
	}
	p.log.Info("database verified",
		"segments", res.Segments,
		"built", res.SegmentsBuilt,
		"skipped", res.SegmentsSkipped,
	)

	p.cleanupInputs()
	return nil
}

// cleanupInputs removes the landing tree, corpus, and scratch area. Called
// only after the union index verified; failures are non-fatal because the
// database is already complete.
func (p *Pipeline) cleanupInputs() {
	for _, dir := range []string{p.cfg.DBDir(), p.cfg.ScratchDir()} {
		if err := os.RemoveAll(dir); err != nil {
			p.log.Warn("cleanup failed", "dir", dir, "error", err)
		}
	}
	p.sum.Logf("cleanup: removed intermediate inputs")
}
