// Package fetch lands per-accession sequence files into a group's landing
// directory. Each accession is downloaded as an archive, extracted in a
// scratch area, and its recognizable sequence files are moved into place.
// Landing is idempotent: accessions already recorded in the progress store
// are skipped without touching the network.
package fetch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/openbiotools/blastdb-builder/internal/extool"
	"github.com/openbiotools/blastdb-builder/internal/logging"
	"github.com/openbiotools/blastdb-builder/internal/manifest"
	"github.com/openbiotools/blastdb-builder/internal/metrics"
	"github.com/openbiotools/blastdb-builder/internal/progress"
	"github.com/openbiotools/blastdb-builder/internal/util"
)

// Fetcher downloads one accession's archive to destPath.
type Fetcher interface {
	Fetch(ctx context.Context, accession, destPath string) error
}

// Extractor unpacks an archive into destDir.
type Extractor interface {
	Extract(ctx context.Context, archivePath, destDir string) error
}

// DatasetsFetcher downloads genome archives with the external datasets
// command.
type DatasetsFetcher struct {
	Runner  extool.Runner
	Command string
}

func (d *DatasetsFetcher) Fetch(ctx context.Context, accession, destPath string) error {
	return d.Runner.Run(ctx, d.Command,
		"download", "genome", "accession", accession,
		"--include", "genome",
		"--filename", destPath,
	)
}

// UnzipExtractor unpacks archives with the external unzip command.
type UnzipExtractor struct {
	Runner  extool.Runner
	Command string
}

func (u *UnzipExtractor) Extract(ctx context.Context, archivePath, destDir string) error {
	return u.Runner.Run(ctx, u.Command, "-o", "-q", archivePath, "-d", destDir)
}

// Outcome classifies what landing one accession did.
type Outcome int

const (
	// OutcomeLanded means sequence files were downloaded and moved into the
	// landing directory.
	OutcomeLanded Outcome = iota
	// OutcomeSkipped means the accession was already done; nothing touched
	// the network.
	OutcomeSkipped
	// OutcomeOmitted means the archive contained no recognizable sequence
	// file. The accession contributes nothing to the corpus.
	OutcomeOmitted
	// OutcomeFailed means the accession could not be landed this run.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeLanded:
		return "landed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeOmitted:
		return "omitted"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// BatchResult aggregates outcomes over one batch.
type BatchResult struct {
	Landed  int
	Skipped int
	Omitted int
	Failed  int
}

// Worker lands accessions for one group.
type Worker struct {
	Group      string
	LandingDir string
	ScratchDir string
	Workers    int

	Fetcher   Fetcher
	Extractor Extractor
	Progress  progress.Store

	log *slog.Logger
}

// NewWorker creates a landing worker for group.
func NewWorker(group, landingDir, scratchDir string, workers int, f Fetcher, e Extractor, store progress.Store) *Worker {
	return &Worker{
		Group:      group,
		LandingDir: landingDir,
		ScratchDir: scratchDir,
		Workers:    workers,
		Fetcher:    f,
		Extractor:  e,
		Progress:   store,
		log:        logging.GroupLogger(group),
	}
}

// Land downloads, extracts, and moves one accession's sequence files into
// the landing directory. Scratch files are removed on every path, success
// or failure, so an interrupted run leaves no debris behind.
func (w *Worker) Land(ctx context.Context, item manifest.WorkItem) (Outcome, error) {
	done, err := w.Progress.IsDone(item.Accession)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("probe progress for %s: %w", item.Accession, err)
	}
	if done {
		w.log.Debug("accession already landed, skipping", "accession", item.Accession)
		return OutcomeSkipped, nil
	}

	archive := filepath.Join(w.ScratchDir, item.Accession+".zip")
	extractDir := filepath.Join(w.ScratchDir, item.Accession)
	defer os.Remove(archive)
	defer os.RemoveAll(extractDir)

	if err := w.Fetcher.Fetch(ctx, item.Accession, archive); err != nil {
		return OutcomeFailed, fmt.Errorf("download %s: %w", item.Accession, err)
	}

	if err := util.EnsureDir(extractDir); err != nil {
		return OutcomeFailed, fmt.Errorf("create extraction dir for %s: %w", item.Accession, err)
	}
	if err := w.Extractor.Extract(ctx, archive, extractDir); err != nil {
		return OutcomeFailed, fmt.Errorf("extract %s: %w", item.Accession, err)
	}

	sources, err := findSequenceFiles(extractDir)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("scan archive of %s: %w", item.Accession, err)
	}
	if len(sources) == 0 {
		w.log.Warn("archive contains no sequence file, omitting accession",
			"accession", item.Accession, "organism", item.OrganismName)
		return OutcomeOmitted, nil
	}

	for _, src := range sources {
		dst := filepath.Join(w.LandingDir, landedName(item.Accession, src))
		if err := util.MoveFile(src, dst); err != nil {
			return OutcomeFailed, fmt.Errorf("land %s: %w", item.Accession, err)
		}
	}

	if err := w.Progress.MarkDone(item.Accession); err != nil {
		return OutcomeFailed, fmt.Errorf("mark %s done: %w", item.Accession, err)
	}
	return OutcomeLanded, nil
}

// RunBatch lands every accession in the batch over a bounded worker pool.
// Item failures are isolated: they are counted and the batch continues.
// Only cancellation stops the batch early.
func (w *Worker) RunBatch(ctx context.Context, items []manifest.WorkItem) (BatchResult, error) {
	var landed, skipped, omitted, failed atomic.Int64

	p := pool.New().WithMaxGoroutines(w.Workers).WithContext(ctx)
	for _, item := range items {
		item := item
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			start := time.Now()
			outcome, err := w.Land(ctx, item)
			if m := metrics.Get(); m != nil {
				m.ObserveFetchDuration(time.Since(start).Seconds())
			}

			switch outcome {
			case OutcomeLanded:
				landed.Add(1)
			case OutcomeSkipped:
				skipped.Add(1)
			case OutcomeOmitted:
				omitted.Add(1)
			case OutcomeFailed:
				failed.Add(1)
				w.log.Error("accession failed", "accession", item.Accession, "error", err)
			}
			w.recordOutcome(outcome)

			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		})
	}
	err := p.Wait()

	res := BatchResult{
		Landed:  int(landed.Load()),
		Skipped: int(skipped.Load()),
		Omitted: int(omitted.Load()),
		Failed:  int(failed.Load()),
	}
	if err != nil {
		return res, err
	}
	w.log.Info("batch complete",
		"landed", res.Landed,
		"skipped", res.Skipped,
		"omitted", res.Omitted,
		"failed", res.Failed,
	)
	return res, nil
}

func (w *Worker) recordOutcome(o Outcome) {
	m := metrics.Get()
	if m == nil {
		return
	}
	switch o {
	case OutcomeLanded:
		m.IncAccessionsLanded(w.Group)
	case OutcomeSkipped:
		m.IncAccessionsSkipped(w.Group)
	case OutcomeOmitted:
		m.IncAccessionsOmitted(w.Group)
	case OutcomeFailed:
		m.IncAccessionsFailed(w.Group)
	}
}

// sequenceExts are the file suffixes recognized as landed sequence data,
// plain or gzip-compressed.
var sequenceExts = []string{
	".fna", ".fa", ".fasta",
	".fna.gz", ".fa.gz", ".fasta.gz",
}

func isSequenceFile(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range sequenceExts {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// findSequenceFiles walks the extraction directory and returns every
// recognizable sequence file, in deterministic walk order.
func findSequenceFiles(root string) ([]string, error) {
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && isSequenceFile(d.Name()) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// landedName ensures the landed file name starts with its accession so the
// landing directory doubles as the idempotency ledger.
func landedName(accession, src string) string {
	base := filepath.Base(src)
	if strings.HasPrefix(base, accession) {
		return base
	}
	return accession + "_" + base
}
