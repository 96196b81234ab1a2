package blastdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/openbiotools/blastdb-builder/internal/corpus"
	"github.com/openbiotools/blastdb-builder/internal/extool"
	"github.com/openbiotools/blastdb-builder/internal/logging"
	"github.com/openbiotools/blastdb-builder/internal/metrics"
	"github.com/openbiotools/blastdb-builder/internal/summary"
	"github.com/openbiotools/blastdb-builder/internal/util"
)

// ErrIncompleteIndex is returned when a segment index is missing files at
// verification time. Fatal: the union index must never reference an
// incomplete segment.
var ErrIncompleteIndex = errors.New("segment index incomplete")

// requiredIndexExts is the file set a nucleotide segment index must have to
// count as complete.
var requiredIndexExts = []string{".nhr", ".nin", ".nsq"}

// IndexTool builds one segment's index.
type IndexTool interface {
	BuildIndex(ctx context.Context, fastaPath, outBase string, maxFileSize int64) error
}

// AliasTool composes the union index from a database list file.
type AliasTool interface {
	BuildAlias(ctx context.Context, listPath, outBase, title string) error
}

// MakeBlastDB invokes the external makeblastdb command.
type MakeBlastDB struct {
	Runner  extool.Runner
	Command string
}

// BuildIndex runs makeblastdb over one segment. The -max_file_sz cap matches
// the segment size threshold; it keeps the tool's internal identifier space
// from colliding across segments.
func (m *MakeBlastDB) BuildIndex(ctx context.Context, fastaPath, outBase string, maxFileSize int64) error {
	return m.Runner.Run(ctx, m.Command,
		"-in", fastaPath,
		"-dbtype", "nucl",
		"-out", outBase,
		"-parse_seqids",
		"-hash_index",
		"-max_file_sz", strconv.FormatInt(maxFileSize, 10),
	)
}

// BlastDBAliasTool invokes the external blastdb_aliastool command.
type BlastDBAliasTool struct {
	Runner  extool.Runner
	Command string
}

// BuildAlias composes the union index over the databases named in listPath.
func (a *BlastDBAliasTool) BuildAlias(ctx context.Context, listPath, outBase, title string) error {
	return a.Runner.Run(ctx, a.Command,
		"-dblist_file", listPath,
		"-dbtype", "nucl",
		"-out", outBase,
		"-title", title,
	)
}

// Builder turns the corpus into the segmented, aliased database. It is the
// only writer to the output directory.
type Builder struct {
	OutDir      string
	BaseName    string
	Title       string
	SegmentSize int64

	Index IndexTool
	Alias AliasTool

	Summary *summary.Writer
	log     *slog.Logger
}

// Result summarizes one build run.
type Result struct {
	Segments        int
	SegmentsBuilt   int
	SegmentsSkipped int
	Sequences       int64
}

// NewBuilder creates a builder writing into outDir.
func NewBuilder(outDir, baseName, title string, segmentSize int64, index IndexTool, alias AliasTool, sum *summary.Writer) *Builder {
	return &Builder{
		OutDir:      outDir,
		BaseName:    baseName,
		Title:       title,
		SegmentSize: segmentSize,
		Index:       index,
		Alias:       alias,
		Summary:     sum,
		log:         logging.Component("blastdb"),
	}
}

// Build splits the corpus (unless segments or indexes already exist), builds
// each missing segment index, verifies completeness, and composes the union
// index. Any incomplete segment index at verification aborts before the
// union is written.
func (b *Builder) Build(ctx context.Context, corpusPath string) (*Result, error) {
	if err := util.EnsureDir(b.OutDir); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", b.OutDir, err)
	}

	sequences, err := b.countCorpus(corpusPath)
	if err != nil {
		return nil, err
	}

	names, err := b.segmentNames(ctx, corpusPath)
	if err != nil {
		return nil, err
	}

	res := &Result{Segments: len(names), Sequences: sequences}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		outBase := filepath.Join(b.OutDir, name)
		if b.indexComplete(name) {
			b.log.Info("segment index already complete, skipping", "segment", name)
			if m := metrics.Get(); m != nil {
				m.SegmentsSkipped.Inc()
			}
			res.SegmentsSkipped++
			continue
		}

		fasta := outBase + ".fna"
		if !util.FileNonEmpty(fasta) {
			// Neither index nor source; verification below reports it.
			b.log.Error("segment has neither index nor source file", "segment", name)
			continue
		}

		b.log.Info("building segment index", "segment", name)
		if err := b.Index.BuildIndex(ctx, fasta, outBase, b.SegmentSize); err != nil {
			// Keep the segment file for investigation; verification fails the run.
			b.log.Error("segment index build failed", "segment", name, "error", err)
			if m := metrics.Get(); m != nil {
				m.SegmentsFailed.Inc()
			}
			continue
		}

		// The index supersedes the segment; reclaim the space.
		if err := os.Remove(fasta); err != nil {
			b.log.Warn("failed to remove indexed segment file", "segment", name, "error", err)
		}
		if m := metrics.Get(); m != nil {
			m.SegmentsBuilt.Inc()
		}
		res.SegmentsBuilt++
	}

	if err := b.verify(names); err != nil {
		return nil, err
	}

	if err := b.buildUnion(ctx, names); err != nil {
		return nil, err
	}

	if b.Summary != nil {
		b.Summary.Logf("BLAST DB built: %s (%d segments, %d sequences, corpus %s)",
			filepath.Join(b.OutDir, b.BaseName), len(names), sequences, corpusPath)
	}
	b.log.Info("database build complete",
		"db", filepath.Join(b.OutDir, b.BaseName),
		"segments", len(names),
		"sequences", sequences,
	)
	return res, nil
}

// segmentNames returns the ordered segment base names for this build. The
// split is skipped only when index artifacts prove a previous split ran to
// completion; a segment FASTA alone is not trusted, because a crash mid-split
// can leave a truncated one, and resuming from it would silently drop every
// record past the truncation. With no index built yet the corpus is split
// fresh, overwriting any stranded segment files.
func (b *Builder) segmentNames(ctx context.Context, corpusPath string) ([]string, error) {
	if b.hasIndexArtifact() {
		existing := b.existingSegmentCount()
		b.log.Info("segment indexes present, skipping corpus split", "segments", existing)
		names := make([]string, existing)
		for i := range names {
			names[i] = SegmentName(b.BaseName, i+1)
		}
		return names, nil
	}

	paths, err := Split(ctx, corpusPath, b.OutDir, b.BaseName, b.SegmentSize)
	if err != nil {
		return nil, fmt.Errorf("split corpus: %w", err)
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = strings.TrimSuffix(filepath.Base(p), ".fna")
	}
	b.log.Info("corpus split into segments", "segments", len(names))
	return names, nil
}

// hasIndexArtifact reports whether any segment index file exists for the
// base name.
func (b *Builder) hasIndexArtifact() bool {
	for _, ext := range requiredIndexExts {
		matches, err := filepath.Glob(filepath.Join(b.OutDir, b.BaseName+".part*"+ext))
		if err == nil && len(matches) > 0 {
			return true
		}
	}
	return false
}

// existingSegmentCount scans the output directory for artifacts of this base
// name and returns the highest segment number found, 0 when none exist.
func (b *Builder) existingSegmentCount() int {
	re := regexp.MustCompile("^" + regexp.QuoteMeta(b.BaseName) + `\.part(\d+)\.`)
	entries, err := os.ReadDir(b.OutDir)
	if err != nil {
		return 0
	}
	max := 0
	for _, e := range entries {
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > max {
			max = n
		}
	}
	return max
}

// indexComplete reports whether every required index file for the segment
// exists and is non-empty.
func (b *Builder) indexComplete(name string) bool {
	for _, ext := range requiredIndexExts {
		if !util.FileNonEmpty(filepath.Join(b.OutDir, name+ext)) {
			return false
		}
	}
	return true
}

// verify checks every expected segment index for completeness. It names the
// first missing segment so the operator knows where to look.
func (b *Builder) verify(names []string) error {
	for _, name := range names {
		if !b.indexComplete(name) {
			return fmt.Errorf("%w: %s", ErrIncompleteIndex, name)
		}
	}
	return nil
}

// buildUnion writes the ordered segment list to a temporary file, runs the
// alias tool over it, and removes the list.
func (b *Builder) buildUnion(ctx context.Context, names []string) error {
	list, err := os.CreateTemp(b.OutDir, b.BaseName+"_dblist_*.txt")
	if err != nil {
		return fmt.Errorf("create db list file: %w", err)
	}
	listPath := list.Name()
	defer os.Remove(listPath)

	for _, name := range names {
		if _, err := fmt.Fprintln(list, name); err != nil {
			list.Close()
			return fmt.Errorf("write db list file: %w", err)
		}
	}
	if err := list.Close(); err != nil {
		return fmt.Errorf("close db list file: %w", err)
	}

	if err := b.Alias.BuildAlias(ctx, listPath, filepath.Join(b.OutDir, b.BaseName), b.Title); err != nil {
		return fmt.Errorf("build union index: %w", err)
	}
	return nil
}

// countCorpus counts records in the corpus when it still exists. On a resume
// after the corpus was already consumed and removed there is nothing left to
// count.
func (b *Builder) countCorpus(corpusPath string) (int64, error) {
	if !util.FileNonEmpty(corpusPath) {
		return 0, nil
	}
	n, err := corpus.CountRecords(corpusPath)
	if err != nil {
		return 0, fmt.Errorf("count corpus records: %w", err)
	}
	if m := metrics.Get(); m != nil {
		m.CorpusSequences.Set(float64(n))
	}
	return n, nil
}
