package blastdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openbiotools/blastdb-builder/internal/summary"
)

// fakeIndexTool writes the required index file set, failing for segments
// listed in failOn.
type fakeIndexTool struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]bool
}

func (f *fakeIndexTool) BuildIndex(ctx context.Context, fastaPath, outBase string, maxFileSize int64) error {
	f.mu.Lock()
	f.calls = append(f.calls, filepath.Base(outBase))
	f.mu.Unlock()

	if f.failOn[filepath.Base(outBase)] {
		return fmt.Errorf("simulated makeblastdb failure")
	}
	for _, ext := range requiredIndexExts {
		if err := os.WriteFile(outBase+ext, []byte("index"), 0644); err != nil {
			return err
		}
	}
	return nil
}

// fakeAliasTool records the list content and writes the .nal union file.
type fakeAliasTool struct {
	called  bool
	entries []string
}

func (f *fakeAliasTool) BuildAlias(ctx context.Context, listPath, outBase, title string) error {
	f.called = true
	data, err := os.ReadFile(listPath)
	if err != nil {
		return err
	}
	f.entries = strings.Fields(string(data))
	return os.WriteFile(outBase+".nal", []byte("union"), 0644)
}

func buildFixture(t *testing.T) (string, string) {
	t.Helper()
	base := t.TempDir()
	corpusPath := filepath.Join(base, "nt.fna")
	content := record("seq1", 400) + record("seq2", 400) + record("seq3", 400)
	require.NoError(t, os.WriteFile(corpusPath, []byte(content), 0644))
	return corpusPath, filepath.Join(base, "blastnDB")
}

func newTestBuilder(t *testing.T, outDir string, index IndexTool, alias AliasTool) *Builder {
	t.Helper()
	sum := summary.New(filepath.Join(outDir, "logs", "summary.log"))
	return NewBuilder(outDir, "combined_db", "test db", 1000, index, alias, sum)
}

func TestBuildHappyPath(t *testing.T) {
	corpusPath, outDir := buildFixture(t)
	index := &fakeIndexTool{}
	alias := &fakeAliasTool{}

	b := newTestBuilder(t, outDir, index, alias)
	res, err := b.Build(context.Background(), corpusPath)
	require.NoError(t, err)
	require.Equal(t, 2, res.Segments)
	require.Equal(t, 2, res.SegmentsBuilt)
	require.Equal(t, int64(3), res.Sequences)

	// Union references segments in order.
	require.Equal(t, []string{"combined_db.part01", "combined_db.part02"}, alias.entries)
	require.FileExists(t, filepath.Join(outDir, "combined_db.nal"))

	// Indexed segment FASTAs are deleted to reclaim space.
	require.NoFileExists(t, filepath.Join(outDir, "combined_db.part01.fna"))
	require.NoFileExists(t, filepath.Join(outDir, "combined_db.part02.fna"))

	// The temporary db list file is cleaned up.
	leftovers, err := filepath.Glob(filepath.Join(outDir, "*dblist*"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestBuildFailedSegmentAbortsBeforeUnion(t *testing.T) {
	corpusPath, outDir := buildFixture(t)
	index := &fakeIndexTool{failOn: map[string]bool{"combined_db.part02": true}}
	alias := &fakeAliasTool{}

	b := newTestBuilder(t, outDir, index, alias)
	_, err := b.Build(context.Background(), corpusPath)
	require.ErrorIs(t, err, ErrIncompleteIndex)
	require.ErrorContains(t, err, "combined_db.part02")

	// Segment 1's index remains.
	require.FileExists(t, filepath.Join(outDir, "combined_db.part01.nin"))
	// Segment 2's source is preserved for investigation.
	require.FileExists(t, filepath.Join(outDir, "combined_db.part02.fna"))
	// No union index was published.
	require.False(t, alias.called)
	require.NoFileExists(t, filepath.Join(outDir, "combined_db.nal"))
}

func TestBuildResumeSkipsCompleteIndexes(t *testing.T) {
	corpusPath, outDir := buildFixture(t)
	index := &fakeIndexTool{failOn: map[string]bool{"combined_db.part02": true}}
	alias := &fakeAliasTool{}

	b := newTestBuilder(t, outDir, index, alias)
	_, err := b.Build(context.Background(), corpusPath)
	require.ErrorIs(t, err, ErrIncompleteIndex)
	require.Equal(t, []string{"combined_db.part01", "combined_db.part02"}, index.calls)

	// Second run: segment 1 is complete and must not be rebuilt; segment 2
	// retries from its preserved source and succeeds this time.
	index.failOn = nil
	res, err := b.Build(context.Background(), corpusPath)
	require.NoError(t, err)
	require.Equal(t, 1, res.SegmentsSkipped)
	require.Equal(t, 1, res.SegmentsBuilt)
	require.Equal(t, []string{"combined_db.part01", "combined_db.part02", "combined_db.part02"}, index.calls)
	require.True(t, alias.called)
}

func TestBuildResplitsOverStrandedSegmentFile(t *testing.T) {
	corpusPath, outDir := buildFixture(t)
	index := &fakeIndexTool{}
	alias := &fakeAliasTool{}

	// A crash mid-split leaves a truncated segment file and no indexes. The
	// rebuild must not trust it: splitting again from the intact corpus is
	// the only way every record reaches the database.
	require.NoError(t, os.MkdirAll(outDir, 0755))
	truncated := []byte(record("seq1", 400))[:100]
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "combined_db.part01.fna"), truncated, 0644))

	b := newTestBuilder(t, outDir, index, alias)
	res, err := b.Build(context.Background(), corpusPath)
	require.NoError(t, err)
	require.Equal(t, int64(3), res.Sequences)
	require.Equal(t, 2, res.Segments)
	require.Equal(t, []string{"combined_db.part01", "combined_db.part02"}, index.calls)
	require.Equal(t, []string{"combined_db.part01", "combined_db.part02"}, alias.entries)
}

func TestBuildSkipsSplitWhenArtifactsExist(t *testing.T) {
	corpusPath, outDir := buildFixture(t)
	index := &fakeIndexTool{}
	alias := &fakeAliasTool{}

	b := newTestBuilder(t, outDir, index, alias)
	_, err := b.Build(context.Background(), corpusPath)
	require.NoError(t, err)

	// Corpus removed after a completed build; a re-run must resume from the
	// existing index artifacts rather than re-splitting.
	require.NoError(t, os.Remove(corpusPath))

	res, err := b.Build(context.Background(), corpusPath)
	require.NoError(t, err)
	require.Equal(t, 2, res.Segments)
	require.Equal(t, 2, res.SegmentsSkipped)
	require.Equal(t, 0, res.SegmentsBuilt)
}

func TestBuildMissingSegmentSourceAndIndexIsFatal(t *testing.T) {
	corpusPath, outDir := buildFixture(t)
	index := &fakeIndexTool{}
	alias := &fakeAliasTool{}

	b := newTestBuilder(t, outDir, index, alias)
	_, err := b.Build(context.Background(), corpusPath)
	require.NoError(t, err)

	// Losing part of segment 2's index after the corpus is gone leaves
	// nothing to rebuild from: verification must fail, naming the segment.
	require.NoError(t, os.Remove(corpusPath))
	require.NoError(t, os.Remove(filepath.Join(outDir, "combined_db.part02.nsq")))

	_, err = b.Build(context.Background(), corpusPath)
	require.ErrorIs(t, err, ErrIncompleteIndex)
	require.ErrorContains(t, err, "combined_db.part02")
}
