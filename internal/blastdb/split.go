// Package blastdb splits the corpus into bounded segments and builds the
// segmented, aliased BLAST database from them.
package blastdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// recordSpan locates one sequence record within the corpus.
type recordSpan struct {
	off  int64
	size int64
}

// SegmentName returns the deterministic segment base name for a 1-based
// segment number, e.g. "combined_db.part01".
func SegmentName(baseName string, n int) string {
	return fmt.Sprintf("%s.part%02d", baseName, n)
}

// Split cuts the corpus into segments of at most maxBytes, never splitting a
// record: every segment starts at a '>' header and contains whole records
// only. A single record larger than maxBytes becomes its own oversized
// segment. Returns the segment FASTA paths in order.
func Split(ctx context.Context, corpusPath, destDir, baseName string, maxBytes int64) ([]string, error) {
	if maxBytes < 1 {
		return nil, fmt.Errorf("segment size must be positive, got %d", maxBytes)
	}

	spans, err := indexRecords(corpusPath)
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return nil, fmt.Errorf("corpus %s contains no sequence records", corpusPath)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("create segment dir %s: %w", destDir, err)
	}

	// First pass gave record boundaries; group whole records greedily.
	type segment struct{ off, size int64 }
	var segments []segment
	current := segment{off: spans[0].off}
	for _, span := range spans {
		if current.size > 0 && current.size+span.size > maxBytes {
			segments = append(segments, current)
			current = segment{off: span.off}
		}
		current.size += span.size
	}
	segments = append(segments, current)

	src, err := os.Open(corpusPath)
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", corpusPath, err)
	}
	defer src.Close()

	var paths []string
	for i, seg := range segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(destDir, SegmentName(baseName, i+1)+".fna")
		if err := writeSegment(path, src, seg.off, seg.size); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// indexRecords scans the corpus once and returns the byte spans of its
// records. A record starts at a '>' that begins a line and runs to the next
// record or EOF.
func indexRecords(path string) ([]recordSpan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", path, err)
	}
	defer f.Close()

	var starts []int64
	var pos int64
	prev := byte('\n')
	buf := make([]byte, 256*1024)
	for {
		n, err := f.Read(buf)
		for _, b := range buf[:n] {
			if b == '>' && prev == '\n' {
				starts = append(starts, pos)
			}
			prev = b
			pos++
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read corpus %s: %w", path, err)
		}
	}

	spans := make([]recordSpan, len(starts))
	for i, off := range starts {
		end := pos
		if i+1 < len(starts) {
			end = starts[i+1]
		}
		spans[i] = recordSpan{off: off, size: end - off}
	}
	return spans, nil
}

// writeSegment copies size bytes at off from src into a new file at path.
// The copy goes through a temp file + rename so a crash mid-write never
// leaves a truncated file under the segment's name.
func writeSegment(path string, src io.ReaderAt, off, size int64) error {
	tempPath := path + ".tmp"
	out, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", tempPath, err)
	}
	if _, err := io.Copy(out, io.NewSectionReader(src, off, size)); err != nil {
		out.Close()
		os.Remove(tempPath)
		return fmt.Errorf("write segment %s: %w", tempPath, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("close segment %s: %w", tempPath, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename segment %s: %w", path, err)
	}
	return nil
}
