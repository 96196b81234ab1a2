// Package batch slices enumerated work items into fixed-size batch files.
package batch

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/openbiotools/blastdb-builder/internal/manifest"
)

// Partition chunks items into contiguous batches of at most size elements,
// preserving order. Batch k holds items [k*size, (k+1)*size). Pure: the same
// input always yields the same batches.
func Partition(items []manifest.WorkItem, size int) [][]manifest.WorkItem {
	if size < 1 || len(items) == 0 {
		return nil
	}
	batches := make([][]manifest.WorkItem, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

// FileName returns the deterministic batch file name for a group, 1-based
// batch index, and run date (YYYY-MM-DD).
func FileName(group string, index int, date string) string {
	return fmt.Sprintf("%s_accessions_part%d_%s.csv", group, index, date)
}

// WriteBatches persists batches under dir using deterministic names and
// returns the file paths in batch order. Re-running with the same input
// reproduces identical files.
func WriteBatches(dir, group, date string, batches [][]manifest.WorkItem) ([]string, error) {
	paths := make([]string, 0, len(batches))
	for i, b := range batches {
		path := filepath.Join(dir, FileName(group, i+1, date))
		if err := manifest.WriteList(path, b); err != nil {
			return nil, fmt.Errorf("write batch %d: %w", i+1, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// ListBatchFiles finds existing batch files for a group under dir, in batch
// index order. The glob is loose on the date so a resumed run picks up
// batches written on a previous day.
func ListBatchFiles(dir, group string) ([]string, error) {
	pattern := filepath.Join(dir, fmt.Sprintf("%s_accessions_part*_*.csv", group))
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob batches: %w", err)
	}
	sort.Slice(paths, func(i, j int) bool {
		return batchIndex(paths[i]) < batchIndex(paths[j])
	})
	return paths, nil
}

// batchIndex extracts the numeric part index from a batch file name,
// returning a large value for names it cannot parse so they sort last.
func batchIndex(path string) int {
	var idx int
	var date string
	base := filepath.Base(path)
	// group names never contain underscores, so Sscanf on the suffix works.
	if n, err := fmt.Sscanf(base[indexOfPart(base):], "part%d_%s", &idx, &date); err != nil || n < 1 {
		return 1 << 30
	}
	return idx
}

func indexOfPart(name string) int {
	for i := 0; i+4 <= len(name); i++ {
		if name[i:i+4] == "part" {
			return i
		}
	}
	return 0
}
