// Package manifest turns remote assembly-summary manifests into ordered
// accession work lists.
package manifest

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoEligibleAccessions is returned when zero manifest rows survive the
// group's selection predicate. This is fatal: an empty work list means the
// manifest or the predicate is wrong, not that the run is done.
var ErrNoEligibleAccessions = errors.New("no eligible accessions in manifest")

// WorkItem is one accession record surviving the selection predicate.
// Identity is the Accession; items are immutable once enumerated.
type WorkItem struct {
	Accession     string
	OrganismName  string
	AssemblyLevel string
	Category      string
	FTPPath       string
}

// Assembly-summary column positions (tab-separated, zero-based).
const (
	colAccession     = 0
	colCategory      = 4
	colOrganismName  = 7
	colAssemblyLevel = 11
	colFTPPath       = 19
)

// minColumns is the number of columns a row must have to be projected.
const minColumns = 20

// Predicate selects manifest rows row-wise.
type Predicate func(WorkItem) bool

// All keeps every row. Used for groups without curation.
func All(WorkItem) bool { return true }

// CategoryEquals keeps rows whose refseq category matches exactly.
func CategoryEquals(category string) Predicate {
	return func(item WorkItem) bool {
		return item.Category == category
	}
}

// Parse reads a tab-separated assembly summary, skipping '#' comment lines,
// projecting the fixed column set and applying the predicate row-wise.
// Row order is preserved. Short rows are skipped.
func Parse(r io.Reader, pred Predicate) ([]WorkItem, error) {
	if pred == nil {
		pred = All
	}

	var items []WorkItem
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < minColumns {
			continue
		}
		item := WorkItem{
			Accession:     fields[colAccession],
			OrganismName:  fields[colOrganismName],
			AssemblyLevel: fields[colAssemblyLevel],
			Category:      fields[colCategory],
			FTPPath:       fields[colFTPPath],
		}
		if item.Accession == "" {
			continue
		}
		if pred(item) {
			items = append(items, item)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan manifest: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNoEligibleAccessions
	}
	return items, nil
}

// Enumerate fetches a group's manifest through src and parses it with the
// group's predicate.
func Enumerate(ctx context.Context, src Source, g Group, url string) ([]WorkItem, error) {
	body, err := src.Open(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest for %s: %w", g.Name, err)
	}
	defer body.Close()

	items, err := Parse(body, g.Predicate())
	if err != nil {
		return nil, fmt.Errorf("parse manifest for %s: %w", g.Name, err)
	}
	return items, nil
}

// WriteList persists items as comma-separated records for later inspection
// and resume reference.
func WriteList(path string, items []WorkItem) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create list %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for _, item := range items {
		if err := w.Write(item.record()); err != nil {
			return fmt.Errorf("write list %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush list %s: %w", path, err)
	}
	return nil
}

// ReadList loads a persisted accession list.
func ReadList(path string) ([]WorkItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open list %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 5

	var items []WorkItem
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read list %s: %w", path, err)
		}
		items = append(items, WorkItem{
			Accession:     rec[0],
			OrganismName:  rec[1],
			AssemblyLevel: rec[2],
			Category:      rec[3],
			FTPPath:       rec[4],
		})
	}
	return items, nil
}

func (i WorkItem) record() []string {
	return []string{i.Accession, i.OrganismName, i.AssemblyLevel, i.Category, i.FTPPath}
}
