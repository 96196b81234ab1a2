// Package corpus assembles all landed sequence files into one ordered
// corpus, resumable after a crash via a per-file checkpoint.
package corpus

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/openbiotools/blastdb-builder/internal/checkpoint"
	"github.com/openbiotools/blastdb-builder/internal/logging"
)

// ErrNoInputFiles is returned when no sequence files are found under any
// landing directory. Fatal: there is nothing to assemble.
var ErrNoInputFiles = errors.New("no sequence files found to assemble")

// sequence file extensions recognized during discovery.
var fastaExts = []string{".fna", ".fa", ".fasta", ".fna.gz", ".fa.gz", ".fasta.gz"}

// Assembler concatenates landed sequence files into the corpus. It is the
// corpus's only appender; run one instance at a time.
type Assembler struct {
	roots          []string
	corpusPath     string
	checkpointPath string
	log            *slog.Logger
}

// Result summarizes one assembly run.
type Result struct {
	TotalFiles    int
	FilesAppended int
	FilesResumed  int   // files already in the corpus per the checkpoint
	SequenceCount int64 // '>' records in the final corpus
}

// NewAssembler creates an assembler over the given landing roots.
func NewAssembler(roots []string, corpusPath, checkpointPath string) *Assembler {
	return &Assembler{
		roots:          roots,
		corpusPath:     corpusPath,
		checkpointPath: checkpointPath,
		log:            logging.Component("assembler"),
	}
}

// Discover returns every sequence file under the landing roots in one fixed
// lexicographic order. This ordering is part of the resume contract: the
// checkpoint's index is only meaningful against it.
func (a *Assembler) Discover() ([]string, error) {
	var files []string
	for _, root := range a.roots {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) && path == root {
					return filepath.SkipDir
				}
				return err
			}
			if d.IsDir() {
				return nil
			}
			if isSequenceFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("scan landing dir %s: %w", root, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Assemble appends all discovered files to the corpus in order, resuming
// from the checkpoint when corpus and checkpoint agree, starting fresh
// otherwise. The checkpoint is rewritten after every appended file, so a
// crash leaves it consistent with exactly the files already appended.
func (a *Assembler) Assemble(ctx context.Context) (*Result, error) {
	files, err := a.Discover()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, ErrNoInputFiles
	}

	start := a.resumeIndex(files)
	if start == 0 {
		if err := a.reset(); err != nil {
			return nil, err
		}
		a.log.Info("starting fresh assembly", "files", len(files))
	} else {
		a.log.Info("resuming assembly", "at_index", start, "files", len(files))
	}

	out, err := os.OpenFile(a.corpusPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open corpus %s: %w", a.corpusPath, err)
	}
	defer out.Close()

	lastByte, corpusBytes, err := lastByteOf(a.corpusPath)
	if err != nil {
		return nil, err
	}

	appended := 0
	for i := start; i < len(files); i++ {
		if err := ctx.Err(); err != nil {
			// Checkpoint already reflects every appended file; safe to stop.
			return nil, err
		}

		// Records must never run together across file joins.
		if corpusBytes > 0 && lastByte != '\n' {
			if _, err := out.Write([]byte{'\n'}); err != nil {
				return nil, fmt.Errorf("append separator: %w", err)
			}
			corpusBytes++
			lastByte = '\n'
		}

		n, last, err := appendFile(out, files[i])
		if err != nil {
			return nil, fmt.Errorf("append %s: %w", files[i], err)
		}
		if n > 0 {
			corpusBytes += n
			lastByte = last
		}

		// Flush data before the checkpoint claims it is there.
		if err := out.Sync(); err != nil {
			return nil, fmt.Errorf("sync corpus: %w", err)
		}
		if err := checkpoint.Save(a.checkpointPath, &checkpoint.Checkpoint{
			NextFileIndex: i + 1,
			LastFileName:  filepath.Base(files[i]),
		}); err != nil {
			return nil, err
		}
		appended++
	}

	count, err := CountRecords(a.corpusPath)
	if err != nil {
		return nil, err
	}

	a.log.Info("assembly complete",
		"files", len(files),
		"appended", appended,
		"resumed", start,
		"sequences", count,
	)

	return &Result{
		TotalFiles:    len(files),
		FilesAppended: appended,
		FilesResumed:  start,
		SequenceCount: count,
	}, nil
}

// resumeIndex returns the index to resume at, or 0 to start fresh. Resume is
// only honored when the corpus is non-empty, the checkpoint loads, and the
// checkpoint's last file name still matches the deterministic ordering.
func (a *Assembler) resumeIndex(files []string) int {
	info, err := os.Stat(a.corpusPath)
	if err != nil || info.Size() == 0 {
		return 0
	}
	cp, err := checkpoint.Load(a.checkpointPath)
	if err != nil {
		if !errors.Is(err, checkpoint.ErrNoCheckpoint) {
			a.log.Warn("unreadable checkpoint, starting fresh", "error", err)
		}
		return 0
	}
	if cp.NextFileIndex < 1 || cp.NextFileIndex > len(files) {
		a.log.Warn("checkpoint index out of range, starting fresh", "index", cp.NextFileIndex)
		return 0
	}
	if filepath.Base(files[cp.NextFileIndex-1]) != cp.LastFileName {
		a.log.Warn("checkpoint does not match file ordering, starting fresh",
			"expected", cp.LastFileName,
			"found", filepath.Base(files[cp.NextFileIndex-1]),
		)
		return 0
	}
	return cp.NextFileIndex
}

// reset truncates the corpus and removes the checkpoint.
func (a *Assembler) reset() error {
	if err := os.MkdirAll(filepath.Dir(a.corpusPath), 0755); err != nil {
		return fmt.Errorf("create corpus dir: %w", err)
	}
	if err := os.WriteFile(a.corpusPath, nil, 0644); err != nil {
		return fmt.Errorf("truncate corpus: %w", err)
	}
	return checkpoint.Remove(a.checkpointPath)
}

// appendFile copies one sequence file to w, transparently decompressing
// gzip, and reports bytes written plus the last byte written.
func appendFile(w io.Writer, path string) (int64, byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 256*1024)
	var src io.Reader = br
	// Sniff the gzip magic rather than trusting the extension.
	if sig, err := br.Peek(2); err == nil && sig[0] == 0x1f && sig[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return 0, 0, fmt.Errorf("open gzip stream: %w", err)
		}
		defer gz.Close()
		src = gz
	}

	tw := &tailWriter{w: w}
	n, err := io.Copy(tw, src)
	if err != nil {
		return n, tw.last, err
	}
	return n, tw.last, nil
}

// tailWriter remembers the last byte written through it.
type tailWriter struct {
	w    io.Writer
	last byte
}

func (t *tailWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if n > 0 {
		t.last = p[n-1]
	}
	return n, err
}

// lastByteOf returns the final byte and size of path (0, 0 for empty or
// missing files).
func lastByteOf(path string) (byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("stat corpus: %w", err)
	}
	if info.Size() == 0 {
		return 0, 0, nil
	}

	buf := make([]byte, 1)
	if _, err := f.ReadAt(buf, info.Size()-1); err != nil {
		return 0, 0, fmt.Errorf("read corpus tail: %w", err)
	}
	return buf[0], info.Size(), nil
}

// CountRecords counts '>'-prefixed header lines in a sequence file. It scans
// bytes rather than lines so arbitrarily long sequence lines cannot overflow
// a line buffer.
func CountRecords(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var count int64
	prev := byte('\n')
	buf := make([]byte, 256*1024)
	for {
		n, err := f.Read(buf)
		for _, b := range buf[:n] {
			if b == '>' && prev == '\n' {
				count++
			}
			prev = b
		}
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", path, err)
		}
	}
}

func isSequenceFile(path string) bool {
	name := strings.ToLower(filepath.Base(path))
	for _, ext := range fastaExts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
