// Package summary maintains the run-wide, append-only human-readable log.
package summary

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/openbiotools/blastdb-builder/internal/logging"
)

// Writer appends timestamped lines to the run summary log. It is the
// observability channel for long-running stages: every stage outcome lands
// here so an operator can inspect progress mid-run without attaching to the
// process.
type Writer struct {
	mu   sync.Mutex
	path string
	log  *slog.Logger
	now  func() time.Time
}

// New creates a summary writer for the given log path.
func New(path string) *Writer {
	return &Writer{
		path: path,
		log:  logging.Component("summary"),
		now:  time.Now,
	}
}

// Path returns the summary log location.
func (w *Writer) Path() string {
	return w.path
}

// Logf appends one timestamped line to the summary log. Failures to write
// the summary never fail the run; they are logged and dropped.
func (w *Writer) Logf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		w.log.Warn("failed to create summary directory", "error", err)
		return
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		w.log.Warn("failed to open summary log", "path", w.path, "error", err)
		return
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] %s\n", w.now().Format("2006-01-02 15:04:05"), fmt.Sprintf(format, args...))
	if _, err := f.WriteString(line); err != nil {
		w.log.Warn("failed to append summary line", "path", w.path, "error", err)
	}
}
