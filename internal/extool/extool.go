// Package extool runs the external command-line collaborators (fetch,
// extract, index, alias). Only their command-line contract is modeled;
// orchestration logic depends on the Runner interface so tests can inject
// fakes.
package extool

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/openbiotools/blastdb-builder/internal/logging"
)

// Runner executes one external tool invocation synchronously.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// ExecRunner invokes tools via os/exec. Prefix, when set, is prepended to
// every command line (e.g. a container-runtime exec wrapper).
type ExecRunner struct {
	Prefix []string
	Dir    string // working directory; empty = inherit

	log *slog.Logger
}

// NewExecRunner creates a runner with the given invocation prefix.
func NewExecRunner(prefix []string, dir string) *ExecRunner {
	return &ExecRunner{
		Prefix: prefix,
		Dir:    dir,
		log:    logging.Component("extool"),
	}
}

// Run executes the tool and waits for it. A non-zero exit is returned as an
// error carrying the tail of stderr for diagnosis.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	argv := append(append([]string{}, r.Prefix...), name)
	argv = append(argv, args...)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	r.log.Debug("running tool", "cmd", strings.Join(argv, " "))

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w: %s", name, err, tail(stderr.String(), 512))
	}

	r.log.Debug("tool finished", "tool", name, "duration", time.Since(start).String())
	return nil
}

// tail returns at most n trailing bytes of s, trimmed.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
