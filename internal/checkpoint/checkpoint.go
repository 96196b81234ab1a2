// Package checkpoint persists corpus-assembly progress so an interrupted
// run resumes at the first unprocessed input file.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrNoCheckpoint is returned when no checkpoint exists.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// Checkpoint records the next unprocessed input index into the deterministic
// file ordering, plus the last file appended. The ordering itself is part of
// the resume contract: a checkpoint is only valid against the same ordering
// that produced it, which LastFileName lets the assembler verify.
type Checkpoint struct {
	NextFileIndex int       `json:"next_file_index"`
	Pass          int       `json:"pass"` // always 1; reserved for multi-pass assembly
	LastFileName  string    `json:"last_file_name"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Load reads the checkpoint at path.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoCheckpoint
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file: %w", err)
	}
	return &cp, nil
}

// Save persists the checkpoint atomically (temp file + rename), so a crash
// mid-save leaves either the old checkpoint or the new one, never a torn
// file.
func Save(path string, cp *Checkpoint) error {
	cp.Pass = 1
	cp.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename checkpoint file: %w", err)
	}
	return nil
}

// Remove deletes the checkpoint if present.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint file: %w", err)
	}
	return nil
}
