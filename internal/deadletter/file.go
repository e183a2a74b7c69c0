// Package deadletter stores documents the target rejected so they can be
// inspected and replayed.
package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BartekS5/esync/pkg/logger"
	"github.com/BartekS5/esync/pkg/models"
	"github.com/spf13/afero"
)

// FileSink appends one JSON object per rejected document to a file.
type FileSink struct {
	Fs   afero.Fs
	Path string

	mu sync.Mutex
}

func NewFileSink(path string) *FileSink {
	return &FileSink{Fs: afero.NewOsFs(), Path: path}
}

func (s *FileSink) Send(_ context.Context, letters []models.DeadLetter) error {
	if len(letters) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.Path); dir != "." && dir != "" {
		if err := s.Fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create dead-letter directory '%s': %w", dir, err)
		}
	}
	f, err := s.Fs.OpenFile(s.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open dead-letter file '%s': %w", s.Path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, l := range letters {
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("failed to write dead letter for document %s: %w", l.ID, err)
		}
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to flush dead-letter file '%s': %w", s.Path, err)
	}

	logger.Debugf("Wrote %d dead letters to %s", len(letters), s.Path)
	return nil
}
