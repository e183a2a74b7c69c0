package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BartekS5/esync/pkg/logger"
	"github.com/BartekS5/esync/pkg/models"
	"github.com/spf13/afero"
)

// FileStore keeps the watermark as a decimal string in a single file. Writes
// are not atomic; a torn write reads back as "no checkpoint".
type FileStore struct {
	Fs   afero.Fs
	Path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{Fs: afero.NewOsFs(), Path: path}
}

func (s *FileStore) Load(_ context.Context) (models.Watermark, bool) {
	data, err := afero.ReadFile(s.Fs, s.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warnf("Checkpoint %s exists but cannot be read, continuing migration: %v", s.Path, err)
		}
		return 0, false
	}

	line, _, _ := strings.Cut(string(data), "\n")
	w, err := models.ParseWatermark(line)
	if err != nil {
		logger.Warnf("Checkpoint %s is empty or corrupt, continuing migration: %v", s.Path, err)
		return 0, false
	}
	return w, true
}

func (s *FileStore) Save(_ context.Context, w models.Watermark) error {
	if dir := filepath.Dir(s.Path); dir != "." && dir != "" {
		if err := s.Fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create checkpoint directory '%s': %w", dir, err)
		}
	}
	if err := afero.WriteFile(s.Fs, s.Path, []byte(w.String()), 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint '%s': %w", s.Path, err)
	}
	return nil
}
