package checkpoint

import (
	"context"
	"testing"

	"github.com/BartekS5/esync/internal/config"
	"github.com/BartekS5/esync/pkg/models"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMemStore(path string) *FileStore {
	return &FileStore{Fs: afero.NewMemMapFs(), Path: path}
}

func TestFileStoreMissingFile(t *testing.T) {
	s := newMemStore("checkpoint/logs.txt")
	_, ok := s.Load(context.Background())
	assert.False(t, ok)
}

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newMemStore("checkpoint/logs.txt")

	require.NoError(t, s.Save(ctx, 1700000000123))
	w, ok := s.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, models.Watermark(1700000000123), w)

	data, err := afero.ReadFile(s.Fs, s.Path)
	require.NoError(t, err)
	assert.Equal(t, "1700000000123", string(data))
}

func TestFileStoreOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newMemStore("cp.txt")
	require.NoError(t, s.Save(ctx, 100))
	require.NoError(t, s.Save(ctx, 25))

	w, ok := s.Load(ctx)
	require.True(t, ok)
	assert.Equal(t, models.Watermark(25), w)
}

func TestFileStoreUnreadableContents(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		want     models.Watermark
		ok       bool
	}{
		{"empty", "", 0, false},
		{"garbage", "not-a-number", 0, false},
		{"torn write", "17000\x00\x00", 0, false},
		{"trailing newline", "42\n", 42, true},
		{"surrounding spaces", "  42  ", 42, true},
		{"negative", "-5", -5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newMemStore("cp.txt")
			require.NoError(t, afero.WriteFile(s.Fs, s.Path, []byte(tt.contents), 0o644))

			w, ok := s.Load(context.Background())
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, w)
		})
	}
}

func TestFileStoreReadOnlyFs(t *testing.T) {
	s := &FileStore{Fs: afero.NewReadOnlyFs(afero.NewMemMapFs()), Path: "cp/logs.txt"}
	assert.Error(t, s.Save(context.Background(), 1))
}

func TestNewFileBackend(t *testing.T) {
	s, closeFn, err := New(context.Background(), config.CheckpointConfig{Backend: config.BackendFile, Path: "cp.txt"})
	require.NoError(t, err)
	require.NoError(t, closeFn())

	fs, ok := s.(*FileStore)
	require.True(t, ok)
	assert.Equal(t, "cp.txt", fs.Path)
}

func TestNewUnknownBackend(t *testing.T) {
	_, _, err := New(context.Background(), config.CheckpointConfig{Backend: "redis"})
	assert.Error(t, err)
}
