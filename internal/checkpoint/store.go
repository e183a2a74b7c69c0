// Package checkpoint persists the migration watermark.
package checkpoint

import (
	"context"
	"fmt"

	"github.com/BartekS5/esync/internal/config"
	"github.com/BartekS5/esync/pkg/database"
	"github.com/BartekS5/esync/pkg/models"
)

// Store loads and saves a single watermark. Load reports an unreadable
// checkpoint as absent instead of failing.
type Store interface {
	Load(ctx context.Context) (models.Watermark, bool)
	Save(ctx context.Context, w models.Watermark) error
}

// New opens the store selected by cfg. The returned close function releases
// any connection the store holds.
func New(ctx context.Context, cfg config.CheckpointConfig) (Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		return NewFileStore(cfg.Path), func() error { return nil }, nil
	case config.BackendSQLServer:
		db, err := database.ConnectSQL(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		s, err := NewSQLStore(db, cfg.Table, cfg.Name)
		if err == nil {
			err = s.EnsureTable(ctx)
		}
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return s, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}
