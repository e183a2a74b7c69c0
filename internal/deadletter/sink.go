package deadletter

import (
	"context"
	"fmt"
	"time"

	"github.com/BartekS5/esync/internal/config"
	"github.com/BartekS5/esync/pkg/database"
	"github.com/BartekS5/esync/pkg/models"
)

// Sink receives documents the target rejected.
type Sink interface {
	Send(ctx context.Context, letters []models.DeadLetter) error
}

// New opens the sink selected by cfg. The returned close function releases
// any connection the sink holds.
func New(cfg config.DeadLetterConfig) (Sink, func() error, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		return NewFileSink(cfg.Path), func() error { return nil }, nil
	case config.BackendMongo:
		client, err := database.ConnectMongo(cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		closer := func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		}
		return NewMongoSink(client, cfg.Database, cfg.Collection), closer, nil
	default:
		return nil, nil, fmt.Errorf("unknown dead-letter backend %q", cfg.Backend)
	}
}
