package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/BartekS5/esync/pkg/logger"
	"github.com/BartekS5/esync/pkg/models"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLStore keeps watermarks in a SQL Server table, one row per checkpoint
// name, so several migrations can share one state database.
type SQLStore struct {
	DB    *sql.DB
	Table string
	Name  string
}

func NewSQLStore(db *sql.DB, table, name string) (*SQLStore, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid checkpoint table name %q", table)
	}
	if name == "" {
		return nil, errors.New("checkpoint name must not be empty")
	}
	return &SQLStore{DB: db, Table: table, Name: name}, nil
}

// EnsureTable creates the checkpoint table if it does not exist.
func (s *SQLStore) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`IF OBJECT_ID(N'%s', N'U') IS NULL
CREATE TABLE %s (
	name NVARCHAR(255) NOT NULL PRIMARY KEY,
	watermark BIGINT NOT NULL,
	updated_at DATETIME2 NOT NULL
)`, s.Table, s.Table)
	if _, err := s.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create checkpoint table %s: %w", s.Table, err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context) (models.Watermark, bool) {
	query := fmt.Sprintf("SELECT watermark FROM %s WHERE name = @p1", s.Table)

	var w int64
	err := s.DB.QueryRowContext(ctx, query, s.Name).Scan(&w)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false
	}
	if err != nil {
		logger.Warnf("Checkpoint %q cannot be read from %s, continuing migration: %v", s.Name, s.Table, err)
		return 0, false
	}
	return models.Watermark(w), true
}

func (s *SQLStore) Save(ctx context.Context, w models.Watermark) error {
	update := fmt.Sprintf("UPDATE %s SET watermark = @p1, updated_at = SYSUTCDATETIME() WHERE name = @p2", s.Table)
	res, err := s.DB.ExecContext(ctx, update, int64(w), s.Name)
	if err != nil {
		return fmt.Errorf("failed to update checkpoint %q: %w", s.Name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update checkpoint %q: %w", s.Name, err)
	}
	if n > 0 {
		return nil
	}

	insert := fmt.Sprintf("INSERT INTO %s (name, watermark, updated_at) VALUES (@p1, @p2, SYSUTCDATETIME())", s.Table)
	if _, err := s.DB.ExecContext(ctx, insert, s.Name, int64(w)); err != nil {
		return fmt.Errorf("failed to insert checkpoint %q: %w", s.Name, err)
	}
	return nil
}
