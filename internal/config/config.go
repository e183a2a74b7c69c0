// Package config resolves the immutable settings a migration run consumes,
// from flags, environment variables, an optional .env file and config file.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// ClusterConfig describes how to reach one Elasticsearch cluster.
type ClusterConfig struct {
	Host       string
	Port       int
	Protocol   string
	Username   string
	Password   string
	CACertFile string
	Index      string
}

// Address returns the base URL of the cluster.
func (c ClusterConfig) Address() string {
	return fmt.Sprintf("%s://%s:%d", c.Protocol, c.Host, c.Port)
}

// CheckpointConfig selects and configures the watermark store.
type CheckpointConfig struct {
	Backend string // "file" or "sqlserver"
	Path    string
	DSN     string
	Table   string
	Name    string
}

// DeadLetterConfig selects and configures the dead-letter sink.
type DeadLetterConfig struct {
	Backend    string // "file" or "mongo"
	Path       string
	MongoURI   string
	Database   string
	Collection string
}

// Config holds all configuration for a migration run.
type Config struct {
	Source ClusterConfig
	Target ClusterConfig

	// MappingType is the legacy document type written as _type, for 6.x targets.
	MappingType   string
	OrderingField string

	PageSize       int
	ScrollDuration time.Duration
	MaxAttempts    int
	RetryBackoff   time.Duration
	ProgressEvery  int
	DryRun         bool

	Checkpoint CheckpointConfig
	DeadLetter DeadLetterConfig

	LogFile     string
	LogLevel    string
	MetricsAddr string
}

const (
	BackendFile      = "file"
	BackendSQLServer = "sqlserver"
	BackendMongo     = "mongo"
)

// Validate reports the first setting that would make a run meaningless.
func (c *Config) Validate() error {
	if err := c.Source.validate("source"); err != nil {
		return err
	}
	if err := c.Target.validate("target"); err != nil {
		return err
	}
	if c.OrderingField == "" {
		return errors.New("ordering field must not be empty")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", c.PageSize)
	}
	if c.ScrollDuration <= 0 {
		return fmt.Errorf("scroll duration must be positive, got %s", c.ScrollDuration)
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff must not be negative, got %s", c.RetryBackoff)
	}

	switch c.Checkpoint.Backend {
	case BackendFile:
		if c.Checkpoint.Path == "" {
			c.Checkpoint.Path = filepath.Join("checkpoint", c.Target.Index+".txt")
		}
	case BackendSQLServer:
		if c.Checkpoint.DSN == "" {
			return errors.New("checkpoint DSN is required for the sqlserver backend")
		}
		if c.Checkpoint.Name == "" {
			c.Checkpoint.Name = c.Source.Index + "->" + c.Target.Index
		}
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend)
	}

	switch c.DeadLetter.Backend {
	case BackendFile:
		if c.DeadLetter.Path == "" {
			return errors.New("dead-letter path must not be empty")
		}
	case BackendMongo:
		if c.DeadLetter.MongoURI == "" {
			return errors.New("dead-letter mongo URI is required for the mongo backend")
		}
	default:
		return fmt.Errorf("unknown dead-letter backend %q", c.DeadLetter.Backend)
	}
	return nil
}

func (c ClusterConfig) validate(role string) error {
	if c.Host == "" {
		return fmt.Errorf("%s host must be set", role)
	}
	if c.Index == "" {
		return fmt.Errorf("%s index must be set", role)
	}
	if c.Port <= 0 {
		return fmt.Errorf("%s port must be positive, got %d", role, c.Port)
	}
	if c.Protocol != "http" && c.Protocol != "https" {
		return fmt.Errorf("%s protocol must be http or https, got %q", role, c.Protocol)
	}
	return nil
}
