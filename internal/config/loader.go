package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// NewViper returns a viper instance with environment bindings and defaults.
func NewViper() (*viper.Viper, error) {
	v := viper.New()
	if err := BindEnv(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}
	return v, nil
}

// LoadFile merges a YAML/JSON/TOML config file into v.
func LoadFile(v *viper.Viper, filePath string) error {
	v.SetConfigFile(filePath)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file '%s': %w", filePath, err)
	}
	return nil
}

// LoadConfig builds and validates a Config from everything bound on v.
func LoadConfig(v *viper.Viper) (*Config, error) {
	scroll, err := parseDuration(v.Get(KeyScrollInterval))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyScrollInterval, err)
	}
	backoff, err := parseDuration(v.Get(KeyRetryBackoff))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyRetryBackoff, err)
	}

	cfg := &Config{
		Source: ClusterConfig{
			Host:       v.GetString(KeySourceHost),
			Port:       v.GetInt(KeySourcePort),
			Protocol:   strings.ToLower(v.GetString(KeySourceProtocol)),
			Username:   v.GetString(KeySourceUsername),
			Password:   v.GetString(KeySourcePassword),
			CACertFile: v.GetString(KeySourceCACert),
			Index:      v.GetString(KeySourceIndex),
		},
		Target: ClusterConfig{
			Host:       v.GetString(KeyTargetHost),
			Port:       v.GetInt(KeyTargetPort),
			Protocol:   strings.ToLower(v.GetString(KeyTargetProtocol)),
			Username:   v.GetString(KeyTargetUsername),
			Password:   v.GetString(KeyTargetPassword),
			CACertFile: v.GetString(KeyTargetCACert),
			Index:      v.GetString(KeyTargetIndex),
		},
		MappingType:    v.GetString(KeyTargetMapping),
		OrderingField:  v.GetString(KeyOrderingField),
		PageSize:       v.GetInt(KeyScrollSize),
		ScrollDuration: scroll,
		MaxAttempts:    v.GetInt(KeyMaxAttempts),
		RetryBackoff:   backoff,
		ProgressEvery:  v.GetInt(KeyProgressEvery),
		DryRun:         v.GetBool(KeyDryRun),
		Checkpoint: CheckpointConfig{
			Backend: strings.ToLower(v.GetString(KeyCheckpointBackend)),
			Path:    v.GetString(KeyCheckpointPath),
			DSN:     v.GetString(KeyCheckpointDSN),
			Table:   v.GetString(KeyCheckpointTable),
			Name:    v.GetString(KeyCheckpointName),
		},
		DeadLetter: DeadLetterConfig{
			Backend:    strings.ToLower(v.GetString(KeyDeadLetterBackend)),
			Path:       v.GetString(KeyDeadLetterPath),
			MongoURI:   v.GetString(KeyDeadLetterMongoURI),
			Database:   v.GetString(KeyDeadLetterDatabase),
			Collection: v.GetString(KeyDeadLetterCollection),
		},
		LogFile:     v.GetString(KeyLogFile),
		LogLevel:    strings.ToLower(v.GetString(KeyLogLevel)),
		MetricsAddr: v.GetString(KeyMetricsAddr),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseDuration accepts Go duration strings and bare integers. Bare integers
// are seconds, which is how SCROLL_INTERVAL has always been given.
func parseDuration(raw interface{}) (time.Duration, error) {
	s := strings.TrimSpace(cast.ToString(raw))
	if d, ok := raw.(time.Duration); ok {
		return d, nil
	}
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}
