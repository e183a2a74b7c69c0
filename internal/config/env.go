package config

import "github.com/spf13/viper"

// Configuration keys. Flags are bound to the same keys by the CLI.
const (
	KeySourceHost     = "source.host"
	KeySourcePort     = "source.port"
	KeySourceProtocol = "source.protocol"
	KeySourceUsername = "source.username"
	KeySourcePassword = "source.password"
	KeySourceCACert   = "source.cacert"
	KeySourceIndex    = "source.index"

	KeyTargetHost     = "target.host"
	KeyTargetPort     = "target.port"
	KeyTargetProtocol = "target.protocol"
	KeyTargetUsername = "target.username"
	KeyTargetPassword = "target.password"
	KeyTargetCACert   = "target.cacert"
	KeyTargetIndex    = "target.index"
	KeyTargetMapping  = "target.mapping"

	KeyOrderingField  = "ordering.field"
	KeyScrollSize     = "scroll.size"
	KeyScrollInterval = "scroll.interval"
	KeyMaxAttempts    = "bulk.max_attempts"
	KeyRetryBackoff   = "bulk.backoff"
	KeyProgressEvery  = "progress.every"
	KeyDryRun         = "dry_run"

	KeyCheckpointBackend = "checkpoint.backend"
	KeyCheckpointPath    = "checkpoint.path"
	KeyCheckpointDSN     = "checkpoint.dsn"
	KeyCheckpointTable   = "checkpoint.table"
	KeyCheckpointName    = "checkpoint.name"

	KeyDeadLetterBackend    = "deadletter.backend"
	KeyDeadLetterPath       = "deadletter.path"
	KeyDeadLetterMongoURI   = "deadletter.mongo_uri"
	KeyDeadLetterDatabase   = "deadletter.database"
	KeyDeadLetterCollection = "deadletter.collection"

	KeyLogFile     = "log.file"
	KeyLogLevel    = "log.level"
	KeyMetricsAddr = "metrics.addr"
)

// envNames maps keys to environment variables. The first variable that is
// set wins; the unprefixed names are the ones earlier deployments of the job used.
var envNames = map[string][]string{
	KeySourceHost:     {"SOURCE_HOST"},
	KeySourcePort:     {"SOURCE_PORT"},
	KeySourceProtocol: {"SOURCE_PROTOCOL"},
	KeySourceUsername: {"SOURCE_USERNAME"},
	KeySourcePassword: {"SOURCE_PASSWORD"},
	KeySourceCACert:   {"SOURCE_CACERT"},
	KeySourceIndex:    {"SOURCE_INDEX"},

	KeyTargetHost:     {"TARGET_HOST"},
	KeyTargetPort:     {"TARGET_PORT"},
	KeyTargetProtocol: {"TARGET_PROTOCOL"},
	KeyTargetUsername: {"TARGET_USERNAME"},
	KeyTargetPassword: {"TARGET_PASSWORD"},
	KeyTargetCACert:   {"TARGET_CACERT"},
	KeyTargetIndex:    {"TARGET_INDEX"},
	KeyTargetMapping:  {"TARGET_MAPPING"},

	KeyOrderingField:  {"ORDERING_FIELD"},
	KeyScrollSize:     {"SCROLL_SIZE"},
	KeyScrollInterval: {"SCROLL_INTERVAL"},
	KeyMaxAttempts:    {"BULK_RETRY"},
	KeyRetryBackoff:   {"BULK_BACKOFF"},
	KeyProgressEvery:  {"PROGRESS_EVERY"},
	KeyDryRun:         {"DRY_RUN"},

	KeyCheckpointBackend: {"CHECKPOINT_BACKEND"},
	KeyCheckpointPath:    {"CHECKPOINT_PATH", "LOG_FILE"},
	KeyCheckpointDSN:     {"CHECKPOINT_DSN"},
	KeyCheckpointTable:   {"CHECKPOINT_TABLE"},
	KeyCheckpointName:    {"CHECKPOINT_NAME"},

	KeyDeadLetterBackend:    {"DEADLETTER_BACKEND"},
	KeyDeadLetterPath:       {"DEADLETTER_PATH", "BULK_FILE"},
	KeyDeadLetterMongoURI:   {"DEADLETTER_MONGO_URI"},
	KeyDeadLetterDatabase:   {"DEADLETTER_DATABASE"},
	KeyDeadLetterCollection: {"DEADLETTER_COLLECTION"},

	KeyLogFile:     {"ESYNC_LOG_FILE"},
	KeyLogLevel:    {"ESYNC_LOG_LEVEL"},
	KeyMetricsAddr: {"METRICS_ADDR"},
}

// BindEnv registers every environment variable name and the defaults on v.
func BindEnv(v *viper.Viper) error {
	for key, names := range envNames {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return err
		}
	}
	setDefaults(v)
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeySourcePort, 9200)
	v.SetDefault(KeySourceProtocol, "http")
	v.SetDefault(KeyTargetPort, 9200)
	v.SetDefault(KeyTargetProtocol, "http")

	v.SetDefault(KeyOrderingField, "ingestion_time")
	v.SetDefault(KeyScrollSize, 1000)
	v.SetDefault(KeyScrollInterval, "60s")
	v.SetDefault(KeyMaxAttempts, 3)
	v.SetDefault(KeyRetryBackoff, "30s")
	v.SetDefault(KeyProgressEvery, 10000)

	v.SetDefault(KeyCheckpointBackend, BackendFile)
	v.SetDefault(KeyCheckpointTable, "esync_checkpoints")

	v.SetDefault(KeyDeadLetterBackend, BackendFile)
	v.SetDefault(KeyDeadLetterPath, "failedDocs.txt")
	v.SetDefault(KeyDeadLetterDatabase, "esync")
	v.SetDefault(KeyDeadLetterCollection, "dead_letters")

	v.SetDefault(KeyLogLevel, "info")
}
