package config

import (
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/viper"

	"github.com/onexay/swiftpkgindex/internal/storage"
)

// EnvPrefix is prepended to every environment variable, e.g. SPI_API_ADDR.
const EnvPrefix = "SPI"

// StorageBackend enumerates supported persistence layers.
type StorageBackend string

const (
	// StorageBackendMemory keeps data in-process.
	StorageBackendMemory StorageBackend = "memory"
	// StorageBackendKeyDB persists data to KeyDB/Redis.
	StorageBackendKeyDB StorageBackend = "keydb"
	// StorageBackendSQL persists data to Postgres.
	StorageBackendSQL StorageBackend = "sql"
)

// ArchiveBackend enumerates supported build-log archives.
type ArchiveBackend string

const (
	ArchiveBackendMemory ArchiveBackend = "memory"
	ArchiveBackendBolt   ArchiveBackend = "bolt"
	ArchiveBackendS3     ArchiveBackend = "s3"
)

// Config aggregates runtime configuration.
type Config struct {
	APIAddr         string
	Storage         StorageConfig
	Archive         ArchiveConfig
	BuilderToken    string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// StorageConfig contains backend selection and nested settings.
type StorageConfig struct {
	Backend StorageBackend
	KeyDB   storage.Config
	SQL     storage.SQLConfig
}

// ArchiveConfig selects where build logs are kept.
type ArchiveConfig struct {
	Backend ArchiveBackend
	Path    string
	S3      storage.S3Config
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api_addr", ":8080")
	v.SetDefault("storage_backend", string(StorageBackendMemory))
	v.SetDefault("keydb_addr", "localhost:6379")
	v.SetDefault("keydb_db", 0)
	v.SetDefault("keydb_connect_timeout", 10*time.Second)
	v.SetDefault("archive_backend", string(ArchiveBackendMemory))
	v.SetDefault("archive_path", "data/build-logs.db")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("s3_prefix", "build-logs")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("shutdown_timeout", 15*time.Second)
}

// Load reads configuration from v, which is expected to have environment
// binding and any config file already set up.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	cfg := Config{
		APIAddr: v.GetString("api_addr"),
		Storage: StorageConfig{
			Backend: StorageBackend(strings.ToLower(v.GetString("storage_backend"))),
			KeyDB: storage.Config{
				Addr:           v.GetString("keydb_addr"),
				Username:       v.GetString("keydb_username"),
				Password:       v.GetString("keydb_password"),
				Database:       v.GetInt("keydb_db"),
				ConnectTimeout: v.GetDuration("keydb_connect_timeout"),
			},
			SQL: storage.SQLConfig{
				DSN: v.GetString("sql_dsn"),
			},
		},
		Archive: ArchiveConfig{
			Backend: ArchiveBackend(strings.ToLower(v.GetString("archive_backend"))),
			Path:    v.GetString("archive_path"),
			S3: storage.S3Config{
				Bucket:          v.GetString("s3_bucket"),
				Prefix:          v.GetString("s3_prefix"),
				Region:          v.GetString("s3_region"),
				Endpoint:        v.GetString("s3_endpoint"),
				AccessKeyID:     v.GetString("s3_access_key_id"),
				SecretAccessKey: v.GetString("s3_secret_access_key"),
				UsePathStyle:    v.GetBool("s3_path_style"),
			},
		},
		BuilderToken:    v.GetString("builder_token"),
		LogLevel:        strings.ToLower(v.GetString("log_level")),
		LogFormat:       strings.ToLower(v.GetString("log_format")),
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
	}
	return cfg, cfg.Validate()
}

// Validate rejects unknown backends and missing backend settings.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case StorageBackendMemory, StorageBackendKeyDB:
	case StorageBackendSQL:
		if c.Storage.SQL.DSN == "" {
			return invalid("sql_dsn is required for the sql storage backend")
		}
	default:
		return invalid("unknown storage_backend " + string(c.Storage.Backend))
	}

	switch c.Archive.Backend {
	case ArchiveBackendMemory:
	case ArchiveBackendBolt:
		if c.Archive.Path == "" {
			return invalid("archive_path is required for the bolt archive backend")
		}
	case ArchiveBackendS3:
		if c.Archive.S3.Bucket == "" {
			return invalid("s3_bucket is required for the s3 archive backend")
		}
	default:
		return invalid("unknown archive_backend " + string(c.Archive.Backend))
	}

	if c.LogFormat != "console" && c.LogFormat != "json" {
		return invalid("log_format must be console or json")
	}
	return nil
}

func invalid(msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg)
}
