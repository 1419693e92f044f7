package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newViper())
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.APIAddr)
	require.Equal(t, StorageBackendMemory, cfg.Storage.Backend)
	require.Equal(t, ArchiveBackendMemory, cfg.Archive.Backend)
	require.Equal(t, "localhost:6379", cfg.Storage.KeyDB.Addr)
	require.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SPI_API_ADDR", ":9090")
	t.Setenv("SPI_STORAGE_BACKEND", "KeyDB")
	t.Setenv("SPI_KEYDB_ADDR", "keydb:6379")
	t.Setenv("SPI_KEYDB_DB", "3")
	t.Setenv("SPI_ARCHIVE_BACKEND", "s3")
	t.Setenv("SPI_S3_BUCKET", "spi-logs")
	t.Setenv("SPI_S3_PATH_STYLE", "true")
	t.Setenv("SPI_BUILDER_TOKEN", "secret")
	t.Setenv("SPI_SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("SPI_LOG_FORMAT", "json")

	cfg, err := Load(newViper())
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.APIAddr)
	require.Equal(t, StorageBackendKeyDB, cfg.Storage.Backend)
	require.Equal(t, "keydb:6379", cfg.Storage.KeyDB.Addr)
	require.Equal(t, 3, cfg.Storage.KeyDB.Database)
	require.Equal(t, ArchiveBackendS3, cfg.Archive.Backend)
	require.Equal(t, "spi-logs", cfg.Archive.S3.Bucket)
	require.True(t, cfg.Archive.S3.UsePathStyle)
	require.Equal(t, "secret", cfg.BuilderToken)
	require.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
	require.Equal(t, "json", cfg.LogFormat)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spi.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage_backend: sql\nsql_dsn: postgres://spi@localhost/spi\narchive_backend: bolt\narchive_path: /tmp/logs.db\n"), 0o600))

	v := newViper()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, StorageBackendSQL, cfg.Storage.Backend)
	require.Equal(t, "postgres://spi@localhost/spi", cfg.Storage.SQL.DSN)
	require.Equal(t, ArchiveBackendBolt, cfg.Archive.Backend)
	require.Equal(t, "/tmp/logs.db", cfg.Archive.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "unknown storage", env: map[string]string{"SPI_STORAGE_BACKEND": "mongo"}},
		{name: "sql without dsn", env: map[string]string{"SPI_STORAGE_BACKEND": "sql"}},
		{name: "unknown archive", env: map[string]string{"SPI_ARCHIVE_BACKEND": "ftp"}},
		{name: "s3 without bucket", env: map[string]string{"SPI_ARCHIVE_BACKEND": "s3"}},
		{name: "bad log format", env: map[string]string{"SPI_LOG_FORMAT": "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(newViper())
			require.Error(t, err)
			require.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
		})
	}
}
