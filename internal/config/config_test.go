package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/koustreak/dbops/internal/errs"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dbops.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 60*time.Second, cfg.Database.StatementTimeout)
	assert.Equal(t, 500, cfg.Limits.QueryRows)
	assert.Equal(t, 10, cfg.Limits.PreviewRows)
	assert.Equal(t, 5, cfg.Limits.SearchPerTable)
	assert.Equal(t, 1000, cfg.Limits.BatchSize)
	assert.Equal(t, "public", cfg.Schema)
	assert.Equal(t, "table", cfg.Output)
	assert.Equal(t, 24*time.Hour, cfg.FileStore.PresignTTL)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, `
database:
  host: from-file
  name: filedb
  user: fileuser
  statement_timeout: 5s
limits:
  query_rows: 100
output: json
`)
	t.Setenv("POSTGRES_HOST", "from-postgres-env")
	t.Setenv("POSTGRES_USER", "pguser")
	t.Setenv("DBOPS_DATABASE__HOST", "from-dbops-env")
	t.Setenv("DBOPS_LIMITS__QUERY_ROWS", "250")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("dbname", "", "")
	flags.String("output", "", "")
	flags.String("user", "", "")
	require.NoError(t, flags.Set("dbname", "flagdb"))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "from-dbops-env", cfg.Database.Host, "DBOPS_ wins over POSTGRES_ and the file")
	assert.Equal(t, "pguser", cfg.Database.User, "POSTGRES_ wins over the file")
	assert.Equal(t, "flagdb", cfg.Database.Name, "set flags win over everything")
	assert.Equal(t, 250, cfg.Limits.QueryRows)
	assert.Equal(t, 5*time.Second, cfg.Database.StatementTimeout)
	assert.Equal(t, "json", cfg.Output, "unset flags do not override")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("", nil)
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty host", func(c *Config) { c.Database.Host = "" }, "database.host is required"},
		{"empty database", func(c *Config) { c.Database.Name = "" }, "database.name is required"},
		{"bad port", func(c *Config) { c.Database.Port = 70000 }, "out of range"},
		{"zero row cap", func(c *Config) { c.Limits.QueryRows = 0 }, "limits.query_rows must be positive"},
		{"negative batch", func(c *Config) { c.Limits.BatchSize = -1 }, "limits.batch_size must be positive"},
		{"negative search cap", func(c *Config) { c.Limits.SearchPerTable = -2 }, "search_per_table"},
		{"unknown output", func(c *Config) { c.Output = "xml" }, `unknown output format "xml"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errs.IsInvalidInput(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	assert.NoError(t, base().Validate())
}

func TestConversions(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	cfg.Database.Password = "s3cret"
	cfg.FileStore.Endpoint = "minio:9000"

	db := cfg.DatabaseConfig()
	assert.Equal(t, "postgres", db.Database)
	assert.Equal(t, "s3cret", db.Password)
	assert.Equal(t, 60*time.Second, db.StatementTimeout)
	assert.Equal(t, int32(10), db.MaxConns)

	fs := cfg.FileStoreConfig()
	assert.True(t, fs.Enabled())
	assert.Equal(t, 24*time.Hour, fs.PresignTTL)

	lc := cfg.LoggerConfig(os.Stderr)
	assert.Equal(t, "warn", lc.Level)
	assert.Equal(t, "console", lc.Format)
}
