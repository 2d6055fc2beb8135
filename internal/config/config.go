// Package config loads dbops settings.
//
// Precedence, lowest to highest: built-in defaults, the YAML config file,
// POSTGRES_* variables, DBOPS_* variables, then explicitly set flags.
// Nested keys are separated by "__" in variable names, so
// DBOPS_DATABASE__STATEMENT_TIMEOUT sets database.statement_timeout.
package config

import (
	"io"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/koustreak/dbops/internal/database"
	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/filestore"
	"github.com/koustreak/dbops/internal/logger"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every dbops environment variable.
const EnvPrefix = "DBOPS_"

// Output formats accepted by the CLI.
var Outputs = []string{"table", "json", "yaml", "csv"}

// Config is the complete dbops configuration.
type Config struct {
	Database  DatabaseConfig  `koanf:"database"`
	Limits    LimitsConfig    `koanf:"limits"`
	Log       LogConfig       `koanf:"log"`
	FileStore FileStoreConfig `koanf:"filestore"`
	Server    ServerConfig    `koanf:"server"`

	// Schema is the default schema for unqualified table names.
	Schema string `koanf:"schema"`
	// Output is the CLI rendering format.
	Output string `koanf:"output"`
}

// DatabaseConfig holds connection settings.
type DatabaseConfig struct {
	Host             string        `koanf:"host"`
	Port             int           `koanf:"port"`
	Name             string        `koanf:"name"`
	User             string        `koanf:"user"`
	Password         string        `koanf:"password"`
	SSLMode          string        `koanf:"sslmode"`
	ApplicationName  string        `koanf:"application_name"`
	ConnectTimeout   time.Duration `koanf:"connect_timeout"`
	StatementTimeout time.Duration `koanf:"statement_timeout"`
	MaxConns         int32         `koanf:"max_conns"`
	MinConns         int32         `koanf:"min_conns"`
}

// LimitsConfig bounds every operation.
type LimitsConfig struct {
	QueryRows      int `koanf:"query_rows"`
	PreviewRows    int `koanf:"preview_rows"`
	SearchPerTable int `koanf:"search_per_table"` // 0 = unlimited
	SnippetWidth   int `koanf:"snippet_width"`
	BatchSize      int `koanf:"batch_size"`
	ChunkSize      int `koanf:"chunk_size"`
	SampleSize     int `koanf:"sample_size"`
	TopTables      int `koanf:"top_tables"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// FileStoreConfig configures s3:// locations. An empty endpoint disables them.
type FileStoreConfig struct {
	Endpoint   string        `koanf:"endpoint"`
	AccessKey  string        `koanf:"access_key"`
	SecretKey  string        `koanf:"secret_key"`
	UseSSL     bool          `koanf:"use_ssl"`
	Region     string        `koanf:"region"`
	PresignTTL time.Duration `koanf:"presign_ttl"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"database.host":              "localhost",
		"database.port":              5432,
		"database.name":              "postgres",
		"database.user":              "postgres",
		"database.sslmode":           "disable",
		"database.application_name":  "dbops",
		"database.connect_timeout":   "10s",
		"database.statement_timeout": "60s",
		"database.max_conns":         10,
		"database.min_conns":         1,
		"limits.query_rows":          500,
		"limits.preview_rows":        10,
		"limits.search_per_table":    5,
		"limits.snippet_width":       120,
		"limits.batch_size":          1000,
		"limits.chunk_size":          1000,
		"limits.sample_size":         1000,
		"limits.top_tables":          20,
		"log.level":                  "warn",
		"log.format":                 "console",
		"filestore.presign_ttl":      "24h",
		"server.addr":                ":8080",
		"server.shutdown_timeout":    "15s",
		"schema":                     database.DefaultSchema,
		"output":                     "table",
	}
}

// postgresKeys maps the conventional libpq-style variables to config keys.
var postgresKeys = map[string]string{
	"POSTGRES_HOST":     "database.host",
	"POSTGRES_PORT":     "database.port",
	"POSTGRES_DB":       "database.name",
	"POSTGRES_USER":     "database.user",
	"POSTGRES_PASSWORD": "database.password",
}

// flagKeys maps CLI flag names to config keys. Flags not listed here use
// their name with dashes turned into underscores.
var flagKeys = map[string]string{
	"host":              "database.host",
	"port":              "database.port",
	"dbname":            "database.name",
	"user":              "database.user",
	"password":          "database.password",
	"sslmode":           "database.sslmode",
	"statement-timeout": "database.statement_timeout",
	"log-level":         "log.level",
	"log-format":        "log.format",
	"addr":              "server.addr",
	"per-table":         "limits.search_per_table",
}

// Load builds the configuration. path may be empty; flags may be nil.
// Only flags the user explicitly set override lower layers.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to load defaults", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "error reading config file "+path, err)
		}
	}

	if err := k.Load(env.Provider("POSTGRES_", ".", func(s string) string {
		return postgresKeys[s]
	}), nil); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to load POSTGRES_* variables", err)
	}

	// DBOPS_DATABASE__HOST -> database.host
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to load "+EnvPrefix+"* variables", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "failed to load flags", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "unable to decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no operation can run with.
func (c *Config) Validate() error {
	switch {
	case c.Database.Host == "":
		return errs.New(errs.ErrKindInvalidInput, "database.host is required")
	case c.Database.Name == "":
		return errs.New(errs.ErrKindInvalidInput, "database.name is required")
	case c.Database.Port <= 0 || c.Database.Port > 65535:
		return errs.Newf(errs.ErrKindInvalidInput, "database.port %d is out of range", c.Database.Port)
	case c.Database.StatementTimeout < 0:
		return errs.New(errs.ErrKindInvalidInput, "database.statement_timeout must not be negative")
	}

	positive := map[string]int{
		"limits.query_rows":    c.Limits.QueryRows,
		"limits.preview_rows":  c.Limits.PreviewRows,
		"limits.snippet_width": c.Limits.SnippetWidth,
		"limits.batch_size":    c.Limits.BatchSize,
		"limits.chunk_size":    c.Limits.ChunkSize,
		"limits.sample_size":   c.Limits.SampleSize,
		"limits.top_tables":    c.Limits.TopTables,
	}
	for key, v := range positive {
		if v <= 0 {
			return errs.Newf(errs.ErrKindInvalidInput, "%s must be positive, got %d", key, v)
		}
	}
	if c.Limits.SearchPerTable < 0 {
		return errs.New(errs.ErrKindInvalidInput, "limits.search_per_table must not be negative")
	}

	if !validOutput(c.Output) {
		return errs.Newf(errs.ErrKindInvalidInput, "unknown output format %q (want one of %s)",
			c.Output, strings.Join(Outputs, ", "))
	}
	return nil
}

func validOutput(s string) bool {
	for _, o := range Outputs {
		if s == o {
			return true
		}
	}
	return false
}

// DatabaseConfig converts the connection settings.
func (c *Config) DatabaseConfig() *database.Config {
	d := c.Database
	return &database.Config{
		Host:             d.Host,
		Port:             d.Port,
		Database:         d.Name,
		User:             d.User,
		Password:         d.Password,
		SSLMode:          d.SSLMode,
		ApplicationName:  d.ApplicationName,
		ConnectTimeout:   d.ConnectTimeout,
		StatementTimeout: d.StatementTimeout,
		MaxConns:         d.MaxConns,
		MinConns:         d.MinConns,
	}
}

// FileStoreConfig converts the object storage settings.
func (c *Config) FileStoreConfig() *filestore.Config {
	f := c.FileStore
	cfg := filestore.DefaultConfig(f.Endpoint, f.AccessKey, f.SecretKey)
	cfg.UseSSL = f.UseSSL
	cfg.Region = f.Region
	cfg.PresignTTL = f.PresignTTL
	return cfg
}

// LoggerConfig converts the log settings for output w.
func (c *Config) LoggerConfig(w io.Writer) *logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = c.Log.Format
	cfg.Output = w
	return cfg
}
