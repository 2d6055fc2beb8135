// Package cli provides the dbops command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/koustreak/dbops/internal/config"
	"github.com/koustreak/dbops/internal/database"
	"github.com/koustreak/dbops/internal/database/postgres"
	"github.com/koustreak/dbops/internal/engine"
	"github.com/koustreak/dbops/internal/errs"
	"github.com/koustreak/dbops/internal/filestore"
	"github.com/koustreak/dbops/internal/filestore/minio"
	"github.com/koustreak/dbops/internal/logger"
	"github.com/koustreak/dbops/internal/search"
	"github.com/koustreak/dbops/internal/transfer"
	"github.com/spf13/cobra"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

// app carries the state shared by every command of one invocation.
type app struct {
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger

	// opener connects to the database; tests replace it.
	opener database.Opener
	// newStore connects to object storage on first use.
	newStore func(ctx context.Context, cfg *filestore.Config) (filestore.Store, error)
}

// NewRootCmd creates the root command wired to PostgreSQL and MinIO.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{
		opener: postgres.Open,
		newStore: func(ctx context.Context, cfg *filestore.Config) (filestore.Store, error) {
			d, err := minio.New(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return d, nil
		},
	})
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dbops",
		Short: "dbops - PostgreSQL data operations",
		Long: `dbops discovers, queries, searches, exports and imports data in any
PostgreSQL database without prior knowledge of its schema.

Settings come from defaults, an optional YAML file (--config), DBOPS_* and
POSTGRES_* environment variables, and flags, in increasing precedence.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(a.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = logger.New(cfg.LoggerConfig(cmd.ErrOrStderr()))
			logger.SetGlobal(a.log)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return errs.Wrap(errs.ErrKindInvalidInput, "invalid flags", err)
	})

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	pf.String("host", "", "database host")
	pf.Int("port", 0, "database port")
	pf.String("dbname", "", "database name")
	pf.String("user", "", "database user")
	pf.String("password", "", "database password")
	pf.String("sslmode", "", "SSL mode (disable|require|verify-ca|verify-full)")
	pf.Duration("statement-timeout", 0, "per-statement timeout enforced by the server")
	pf.String("schema", "", "default schema for unqualified table names")
	pf.StringP("output", "o", "", "output format (table|json|yaml|csv)")
	pf.String("log-level", "", "log level (debug|info|warn|error)")
	pf.String("log-format", "", "log format (console|json)")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return config.Outputs, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(
		newIntrospectCommand(a),
		newSchemasCommand(a),
		newTablesCommand(a),
		newDescribeCommand(a),
		newPreviewCommand(a),
		newQueryCommand(a),
		newSearchCommand(a),
		newStatsCommand(a),
		newExportCommand(a),
		newImportCommand(a),
		newServeCommand(a),
		newVersionCommand(),
	)
	return rootCmd
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch errs.KindOf(err) {
	case errs.ErrKindConnectionFailed:
		return 2
	case errs.ErrKindNotFound, errs.ErrKindAmbiguous:
		return 3
	case errs.ErrKindQueryFailed, errs.ErrKindTimeout:
		return 4
	case errs.ErrKindTypeMismatch:
		return 5
	case errs.ErrKindIO:
		return 6
	case errs.ErrKindInvalidInput:
		return 64
	default:
		return 1
	}
}

// PrintError writes err as "error [<kind>]: <message>".
func PrintError(w io.Writer, err error) {
	_, _ = fmt.Fprintf(w, "error [%s]: %s\n", errs.KindOf(err), errs.Message(err))
}

// positional wraps a cobra argument validator so usage mistakes are
// reported as invalid input.
func positional(fn cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			return errs.Wrap(errs.ErrKindInvalidInput, "usage: "+cmd.UseLine(), err)
		}
		return nil
	}
}

// engineOptions derives component settings from the loaded config.
func (a *app) engineOptions() engine.Options {
	l := a.cfg.Limits
	perTable := l.SearchPerTable
	if perTable == 0 {
		perTable = -1
	}
	return engine.Options{
		DefaultSchema: a.cfg.Schema,
		QueryLimit:    l.QueryRows,
		TopTables:     l.TopTables,
		Search:        search.Options{PerTable: perTable, SnippetWidth: l.SnippetWidth},
		Transfer:      transfer.Options{BatchSize: l.BatchSize, ChunkSize: l.ChunkSize, SampleSize: l.SampleSize},
		PresignTTL:    a.cfg.FileStore.PresignTTL,
	}
}

// withEngine opens a dedicated session, runs fn and releases the session.
func (a *app) withEngine(cmd *cobra.Command, fn func(*engine.Engine) error) error {
	return engine.Run(cmd.Context(), a.opener, a.cfg.DatabaseConfig(), a.log, a.engineOptions(), fn)
}

// withStore is withEngine with object storage attached when locs name an
// s3:// location. Storage is only contacted when it is needed.
func (a *app) withStore(cmd *cobra.Command, locs []string, fn func(*engine.Engine) error) error {
	opts := a.engineOptions()
	if needsStore(locs) {
		fsCfg := a.cfg.FileStoreConfig()
		if !fsCfg.Enabled() {
			return errs.New(errs.ErrKindInvalidInput, "s3:// locations need filestore.endpoint to be configured")
		}
		store, err := a.newStore(cmd.Context(), fsCfg)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Store = store
	}
	return engine.Run(cmd.Context(), a.opener, a.cfg.DatabaseConfig(), a.log, opts, fn)
}

func needsStore(locs []string) bool {
	for _, l := range locs {
		if loc, err := transfer.ParseLocation(l); err == nil && loc.IsRemote() {
			return true
		}
	}
	return false
}

func (a *app) renderer(cmd *cobra.Command) *renderer {
	return newRenderer(cmd.OutOrStdout(), a.cfg.Output)
}
