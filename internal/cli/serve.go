package cli

import (
	"fmt"

	"github.com/koustreak/dbops/internal/database/postgres"
	"github.com/koustreak/dbops/internal/logger"
	"github.com/koustreak/dbops/internal/server"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the data operations over HTTP",
		Long: `Serve the data operations over HTTP until interrupted.

Each request checks out its own pooled connection, so concurrent requests
never share one. Logs are written to standard output as JSON unless
--log-format is given.`,
		Args: positional(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			logCfg := a.cfg.LoggerConfig(cmd.OutOrStdout())
			if f := cmd.Flag("log-format"); f == nil || !f.Changed {
				logCfg.Format = "json"
			}
			log := logger.New(logCfg)

			pool, err := postgres.NewPool(ctx, a.cfg.DatabaseConfig())
			if err != nil {
				return err
			}
			defer pool.Close()

			opts := a.engineOptions()
			if fsCfg := a.cfg.FileStoreConfig(); fsCfg.Enabled() {
				store, err := a.newStore(ctx, fsCfg)
				if err != nil {
					return err
				}
				defer store.Close()
				opts.Store = store
			}

			srv := server.New(pool.Opener(), server.Config{
				Addr:            a.cfg.Server.Addr,
				ShutdownTimeout: a.cfg.Server.ShutdownTimeout,
				PreviewLimit:    a.cfg.Limits.PreviewRows,
				Engine:          opts,
			}, log)
			return srv.Run(ctx)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default server.addr)")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "dbops v%s (%s)\n", Version, GitCommit)
		},
	}
}
