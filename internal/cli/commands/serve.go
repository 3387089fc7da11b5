package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/conduit-lang/jsonapi/internal/demo"
	"github.com/conduit-lang/jsonapi/internal/web/router"
	"github.com/conduit-lang/jsonapi/internal/web/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewServeCommand creates the serve command
func NewServeCommand(flags *globalFlags) *cobra.Command {
	var seed bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo resources over HTTP",
		Long: `Serve the person, computer and tag resources as a JSON:API server.

The database, listen address, API prefix and query limits come from
jsonapi.yml or JSONAPI_* environment variables. With --seed the demo
tables are created and filled when empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, flags, seed)
		},
	}

	cmd.Flags().BoolVar(&seed, "seed", false, "create and seed the demo tables")
	return cmd
}

func runServe(ctx context.Context, flags *globalFlags, seed bool) error {
	cfg, err := flags.load()
	if err != nil {
		return err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, dialect, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}

	models := demo.Models()
	schemas := demo.Schemas(models)
	if err := schemas.Validate(); err != nil {
		db.Close()
		return err
	}
	if seed {
		if err := seedDemo(ctx, db, dialect, models, logger); err != nil {
			db.Close()
			return err
		}
	}

	handler := router.New(db, dialect, models, schemas,
		router.WithLogger(logger),
		router.WithQueryConfig(cfg.QueryConfig()),
		router.WithPrefix(cfg.Server.APIPrefix),
	)

	srvConfig := server.DefaultConfig(handler)
	srvConfig.Address = cfg.Address()
	srvConfig.Database = server.DefaultDatabaseConfig(db)

	srv, err := server.New(srvConfig, logger)
	if err != nil {
		db.Close()
		return err
	}
	srv.RegisterHook(func(context.Context) error {
		return db.Close()
	})

	logger.Info("serving resources",
		zap.Strings("types", schemas.Types()),
		zap.String("driver", cfg.Database.Driver),
		zap.String("prefix", cfg.Server.APIPrefix))
	return srv.Run(ctx)
}
