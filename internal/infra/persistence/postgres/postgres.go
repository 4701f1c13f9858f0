package postgres

import (
	"context"
	"log/slog"

	"orpheus/config"
	"orpheus/internal/domain/lifecycle"
	"orpheus/internal/errors"
	"orpheus/internal/infra/metrics"

	pgLib "github.com/slighter12/go-lib/database/postgres"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// poolMetricsName is the db_name label of the exported pool statistics.
const poolMetricsName = "users"

// Params defines the required parameters
type Params struct {
	fx.In
	fx.Lifecycle

	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

// New opens the user database. Unique violations surface as gorm.ErrDuplicatedKey,
// and connection pool statistics are exported through the service metrics registry.
func New(params Params) (*gorm.DB, error) {
	db, err := pgLib.New(params.Config.Postgres)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create PostgreSQL client")
	}
	db.Config.TranslateError = true
	db = db.Session(&gorm.Session{
		// Every repository call is a single statement; skip GORM's implicit transaction.
		SkipDefaultTransaction: true,
		Logger:                 newGormSlogLogger(params.Logger, params.Config),
	})

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get PostgreSQL sql.DB")
	}

	if err := params.Metrics.RegisterDBStats(poolMetricsName, sqlDB); err != nil {
		return nil, errors.Wrap(err, "failed to register PostgreSQL pool metrics")
	}

	params.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			ctx, cancel := context.WithTimeout(startCtx, lifecycle.DefaultTimeout)
			defer cancel()

			if err := sqlDB.PingContext(ctx); err != nil {
				return errors.Wrap(err, "failed to ping PostgreSQL")
			}

			stats := sqlDB.Stats()
			params.Logger.Info("PostgreSQL connected",
				slog.String("database", params.Config.Postgres.Database),
				slog.Int("max_open_conns", stats.MaxOpenConnections),
			)

			return nil
		},
		OnStop: func(_ context.Context) error {
			return sqlDB.Close()
		},
	})

	return db, nil
}
