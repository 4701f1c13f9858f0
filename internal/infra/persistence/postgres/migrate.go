package postgres

import (
	"context"

	"orpheus/internal/errors"
	"orpheus/internal/infra/persistence/model"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

// MigrateParams defines the parameters required for schema migration
type MigrateParams struct {
	fx.In
	fx.Lifecycle

	DB *gorm.DB
}

// RegisterMigration runs the schema migration once the connection has been verified on start.
func RegisterMigration(params MigrateParams) {
	params.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return Migrate(params.DB.WithContext(ctx))
		},
	})
}

// Migrate creates or updates the tables owned by this service. It is idempotent.
func Migrate(db *gorm.DB) error {
	return errors.Wrap(db.AutoMigrate(&model.UserModel{}), "failed to migrate schema")
}
