package migrations

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

const migrationsTable = "gcm_relay_migrations"

var options = &gormigrate.Options{
	TableName:                 migrationsTable,
	IDColumnName:              "id",
	IDColumnSize:              255,
	UseTransaction:            true,
	ValidateUnknownMigrations: true,
}

func all() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createDeliveriesTable(),
		addDeliveriesPendingIndex(),
	}
}

// Migrate brings the delivery schema up to date. The API and the worker both
// call it at startup.
func Migrate(db *gorm.DB) error {
	if err := gormigrate.New(db, options, all()).Migrate(); err != nil {
		return fmt.Errorf("failed to migrate delivery schema: %w", err)
	}
	return nil
}
