package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func addDeliveriesPendingIndex() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_add_deliveries_pending_index",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_deliveries_pending ON deliveries (created_at) WHERE status IN ('ACCEPTED', 'QUEUED', 'PROCESSING')`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec(`DROP INDEX IF EXISTS idx_deliveries_pending`).Error
		},
	}
}
