package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/shipbatch/shipbatch/internal/repository"
	"gorm.io/gorm"
)

func createBatchItemsTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_batch_items",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchShipmentModel{}, &repository.BatchRateModel{}); err != nil {
				return err
			}
			// Membership is a multiset: indexes speed up exact-match removal,
			// no uniqueness on (batch_id, shipment_id) or (batch_id, rate_id).
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_batch_shipments_batch_shipment ON batch_shipments (batch_id, shipment_id)`,
				`CREATE INDEX IF NOT EXISTS idx_batch_rates_batch_rate ON batch_rates (batch_id, rate_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BatchRateModel{}, &repository.BatchShipmentModel{})
		},
	}
}
