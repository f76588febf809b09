package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/shipbatch/shipbatch/internal/repository"
	"gorm.io/gorm"
)

func createBatchErrorsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_batch_errors",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchErrorModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_batch_errors_batch_id ON batch_errors (batch_id)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BatchErrorModel{})
		},
	}
}
