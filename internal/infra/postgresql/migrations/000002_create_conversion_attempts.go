package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/attribution-relay/internal/repository"
	"gorm.io/gorm"
)

func createConversionAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_conversion_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ConversionAttemptModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_conversion_attempts_received_at ON conversion_attempts (received_at)`,
				`CREATE INDEX IF NOT EXISTS idx_conversion_attempts_order_id ON conversion_attempts (order_id) WHERE order_id IS NOT NULL`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ConversionAttemptModel{})
		},
	}
}
