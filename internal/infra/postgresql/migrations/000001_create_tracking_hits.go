package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/attribution-relay/internal/repository"
	"gorm.io/gorm"
)

func createTrackingHitsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_tracking_hits",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.TrackingHitModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_tracking_hits_affiliate_captured ON tracking_hits (affiliate_id, captured_at)`,
				`CREATE INDEX IF NOT EXISTS idx_tracking_hits_created_at ON tracking_hits (created_at)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.TrackingHitModel{})
		},
	}
}
