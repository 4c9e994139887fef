package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/kursadbilgin/notification-dispatch/internal/blob"
)

func createBlobsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_blobs",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&blob.BlobModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&blob.BlobModel{})
		},
	}
}
