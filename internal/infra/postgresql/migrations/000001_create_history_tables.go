package migrations

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/kursadbilgin/notification-dispatch/internal/tablestore"
)

// createHistoryTable creates one history table. indexPrefix keeps index names
// unique across tables sharing the entity model.
func createHistoryTable(id string, table string, indexPrefix string) *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: id,
		Migrate: func(tx *gorm.DB) error {
			if err := tx.Table(table).AutoMigrate(&tablestore.EntityModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_%[1]s_status_send_on ON "%[2]s" (status, send_on_utc_date)`,
				`CREATE INDEX IF NOT EXISTS idx_%[1]s_created ON "%[2]s" (created_date_time)`,
				`CREATE INDEX IF NOT EXISTS idx_%[1]s_last_modified ON "%[2]s" (last_modified)`,
				`CREATE INDEX IF NOT EXISTS idx_%[1]s_tracking_id ON "%[2]s" (tracking_id) WHERE tracking_id IS NOT NULL`,
				`CREATE INDEX IF NOT EXISTS idx_%[1]s_account ON "%[2]s" (email_account_used) WHERE email_account_used IS NOT NULL`,
			}
			for _, stmt := range indexes {
				if err := tx.Exec(fmt.Sprintf(stmt, indexPrefix, table)).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(table)
		},
	}
}
