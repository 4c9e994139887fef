package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createHistoryTable("000001_create_email_history", "EmailHistory", "email_history"),
		createHistoryTable("000002_create_meeting_history", "MeetingHistory", "meeting_history"),
		createBlobsTable(),
	})

	return m.Migrate()
}
