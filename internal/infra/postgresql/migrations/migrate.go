package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/like-teriyaki37/tg-notifier-monorepo/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		createNotificationJobsTable(),
		createDeliveryAttemptsTable(),
		createPendingLinksTable(),
		createLinkedIdentitiesTable(),
	})

	return m.Migrate()
}

func createNotificationJobsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_notification_jobs",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.JobModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON notification_jobs (status, created_at)`,
				`CREATE INDEX IF NOT EXISTS idx_jobs_retry ON notification_jobs (next_retry_at) WHERE status = 'QUEUED'`,
				`CREATE INDEX IF NOT EXISTS idx_jobs_recipient_email ON notification_jobs (recipient_email)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.JobModel{})
		},
	}
}

func createDeliveryAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_delivery_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.DeliveryAttemptModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_attempts_job_id ON delivery_attempts (job_id)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryAttemptModel{})
		},
	}
}

func createPendingLinksTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_pending_links",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.PendingLinkModel{}); err != nil {
				return err
			}
			// Lookup path for the latest link row per pair.
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_pending_links_pair ON pending_links (email, chat_id, created_at DESC)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.PendingLinkModel{})
		},
	}
}

func createLinkedIdentitiesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_linked_identities",
		Migrate: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&repository.LinkedIdentityModel{})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.LinkedIdentityModel{})
		},
	}
}
