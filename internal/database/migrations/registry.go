package migrations

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/superyu1337/handbrake-go/internal/models"
)

// AllMigrations returns every migration in version order.
//   - 001: encode_runs table
//   - 002: composite (status, finished_at) index used by history pruning
func AllMigrations() []Migration {
	return []Migration{
		migration001EncodeRuns(),
		migration002PruneIndex(),
	}
}

func migration001EncodeRuns() Migration {
	return Migration{
		Version:     "001",
		Description: "Create encode_runs table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.EncodeRun{})
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&models.EncodeRun{})
		},
	}
}

const pruneIndexName = "idx_encode_runs_status_finished_at"

func migration002PruneIndex() Migration {
	return Migration{
		Version:     "002",
		Description: "Index encode_runs by status and finish time",
		Up: func(tx *gorm.DB) error {
			if tx.Migrator().HasIndex(&models.EncodeRun{}, pruneIndexName) {
				return nil
			}
			sql := fmt.Sprintf("CREATE INDEX %s ON encode_runs (status, finished_at)", pruneIndexName)
			return tx.Exec(sql).Error
		},
		Down: func(tx *gorm.DB) error {
			return tx.Migrator().DropIndex(&models.EncodeRun{}, pruneIndexName)
		},
	}
}
