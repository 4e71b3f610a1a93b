package database

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/superyu1337/handbrake-go/internal/config"
	"github.com/superyu1337/handbrake-go/internal/models"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             ":memory:",
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		LogLevel:        "silent",
	}, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestNew_SQLite(t *testing.T) {
	db := setupTestDB(t)

	assert.NoError(t, db.Ping(context.Background()))
	assert.Equal(t, "sqlite", db.Driver())

	sqlDB, err := db.DB.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections, "in-memory sqlite is pinned to one connection")
}

func TestNew_InvalidDriver(t *testing.T) {
	db, err := New(config.DatabaseConfig{Driver: "invalid", DSN: ":memory:"}, nil)
	require.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestGetDialector(t *testing.T) {
	for _, driver := range []string{"sqlite", "postgres", "mysql"} {
		t.Run(driver, func(t *testing.T) {
			d, err := getDialector(config.DatabaseConfig{Driver: driver, DSN: "x"})
			require.NoError(t, err)
			assert.Equal(t, driver, d.Name())
		})
	}
}

func TestDB_Close(t *testing.T) {
	db, err := New(config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent"}, nil)
	require.NoError(t, err)

	require.NoError(t, db.Close())
	assert.Error(t, db.Ping(context.Background()))
}

func TestDB_Migrate(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx), "migrating twice is a no-op")

	assert.True(t, db.Migrator().HasTable(&models.EncodeRun{}))
}

func TestDB_Transaction(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, db.Migrate(ctx))

	t.Run("commit", func(t *testing.T) {
		err := db.Transaction(ctx, func(tx *gorm.DB) error {
			return tx.Create(&models.EncodeRun{Input: "a.mkv", Output: "a.mp4"}).Error
		})
		require.NoError(t, err)

		var count int64
		require.NoError(t, db.Model(&models.EncodeRun{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})

	t.Run("rollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.Transaction(ctx, func(tx *gorm.DB) error {
			if err := tx.Create(&models.EncodeRun{Input: "b.mkv", Output: "b.mp4"}).Error; err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		var count int64
		require.NoError(t, db.Model(&models.EncodeRun{}).Count(&count).Error)
		assert.Equal(t, int64(1), count)
	})
}

func TestSQLitePragmas(t *testing.T) {
	db := setupTestDB(t)

	var foreignKeys int
	require.NoError(t, db.Raw("PRAGMA foreign_keys").Scan(&foreignKeys).Error)
	assert.Equal(t, 1, foreignKeys)

	var journal string
	require.NoError(t, db.Raw("PRAGMA journal_mode").Scan(&journal).Error)
	assert.Equal(t, "memory", journal, "in-memory databases cannot use WAL")
}

func TestGormLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want logger.LogLevel
	}{
		{"silent", logger.Silent},
		{"error", logger.Error},
		{"warn", logger.Warn},
		{"info", logger.Info},
		{"", logger.Warn},
		{"bogus", logger.Warn},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, gormLogLevel(tt.in), tt.in)
	}
}

func TestTruncateSQL(t *testing.T) {
	short := "SELECT 1"
	assert.Equal(t, short, truncateSQL(short))

	long := make([]byte, maxSQLLogLength+50)
	for i := range long {
		long[i] = 'x'
	}
	got := truncateSQL(string(long))
	assert.Len(t, got, maxSQLLogLength+len("... (truncated)"))
}
