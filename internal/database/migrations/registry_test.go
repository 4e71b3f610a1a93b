package migrations

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/superyu1337/handbrake-go/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	return db
}

func newMigrator(t *testing.T) (*Migrator, *gorm.DB) {
	t.Helper()
	db := setupTestDB(t)
	m := NewMigrator(db, nil)
	m.RegisterAll(AllMigrations())
	return m, db
}

func TestAllMigrations_VersionsAreUniqueAndOrdered(t *testing.T) {
	migrations := AllMigrations()
	require.NotEmpty(t, migrations)

	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version)
	}
	for _, m := range migrations {
		assert.NotNil(t, m.Up, "migration %s has no Up", m.Version)
		assert.NotNil(t, m.Down, "migration %s has no Down", m.Version)
	}
}

func TestMigrator_Up(t *testing.T) {
	m, db := newMigrator(t)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx))

	assert.True(t, db.Migrator().HasTable(&models.EncodeRun{}))
	assert.True(t, db.Migrator().HasTable(&MigrationRecord{}))
	assert.True(t, db.Migrator().HasIndex(&models.EncodeRun{}, pruneIndexName))

	var count int64
	require.NoError(t, db.Model(&MigrationRecord{}).Count(&count).Error)
	assert.Equal(t, int64(len(AllMigrations())), count)
}

func TestMigrator_Up_Idempotent(t *testing.T) {
	m, db := newMigrator(t)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx))

	var count int64
	require.NoError(t, db.Model(&MigrationRecord{}).Count(&count).Error)
	assert.Equal(t, int64(len(AllMigrations())), count)
}

func TestMigrator_Status(t *testing.T) {
	m, _ := newMigrator(t)
	ctx := context.Background()

	statuses, err := m.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, len(AllMigrations()))
	for _, st := range statuses {
		assert.False(t, st.Applied)
		assert.Nil(t, st.AppliedAt)
	}

	require.NoError(t, m.Up(ctx))

	statuses, err = m.Status(ctx)
	require.NoError(t, err)
	for _, st := range statuses {
		assert.True(t, st.Applied, "migration %s", st.Version)
		assert.NotNil(t, st.AppliedAt)
	}
}

func TestMigrator_Down(t *testing.T) {
	m, db := newMigrator(t)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx))

	require.NoError(t, m.Down(ctx))
	assert.False(t, db.Migrator().HasIndex(&models.EncodeRun{}, pruneIndexName))
	assert.True(t, db.Migrator().HasTable(&models.EncodeRun{}))

	require.NoError(t, m.Down(ctx))
	assert.False(t, db.Migrator().HasTable(&models.EncodeRun{}))

	// nothing left to roll back
	require.NoError(t, m.Down(ctx))

	// and everything re-applies cleanly
	require.NoError(t, m.Up(ctx))
	assert.True(t, db.Migrator().HasIndex(&models.EncodeRun{}, pruneIndexName))
}

func TestMigrator_Down_Unsupported(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	m := NewMigrator(db, nil)
	m.RegisterAll([]Migration{{
		Version:     "001",
		Description: "one way",
		Up:          func(*gorm.DB) error { return nil },
	}})

	require.NoError(t, m.Up(ctx))
	err := m.Down(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support rollback")
}
