// Package dbtest opens throwaway catalog databases for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/camden-git/framearchive/database"
)

// Open returns a migrated database in a temporary directory, closed when t ends.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := database.InitGormDB(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrateModels(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}
