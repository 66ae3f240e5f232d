// Package testutil содержит общие помощники для тестов пакетов бота.
package testutil

import (
	"io"
	"path/filepath"
	"testing"

	"imagebot/internal/database"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// Logger возвращает логгер, который ничего не пишет.
func Logger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// OpenDB создаёт файл SQLite во временном каталоге теста и мигрирует схему.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "history.db"), "", Logger())
	require.NoError(t, err)

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}
