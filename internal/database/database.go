// Package database открывает хранилище истории: файл SQLite по умолчанию
// или PostgreSQL, если задан DATABASE_URL.
package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open подключается к базе и мигрирует схему. Пустой path означает
// SQLite в памяти (удобно для отладки).
func Open(path, url string, log logrus.FieldLogger) (*gorm.DB, error) {
	gormConfig := &gorm.Config{
		Logger: logger.New(log, logger.Config{
			SlowThreshold:             500 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	}

	var (
		db  *gorm.DB
		err error
	)
	if url != "" {
		log.Info("Подключение к PostgreSQL")
		db, err = gorm.Open(postgres.Open(url), gormConfig)
	} else {
		db, err = openSQLite(path, gormConfig, log)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&History{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func openSQLite(path string, cfg *gorm.Config, log logrus.FieldLogger) (*gorm.DB, error) {
	dsn := "file::memory:?cache=shared"
	if path != "" {
		if dir := filepath.Dir(path); dir != "." && dir != "/" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
		dsn = path + "?_busy_timeout=5000"
	}
	log.WithField("dsn", dsn).Info("Подключение к SQLite")

	db, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, err
	}

	// SQLite допускает одного писателя; одно соединение убирает SQLITE_BUSY
	// при параллельных обработчиках разных чатов.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}
