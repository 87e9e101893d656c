// Package repository は gorm を使ったデータアクセス層です。
package repository

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yourusername/easypdf/internal/models"
)

var (
	// ErrNotFound は対象レコードが存在しないことを表します。
	ErrNotFound = errors.New("record not found")
	// ErrTransition は許可されていない状態遷移を表します。
	ErrTransition = errors.New("invalid job status transition")
	// ErrEmailTaken はメールアドレスが他の利用者に使われていることを表します。
	ErrEmailTaken = errors.New("email already taken")
)

// Config はデータベース接続設定です。
type Config struct {
	Driver      string // postgres | sqlite
	DSN         string
	AutoMigrate bool
	LogLevel    gormlogger.LogLevel
}

// Open はデータベースへ接続し、必要ならスキーマを作成します。
func Open(cfg Config, logger *slog.Logger) (*gorm.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	level := cfg.LogLevel
	if level == 0 {
		level = gormlogger.Warn
	}

	logger.Info("connecting to database", "driver", cfg.Driver)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	})
	if err != nil {
		logger.Error("failed to connect to database", "driver", cfg.Driver, "error", err)
		return nil, err
	}

	if cfg.Driver == "sqlite" {
		// SQLite は単一ライター
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if cfg.AutoMigrate {
		for _, m := range models.All() {
			if err := db.AutoMigrate(m); err != nil {
				logger.Error("migration failed", "model", fmt.Sprintf("%T", m), "error", err)
				return nil, err
			}
		}
	}

	logger.Info("successfully connected to database")
	return db, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func orDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
