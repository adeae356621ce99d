package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"LERS-backend/internal/platform/config"
)

const driverName = "mysql"

// Connect はプロセス起動時に一度だけ呼び、*sql.DB を各 Service に渡す
func Connect(ctx context.Context, c config.DatabaseConfig, log *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open(driverName, c.DSN())
	if err != nil {
		return nil, fmt.Errorf("接続準備に失敗: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("DB接続に失敗: %w", err)
	}

	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)

	log.Info("connected to DB",
		zap.String("host", c.Host),
		zap.Int("port", c.Port),
		zap.String("dbname", c.DBName),
	)
	return db, nil
}
