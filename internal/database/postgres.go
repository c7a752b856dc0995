package database

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func ConnectPostgres(ctx context.Context, dsn string, pool PoolConfig, maxElapsed time.Duration, log *zap.SugaredLogger) (*gorm.DB, error) {
	var db *gorm.DB
	err := retry(ctx, "postgres", maxElapsed, log, func(ctx context.Context) error {
		g, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		})
		if err != nil {
			return err
		}
		sqlDB, err := g.DB()
		if err != nil {
			return err
		}
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := sqlDB.PingContext(pctx); err != nil {
			_ = sqlDB.Close()
			return err
		}
		db = g
		return nil
	})
	if err != nil {
		log.Errorf("Postgres connection failed: %v", err)
		return nil, err
	}

	sqlDB, _ := db.DB()
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	log.Info("Postgres connected successfully")
	return db, nil
}
