package db

import (
	"fmt"

	"github.com/smallbiznis/cashflow/internal/config"
	"go.uber.org/fx"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the configured database. Postgres is the system of
// record; sqlite exists for local development and tests.
func Open(cfg config.Config) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	}

	switch cfg.Database.Driver {
	case "sqlite":
		return gorm.Open(sqlite.Open(cfg.Database.DBName), gormCfg)
	default:
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Database.Host,
			cfg.Database.Port,
			cfg.Database.User,
			cfg.Database.Password,
			cfg.Database.DBName,
			cfg.Database.SSLMode,
		)
		return gorm.Open(postgres.Open(dsn), gormCfg)
	}
}

// LockForUpdate applies a row-level exclusive lock on dialects that
// support it. sqlite serializes writers on its own, so the clause is
// skipped there rather than producing invalid SQL.
func LockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

var Module = fx.Module("db",
	fx.Provide(Open),
)
