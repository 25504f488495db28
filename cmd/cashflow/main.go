package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/cashflow/internal/account"
	"github.com/smallbiznis/cashflow/internal/cashflow"
	"github.com/smallbiznis/cashflow/internal/cashflow/sweeper"
	"github.com/smallbiznis/cashflow/internal/clock"
	"github.com/smallbiznis/cashflow/internal/config"
	"github.com/smallbiznis/cashflow/internal/db"
	"github.com/smallbiznis/cashflow/internal/deal"
	"github.com/smallbiznis/cashflow/internal/events"
	"github.com/smallbiznis/cashflow/internal/identity"
	"github.com/smallbiznis/cashflow/internal/logger"
	"github.com/smallbiznis/cashflow/internal/migration"
	"github.com/smallbiznis/cashflow/internal/seed"
	"github.com/smallbiznis/cashflow/internal/server"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var version = "dev"

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		fx.Provide(func() *snowflake.Node {
			node, err := snowflake.NewNode(1)
			if err != nil {
				panic(err)
			}
			return node
		}),
		db.Module,
		clock.Module,
		migration.Module,
		fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
			if cfg.IsProduction() {
				return nil
			}
			return seed.EnsureDevFixtures(conn)
		}),
		identity.Module,
		events.Module,
		account.Module,
		deal.Module,
		cashflow.Module,
		sweeper.Module,
		server.Module,
	)
	app.Run()
}
