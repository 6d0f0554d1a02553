package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/addresspool"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/intent"
	"github.com/smallbiznis/settlement/internal/lock"
	"github.com/smallbiznis/settlement/internal/migration"
	"github.com/smallbiznis/settlement/internal/notification"
	"github.com/smallbiznis/settlement/internal/observability"
	"github.com/smallbiznis/settlement/internal/quote"
	"github.com/smallbiznis/settlement/internal/server"
	"github.com/smallbiznis/settlement/internal/webhookendpoint"
	"github.com/smallbiznis/settlement/pkg/db"
	"go.uber.org/fx"
)

// The API process creates and cancels intents; ledger and outbox loops run in apps/worker.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,

		addresspool.Module,
		quote.Module,
		intent.Module,
		notification.Module,
		webhookendpoint.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
