package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/settlement/internal/addresspool"
	"github.com/smallbiznis/settlement/internal/clock"
	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/internal/migration"
	"github.com/smallbiznis/settlement/internal/observability"
	"github.com/smallbiznis/settlement/internal/seed"
	"github.com/smallbiznis/settlement/internal/webhookendpoint"
	"github.com/smallbiznis/settlement/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,

		addresspool.Module,
		webhookendpoint.Module,

		fx.Invoke(runSeed),
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}

func runSeed(lc fx.Lifecycle, shutdowner fx.Shutdowner, log *zap.Logger, p seed.Params) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				code := 0
				if _, err := seed.Run(context.Background(), p); err != nil {
					log.Error("seed failed", zap.Error(err))
					code = 1
				}
				_ = shutdowner.Shutdown(fx.ExitCode(code))
			}()
			return nil
		},
	})
}
