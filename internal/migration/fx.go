package migration

import (
	"fmt"
	"strings"

	addressdomain "github.com/smallbiznis/settlement/internal/addresspool/domain"
	"github.com/smallbiznis/settlement/internal/config"
	intentdomain "github.com/smallbiznis/settlement/internal/intent/domain"
	notificationdomain "github.com/smallbiznis/settlement/internal/notification/domain"
	reconciliationdomain "github.com/smallbiznis/settlement/internal/reconciliation/domain"
	webhookdomain "github.com/smallbiznis/settlement/internal/webhookendpoint/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(Migrate),
)

// Models lists every table the service owns.
func Models() []any {
	return []any{
		&intentdomain.PaymentIntent{},
		&notificationdomain.Event{},
		&notificationdomain.Attempt{},
		&reconciliationdomain.LedgerTransfer{},
		&reconciliationdomain.Watermark{},
		&addressdomain.DepositAddress{},
		&webhookdomain.Endpoint{},
	}
}

// Migrate runs the SQL migrations on postgres and AutoMigrate elsewhere, for
// local sqlite runs.
func Migrate(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
	if !cfg.DBMigrate {
		return nil
	}
	log = log.Named("migration")

	if strings.EqualFold(strings.TrimSpace(cfg.DBType), "postgres") {
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		latest, err := LatestVersion()
		if err != nil {
			return err
		}
		result, err := RunMigrations(sqlDB)
		if err != nil {
			log.Error("schema migration failed", zap.Uint("from_version", result.From), zap.Error(err))
			return err
		}
		if result.To != latest {
			return fmt.Errorf("schema at version %d, embedded migrations end at %d", result.To, latest)
		}
		log.Info("schema migrated",
			zap.String("dialect", "postgres"),
			zap.Uint("from_version", result.From),
			zap.Uint("to_version", result.To),
		)
		return nil
	}

	if err := conn.AutoMigrate(Models()...); err != nil {
		return err
	}
	log.Info("schema auto-migrated", zap.String("dialect", cfg.DBType))
	return nil
}
