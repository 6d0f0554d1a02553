package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/smallbiznis/settlement/internal/config"
	"github.com/smallbiznis/settlement/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups, downs := 0, 0
	for _, entry := range entries {
		switch {
		case strings.HasSuffix(entry.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(entry.Name(), ".down.sql"):
			downs++
		}
	}
	assert.NotZero(t, ups)
	assert.Equal(t, ups, downs)
}

func TestLatestVersionMatchesEmbeddedFiles(t *testing.T) {
	latest, err := LatestVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), latest)
}

func TestMigrateAutoMigratesSQLite(t *testing.T) {
	db := dbtest.Open(t)
	cfg := config.Config{DBType: "sqlite", DBMigrate: true}

	require.NoError(t, Migrate(db, cfg, zap.NewNop()))
	for _, table := range []string{
		"payment_intents",
		"notification_events",
		"notification_attempts",
		"ledger_transfers",
		"reconciliation_watermarks",
		"deposit_addresses",
		"webhook_endpoints",
	} {
		assert.True(t, db.Migrator().HasTable(table), table)
	}
}
