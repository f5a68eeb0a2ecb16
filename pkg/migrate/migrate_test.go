package migrate_test

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/nebutra/billing-service/internal/plans"
	"github.com/nebutra/billing-service/pkg/config"
	"github.com/nebutra/billing-service/pkg/db/dbtest"
	"github.com/nebutra/billing-service/pkg/db/models"
	"github.com/nebutra/billing-service/pkg/logger"
	"github.com/nebutra/billing-service/pkg/migrate"
)

func TestEmbeddedMigrationsAreValid(t *testing.T) {
	source, err := migrate.Source("")
	require.NoError(t, err)
	require.NoError(t, migrate.Validate(source))
}

func TestEmbeddedMatchesSourceDir(t *testing.T) {
	embedded, err := migrate.Source("")
	require.NoError(t, err)
	onDisk, err := migrate.Source("migrations")
	require.NoError(t, err)

	want, err := fs.Glob(onDisk, "*.sql")
	require.NoError(t, err)
	got, err := fs.Glob(embedded, "*.sql")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestMigrationsCreateEveryTable(t *testing.T) {
	source, err := migrate.Source("")
	require.NoError(t, err)
	matches, err := fs.Glob(source, "*.sql")
	require.NoError(t, err)
	require.NotEmpty(t, matches)

	var all strings.Builder
	for _, path := range matches {
		data, err := fs.ReadFile(source, path)
		require.NoError(t, err)
		all.Write(data)
	}
	content := all.String()

	for _, table := range []string{
		"feature_definitions", "usage_limit_definitions", "pricing_plans", "plan_features",
		"plan_usage_limits", "subscriptions", "customer_plan_versions", "customer_feature_overrides",
		"customer_usage_limits", "usage_counters", "usage_records", "credit_balances",
		"credit_transactions", "credit_bonus_grants",
	} {
		assert.Contains(t, content, "CREATE TABLE IF NOT EXISTS "+table+" (", table)
	}
	assert.Contains(t, content, "CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_counters_org_period_type")
	assert.Contains(t, content, "CREATE UNIQUE INDEX IF NOT EXISTS idx_credit_transactions_org_sequence")
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

	path, err := migrate.CreateSQLMigration(dir, "Add Credit Index!", now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "20260402083000_add_credit_index.sql"), path)
	require.NoError(t, migrate.Validate(os.DirFS(dir)))

	_, err = migrate.CreateSQLMigration(dir, "add credit index", now)
	assert.Error(t, err, "same version and name must not overwrite")

	_, err = migrate.CreateSQLMigration(dir, "!!!", now)
	assert.Error(t, err)
}

func TestValidateRejectsBrokenFiles(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"bad name":        {"add_index.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")}},
		"missing down":    {"20260401000000_a.sql": {Data: []byte("-- +goose Up\nSELECT 1;\n")}},
		"down before up":  {"20260401000000_a.sql": {Data: []byte("-- +goose Down\n-- +goose Up\n")}},
		"open statement":  {"20260401000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose StatementBegin\n-- +goose Down\n")}},
		"invalid version": {"20261399000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")}},
		"duplicate version": {
			"20260401000000_a.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
			"20260401000000_b.sql": {Data: []byte("-- +goose Up\n-- +goose Down\n")},
		},
	}
	for name, fsys := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, migrate.Validate(fsys))
		})
	}
}

func TestMaybeRunDevBuildsSQLiteSchemaAndSeeds(t *testing.T) {
	client := dbtest.Client(t)
	require.NoError(t, client.DB().Migrator().DropTable(models.All()...))

	cfg := &config.Config{
		App:          config.AppConfig{Env: config.AppEnvDev},
		FeatureFlags: config.FeatureFlagsConfig{UseSQLite: true, AutoMigrate: true},
	}
	logg := logger.New(logger.Options{ServiceName: "migrate-test", Output: io.Discard})

	seed := func(ctx context.Context, conn *gorm.DB) error {
		return plans.SeedDefaults(ctx, conn, time.Now())
	}
	require.NoError(t, migrate.MaybeRunDev(context.Background(), cfg, logg, client, seed))

	var count int64
	require.NoError(t, client.DB().Model(&models.PricingPlan{}).Count(&count).Error)
	assert.Equal(t, int64(3), count)
}

func TestMaybeRunDevSkipsOutsideDev(t *testing.T) {
	cfg := &config.Config{
		App:          config.AppConfig{Env: config.AppEnvProd},
		FeatureFlags: config.FeatureFlagsConfig{AutoMigrate: true},
	}
	called := false
	seed := func(context.Context, *gorm.DB) error {
		called = true
		return nil
	}
	require.NoError(t, migrate.MaybeRunDev(context.Background(), cfg, nil, nil, seed))
	assert.False(t, called)
}
