package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
database:
  driver: postgres
  port: 5432
settlement:
  workers: 2
  lock_ttl: 30m
referral:
  level1_rate: 10
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 2, cfg.Settlement.Workers)
	assert.Equal(t, 30*time.Minute, cfg.Settlement.LockTTL)
	assert.Equal(t, 10.0, cfg.Referral.Level1Rate)
	// untouched keys keep their defaults
	assert.Equal(t, 5.0, cfg.Referral.Level2Rate)
	assert.Equal(t, 3.0, cfg.Referral.Level3Rate)
	assert.Equal(t, "5 0 * * *", cfg.Settlement.Cron)
}

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 7.0, cfg.Referral.Level1Rate)
	assert.Equal(t, "kafka", cfg.Notification.Transport)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("SERVER_PORT", "9191")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
}

func TestSettlementConfig_Location(t *testing.T) {
	assert.Equal(t, time.UTC, SettlementConfig{}.Location())
	assert.Equal(t, time.UTC, SettlementConfig{Timezone: "Not/AZone"}.Location())
	assert.Equal(t, "Asia/Shanghai", SettlementConfig{Timezone: "Asia/Shanghai"}.Location().String())
}
