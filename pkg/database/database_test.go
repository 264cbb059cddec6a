package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "kv.db")
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty path", func(c *Config) { c.DatabasePath = "" }},
		{"zero connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }},
		{"zero queue", func(c *Config) { c.WriteQueueSize = 0 }},
		{"negative retry", func(c *Config) { c.RetryDelay = -time.Second }},
		{"zero purge interval", func(c *Config) { c.PurgeInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMigrations_ApplyAndValidate(t *testing.T) {
	db, err := Open(testConfig(t))
	require.NoError(t, err)
	defer db.Close()

	validator := NewSchemaValidator(db)
	assert.Error(t, validator.ValidateTablesExist(), "fresh database has no schema")

	mm := NewMigrationManager(db)
	require.NoError(t, mm.ApplyMigrations())
	require.NoError(t, validator.Validate())

	versions, err := mm.AppliedVersions()
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, versions)
}

func TestMigrations_Idempotent(t *testing.T) {
	db, err := Open(testConfig(t))
	require.NoError(t, err)
	defer db.Close()

	mm := NewMigrationManager(db)
	require.NoError(t, mm.ApplyMigrations())
	require.NoError(t, mm.ApplyMigrations())

	versions, err := mm.AppliedVersions()
	require.NoError(t, err)
	assert.Len(t, versions, len(Migrations))
}

func TestOpen_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConnections = 0
	_, err := Open(cfg)
	assert.Error(t, err)
}
