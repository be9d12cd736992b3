package casekeeper

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Discord.Token = "token"
	cfg.Discord.GuildID = "guild-1"
	cfg.Support.AvailableCategoryID = "cat-available"
	cfg.Support.OccupiedCategoryID = "cat-occupied"
	cfg.Support.UnavailableCategoryID = "cat-unavailable"
	cfg.Support.HelperRoleID = "role-helper"
	cfg.Support.StaffRoleID = "role-staff"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, DefaultDatabase, cfg.Database)
	assert.Equal(t, DefaultBootstrapScript, cfg.BootstrapScript)
	assert.Equal(t, DefaultSnapshotPath, cfg.SnapshotPath)
	assert.Equal(t, time.Minute, cfg.CommitInterval)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)

	require.NotNil(t, cfg.LogLevel)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel.Level())

	require.NotNil(t, cfg.Discord)
	assert.Equal(t, "+", cfg.Discord.CommandPrefix)
	require.NotNil(t, cfg.Discord.DiscordGoLogLevel)
	assert.Equal(t, slog.LevelWarn, cfg.Discord.DiscordGoLogLevel.Level())

	require.NotNil(t, cfg.Support)
	assert.Equal(t, time.Hour, cfg.Support.InactiveTime)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, validTestConfig().Validate())

	cfg := validTestConfig()
	cfg.Discord.Token = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token")

	cfg = validTestConfig()
	cfg.Discord.GuildID = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guild")

	cfg = validTestConfig()
	cfg.Support.HelperRoleID = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "helper role")

	cfg = validTestConfig()
	cfg.Database = ""
	cfg.BootstrapScript = ""
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database path")
	assert.Contains(t, err.Error(), "bootstrap script")

	cfg = validTestConfig()
	cfg.Support = nil
	assert.Error(t, cfg.Validate())
}
