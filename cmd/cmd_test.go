package cmd

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wardlow/casekeeper/casekeeper"
)

func TestVersionCommand(t *testing.T) {
	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, buf.String(), "casekeeper")
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(
		func() {
			_ = os.Chdir(wd)
		},
	)

	buf := &bytes.Buffer{}
	rootCmd.SetOut(buf)
	rootCmd.SetArgs([]string{"init"})
	require.NoError(t, rootCmd.Execute())

	assert.FileExists(t, filepath.Join(dir, "casekeeper.yaml"))
	assert.FileExists(t, filepath.Join(dir, "data", "build.sql"))
	assert.Contains(t, buf.String(), "Initialization complete")

	config, err := os.ReadFile(filepath.Join(dir, "casekeeper.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(config), "inactive_time: 1h")
}

func TestLevelHookDecodesConfig(t *testing.T) {
	v := viper.New()
	v.Set("log_level", "DEBUG")
	v.Set("discord.discordgo_log_level", "ERROR")
	v.Set("commit_interval", "5m")

	cfg := casekeeper.DefaultConfig()
	err := v.Unmarshal(
		cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				levelToStringHookFunc(),
			),
		),
	)
	require.NoError(t, err)

	require.NotNil(t, cfg.LogLevel)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel.Level())
	require.NotNil(t, cfg.Discord.DiscordGoLogLevel)
	assert.Equal(t, slog.LevelError, cfg.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, 5*time.Minute, cfg.CommitInterval)
}

func TestGetLogLevel(t *testing.T) {
	for _, name := range []string{"DEBUG", "INFO", "WARN", "ERROR", "info"} {
		_, err := getLogLevel(name)
		assert.NoError(t, err, "level %q", name)
	}
	_, err := getLogLevel("LOUD")
	assert.Error(t, err)
}
