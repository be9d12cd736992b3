//nolint:lll // struct tags can't be split
package casekeeper

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	EnvPrefix              = "CASEKEEPER"
	DefaultDatabase        = "data/casekeeper.sqlite3"
	DefaultBootstrapScript = "data/build.sql"
	DefaultSnapshotPath    = "data/support_snapshot.json"
	DefaultLogLevel        = slog.LevelInfo
	DefaultDiscordLogLevel = slog.LevelWarn
	DefaultCommitInterval  = time.Minute
	DefaultCommandPrefix   = "+"
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultInactiveTime is the idle window after which an occupied support
	// case auto-closes.
	DefaultInactiveTime = time.Hour
)

// Config is the static process configuration, loaded once at startup from
// flags, environment and (optionally) a YAML file. One field per known
// setting - nothing is resolved dynamically at read time.
type Config struct {
	// Database is the path to the SQLite database file
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// BootstrapScript is the path to the idempotent SQL script executed on
	// every connect
	BootstrapScript string `yaml:"bootstrap_script" mapstructure:"bootstrap_script" json:"bootstrap_script"`

	// SnapshotPath is where the support pool's crash-recovery snapshot is
	// written on disconnect/shutdown
	SnapshotPath string `yaml:"snapshot_path" mapstructure:"snapshot_path" json:"snapshot_path"`

	// CommitInterval is how often the database write-ahead log is flushed
	CommitInterval time.Duration `yaml:"commit_interval" mapstructure:"commit_interval" json:"commit_interval"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// ShutdownTimeout is the time allowed for a graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// Discord configures the bot connection itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Support configures the support channel pool
	Support *SupportConfig `yaml:"support" mapstructure:"support" json:"support"`
}

// DiscordConfig holds the gateway/guild settings.
type DiscordConfig struct {
	// Token is the bot token (without the "Bot " prefix)
	Token string `yaml:"token" mapstructure:"token" json:"-"`

	// ApplicationID is the Discord application ID, used to register
	// slash commands
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id"`

	// GuildID is the single guild this bot serves
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// StdoutChannelID, if set, receives startup/shutdown notices
	StdoutChannelID string `yaml:"stdout_channel_id" mapstructure:"stdout_channel_id" json:"stdout_channel_id"`

	// CommandPrefix marks messages that should never claim a support
	// channel (legacy text commands)
	CommandPrefix string `yaml:"command_prefix" mapstructure:"command_prefix" json:"command_prefix"`

	// CustomStatus is the status text shown under the bot user
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// DiscordGoLogLevel sets the log level of the underlying discordgo library
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`
}

// SupportConfig identifies the categories and roles the support channel
// pool is built from.
type SupportConfig struct {
	// AvailableCategoryID is the category holding open-for-business channels
	AvailableCategoryID string `yaml:"available_category_id" mapstructure:"available_category_id" json:"available_category_id"`

	// OccupiedCategoryID is the category holding channels with an open case
	OccupiedCategoryID string `yaml:"occupied_category_id" mapstructure:"occupied_category_id" json:"occupied_category_id"`

	// UnavailableCategoryID is the category holding parked channels
	UnavailableCategoryID string `yaml:"unavailable_category_id" mapstructure:"unavailable_category_id" json:"unavailable_category_id"`

	// HelperRoleID marks the members whose availability drives pool capacity
	HelperRoleID string `yaml:"helper_role_id" mapstructure:"helper_role_id" json:"helper_role_id"`

	// StaffRoleID marks members allowed to close/reopen any case
	StaffRoleID string `yaml:"staff_role_id" mapstructure:"staff_role_id" json:"staff_role_id"`

	// InactiveTime is the idle window after which an occupied case
	// auto-closes
	InactiveTime time.Duration `yaml:"inactive_time" mapstructure:"inactive_time" json:"inactive_time"`
}

// DefaultConfig returns a Config with every default populated.
func DefaultConfig() *Config {
	logLevel := &slog.LevelVar{}
	logLevel.Set(DefaultLogLevel)

	discordgoLevel := &slog.LevelVar{}
	discordgoLevel.Set(DefaultDiscordLogLevel)

	return &Config{
		Database:        DefaultDatabase,
		BootstrapScript: DefaultBootstrapScript,
		SnapshotPath:    DefaultSnapshotPath,
		CommitInterval:  DefaultCommitInterval,
		LogLevel:        logLevel,
		ShutdownTimeout: DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			CommandPrefix:     DefaultCommandPrefix,
			CustomStatus:      "DM a helper? No - open a case!",
			DiscordGoLogLevel: discordgoLevel,
		},
		Support: &SupportConfig{
			InactiveTime: DefaultInactiveTime,
		},
	}
}

// Validate checks the settings the process can't start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Database == "" {
		errs = append(errs, errors.New("database path not set"))
	}
	if c.BootstrapScript == "" {
		errs = append(errs, errors.New("bootstrap script path not set"))
	}
	if c.Discord == nil || c.Discord.Token == "" {
		errs = append(errs, errors.New("discord token not set"))
	}
	if c.Discord == nil || c.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord guild ID not set"))
	}
	if c.Support == nil {
		errs = append(errs, errors.New("support configuration missing"))
	} else {
		for name, id := range map[string]string{
			"available category":   c.Support.AvailableCategoryID,
			"occupied category":    c.Support.OccupiedCategoryID,
			"unavailable category": c.Support.UnavailableCategoryID,
			"helper role":          c.Support.HelperRoleID,
		} {
			if id == "" {
				errs = append(errs, fmt.Errorf("support %s ID not set", name))
			}
		}
	}
	return errors.Join(errs...)
}
