package casekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
)

const (
	SlashCommandClose     = "close"
	SlashCommandReopen    = "reopen"
	SlashCommandClient    = "client"
	SlashCommandRedirect  = "redirect"
	SlashCommandErrorInfo = "errorinfo"
	SlashCommandLevel     = "level"

	closeReasonOption   = "reason"
	reopenMemberOption  = "member"
	redirectMemberOpt   = "member"
	errorReferenceOpt   = "reference"
	levelMemberOption   = "member"
	genericErrorMessage = "Something went wrong. (ref: %s)"
)

// DiscordSession is the subset of the discordgo session the bot consumes.
// It exists so the pool and command handlers can be exercised against a
// fake session in tests.
type DiscordSession interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// ChannelMessageSend sends a message to the given channel
	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessage fetches a single message
	ChannelMessage(
		channelID string,
		messageID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// ChannelMessages fetches recent channel history
	ChannelMessages(
		channelID string,
		limit int,
		beforeID string,
		afterID string,
		aroundID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Message, error)

	// Channel fetches a single channel (or category)
	Channel(
		channelID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// ChannelEditComplex edits a channel, including its parent category
	ChannelEditComplex(
		channelID string,
		data *discordgo.ChannelEdit,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// GuildChannels enumerates all channels in the guild
	GuildChannels(
		guildID string,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Channel, error)

	// GuildChannelCreateComplex provisions a new guild channel
	GuildChannelCreateComplex(
		guildID string,
		data discordgo.GuildChannelCreateData,
		options ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	// GuildMember fetches a single guild member
	GuildMember(
		guildID string,
		userID string,
		options ...discordgo.RequestOption,
	) (*discordgo.Member, error)

	// GuildMembers enumerates guild members
	GuildMembers(
		guildID string,
		after string,
		limit int,
		options ...discordgo.RequestOption,
	) ([]*discordgo.Member, error)

	// Presence returns the cached presence for a guild member
	Presence(guildID string, userID string) (*discordgo.Presence, error)

	// ApplicationCommandBulkOverwrite replaces the registered slash commands
	ApplicationCommandBulkOverwrite(
		appID string,
		guildID string,
		commands []*discordgo.ApplicationCommand,
		options ...discordgo.RequestOption,
	) ([]*discordgo.ApplicationCommand, error)

	// InteractionRespond sends an interaction response
	InteractionRespond(
		interaction *discordgo.Interaction,
		resp *discordgo.InteractionResponse,
		options ...discordgo.RequestOption,
	) error

	// UpdateCustomStatus sets the bot user's custom status
	UpdateCustomStatus(status string) error

	// BotUser returns the connected bot user, if known
	BotUser() *discordgo.User
}

// discordSession adapts a real *discordgo.Session to DiscordSession.
type discordSession struct {
	session *discordgo.Session
}

func (s discordSession) Open() error  { return s.session.Open() }
func (s discordSession) Close() error { return s.session.Close() }

func (s discordSession) AddHandler(handler any) func() {
	return s.session.AddHandler(handler)
}

func (s discordSession) ChannelMessageSend(
	channelID string,
	content string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return s.session.ChannelMessageSend(channelID, content, options...)
}

func (s discordSession) ChannelMessage(
	channelID string,
	messageID string,
	options ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	return s.session.ChannelMessage(channelID, messageID, options...)
}

func (s discordSession) ChannelMessages(
	channelID string,
	limit int,
	beforeID string,
	afterID string,
	aroundID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	return s.session.ChannelMessages(channelID, limit, beforeID, afterID, aroundID, options...)
}

func (s discordSession) Channel(
	channelID string,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return s.session.Channel(channelID, options...)
}

func (s discordSession) ChannelEditComplex(
	channelID string,
	data *discordgo.ChannelEdit,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return s.session.ChannelEditComplex(channelID, data, options...)
}

func (s discordSession) GuildChannels(
	guildID string,
	options ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	return s.session.GuildChannels(guildID, options...)
}

func (s discordSession) GuildChannelCreateComplex(
	guildID string,
	data discordgo.GuildChannelCreateData,
	options ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return s.session.GuildChannelCreateComplex(guildID, data, options...)
}

func (s discordSession) GuildMember(
	guildID string,
	userID string,
	options ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	return s.session.GuildMember(guildID, userID, options...)
}

func (s discordSession) GuildMembers(
	guildID string,
	after string,
	limit int,
	options ...discordgo.RequestOption,
) ([]*discordgo.Member, error) {
	return s.session.GuildMembers(guildID, after, limit, options...)
}

func (s discordSession) Presence(guildID string, userID string) (*discordgo.Presence, error) {
	return s.session.State.Presence(guildID, userID)
}

func (s discordSession) ApplicationCommandBulkOverwrite(
	appID string,
	guildID string,
	commands []*discordgo.ApplicationCommand,
	options ...discordgo.RequestOption,
) ([]*discordgo.ApplicationCommand, error) {
	return s.session.ApplicationCommandBulkOverwrite(appID, guildID, commands, options...)
}

func (s discordSession) InteractionRespond(
	interaction *discordgo.Interaction,
	resp *discordgo.InteractionResponse,
	options ...discordgo.RequestOption,
) error {
	return s.session.InteractionRespond(interaction, resp, options...)
}

func (s discordSession) UpdateCustomStatus(status string) error {
	return s.session.UpdateCustomStatus(status)
}

func (s discordSession) BotUser() *discordgo.User {
	if s.session.State == nil {
		return nil
	}
	return s.session.State.User
}

// Discord manages the gateway connection and slash-command registration.
type Discord struct {
	session           DiscordSession
	config            *DiscordConfig
	logger            *slog.Logger
	connected         atomic.Bool
	metricConnects    atomic.Int64
	metricDisconnects atomic.Int64
	removeHandlers    []func()
}

func newDiscord(config *DiscordConfig, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		config:         config,
		logger:         logger.With(loggerNameKey, "discord"),
		removeHandlers: []func(){},
	}
}

// newSession creates the underlying discordgo session. Events are handled
// synchronously in gateway order; the library state cache is kept so that
// member presences can be read without extra REST calls.
func (d *Discord) newSession(handler slog.Handler) (DiscordSession, error) {
	session, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	session.SyncEvents = true
	session.StateEnabled = true
	session.Identify.Intents = discordgo.IntentsAll
	discordgo.Logger = discordgoLoggerFunc(context.Background(), handler)
	if d.config.DiscordGoLogLevel != nil {
		for lvl, slogLevel := range discordGoLogLevels {
			if slogLevel == d.config.DiscordGoLogLevel.Level() {
				session.LogLevel = lvl
			}
		}
	}
	return discordSession{session: session}, nil
}

// appCommands returns the full slash-command set to register with the
// guild.
func (d *Discord) appCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        SlashCommandClose,
			Description: "Close this support case.",
			Type:        discordgo.ChatApplicationCommand,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        closeReasonOption,
					Description: "Why the case is being closed.",
					Required:    false,
				},
			},
		},
		{
			Name:        SlashCommandReopen,
			Description: "Re-open the last case in this channel.",
			Type:        discordgo.ChatApplicationCommand,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        reopenMemberOption,
					Description: "Re-open the last case this member opened here.",
					Required:    false,
				},
			},
		},
		{
			Name:        SlashCommandClient,
			Description: "Show who this support case belongs to.",
			Type:        discordgo.ChatApplicationCommand,
		},
		{
			Name:        SlashCommandRedirect,
			Description: "Redirect a member to an open support channel.",
			Type:        discordgo.ChatApplicationCommand,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        redirectMemberOpt,
					Description: "The member to redirect.",
					Required:    true,
				},
			},
		},
		{
			Name:        SlashCommandErrorInfo,
			Description: "Look up a logged error by its reference.",
			Type:        discordgo.ChatApplicationCommand,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        errorReferenceOpt,
					Description: "The error reference (or a prefix of it).",
					Required:    true,
				},
			},
		},
		{
			Name:        SlashCommandLevel,
			Description: "Show a member's level and experience.",
			Type:        discordgo.ChatApplicationCommand,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        levelMemberOption,
					Description: "The member to look up (defaults to you).",
					Required:    false,
				},
			},
		},
	}
}

// RegisterSlashCommands overwrites the guild's registered commands with the
// current set.
func (d *Discord) RegisterSlashCommands() error {
	_, err := d.session.ApplicationCommandBulkOverwrite(
		d.config.ApplicationID,
		d.config.GuildID,
		d.appCommands(),
	)
	return err
}
