package casekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/robfig/cron/v3"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/wardlow/casekeeper/casekeeper.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
)

type commandHandlerFunc func(ctx context.Context, i *discordgo.InteractionCreate) error

// Casekeeper is the application context: one named field per shared
// resource, passed into every component at construction. All state lives
// here - there is no dynamic attribute grab-bag.
type Casekeeper struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	db        *Database
	discord   *Discord
	pool      *SupportPool
	scheduler *jobScheduler
	leveling  *Leveling
	cron      *cron.Cron

	// booted flips on the first Ready event; reconnects skip startup work
	booted atomic.Bool

	// signalStop allows an explicit stop independent of context cancellation
	signalStop chan struct{}

	// commandHandlers is the explicit, compile-time-visible registration
	// list for slash commands.
	commandHandlers map[string]commandHandlerFunc
}

// New wires up the application from its configuration. The database is not
// connected and the gateway not opened until Run.
func New(config *Config) (*Casekeeper, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.LogLevel == nil {
		config.LogLevel = &slog.LevelVar{}
		config.LogLevel.Set(DefaultLogLevel)
	}
	handler := newLogHandler(config.LogLevel)
	logger := slog.New(handler).With(loggerNameKey, "casekeeper")

	c := &Casekeeper{
		config:     config,
		logger:     logger,
		logHandler: handler,
		db:         NewDatabase(config.Database, config.BootstrapScript, handler),
		scheduler:  newJobScheduler(logger),
		cron:       cron.New(),
		signalStop: make(chan struct{}, 1),
	}

	c.discord = newDiscord(config.Discord, logger)
	session, err := c.discord.newSession(handler)
	if err != nil {
		return nil, err
	}
	c.discord.session = session

	c.pool = NewSupportPool(
		config.Support,
		config.Discord.GuildID,
		config.Discord.CommandPrefix,
		session,
		c.db,
		c.scheduler,
		logger,
	)
	c.leveling = NewLeveling(c.db, session, logger)

	c.commandHandlers = map[string]commandHandlerFunc{
		SlashCommandClose:     c.cmdClose,
		SlashCommandReopen:    c.cmdReopen,
		SlashCommandClient:    c.cmdClient,
		SlashCommandRedirect:  c.cmdRedirect,
		SlashCommandErrorInfo: c.cmdErrorInfo,
		SlashCommandLevel:     c.cmdLevel,
	}
	return c, nil
}

// Run connects the database, opens the gateway, and blocks until the
// context is canceled or a stop signal arrives.
func (c *Casekeeper) Run(ctx context.Context) error {
	if err := c.config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.db.Connect(ctx); err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}

	c.registerHandlers()

	if _, err := c.cron.AddFunc(
		fmt.Sprintf("@every %s", c.config.CommitInterval),
		func() {
			if err := c.db.Commit(context.Background()); err != nil {
				c.logger.Warn("scheduled commit failed", tint.Err(err))
			}
		},
	); err != nil {
		return fmt.Errorf("scheduling database commit: %w", err)
	}

	if err := c.discord.session.Open(); err != nil {
		_ = c.db.Close()
		return fmt.Errorf("opening discord session: %w", err)
	}
	c.cron.Start()
	c.logger.InfoContext(ctx, "casekeeper running", "version", Version)

	select {
	case <-ctx.Done():
	case <-c.signalStop:
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), c.config.ShutdownTimeout,
	)
	defer cancel()
	c.shutdown(shutdownCtx)
	return nil
}

// Stop requests a graceful shutdown.
func (c *Casekeeper) Stop() {
	select {
	case c.signalStop <- struct{}{}:
	default:
	}
}

func (c *Casekeeper) shutdown(ctx context.Context) {
	c.logger.InfoContext(ctx, "shutting down")

	if err := writeSnapshot(c.config.SnapshotPath, c.pool.Claims()); err != nil {
		c.logger.Error("writing support snapshot failed", tint.Err(err))
	}

	cronCtx := c.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}
	c.scheduler.StopAll()

	if stdout := c.config.Discord.StdoutChannelID; stdout != "" && c.discord.connected.Load() {
		_, _ = c.discord.session.ChannelMessageSend(
			stdout,
			fmt.Sprintf("Casekeeper is shutting down. (version %s)", Version),
		)
	}
	if err := c.discord.session.Close(); err != nil {
		c.logger.Warn("closing discord session failed", tint.Err(err))
	}
	if err := c.db.Close(); err != nil {
		c.logger.Warn("closing database failed", tint.Err(err))
	}
}

// registerHandlers attaches every gateway handler. This is the complete
// event surface - handlers are listed here explicitly rather than
// discovered.
func (c *Casekeeper) registerHandlers() {
	session := c.discord.session
	c.discord.removeHandlers = append(
		c.discord.removeHandlers,
		session.AddHandler(c.handleReady),
		session.AddHandler(c.handleDisconnect),
		session.AddHandler(c.handleMessageCreate),
		session.AddHandler(c.handleInteractionCreate),
		session.AddHandler(c.handlePresenceUpdate),
		session.AddHandler(c.handleGuildMemberUpdate),
	)
}

func (c *Casekeeper) handleReady(_ *discordgo.Session, _ *discordgo.Ready) {
	c.discord.connected.Store(true)
	c.discord.metricConnects.Add(1)
	if !c.booted.CompareAndSwap(false, true) {
		c.logger.Info("gateway reconnected")
		return
	}
	ctx := context.Background()

	claims, err := loadSnapshot(c.config.SnapshotPath)
	if err != nil {
		c.logger.Warn("loading support snapshot failed", tint.Err(err))
		claims = map[string]string{}
	}
	if err = c.pool.Load(ctx, claims); err != nil {
		c.logger.Error("loading support pool failed", tint.Err(err))
	}
	c.pool.Rebalance(ctx)

	if err = c.discord.RegisterSlashCommands(); err != nil {
		c.logger.Error("registering slash commands failed", tint.Err(err))
	}
	if status := c.config.Discord.CustomStatus; status != "" {
		if err = c.discord.session.UpdateCustomStatus(status); err != nil {
			c.logger.Warn("setting custom status failed", tint.Err(err))
		}
	}

	members, err := c.discord.session.GuildMembers(c.config.Discord.GuildID, "", 1000)
	if err != nil {
		c.logger.Warn("listing members for seeding failed", tint.Err(err))
	} else if err = c.leveling.SeedMembers(ctx, members); err != nil {
		c.logger.Warn("seeding member records failed", tint.Err(err))
	}

	if stdout := c.config.Discord.StdoutChannelID; stdout != "" {
		_, _ = c.discord.session.ChannelMessageSend(
			stdout,
			fmt.Sprintf("Casekeeper is now online! (version %s)", Version),
		)
	}
	c.logger.Info("bot booted", "version", Version)
}

// handleDisconnect writes the crash-recovery snapshot so an occupied
// channel's claimant survives a restart.
func (c *Casekeeper) handleDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	c.discord.connected.Store(false)
	c.discord.metricDisconnects.Add(1)
	if err := writeSnapshot(c.config.SnapshotPath, c.pool.Claims()); err != nil {
		c.logger.Error("writing support snapshot failed", tint.Err(err))
	}
	c.logger.Warn("gateway disconnected")
}

func (c *Casekeeper) handleMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.GuildID != "" && m.GuildID != c.config.Discord.GuildID {
		return
	}
	ctx := context.Background()
	c.pool.HandleMessage(ctx, m.Message)
	if err := c.leveling.HandleMessage(ctx, m.Message); err != nil {
		c.recordError(ctx, "message", err)
	}
}

// handlePresenceUpdate rebalances the pool when a helper's presence
// changes, since online helper count drives the usable-channel ceiling.
func (c *Casekeeper) handlePresenceUpdate(_ *discordgo.Session, p *discordgo.PresenceUpdate) {
	if p.GuildID != c.config.Discord.GuildID || p.User == nil {
		return
	}
	member, err := c.discord.session.GuildMember(p.GuildID, p.User.ID)
	if err != nil || !memberHasRole(member, c.config.Support.HelperRoleID) {
		return
	}
	c.pool.Rebalance(context.Background())
}

func (c *Casekeeper) handleGuildMemberUpdate(_ *discordgo.Session, m *discordgo.GuildMemberUpdate) {
	if m.GuildID != c.config.Discord.GuildID {
		return
	}
	c.pool.Rebalance(context.Background())
}

// handleInteractionCreate is the top-level slash-command dispatcher.
// A handler error is recorded under a reference id, surfaced to the user
// as a generic failure message, and logged - never silently swallowed.
func (c *Casekeeper) handleInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	handler, ok := c.commandHandlers[data.Name]
	if !ok {
		c.respond(i, fmt.Sprintf("I don't know the command %q.", data.Name))
		return
	}
	ctx := context.Background()
	if err := handler(ctx, i); err != nil {
		ref := c.recordError(ctx, data.Name, err)
		c.respond(i, fmt.Sprintf(genericErrorMessage, ref))
	}
}

func (c *Casekeeper) cmdClose(ctx context.Context, i *discordgo.InteractionCreate) error {
	invoker := interactionUser(i)
	if invoker == nil {
		return errors.New("interaction has no invoking user")
	}
	staff := i.Member != nil && memberHasRole(i.Member, c.config.Support.StaffRoleID)
	reason := ""
	if opt, ok := interactionOptions(i)[closeReasonOption]; ok {
		reason = opt.StringValue()
	}

	err := c.pool.Close(ctx, i.ChannelID, invoker.ID, staff, reason)
	switch {
	case errors.Is(err, ErrNotSupportChannel):
		c.respond(i, "This isn't a support channel.")
	case errors.Is(err, ErrChannelNotOccupied):
		c.respond(i, "There's no open case to close here.")
	case errors.Is(err, ErrNotPermitted):
		c.respond(i, "You can't close this case.")
	case err != nil:
		return err
	default:
		c.respond(i, "Case closed.")
	}
	return nil
}

func (c *Casekeeper) cmdReopen(ctx context.Context, i *discordgo.InteractionCreate) error {
	targetID := ""
	if opt, ok := interactionOptions(i)[reopenMemberOption]; ok {
		if user := opt.UserValue(nil); user != nil {
			targetID = user.ID
		}
	}

	err := c.pool.Reopen(ctx, i.ChannelID, targetID)
	switch {
	case errors.Is(err, ErrNotSupportChannel):
		c.respond(i, "This isn't a support channel.")
	case errors.Is(err, ErrChannelOccupied):
		c.respond(i, "This channel already has an open case.")
	case errors.Is(err, ErrNothingToReopen):
		c.respond(i, "No case could be reopened.")
	case err != nil:
		return err
	default:
		c.respond(i, "Case reopened.")
	}
	return nil
}

func (c *Casekeeper) cmdClient(_ context.Context, i *discordgo.InteractionCreate) error {
	claimantID, ok := c.pool.Claimant(i.ChannelID)
	if !ok {
		c.respond(i, "There's no open case in this channel.")
		return nil
	}
	c.respond(i, fmt.Sprintf("This case belongs to <@%s>.", claimantID))
	return nil
}

func (c *Casekeeper) cmdRedirect(_ context.Context, i *discordgo.InteractionCreate) error {
	opt, ok := interactionOptions(i)[redirectMemberOpt]
	if !ok {
		c.respond(i, "You need to name a member to redirect.")
		return nil
	}
	user := opt.UserValue(nil)
	if user == nil {
		c.respond(i, "You need to name a member to redirect.")
		return nil
	}
	channelID, ok := c.pool.FirstAvailable()
	if !ok {
		c.respond(i, "No support channels are available right now.")
		return nil
	}
	if _, err := c.discord.session.ChannelMessageSend(
		i.ChannelID,
		fmt.Sprintf("<@%s> please head over to <#%s> for help.", user.ID, channelID),
	); err != nil {
		return err
	}
	c.respond(i, "Done.")
	return nil
}

func (c *Casekeeper) cmdErrorInfo(ctx context.Context, i *discordgo.InteractionCreate) error {
	opt, ok := interactionOptions(i)[errorReferenceOpt]
	if !ok {
		c.respond(i, "You need to give an error reference.")
		return nil
	}
	row, err := c.lookupError(ctx, opt.StringValue())
	if err != nil {
		return err
	}
	if row == nil {
		c.respond(i, "No error found for that reference.")
		return nil
	}
	trace := row.Text("Traceback")
	if len(trace) > 1500 {
		trace = trace[:1500] + "\n(truncated)"
	}
	c.respond(
		i,
		fmt.Sprintf(
			"**Ref** %s\n**Command** /%s\n**Time** %s\n```\n%s\n```",
			row.Text("Ref"),
			row.Text("Command"),
			row.Time("ErrorTime").Format(time.RFC3339),
			strings.TrimSpace(trace),
		),
	)
	return nil
}

func (c *Casekeeper) cmdLevel(ctx context.Context, i *discordgo.InteractionCreate) error {
	target := interactionUser(i)
	if opt, ok := interactionOptions(i)[levelMemberOption]; ok {
		if user := opt.UserValue(nil); user != nil {
			target = user
		}
	}
	if target == nil {
		return errors.New("interaction has no invoking user")
	}
	xp, level, found, err := c.leveling.Level(ctx, target.ID)
	if err != nil {
		return err
	}
	if !found {
		c.respond(i, fmt.Sprintf("<@%s> isn't in the database.", target.ID))
		return nil
	}
	c.respond(
		i,
		fmt.Sprintf(
			"<@%s> is level %d with %d XP (%d XP to the next level).",
			target.ID, level, xp, xpForLevel(level+1)-xp,
		),
	)
	return nil
}

// respond sends an ephemeral interaction response; response failures are
// logged, not propagated, since the command itself already ran.
func (c *Casekeeper) respond(i *discordgo.InteractionCreate, content string) {
	err := c.discord.session.InteractionRespond(
		i.Interaction,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		c.logger.Warn("interaction response failed", tint.Err(err))
	}
}

// interactionUser returns the invoking user for guild or DM interactions.
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil {
		return i.Member.User
	}
	return i.User
}

// interactionOptions maps an interaction's options by name.
func interactionOptions(
	i *discordgo.InteractionCreate,
) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	options := i.ApplicationCommandData().Options
	optionMap := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(options),
	)
	for _, option := range options {
		optionMap[option.Name] = option
	}
	return optionMap
}
