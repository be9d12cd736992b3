package casekeeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	// minUsableChannels is the capacity floor: the pool keeps at least this
	// many channels usable no matter how few helpers are around.
	minUsableChannels = 4

	// maxTotalChannels caps the pool size regardless of helper count.
	maxTotalChannels = 24

	// historyScanLimit is how many recent messages are fetched when
	// recovering a claimant without a snapshot.
	historyScanLimit = 50
)

// supportChannelNames are the names used when provisioning new pool
// channels, in order of preference.
var supportChannelNames = []string{
	"alpha", "beta", "gamma", "delta", "epsilon", "zeta",
	"eta", "theta", "iota", "kappa", "lambda", "mu",
	"nu", "xi", "omicron", "pi", "rho", "sigma",
	"tau", "upsilon", "phi", "chi", "psi", "omega",
}

var (
	ErrNotSupportChannel  = errors.New("not a support channel")
	ErrChannelOccupied    = errors.New("channel is already occupied")
	ErrChannelNotOccupied = errors.New("channel is not occupied")
	ErrNotPermitted       = errors.New("not permitted to do that")
	ErrNothingToReopen    = errors.New("no case could be reopened")
)

const occupiedNoticePrefix = "This channel is now occupied by "

func occupiedNotice(claimantID string, inactive time.Duration) string {
	return fmt.Sprintf(
		"%s<@%s>. It will close automatically after %s of inactivity.",
		occupiedNoticePrefix, claimantID, inactive,
	)
}

const timeoutNotice = "This case timed out due to inactivity and has been closed."

// SupportState is the lifecycle state of a pooled support channel. It is
// always derived from which category currently holds the channel - never
// stored as an independent flag that could desync.
type SupportState int

const (
	StateUnavailable SupportState = iota
	StateOccupied
	StateAvailable
)

func (s SupportState) String() string {
	switch s {
	case StateOccupied:
		return "occupied"
	case StateAvailable:
		return "available"
	default:
		return "unavailable"
	}
}

// SupportChannel is one pooled channel, usable for one help case at a time.
// MessageID/ClaimantID identify the occupying message and its author; the
// Previous pair survives a close so the case can be reopened.
type SupportChannel struct {
	ID         string
	Name       string
	CategoryID string

	MessageID  string
	ClaimantID string

	PreviousMessageID  string
	PreviousClaimantID string
}

// SupportPool allocates support channels between the available, occupied
// and unavailable categories, growing and shrinking the usable set to track
// helper availability.
//
// The pool is rebuilt from the guild's channel topology on every startup;
// only the occupied-channel claimant mapping is persisted (the snapshot),
// since category membership is already durable on the Discord side.
//
// If a category edit fails the operation is dropped, not retried: the
// in-memory pool may drift from the guild until the next startup scan.
type SupportPool struct {
	mu            sync.Mutex
	logger        *slog.Logger
	session       DiscordSession
	db            *Database
	scheduler     *jobScheduler
	config        *SupportConfig
	guildID       string
	botUserID     string
	commandPrefix string
	channels      map[string]*SupportChannel
	now           func() time.Time
}

// NewSupportPool creates an empty pool. Load must be called once the
// session is connected.
func NewSupportPool(
	config *SupportConfig,
	guildID string,
	commandPrefix string,
	session DiscordSession,
	db *Database,
	scheduler *jobScheduler,
	logger *slog.Logger,
) *SupportPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &SupportPool{
		logger:        logger.With(loggerNameKey, "support_pool"),
		session:       session,
		db:            db,
		scheduler:     scheduler,
		config:        config,
		guildID:       guildID,
		commandPrefix: commandPrefix,
		channels:      map[string]*SupportChannel{},
		now:           time.Now,
	}
}

// stateFor maps a category ID to a SupportState. Unrecognized categories
// are unavailable.
func (p *SupportPool) stateFor(categoryID string) SupportState {
	switch categoryID {
	case p.config.AvailableCategoryID:
		return StateAvailable
	case p.config.OccupiedCategoryID:
		return StateOccupied
	case p.config.UnavailableCategoryID:
		return StateUnavailable
	default:
		return StateUnavailable
	}
}

// State returns the current state of the given pool channel, derived from
// its category.
func (p *SupportPool) State(channelID string) (SupportState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[channelID]
	if !ok {
		return StateUnavailable, false
	}
	return p.stateFor(ch.CategoryID), true
}

// Load rebuilds the pool from live channel-category membership, recovering
// occupied-channel claimants from the snapshot claims (channel ID to
// message ID), falling back to a recent-history scan for the bot's own
// occupied notice. Recovered cases already past the inactivity window are
// closed immediately rather than left stale.
func (p *SupportPool) Load(ctx context.Context, claims map[string]string) error {
	guildChannels, err := p.session.GuildChannels(p.guildID)
	if err != nil {
		return fmt.Errorf("scanning guild channels: %w", err)
	}
	if botUser := p.session.BotUser(); botUser != nil {
		p.botUserID = botUser.ID
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.channels = map[string]*SupportChannel{}
	for _, ch := range guildChannels {
		if ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		switch ch.ParentID {
		case p.config.AvailableCategoryID,
			p.config.OccupiedCategoryID,
			p.config.UnavailableCategoryID:
			p.channels[ch.ID] = &SupportChannel{
				ID:         ch.ID,
				Name:       ch.Name,
				CategoryID: ch.ParentID,
			}
		}
	}
	p.logger.InfoContext(
		ctx, "support pool loaded",
		"channels", len(p.channels),
	)

	for _, ch := range p.channels {
		if p.stateFor(ch.CategoryID) != StateOccupied {
			continue
		}
		p.recoverCase(ctx, ch, claims[ch.ID])
	}
	return nil
}

// recoverCase restores an occupied channel's claimant after a restart.
func (p *SupportPool) recoverCase(ctx context.Context, ch *SupportChannel, messageID string) {
	var claimantID string
	var lastActivity time.Time

	if messageID != "" && messageID != snapshotNoMessage {
		msg, err := p.session.ChannelMessage(ch.ID, messageID)
		if err == nil && msg.Author != nil {
			claimantID = msg.Author.ID
			lastActivity = msg.Timestamp
		} else if err != nil {
			p.logger.Warn(
				"snapshot message lookup failed",
				"channel_id", ch.ID, "message_id", messageID, tint.Err(err),
			)
		}
	}

	if claimantID == "" {
		messageID, claimantID, lastActivity = p.scanForClaimant(ch)
	}

	if claimantID == "" {
		p.logger.Warn(
			"could not recover claimant, releasing channel",
			"channel_id", ch.ID, "channel", ch.Name,
		)
		p.closeCase(ctx, ch, "")
		return
	}

	if p.now().Sub(lastActivity) >= p.config.InactiveTime {
		ch.MessageID = messageID
		ch.ClaimantID = claimantID
		p.closeCase(ctx, ch, timeoutNotice)
		return
	}

	ch.MessageID = messageID
	ch.ClaimantID = claimantID
	p.scheduleTimeout(ch.ID, lastActivity.Add(p.config.InactiveTime))
	p.logger.InfoContext(
		ctx, "recovered support case",
		"channel", ch.Name, "claimant_id", claimantID,
	)
}

// scanForClaimant looks through recent channel history for the bot's own
// occupied notice, used when the snapshot is missing or stale.
func (p *SupportPool) scanForClaimant(ch *SupportChannel) (messageID, claimantID string, lastActivity time.Time) {
	msgs, err := p.session.ChannelMessages(ch.ID, historyScanLimit, "", "", "")
	if err != nil {
		p.logger.Warn(
			"history scan failed",
			"channel_id", ch.ID, tint.Err(err),
		)
		return "", "", time.Time{}
	}
	for i, msg := range msgs {
		if i == 0 {
			lastActivity = msg.Timestamp
		}
		if msg.Author == nil || msg.Author.ID != p.botUserID {
			continue
		}
		if !strings.HasPrefix(msg.Content, occupiedNoticePrefix) {
			continue
		}
		if id, ok := firstUserMention(msg.Content); ok {
			return msg.ID, id, lastActivity
		}
	}
	return "", "", time.Time{}
}

// HandleMessage reacts to a guild message in one of the pool's channels:
// a qualifying message in an available channel claims it, and any message
// in an occupied channel pushes the idle timeout back.
func (p *SupportPool) HandleMessage(ctx context.Context, m *discordgo.Message) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if p.commandPrefix != "" && strings.HasPrefix(m.Content, p.commandPrefix) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[m.ChannelID]
	if !ok {
		return
	}

	ts := m.Timestamp
	if ts.IsZero() {
		ts = p.now()
	}

	switch p.stateFor(ch.CategoryID) {
	case StateAvailable:
		if claimed := p.channelClaimedBy(m.Author.ID); claimed != nil {
			p.notify(
				ch.ID,
				fmt.Sprintf(
					"<@%s> you already have an open case in <#%s> - head back there!",
					m.Author.ID, claimed.ID,
				),
			)
			return
		}
		p.openCase(ctx, ch, m.ID, m.Author.ID, ts)
	case StateOccupied:
		// Timer reset, not a second timer: the job is keyed by channel ID.
		p.scheduleTimeout(ch.ID, ts.Add(p.config.InactiveTime))
	}
}

// openCase transitions an available channel to occupied with the given
// message as the occupying message.
func (p *SupportPool) openCase(
	ctx context.Context,
	ch *SupportChannel,
	messageID string,
	claimantID string,
	at time.Time,
) {
	if err := p.sendTo(ch, p.config.OccupiedCategoryID, "support case opened"); err != nil {
		return
	}
	ch.MessageID = messageID
	ch.ClaimantID = claimantID
	p.scheduleTimeout(ch.ID, at.Add(p.config.InactiveTime))

	if p.db != nil {
		_, err := p.db.Execute(
			ctx,
			"INSERT INTO cases (ChannelID, MessageID, UserID, OpenedAt) VALUES (?, ?, ?, ?)",
			ch.ID, messageID, claimantID, at,
		)
		if err != nil {
			p.logger.Error("recording case", "channel", ch.Name, tint.Err(err))
		}
	}

	p.notify(ch.ID, occupiedNotice(claimantID, p.config.InactiveTime))
	p.logger.InfoContext(
		ctx, "support case opened",
		"channel", ch.Name, "claimant_id", claimantID,
	)

	if p.countState(StateAvailable) == 0 {
		p.grow(ctx)
	}
}

// Close handles an explicit close command. Only the claimant or a
// staff-permitted member may close a case; a non-empty reason is included
// in the close notice.
func (p *SupportPool) Close(ctx context.Context, channelID, invokerID string, staff bool, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[channelID]
	if !ok {
		return ErrNotSupportChannel
	}
	if p.stateFor(ch.CategoryID) != StateOccupied {
		return ErrChannelNotOccupied
	}
	if !staff && invokerID != ch.ClaimantID {
		return ErrNotPermitted
	}
	notice := fmt.Sprintf("Case closed by <@%s>.", invokerID)
	if reason != "" {
		notice = fmt.Sprintf("Case closed by <@%s>: %s", invokerID, reason)
	}
	p.closeCase(ctx, ch, notice)
	return nil
}

// closeCase transitions an occupied channel out of the occupied category.
// The destination is chosen by the capacity check: over maxUsable the
// channel is parked, otherwise it goes back to available. The occupying
// message is cleared but retained for reopen.
func (p *SupportPool) closeCase(ctx context.Context, ch *SupportChannel, notice string) {
	_, online := p.helperCounts()

	dest := p.config.AvailableCategoryID
	if p.usableCount() > p.maxUsable(online) {
		dest = p.config.UnavailableCategoryID
	}
	if err := p.sendTo(ch, dest, "support case closed"); err != nil {
		return
	}
	p.scheduler.Remove(ch.ID)
	ch.PreviousMessageID = ch.MessageID
	ch.PreviousClaimantID = ch.ClaimantID
	ch.MessageID = ""
	ch.ClaimantID = ""

	if p.db != nil {
		_, err := p.db.Execute(
			ctx,
			"UPDATE cases SET ClosedAt = ? WHERE ChannelID = ? AND ClosedAt IS NULL",
			p.now(), ch.ID,
		)
		if err != nil {
			p.logger.Error("closing case record", "channel", ch.Name, tint.Err(err))
		}
	}

	if notice != "" {
		p.notify(ch.ID, notice)
	}
	p.logger.InfoContext(
		ctx, "support case closed",
		"channel", ch.Name, "destination", p.stateFor(dest).String(),
	)
}

// handleTimeout is the idle-timeout callback, keyed by channel ID.
func (p *SupportPool) handleTimeout(channelID string) {
	ctx := context.Background()
	p.mu.Lock()
	defer p.mu.Unlock()

	// A message can land between the timer firing and this lock being
	// acquired. It reschedules under the same key, and that fresh
	// timeout wins over the stale callback.
	if runAt, ok := p.scheduler.NextRun(channelID); ok && p.now().Before(runAt) {
		return
	}

	ch, ok := p.channels[channelID]
	if !ok || p.stateFor(ch.CategoryID) != StateOccupied {
		return
	}
	p.closeCase(ctx, ch, timeoutNotice)
}

// Reopen restores a closed case: the channel's previous occupying message,
// or the most recent message from the named target member, becomes the new
// occupying message. Refused if the channel is already occupied, or if
// there's nothing to restore.
func (p *SupportPool) Reopen(ctx context.Context, channelID, targetID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[channelID]
	if !ok {
		return ErrNotSupportChannel
	}
	if p.stateFor(ch.CategoryID) == StateOccupied {
		return ErrChannelOccupied
	}

	messageID := ch.PreviousMessageID
	claimantID := ch.PreviousClaimantID
	if targetID != "" {
		messageID, claimantID = "", ""
		msgs, err := p.session.ChannelMessages(ch.ID, historyScanLimit, "", "", "")
		if err != nil {
			return fmt.Errorf("scanning channel history: %w", err)
		}
		for _, msg := range msgs {
			if msg.Author != nil && msg.Author.ID == targetID {
				messageID, claimantID = msg.ID, msg.Author.ID
				break
			}
		}
	}
	if messageID == "" || claimantID == "" {
		return ErrNothingToReopen
	}

	if err := p.sendTo(ch, p.config.OccupiedCategoryID, "support case reopened"); err != nil {
		return err
	}
	ch.MessageID = messageID
	ch.ClaimantID = claimantID
	p.scheduleTimeout(ch.ID, p.now().Add(p.config.InactiveTime))

	if p.db != nil {
		_, err := p.db.Execute(
			ctx,
			"INSERT INTO cases (ChannelID, MessageID, UserID, OpenedAt) VALUES (?, ?, ?, ?)",
			ch.ID, messageID, claimantID, p.now(),
		)
		if err != nil {
			p.logger.Error("recording reopened case", "channel", ch.Name, tint.Err(err))
		}
	}

	p.notify(ch.ID, fmt.Sprintf("Case reopened for <@%s>.", claimantID))
	return nil
}

// Claimant returns the user occupying the given channel.
func (p *SupportPool) Claimant(channelID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[channelID]
	if !ok || p.stateFor(ch.CategoryID) != StateOccupied || ch.ClaimantID == "" {
		return "", false
	}
	return ch.ClaimantID, true
}

// FirstAvailable returns an available channel to redirect a member to.
func (p *SupportPool) FirstAvailable() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range supportChannelNames {
		for _, ch := range p.channels {
			if ch.Name == name && p.stateFor(ch.CategoryID) == StateAvailable {
				return ch.ID, true
			}
		}
	}
	for _, ch := range p.channels {
		if p.stateFor(ch.CategoryID) == StateAvailable {
			return ch.ID, true
		}
	}
	return "", false
}

// Rebalance moves channels between the unavailable and available pools
// until the usable count tracks the current helper availability. Capacity
// thresholds are recomputed live from role membership on every call.
func (p *SupportPool) Rebalance(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, online := p.helperCounts()
	limit := p.maxUsable(online)

	for p.usableCount() > limit {
		moved := false
		for _, ch := range p.channels {
			if p.stateFor(ch.CategoryID) != StateAvailable {
				continue
			}
			if p.sendTo(ch, p.config.UnavailableCategoryID, "support pool rebalance") == nil {
				moved = true
			}
			break
		}
		if !moved {
			return
		}
	}

	for p.usableCount() < limit {
		if !p.grow(ctx) {
			return
		}
	}
}

// grow pulls one channel out of the unavailable pool, or provisions a new
// channel directly into available if none are left and the pool is under
// its total cap. Reports whether the usable set grew.
func (p *SupportPool) grow(ctx context.Context) bool {
	for _, ch := range p.channels {
		if p.stateFor(ch.CategoryID) != StateUnavailable {
			continue
		}
		return p.sendTo(ch, p.config.AvailableCategoryID, "support pool rebalance") == nil
	}

	total, _ := p.helperCounts()
	if len(p.channels) >= p.maxTotal(total) {
		return false
	}

	created, err := p.session.GuildChannelCreateComplex(
		p.guildID,
		discordgo.GuildChannelCreateData{
			Name:     p.nextChannelName(),
			Type:     discordgo.ChannelTypeGuildText,
			ParentID: p.config.AvailableCategoryID,
		},
	)
	if err != nil {
		p.logger.Error("provisioning support channel", tint.Err(err))
		return false
	}
	p.channels[created.ID] = &SupportChannel{
		ID:         created.ID,
		Name:       created.Name,
		CategoryID: p.config.AvailableCategoryID,
	}
	p.logger.InfoContext(ctx, "provisioned support channel", "channel", created.Name)
	return true
}

// Claims exports the occupied-channel claims for the crash-recovery
// snapshot.
func (p *SupportPool) Claims() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	claims := map[string]string{}
	for _, ch := range p.channels {
		if p.stateFor(ch.CategoryID) != StateOccupied {
			continue
		}
		if ch.MessageID == "" {
			claims[ch.ID] = snapshotNoMessage
		} else {
			claims[ch.ID] = ch.MessageID
		}
	}
	return claims
}

// sendTo edits the channel's category, syncing permissions with the
// destination. A failed edit is dropped, not retried, and the in-memory
// category is left unchanged.
func (p *SupportPool) sendTo(ch *SupportChannel, categoryID string, reason string) error {
	edit := &discordgo.ChannelEdit{ParentID: categoryID}
	if category, err := p.session.Channel(categoryID); err == nil {
		edit.PermissionOverwrites = category.PermissionOverwrites
	}
	_, err := p.session.ChannelEditComplex(
		ch.ID, edit, discordgo.WithAuditLogReason(reason),
	)
	if err != nil {
		p.logger.Warn(
			"channel category edit failed",
			"channel_id", ch.ID,
			"category_id", categoryID,
			tint.Err(err),
		)
		return err
	}
	ch.CategoryID = categoryID
	return nil
}

func (p *SupportPool) scheduleTimeout(channelID string, at time.Time) {
	p.scheduler.Schedule(
		channelID, at, func() {
			p.handleTimeout(channelID)
		},
	)
}

func (p *SupportPool) notify(channelID, content string) {
	if _, err := p.session.ChannelMessageSend(channelID, content); err != nil {
		p.logger.Warn(
			"sending notice failed",
			"channel_id", channelID, tint.Err(err),
		)
	}
}

func (p *SupportPool) channelClaimedBy(userID string) *SupportChannel {
	for _, ch := range p.channels {
		if ch.ClaimantID == userID && p.stateFor(ch.CategoryID) == StateOccupied {
			return ch
		}
	}
	return nil
}

func (p *SupportPool) countState(state SupportState) int {
	n := 0
	for _, ch := range p.channels {
		if p.stateFor(ch.CategoryID) == state {
			n++
		}
	}
	return n
}

// usableCount is the number of channels in the occupied or available state.
func (p *SupportPool) usableCount() int {
	return p.countState(StateOccupied) + p.countState(StateAvailable)
}

// maxTotal is the hard cap on pool size, derived from helper-role
// membership.
func (p *SupportPool) maxTotal(helperCount int) int {
	return clamp(helperCount, minUsableChannels, maxTotalChannels)
}

// maxUsable is the ceiling on usable (occupied+available) channels, derived
// from how many helpers are currently online.
func (p *SupportPool) maxUsable(onlineHelperCount int) int {
	if onlineHelperCount < minUsableChannels {
		return minUsableChannels
	}
	return onlineHelperCount
}

// helperCounts queries live role membership: total helpers, and helpers
// with an online presence. Never cached - capacity decisions always see
// the current roster.
func (p *SupportPool) helperCounts() (total int, online int) {
	members, err := p.session.GuildMembers(p.guildID, "", 1000)
	if err != nil {
		p.logger.Warn("listing guild members failed", tint.Err(err))
		return 0, 0
	}
	for _, member := range members {
		if member.User == nil || !memberHasRole(member, p.config.HelperRoleID) {
			continue
		}
		total++
		presence, presenceErr := p.session.Presence(p.guildID, member.User.ID)
		if presenceErr != nil || presence == nil {
			continue
		}
		switch presence.Status {
		case discordgo.StatusOnline, discordgo.StatusIdle, discordgo.StatusDoNotDisturb:
			online++
		}
	}
	return total, online
}

func (p *SupportPool) nextChannelName() string {
	used := map[string]bool{}
	for _, ch := range p.channels {
		used[ch.Name] = true
	}
	for _, name := range supportChannelNames {
		if !used[name] {
			return name
		}
	}
	return fmt.Sprintf("case-%d", len(p.channels)+1)
}

func memberHasRole(member *discordgo.Member, roleID string) bool {
	for _, r := range member.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}
