package casekeeper

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	mathrand "math/rand"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// xpGate is the minimum spacing between experience grants for one user.
const xpGate = time.Minute

// Leveling grants experience for guild activity and answers level queries.
type Leveling struct {
	db      *Database
	session DiscordSession
	logger  *slog.Logger

	// randIntn is swapped out in tests for a deterministic source
	randIntn func(n int) int
}

func NewLeveling(db *Database, session DiscordSession, logger *slog.Logger) *Leveling {
	if logger == nil {
		logger = slog.Default()
	}
	return &Leveling{
		db:       db,
		session:  session,
		logger:   logger.With(loggerNameKey, "leveling"),
		randIntn: mathrand.Intn,
	}
}

// levelForXP maps accumulated experience onto a level.
func levelForXP(xp int64) int {
	if xp <= 0 {
		return 0
	}
	return int(math.Ceil(math.Pow(float64(xp)/42.0, 0.55)))
}

// xpForLevel is the experience needed to reach the given level.
func xpForLevel(level int) int64 {
	if level <= 0 {
		return 0
	}
	return int64(math.Ceil(math.Pow(float64(level), 1/0.55) * 42))
}

// HandleMessage grants 1-20 experience for a message, at most once per
// xpGate per user, and announces level-ups.
func (l *Leveling) HandleMessage(ctx context.Context, m *discordgo.Message) error {
	if m.Author == nil || m.Author.Bot {
		return nil
	}
	row, err := l.db.FetchOne(
		ctx,
		"SELECT Experience, Level, LastXP FROM users WHERE UserID = ?",
		m.Author.ID,
	)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if row == nil {
		_, err = l.db.Execute(
			ctx,
			"INSERT OR IGNORE INTO users (UserID, LastXP) VALUES (?, ?)",
			m.Author.ID, now,
		)
		return err
	}
	if now.Sub(row.Time("LastXP")) < xpGate {
		return nil
	}

	gain := l.randIntn(20) + 1
	if _, err = l.db.Execute(
		ctx,
		"UPDATE users SET Experience = Experience + ?, LastXP = ? WHERE UserID = ?",
		gain, now, m.Author.ID,
	); err != nil {
		return err
	}

	field, err := l.db.FetchField(
		ctx, "SELECT Experience FROM users WHERE UserID = ?", m.Author.ID,
	)
	if err != nil {
		return err
	}
	xp, _ := field.(int64)
	newLevel := levelForXP(xp)
	if newLevel <= int(row.Int("Level")) {
		return nil
	}
	if _, err = l.db.Execute(
		ctx, "UPDATE users SET Level = ? WHERE UserID = ?", newLevel, m.Author.ID,
	); err != nil {
		return err
	}
	if _, sendErr := l.session.ChannelMessageSend(
		m.ChannelID,
		fmt.Sprintf("<@%s> you leveled up! You are now level %d.", m.Author.ID, newLevel),
	); sendErr != nil {
		l.logger.Warn("sending level-up notice failed", tint.Err(sendErr))
	}
	return nil
}

// Level returns a user's experience and level. The boolean is false when
// the user isn't in the database.
func (l *Leveling) Level(ctx context.Context, userID string) (xp int64, level int, found bool, err error) {
	row, err := l.db.FetchOne(
		ctx, "SELECT Experience, Level FROM users WHERE UserID = ?", userID,
	)
	if err != nil || row == nil {
		return 0, 0, false, err
	}
	return row.Int("Experience"), int(row.Int("Level")), true, nil
}

// Top returns the highest-experience users.
func (l *Leveling) Top(ctx context.Context, limit int) ([]Row, error) {
	return l.db.FetchAll(
		ctx,
		"SELECT UserID, Experience, Level FROM users ORDER BY Experience DESC LIMIT ?",
		limit,
	)
}

// SeedMembers inserts a row for every non-bot member not yet known, in one
// bulk call.
func (l *Leveling) SeedMembers(ctx context.Context, members []*discordgo.Member) error {
	now := time.Now().UTC()
	var valueSets [][]any
	for _, member := range members {
		if member.User == nil || member.User.Bot {
			continue
		}
		valueSets = append(valueSets, []any{member.User.ID, now})
	}
	if len(valueSets) == 0 {
		return nil
	}
	_, err := l.db.ExecuteMany(
		ctx, "INSERT OR IGNORE INTO users (UserID, LastXP) VALUES (?, ?)", valueSets,
	)
	return err
}
