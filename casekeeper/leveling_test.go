package casekeeper

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLeveling(t *testing.T) (*Leveling, *fakeSession, *Database) {
	t.Helper()
	fs := newFakeSession()
	db := testDatabase(t)
	l := NewLeveling(db, fs, testLogger(t))
	l.randIntn = func(int) int { return 9 } // every grant is 10 XP
	return l, fs, db
}

func levelingMessage(channelID, userID string) *discordgo.Message {
	return &discordgo.Message{
		ID:        "m1",
		ChannelID: channelID,
		Content:   "hello",
		Author:    &discordgo.User{ID: userID},
	}
}

func TestLevelForXP(t *testing.T) {
	assert.Equal(t, 0, levelForXP(0))
	assert.Equal(t, 0, levelForXP(-5))
	assert.Equal(t, 1, levelForXP(1))
	assert.Equal(t, 1, levelForXP(42))
	assert.Equal(t, 2, levelForXP(43))

	// xpForLevel is the inverse boundary
	for level := 1; level <= 10; level++ {
		xp := xpForLevel(level)
		assert.GreaterOrEqual(t, levelForXP(xp), level)
		assert.Less(t, levelForXP(xp-1), level+1)
	}
	assert.EqualValues(t, 0, xpForLevel(0))
	assert.EqualValues(t, 42, xpForLevel(1))
}

func TestHandleMessageFirstSeenInserts(t *testing.T) {
	l, _, db := newTestLeveling(t)
	ctx := context.Background()

	require.NoError(t, l.HandleMessage(ctx, levelingMessage("1", "100")))

	// the first message only registers the user; experience starts at zero
	xp, level, found, err := l.Level(ctx, "100")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Zero(t, xp)
	assert.Zero(t, level)

	field, err := db.FetchField(ctx, "SELECT COUNT(*) FROM users")
	require.NoError(t, err)
	assert.Equal(t, int64(1), field)
}

func TestHandleMessageGrantsGatedXP(t *testing.T) {
	l, _, db := newTestLeveling(t)
	ctx := context.Background()

	// known user whose last grant is outside the gate
	_, err := db.Execute(
		ctx,
		"INSERT INTO users (UserID, Experience, LastXP) VALUES (?, ?, ?)",
		"100", 5, time.Now().UTC().Add(-2*time.Minute),
	)
	require.NoError(t, err)

	require.NoError(t, l.HandleMessage(ctx, levelingMessage("1", "100")))
	xp, _, _, err := l.Level(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, int64(15), xp)

	// a second message inside the gate grants nothing
	require.NoError(t, l.HandleMessage(ctx, levelingMessage("1", "100")))
	xp, _, _, err = l.Level(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, int64(15), xp)
}

func TestHandleMessageIgnoresBots(t *testing.T) {
	l, _, db := newTestLeveling(t)
	ctx := context.Background()

	m := levelingMessage("1", "100")
	m.Author.Bot = true
	require.NoError(t, l.HandleMessage(ctx, m))

	field, err := db.FetchField(ctx, "SELECT COUNT(*) FROM users")
	require.NoError(t, err)
	assert.Equal(t, int64(0), field)
}

func TestLevelUpAnnounced(t *testing.T) {
	l, fs, db := newTestLeveling(t)
	ctx := context.Background()

	// one grant of 10 XP pushes them over the level-1 threshold
	_, err := db.Execute(
		ctx,
		"INSERT INTO users (UserID, Experience, Level, LastXP) VALUES (?, ?, ?, ?)",
		"100", 40, 1, time.Now().UTC().Add(-2*time.Minute),
	)
	require.NoError(t, err)

	require.NoError(t, l.HandleMessage(ctx, levelingMessage("1", "100")))

	_, level, _, err := l.Level(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, 2, level)

	notices := fs.sentTo("1")
	require.NotEmpty(t, notices)
	assert.Contains(t, notices[0], "<@100> you leveled up!")
	assert.Contains(t, notices[0], "level 2")
}

func TestLevelUnknownUser(t *testing.T) {
	l, _, _ := newTestLeveling(t)
	_, _, found, err := l.Level(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTop(t *testing.T) {
	l, _, db := newTestLeveling(t)
	ctx := context.Background()

	for id, xp := range map[string]int{"1": 100, "2": 300, "3": 200} {
		_, err := db.Execute(
			ctx,
			"INSERT INTO users (UserID, Experience) VALUES (?, ?)",
			id, xp,
		)
		require.NoError(t, err)
	}

	rows, err := l.Top(ctx, 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2", rows[0].Text("UserID"))
	assert.Equal(t, "3", rows[1].Text("UserID"))
}

func TestSeedMembers(t *testing.T) {
	l, _, db := newTestLeveling(t)
	ctx := context.Background()

	// one member already known, with experience that must survive
	_, err := db.Execute(
		ctx,
		"INSERT INTO users (UserID, Experience) VALUES (?, ?)",
		"100", 50,
	)
	require.NoError(t, err)

	members := []*discordgo.Member{
		{User: &discordgo.User{ID: "100"}},
		{User: &discordgo.User{ID: "200"}},
		{User: &discordgo.User{ID: "999", Bot: true}},
		{User: nil},
	}
	require.NoError(t, l.SeedMembers(ctx, members))

	field, err := db.FetchField(ctx, "SELECT COUNT(*) FROM users")
	require.NoError(t, err)
	assert.Equal(t, int64(2), field)

	xp, _, _, err := l.Level(ctx, "100")
	require.NoError(t, err)
	assert.Equal(t, int64(50), xp)
}

func TestSeedMembersEmpty(t *testing.T) {
	l, _, db := newTestLeveling(t)
	start := db.Calls()
	require.NoError(t, l.SeedMembers(context.Background(), nil))
	// nothing to insert means no database call at all
	assert.Equal(t, start, db.Calls())
}
