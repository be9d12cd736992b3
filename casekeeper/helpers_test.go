package casekeeper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateRandomHexString(t *testing.T) {
	for _, length := range []int{1, 7, 8, 16} {
		s, err := generateRandomHexString(length)
		require.NoError(t, err)
		assert.Len(t, s, length)
	}

	a, err := generateRandomHexString(16)
	require.NoError(t, err)
	b, err := generateRandomHexString(16)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestFirstUserMention(t *testing.T) {
	id, ok := firstUserMention("This channel is now occupied by <@12345>.")
	require.True(t, ok)
	assert.Equal(t, "12345", id)

	// nickname-style mentions carry a bang
	id, ok = firstUserMention("hello <@!67890> and <@12345>")
	require.True(t, ok)
	assert.Equal(t, "67890", id)

	_, ok = firstUserMention("no mentions here")
	assert.False(t, ok)

	_, ok = firstUserMention("role mention <@&555> doesn't count")
	assert.False(t, ok)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 4, clamp(1, 4, 24))
	assert.Equal(t, 4, clamp(4, 4, 24))
	assert.Equal(t, 10, clamp(10, 4, 24))
	assert.Equal(t, 24, clamp(24, 4, 24))
	assert.Equal(t, 24, clamp(100, 4, 24))
}
