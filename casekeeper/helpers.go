package casekeeper

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

var userMentionPattern = regexp.MustCompile(`<@!?(\d+)>`)

// generateRandomHexString returns a random hex string of the given length
// (in characters, not bytes).
func generateRandomHexString(length int) (string, error) {
	b := make([]byte, (length+1)/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b)[:length], nil
}

// firstUserMention extracts the first user mention from message content.
func firstUserMention(content string) (string, bool) {
	m := userMentionPattern.FindStringSubmatch(content)
	if m == nil {
		return "", false
	}
	return m[1], true
}

func clamp(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
