package casekeeper

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/lmittmann/tint"
)

// errorReferenceLength is the length of the short reference id surfaced to
// users when a command handler fails.
const errorReferenceLength = 8

// recordError persists a failed command to the errors table under a short
// random reference id, logs it, and returns the reference. The caller is
// expected to surface the reference to the invoking user and keep
// propagating the underlying error to the process logger - errors are
// recorded for later lookup, never swallowed.
func (c *Casekeeper) recordError(ctx context.Context, command string, cause error) string {
	ref, err := generateRandomHexString(errorReferenceLength)
	if err != nil {
		ref = "00000000"
	}
	trace := cause.Error() + "\n\n" + string(debug.Stack())
	if _, dbErr := c.db.Execute(
		ctx,
		"INSERT INTO errors (Ref, Command, Traceback, ErrorTime) VALUES (?, ?, ?, ?)",
		ref, command, trace, time.Now().UTC(),
	); dbErr != nil {
		c.logger.Error("persisting error record failed", "ref", ref, tint.Err(dbErr))
	}
	c.logger.Error(
		"command failed",
		"command", command,
		"ref", ref,
		tint.Err(cause),
	)
	return ref
}

// lookupError finds the most recent error record whose reference starts
// with the given prefix. Returns nil when nothing matches.
func (c *Casekeeper) lookupError(ctx context.Context, refPrefix string) (*Row, error) {
	return c.db.FetchOne(
		ctx,
		"SELECT Ref, Command, Traceback, ErrorTime FROM errors"+
			" WHERE Ref LIKE ? || '%' ORDER BY ErrorTime DESC",
		refPrefix,
	)
}
