// Package casekeeper implements a community support Discord bot.
//
// The bot maintains a pool of support channels split across three guild
// categories (available, occupied, unavailable). A member's message in an
// available channel opens a "case" and claims the channel; the case closes
// on an explicit /close or after an hour of inactivity, and the pool grows
// and shrinks to track how many helper-role members are online.
//
// Persistent state (cases, experience, logged errors) lives in a single
// SQLite database behind the Database type, which runs an idempotent
// bootstrap script on every connect. The only state that can't be rebuilt
// from the guild itself - which message claimed each occupied channel - is
// written to a small JSON snapshot on disconnect and read back on startup.
package casekeeper
