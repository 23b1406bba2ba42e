// Package storage defines the persistence contracts of the scoreboard:
// player identities, score entries and the read-only legacy user
// directory. Implementations live in the memory, sqlite and postgres
// subpackages.
package storage

import (
	"context"

	"github.com/okian/scoreboard/internal/domain/model"
)

// IdentityStore persists players and their legacy link state.
type IdentityStore interface {
	// CreatePlayer inserts p. Returns ErrAlreadyExists when the name is
	// taken; uniqueness is enforced by the store, not by a prior lookup.
	CreatePlayer(ctx context.Context, p model.Player) (model.Player, error)
	FindPlayerByID(ctx context.Context, id string) (model.Player, error)
	FindPlayerByName(ctx context.Context, name string) (model.Player, error)
	FindPlayerByLegacyUserID(ctx context.Context, legacyUserID string) (model.Player, error)
	// GetPlayers returns the known players among ids, keyed by id.
	GetPlayers(ctx context.Context, ids []string) (map[string]model.Player, error)
	// LinkLegacyAccount attaches legacyUserID to the player exactly once.
	// Re-linking the same pair succeeds without mutation. Returns
	// ErrAlreadyLinked when the player holds a different legacy id and
	// ErrLinkConflict when the legacy id belongs to another player.
	LinkLegacyAccount(ctx context.Context, playerID, legacyUserID string) (model.Player, error)
}

// LevelSummary is one played level of a chart.
type LevelSummary struct {
	Level   model.Level
	Entries int
}

// ScoreStore owns score entries, one per (player, level).
type ScoreStore interface {
	// UpsertScore applies sub under policy as a single atomic
	// read-modify-write and returns the stored entry.
	UpsertScore(ctx context.Context, sub model.Submission, policy model.Policy) (model.ScoreEntry, error)
	GetScore(ctx context.Context, level model.Level, playerID string) (model.ScoreEntry, error)
	// GetScores returns the entries present among playerIDs, keyed by player.
	GetScores(ctx context.Context, level model.Level, playerIDs []string) (map[string]model.ScoreEntry, error)
	// ListLevelScores returns every entry of a level in no particular order.
	ListLevelScores(ctx context.Context, level model.Level) ([]model.ScoreEntry, error)
	// ListLevels returns every level with at least one entry.
	ListLevels(ctx context.Context) ([]model.Level, error)
	ChartLevels(ctx context.Context, md5 string) ([]LevelSummary, error)
}

// LegacyUserStore is the read side of the pre-migration user directory.
type LegacyUserStore interface {
	// FindLegacyUser matches usernameOrEmail exactly against username,
	// then email.
	FindLegacyUser(ctx context.Context, usernameOrEmail string) (model.LegacyUser, error)
}

// LegacyUserImporter writes legacy users. The seed package loads them from
// a file at startup; durable stores may also be provisioned externally.
type LegacyUserImporter interface {
	PutLegacyUser(ctx context.Context, u model.LegacyUser) error
}

// Store is a complete backend.
type Store interface {
	IdentityStore
	ScoreStore
	LegacyUserStore
	LegacyUserImporter
	Close() error
}
