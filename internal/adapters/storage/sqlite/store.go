// Package sqlite provides the SQLite-backed scoreboard store. Name and
// link uniqueness are enforced by UNIQUE indexes; a single connection
// serializes writers.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/okian/scoreboard/internal/adapters/storage"
	"github.com/okian/scoreboard/internal/adapters/storage/sqlite/migrations"
	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/metrics"
)

// Store persists scoreboard state in SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(v int64) time.Time { return time.Unix(0, v).UTC() }

// Open opens (creating if needed) the database at path and applies
// embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func observe(op string, start time.Time, err error) {
	metrics.RecordStorageLatency(op, metrics.Since(start))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		metrics.RecordStorageError(op)
	}
}

const playerColumns = `id, name, linked_legacy_user_id, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPlayer(row rowScanner) (model.Player, error) {
	var (
		p       model.Player
		linked  sql.NullString
		created int64
	)
	if err := row.Scan(&p.ID, &p.Name, &linked, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Player{}, storage.ErrNotFound
		}
		return model.Player{}, err
	}
	p.LinkedLegacyUserID = linked.String
	p.CreatedAt = fromNanos(created)
	return p, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) CreatePlayer(ctx context.Context, p model.Player) (_ model.Player, err error) {
	start := time.Now()
	defer func() { observe("create_player", start, err) }()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO players (`+playerColumns+`) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, nullable(p.LinkedLegacyUserID), toNanos(p.CreatedAt),
	)
	if isUniqueViolation(err) {
		return model.Player{}, storage.ErrAlreadyExists
	}
	if err != nil {
		return model.Player{}, fmt.Errorf("insert player: %w", err)
	}
	return p, nil
}

func (s *Store) findPlayer(ctx context.Context, q storeQuerier, where string, arg any) (model.Player, error) {
	return scanPlayer(q.QueryRowContext(ctx, `SELECT `+playerColumns+` FROM players WHERE `+where+` = ?`, arg))
}

type storeQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) FindPlayerByID(ctx context.Context, id string) (model.Player, error) {
	return s.findPlayer(ctx, s.db, "id", id)
}

func (s *Store) FindPlayerByName(ctx context.Context, name string) (model.Player, error) {
	return s.findPlayer(ctx, s.db, "name", name)
}

func (s *Store) FindPlayerByLegacyUserID(ctx context.Context, legacyUserID string) (model.Player, error) {
	return s.findPlayer(ctx, s.db, "linked_legacy_user_id", legacyUserID)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (s *Store) GetPlayers(ctx context.Context, ids []string) (map[string]model.Player, error) {
	out := make(map[string]model.Player, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("query players: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan player: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// LinkLegacyAccount sets the link with a conditional update so a player
// row is linked at most once; the partial UNIQUE index rejects a second
// player claiming the same legacy id.
func (s *Store) LinkLegacyAccount(ctx context.Context, playerID, legacyUserID string) (_ model.Player, err error) {
	start := time.Now()
	defer func() { observe("link_legacy", start, err) }()
	for {
		p, err := s.FindPlayerByID(ctx, playerID)
		if err != nil {
			return model.Player{}, err
		}
		switch p.LinkedLegacyUserID {
		case legacyUserID:
			return p, nil
		case "":
		default:
			return model.Player{}, storage.ErrAlreadyLinked
		}
		res, err := s.db.ExecContext(ctx,
			`UPDATE players SET linked_legacy_user_id = ? WHERE id = ? AND linked_legacy_user_id IS NULL`,
			legacyUserID, playerID,
		)
		if isUniqueViolation(err) {
			return model.Player{}, storage.ErrLinkConflict
		}
		if err != nil {
			return model.Player{}, fmt.Errorf("link player: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			p.LinkedLegacyUserID = legacyUserID
			return p, nil
		}
		// Linked concurrently between read and update; re-evaluate.
	}
}

const scoreColumns = `id, player_id, md5, play_mode, score, total, combo, note_counts, log, play_count, play_number, updated_at`

func scanScore(row rowScanner) (model.ScoreEntry, error) {
	var (
		e       model.ScoreEntry
		mode    string
		counts  string
		updated int64
	)
	err := row.Scan(&e.ID, &e.PlayerID, &e.Level.MD5, &mode, &e.Score, &e.Total, &e.Combo,
		&counts, &e.Log, &e.PlayCount, &e.PlayNumber, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ScoreEntry{}, storage.ErrNotFound
		}
		return model.ScoreEntry{}, err
	}
	e.Level.PlayMode = model.PlayMode(mode)
	e.UpdatedAt = fromNanos(updated)
	if err := json.Unmarshal([]byte(counts), &e.Count); err != nil {
		return model.ScoreEntry{}, fmt.Errorf("decode note counts: %w", err)
	}
	return e, nil
}

func (s *Store) UpsertScore(ctx context.Context, sub model.Submission, policy model.Policy) (_ model.ScoreEntry, err error) {
	start := time.Now()
	defer func() { observe("upsert_score", start, err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.ScoreEntry{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var prev *model.ScoreEntry
	cur, err := scanScore(tx.QueryRowContext(ctx,
		`SELECT `+scoreColumns+` FROM score_entries WHERE md5 = ? AND play_mode = ? AND player_id = ?`,
		sub.Level.MD5, string(sub.Level.PlayMode), sub.PlayerID))
	switch {
	case err == nil:
		prev = &cur
	case errors.Is(err, storage.ErrNotFound):
	default:
		return model.ScoreEntry{}, fmt.Errorf("read entry: %w", err)
	}

	next := policy.Apply(prev, sub)
	counts, err := json.Marshal([]int(next.Count))
	if err != nil {
		return model.ScoreEntry{}, fmt.Errorf("encode note counts: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
INSERT INTO score_entries (`+scoreColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (md5, play_mode, player_id) DO UPDATE SET
    score = excluded.score,
    total = excluded.total,
    combo = excluded.combo,
    note_counts = excluded.note_counts,
    log = excluded.log,
    play_count = excluded.play_count,
    play_number = excluded.play_number,
    updated_at = excluded.updated_at`,
		next.ID, next.PlayerID, next.Level.MD5, string(next.Level.PlayMode), next.Score, next.Total,
		next.Combo, string(counts), next.Log, next.PlayCount, next.PlayNumber, toNanos(next.UpdatedAt),
	); err != nil {
		return model.ScoreEntry{}, fmt.Errorf("write entry: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return model.ScoreEntry{}, fmt.Errorf("commit upsert: %w", err)
	}
	next.UpdatedAt = next.UpdatedAt.UTC()
	return next, nil
}

func (s *Store) GetScore(ctx context.Context, level model.Level, playerID string) (model.ScoreEntry, error) {
	return scanScore(s.db.QueryRowContext(ctx,
		`SELECT `+scoreColumns+` FROM score_entries WHERE md5 = ? AND play_mode = ? AND player_id = ?`,
		level.MD5, string(level.PlayMode), playerID))
}

func (s *Store) queryScores(ctx context.Context, query string, args ...any) ([]model.ScoreEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()
	var out []model.ScoreEntry
	for rows.Next() {
		e, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) GetScores(ctx context.Context, level model.Level, playerIDs []string) (map[string]model.ScoreEntry, error) {
	out := make(map[string]model.ScoreEntry, len(playerIDs))
	if len(playerIDs) == 0 {
		return out, nil
	}
	args := []any{level.MD5, string(level.PlayMode)}
	for _, id := range playerIDs {
		args = append(args, id)
	}
	entries, err := s.queryScores(ctx,
		`SELECT `+scoreColumns+` FROM score_entries WHERE md5 = ? AND play_mode = ? AND player_id IN (`+placeholders(len(playerIDs))+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		out[e.PlayerID] = e
	}
	return out, nil
}

func (s *Store) ListLevelScores(ctx context.Context, level model.Level) ([]model.ScoreEntry, error) {
	return s.queryScores(ctx,
		`SELECT `+scoreColumns+` FROM score_entries WHERE md5 = ? AND play_mode = ?`,
		level.MD5, string(level.PlayMode))
}

func (s *Store) ListLevels(ctx context.Context) ([]model.Level, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT md5, play_mode FROM score_entries ORDER BY md5, play_mode`)
	if err != nil {
		return nil, fmt.Errorf("query levels: %w", err)
	}
	defer rows.Close()
	var out []model.Level
	for rows.Next() {
		var lvl model.Level
		var mode string
		if err := rows.Scan(&lvl.MD5, &mode); err != nil {
			return nil, fmt.Errorf("scan level: %w", err)
		}
		lvl.PlayMode = model.PlayMode(mode)
		out = append(out, lvl)
	}
	return out, rows.Err()
}

func (s *Store) ChartLevels(ctx context.Context, md5 string) ([]storage.LevelSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT play_mode, COUNT(1) FROM score_entries WHERE md5 = ? GROUP BY play_mode ORDER BY play_mode`, md5)
	if err != nil {
		return nil, fmt.Errorf("query chart levels: %w", err)
	}
	defer rows.Close()
	var out []storage.LevelSummary
	for rows.Next() {
		var mode string
		var n int
		if err := rows.Scan(&mode, &n); err != nil {
			return nil, fmt.Errorf("scan chart level: %w", err)
		}
		out = append(out, storage.LevelSummary{Level: model.Level{MD5: md5, PlayMode: model.PlayMode(mode)}, Entries: n})
	}
	return out, rows.Err()
}

func (s *Store) FindLegacyUser(ctx context.Context, usernameOrEmail string) (model.LegacyUser, error) {
	var u model.LegacyUser
	err := s.db.QueryRowContext(ctx, `
SELECT id, username, email, hashed_password FROM legacy_users
WHERE username = ? OR email = ?
ORDER BY CASE WHEN username = ? THEN 0 ELSE 1 END
LIMIT 1`, usernameOrEmail, usernameOrEmail, usernameOrEmail,
	).Scan(&u.ID, &u.Username, &u.Email, &u.HashedPassword)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LegacyUser{}, storage.ErrNotFound
	}
	if err != nil {
		return model.LegacyUser{}, fmt.Errorf("query legacy user: %w", err)
	}
	return u, nil
}

func (s *Store) PutLegacyUser(ctx context.Context, u model.LegacyUser) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO legacy_users (id, username, email, hashed_password) VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    username = excluded.username,
    email = excluded.email,
    hashed_password = excluded.hashed_password`,
		u.ID, u.Username, u.Email, u.HashedPassword)
	if err != nil {
		return fmt.Errorf("put legacy user: %w", err)
	}
	return nil
}
