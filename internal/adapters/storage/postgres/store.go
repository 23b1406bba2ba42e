// Package postgres provides the PostgreSQL-backed scoreboard store on a
// pgx connection pool. Read-modify-write paths take row locks inside a
// transaction; uniqueness is enforced by indexes.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/scoreboard/internal/adapters/storage"
	"github.com/okian/scoreboard/internal/adapters/storage/postgres/migrations"
	"github.com/okian/scoreboard/internal/domain/model"
	"github.com/okian/scoreboard/pkg/metrics"
)

const uniqueViolation = "23505"

// Store persists scoreboard state in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// Open connects to dsn, verifies the connection and applies migrations.
func Open(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	files, err := fs.Glob(migrations.FS, "*.sql")
	if err != nil {
		return fmt.Errorf("listing migrations: %w", err)
	}
	sort.Strings(files)
	for _, name := range files {
		body, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func observe(op string, start time.Time, err error) {
	metrics.RecordStorageLatency(op, metrics.Since(start))
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		metrics.RecordStorageError(op)
	}
}

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(v int64) time.Time { return time.Unix(0, v).UTC() }

const playerColumns = `id, name, linked_legacy_user_id, created_at`

func scanPlayer(row pgx.Row) (model.Player, error) {
	var (
		p       model.Player
		linked  *string
		created int64
	)
	if err := row.Scan(&p.ID, &p.Name, &linked, &created); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Player{}, storage.ErrNotFound
		}
		return model.Player{}, err
	}
	if linked != nil {
		p.LinkedLegacyUserID = *linked
	}
	p.CreatedAt = fromNanos(created)
	return p, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Store) CreatePlayer(ctx context.Context, p model.Player) (_ model.Player, err error) {
	start := time.Now()
	defer func() { observe("create_player", start, err) }()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO players (`+playerColumns+`) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, nullable(p.LinkedLegacyUserID), toNanos(p.CreatedAt))
	if isUniqueViolation(err) {
		return model.Player{}, storage.ErrAlreadyExists
	}
	if err != nil {
		return model.Player{}, fmt.Errorf("inserting player: %w", err)
	}
	return p, nil
}

func (s *Store) FindPlayerByID(ctx context.Context, id string) (model.Player, error) {
	return scanPlayer(s.pool.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE id = $1`, id))
}

func (s *Store) FindPlayerByName(ctx context.Context, name string) (model.Player, error) {
	return scanPlayer(s.pool.QueryRow(ctx, `SELECT `+playerColumns+` FROM players WHERE name = $1`, name))
}

func (s *Store) FindPlayerByLegacyUserID(ctx context.Context, legacyUserID string) (model.Player, error) {
	return scanPlayer(s.pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE linked_legacy_user_id = $1`, legacyUserID))
}

func (s *Store) GetPlayers(ctx context.Context, ids []string) (map[string]model.Player, error) {
	out := make(map[string]model.Player, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `SELECT `+playerColumns+` FROM players WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("querying players: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning player: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// LinkLegacyAccount locks the player row, checks its link state and sets
// the link; the partial unique index turns a concurrent claim of the same
// legacy id by another player into ErrLinkConflict.
func (s *Store) LinkLegacyAccount(ctx context.Context, playerID, legacyUserID string) (_ model.Player, err error) {
	start := time.Now()
	defer func() { observe("link_legacy", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.Player{}, fmt.Errorf("beginning link: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	p, err := scanPlayer(tx.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1 FOR UPDATE`, playerID))
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
	_, err = tx.Exec(ctx, `UPDATE players SET linked_legacy_user_id = $1 WHERE id = $2`, legacyUserID, playerID)
	if isUniqueViolation(err) {
		return model.Player{}, storage.ErrLinkConflict
	}
	if err != nil {
		return model.Player{}, fmt.Errorf("linking player: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		if isUniqueViolation(err) {
			return model.Player{}, storage.ErrLinkConflict
		}
		return model.Player{}, fmt.Errorf("committing link: %w", err)
	}
	p.LinkedLegacyUserID = legacyUserID
	return p, nil
}

const scoreColumns = `id, player_id, md5, play_mode, score, total, combo, note_counts, log, play_count, play_number, updated_at`

func scanScore(row pgx.Row) (model.ScoreEntry, error) {
	var (
		e       model.ScoreEntry
		mode    string
		counts  []int32
		updated int64
	)
	err := row.Scan(&e.ID, &e.PlayerID, &e.Level.MD5, &mode, &e.Score, &e.Total, &e.Combo,
		&counts, &e.Log, &e.PlayCount, &e.PlayNumber, &updated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ScoreEntry{}, storage.ErrNotFound
		}
		return model.ScoreEntry{}, err
	}
	e.Level.PlayMode = model.PlayMode(mode)
	e.UpdatedAt = fromNanos(updated)
	e.Count = make(model.NoteCounts, len(counts))
	for i, c := range counts {
		e.Count[i] = int(c)
	}
	return e, nil
}

func entryArgs(e model.ScoreEntry) []any {
	counts := make([]int32, len(e.Count))
	for i, c := range e.Count {
		counts[i] = int32(c)
	}
	return []any{e.ID, e.PlayerID, e.Level.MD5, string(e.Level.PlayMode), e.Score, e.Total, e.Combo,
		counts, e.Log, e.PlayCount, e.PlayNumber, toNanos(e.UpdatedAt)}
}

// UpsertScore inserts the first play with ON CONFLICT DO NOTHING; when the
// row already exists it is locked FOR UPDATE, folded and rewritten.
func (s *Store) UpsertScore(ctx context.Context, sub model.Submission, policy model.Policy) (_ model.ScoreEntry, err error) {
	start := time.Now()
	defer func() { observe("upsert_score", start, err) }()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.ScoreEntry{}, fmt.Errorf("beginning upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	first := policy.Apply(nil, sub)
	tag, err := tx.Exec(ctx, `
INSERT INTO score_entries (`+scoreColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (md5, play_mode, player_id) DO NOTHING`, entryArgs(first)...)
	if err != nil {
		return model.ScoreEntry{}, fmt.Errorf("inserting entry: %w", err)
	}
	next := first
	if tag.RowsAffected() == 0 {
		prev, err := scanScore(tx.QueryRow(ctx, `
SELECT `+scoreColumns+` FROM score_entries
WHERE md5 = $1 AND play_mode = $2 AND player_id = $3 FOR UPDATE`,
			sub.Level.MD5, string(sub.Level.PlayMode), sub.PlayerID))
		if err != nil {
			return model.ScoreEntry{}, fmt.Errorf("locking entry: %w", err)
		}
		next = policy.Apply(&prev, sub)
		if _, err := tx.Exec(ctx, `
UPDATE score_entries SET
    score = $5, total = $6, combo = $7, note_counts = $8, log = $9,
    play_count = $10, play_number = $11, updated_at = $12
WHERE id = $1 AND player_id = $2 AND md5 = $3 AND play_mode = $4`, entryArgs(next)...); err != nil {
			return model.ScoreEntry{}, fmt.Errorf("updating entry: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return model.ScoreEntry{}, fmt.Errorf("committing upsert: %w", err)
	}
	next.UpdatedAt = next.UpdatedAt.UTC()
	return next, nil
}

func (s *Store) GetScore(ctx context.Context, level model.Level, playerID string) (model.ScoreEntry, error) {
	return scanScore(s.pool.QueryRow(ctx,
		`SELECT `+scoreColumns+` FROM score_entries WHERE md5 = $1 AND play_mode = $2 AND player_id = $3`,
		level.MD5, string(level.PlayMode), playerID))
}

func (s *Store) queryScores(ctx context.Context, query string, args ...any) ([]model.ScoreEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()
	var out []model.ScoreEntry
	for rows.Next() {
		e, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
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
	entries, err := s.queryScores(ctx,
		`SELECT `+scoreColumns+` FROM score_entries WHERE md5 = $1 AND play_mode = $2 AND player_id = ANY($3)`,
		level.MD5, string(level.PlayMode), playerIDs)
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
		`SELECT `+scoreColumns+` FROM score_entries WHERE md5 = $1 AND play_mode = $2`,
		level.MD5, string(level.PlayMode))
}

func (s *Store) ListLevels(ctx context.Context) ([]model.Level, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT md5, play_mode FROM score_entries ORDER BY md5, play_mode`)
	if err != nil {
		return nil, fmt.Errorf("querying levels: %w", err)
	}
	defer rows.Close()
	var out []model.Level
	for rows.Next() {
		var lvl model.Level
		var mode string
		if err := rows.Scan(&lvl.MD5, &mode); err != nil {
			return nil, fmt.Errorf("scanning level: %w", err)
		}
		lvl.PlayMode = model.PlayMode(mode)
		out = append(out, lvl)
	}
	return out, rows.Err()
}

func (s *Store) ChartLevels(ctx context.Context, md5 string) ([]storage.LevelSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT play_mode, COUNT(1) FROM score_entries WHERE md5 = $1 GROUP BY play_mode ORDER BY play_mode`, md5)
	if err != nil {
		return nil, fmt.Errorf("querying chart levels: %w", err)
	}
	defer rows.Close()
	var out []storage.LevelSummary
	for rows.Next() {
		var mode string
		var n int64
		if err := rows.Scan(&mode, &n); err != nil {
			return nil, fmt.Errorf("scanning chart level: %w", err)
		}
		out = append(out, storage.LevelSummary{Level: model.Level{MD5: md5, PlayMode: model.PlayMode(mode)}, Entries: int(n)})
	}
	return out, rows.Err()
}

func (s *Store) FindLegacyUser(ctx context.Context, usernameOrEmail string) (model.LegacyUser, error) {
	var u model.LegacyUser
	err := s.pool.QueryRow(ctx, `
SELECT id, username, email, hashed_password FROM legacy_users
WHERE username = $1 OR email = $1
ORDER BY CASE WHEN username = $1 THEN 0 ELSE 1 END
LIMIT 1`, usernameOrEmail).Scan(&u.ID, &u.Username, &u.Email, &u.HashedPassword)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.LegacyUser{}, storage.ErrNotFound
	}
	if err != nil {
		return model.LegacyUser{}, fmt.Errorf("querying legacy user: %w", err)
	}
	return u, nil
}

func (s *Store) PutLegacyUser(ctx context.Context, u model.LegacyUser) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO legacy_users (id, username, email, hashed_password) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET
    username = EXCLUDED.username,
    email = EXCLUDED.email,
    hashed_password = EXCLUDED.hashed_password`,
		u.ID, u.Username, u.Email, u.HashedPassword)
	if err != nil {
		return fmt.Errorf("putting legacy user: %w", err)
	}
	return nil
}
