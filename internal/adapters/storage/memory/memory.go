// Package memory is the in-process storage backend. Every map is guarded
// by a mutex, so name uniqueness and link state are checked and written
// in one critical section.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/okian/scoreboard/internal/adapters/storage"
	"github.com/okian/scoreboard/internal/domain/model"
)

// Store implements storage.Store in memory.
type Store struct {
	idMu     sync.RWMutex
	players  map[string]model.Player
	byName   map[string]string
	byLegacy map[string]string

	scoreMu sync.RWMutex
	scores  map[model.Level]map[string]model.ScoreEntry

	legacyMu sync.RWMutex
	legacy   map[string]model.LegacyUser
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		players:  make(map[string]model.Player),
		byName:   make(map[string]string),
		byLegacy: make(map[string]string),
		scores:   make(map[model.Level]map[string]model.ScoreEntry),
		legacy:   make(map[string]model.LegacyUser),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) CreatePlayer(ctx context.Context, p model.Player) (model.Player, error) {
	if err := ctx.Err(); err != nil {
		return model.Player{}, err
	}
	s.idMu.Lock()
	defer s.idMu.Unlock()
	if _, taken := s.byName[p.Name]; taken {
		return model.Player{}, storage.ErrAlreadyExists
	}
	if _, taken := s.players[p.ID]; taken {
		return model.Player{}, storage.ErrAlreadyExists
	}
	s.players[p.ID] = p
	s.byName[p.Name] = p.ID
	if p.LinkedLegacyUserID != "" {
		s.byLegacy[p.LinkedLegacyUserID] = p.ID
	}
	return p, nil
}

func (s *Store) FindPlayerByID(_ context.Context, id string) (model.Player, error) {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	p, ok := s.players[id]
	if !ok {
		return model.Player{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) FindPlayerByName(_ context.Context, name string) (model.Player, error) {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return model.Player{}, storage.ErrNotFound
	}
	return s.players[id], nil
}

func (s *Store) FindPlayerByLegacyUserID(_ context.Context, legacyUserID string) (model.Player, error) {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	id, ok := s.byLegacy[legacyUserID]
	if !ok {
		return model.Player{}, storage.ErrNotFound
	}
	return s.players[id], nil
}

func (s *Store) GetPlayers(_ context.Context, ids []string) (map[string]model.Player, error) {
	s.idMu.RLock()
	defer s.idMu.RUnlock()
	out := make(map[string]model.Player, len(ids))
	for _, id := range ids {
		if p, ok := s.players[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) LinkLegacyAccount(ctx context.Context, playerID, legacyUserID string) (model.Player, error) {
	if err := ctx.Err(); err != nil {
		return model.Player{}, err
	}
	s.idMu.Lock()
	defer s.idMu.Unlock()
	p, ok := s.players[playerID]
	if !ok {
		return model.Player{}, storage.ErrNotFound
	}
	switch p.LinkedLegacyUserID {
	case legacyUserID:
		return p, nil
	case "":
	default:
		return model.Player{}, storage.ErrAlreadyLinked
	}
	if owner, taken := s.byLegacy[legacyUserID]; taken && owner != playerID {
		return model.Player{}, storage.ErrLinkConflict
	}
	p.LinkedLegacyUserID = legacyUserID
	s.players[playerID] = p
	s.byLegacy[legacyUserID] = playerID
	return p, nil
}

func cloneEntry(e model.ScoreEntry) model.ScoreEntry {
	e.Count = slices.Clone(e.Count)
	return e
}

func (s *Store) UpsertScore(ctx context.Context, sub model.Submission, policy model.Policy) (model.ScoreEntry, error) {
	if err := ctx.Err(); err != nil {
		return model.ScoreEntry{}, err
	}
	s.scoreMu.Lock()
	defer s.scoreMu.Unlock()
	level := s.scores[sub.Level]
	if level == nil {
		level = make(map[string]model.ScoreEntry)
		s.scores[sub.Level] = level
	}
	var prev *model.ScoreEntry
	if cur, ok := level[sub.PlayerID]; ok {
		prev = &cur
	}
	next := policy.Apply(prev, sub)
	level[sub.PlayerID] = next
	return cloneEntry(next), nil
}

func (s *Store) GetScore(_ context.Context, level model.Level, playerID string) (model.ScoreEntry, error) {
	s.scoreMu.RLock()
	defer s.scoreMu.RUnlock()
	e, ok := s.scores[level][playerID]
	if !ok {
		return model.ScoreEntry{}, storage.ErrNotFound
	}
	return cloneEntry(e), nil
}

func (s *Store) GetScores(_ context.Context, level model.Level, playerIDs []string) (map[string]model.ScoreEntry, error) {
	s.scoreMu.RLock()
	defer s.scoreMu.RUnlock()
	out := make(map[string]model.ScoreEntry, len(playerIDs))
	for _, id := range playerIDs {
		if e, ok := s.scores[level][id]; ok {
			out[id] = cloneEntry(e)
		}
	}
	return out, nil
}

func (s *Store) ListLevelScores(_ context.Context, level model.Level) ([]model.ScoreEntry, error) {
	s.scoreMu.RLock()
	defer s.scoreMu.RUnlock()
	out := make([]model.ScoreEntry, 0, len(s.scores[level]))
	for _, e := range s.scores[level] {
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func (s *Store) ListLevels(_ context.Context) ([]model.Level, error) {
	s.scoreMu.RLock()
	defer s.scoreMu.RUnlock()
	out := make([]model.Level, 0, len(s.scores))
	for lvl, entries := range s.scores {
		if len(entries) > 0 {
			out = append(out, lvl)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

func (s *Store) ChartLevels(_ context.Context, md5 string) ([]storage.LevelSummary, error) {
	s.scoreMu.RLock()
	defer s.scoreMu.RUnlock()
	var out []storage.LevelSummary
	for lvl, entries := range s.scores {
		if lvl.MD5 == md5 && len(entries) > 0 {
			out = append(out, storage.LevelSummary{Level: lvl, Entries: len(entries)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level.PlayMode < out[j].Level.PlayMode })
	return out, nil
}

func (s *Store) FindLegacyUser(_ context.Context, usernameOrEmail string) (model.LegacyUser, error) {
	s.legacyMu.RLock()
	defer s.legacyMu.RUnlock()
	for _, u := range s.legacy {
		if u.Username == usernameOrEmail {
			return u, nil
		}
	}
	for _, u := range s.legacy {
		if u.Email == usernameOrEmail {
			return u, nil
		}
	}
	return model.LegacyUser{}, storage.ErrNotFound
}

func (s *Store) PutLegacyUser(_ context.Context, u model.LegacyUser) error {
	s.legacyMu.Lock()
	defer s.legacyMu.Unlock()
	s.legacy[u.ID] = u
	return nil
}
