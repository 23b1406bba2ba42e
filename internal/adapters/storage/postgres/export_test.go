package postgres

import "context"

// Truncate empties every table between contract cases.
func (s *Store) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE score_entries, players, legacy_users`)
	return err
}
