package loadgen

import "fmt"

// verify checks that ranks run 1..len(rows) without gaps or repeats, that
// scores never increase down the board and that every player of this run
// holds the expected score. Rows of other players are tolerated; when
// there are none, all of this run's players must be present.
func verify(rows []Row, expected map[string]int) error {
	seen := make(map[string]struct{}, len(rows))
	mine, foreign := 0, 0
	for i, r := range rows {
		if r.Rank != i+1 {
			return fmt.Errorf("%w: row %d has rank %d", ErrVerification, i, r.Rank)
		}
		if i > 0 && r.Entry.Score > rows[i-1].Entry.Score {
			return fmt.Errorf("%w: rank %d scores %d above rank %d", ErrVerification, r.Rank, r.Entry.Score, rows[i-1].Rank)
		}
		if _, dup := seen[r.Entry.PlayerID]; dup {
			return fmt.Errorf("%w: player %s appears twice", ErrVerification, r.Entry.PlayerID)
		}
		seen[r.Entry.PlayerID] = struct{}{}

		want, ok := expected[r.Entry.PlayerName]
		if !ok {
			foreign++
			continue
		}
		if r.Entry.Score != want {
			return fmt.Errorf("%w: %s has score %d, want %d", ErrVerification, r.Entry.PlayerName, r.Entry.Score, want)
		}
		mine++
	}
	if foreign == 0 && mine != len(expected) {
		return fmt.Errorf("%w: %d of %d players on the board", ErrVerification, mine, len(expected))
	}
	return nil
}
