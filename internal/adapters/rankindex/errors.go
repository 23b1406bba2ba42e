package rankindex

import "errors"

// Sentinel kinds for rank index errors.
var (
	ErrNotFound     = errors.New("entry not ranked")
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
)
