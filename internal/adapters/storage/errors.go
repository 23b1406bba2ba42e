package storage

import "errors"

// Sentinel kinds for storage errors.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrAlreadyLinked = errors.New("player already linked")
	ErrLinkConflict  = errors.New("legacy user linked to another player")
)
