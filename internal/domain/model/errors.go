package model

import (
	"errors"
	"fmt"
)

// Domain error taxonomy. Callers match with errors.Is; every layer wraps
// with %w so the class survives.
var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrDuplicateName     = errors.New("duplicate player name")
	ErrAlreadyLinked     = errors.New("player already linked to another legacy account")
	ErrConflict          = errors.New("legacy account linked to another player")
	ErrInvalidScore      = errors.New("invalid score")
	ErrNotFound          = errors.New("not found")
	ErrInvalidLevel      = errors.New("invalid level")
	ErrInvalidName       = errors.New("invalid player name")
	ErrRankUnavailable   = errors.New("rank index unavailable")
)

// ErrBadAPIKey is the coarse gate in front of the legacy credential path.
// It is an Unauthorized failure, reported separately from bad passwords.
var ErrBadAPIKey = fmt.Errorf("%w: bad api key", ErrUnauthorized)
