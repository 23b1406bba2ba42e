// Package model contains domain models passed between layers.
package model

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// PlayMode is the input mode a chart was played with.
type PlayMode string

const (
	PlayModeBM PlayMode = "BM" // beatmania-style, 7 keys + turntable
	PlayModeKB PlayMode = "KB" // keyboard
)

// ParsePlayMode normalizes s and rejects unknown modes.
func ParsePlayMode(s string) (PlayMode, error) {
	switch m := PlayMode(strings.ToUpper(strings.TrimSpace(s))); m {
	case PlayModeBM, PlayModeKB:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown play mode %q", ErrInvalidLevel, s)
	}
}

// Level is the leaderboard partition: one chart played in one mode.
type Level struct {
	MD5      string
	PlayMode PlayMode
}

// NewLevel validates and normalizes a chart hash and play mode.
func NewLevel(md5, playMode string) (Level, error) {
	sum, err := ParseMD5(md5)
	if err != nil {
		return Level{}, err
	}
	mode, err := ParsePlayMode(playMode)
	if err != nil {
		return Level{}, err
	}
	return Level{MD5: sum, PlayMode: mode}, nil
}

// ParseMD5 returns the lowercase form of a 32-character hex chart hash.
func ParseMD5(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 32 {
		return "", fmt.Errorf("%w: chart md5 must be 32 hex characters", ErrInvalidLevel)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("%w: chart md5 is not hex", ErrInvalidLevel)
	}
	return s, nil
}

// Key is the canonical "md5:MODE" identifier used by indexes and the feed.
func (l Level) Key() string {
	return l.MD5 + ":" + string(l.PlayMode)
}

func (l Level) String() string { return l.Key() }

// ParseLevelKey parses the output of Level.Key.
func ParseLevelKey(key string) (Level, error) {
	md5, mode, ok := strings.Cut(key, ":")
	if !ok {
		return Level{}, fmt.Errorf("%w: level key %q", ErrInvalidLevel, key)
	}
	return NewLevel(md5, mode)
}

// ReindexJob asks for a level's rank index to be re-derived from the
// score store.
type ReindexJob struct {
	Level      Level
	Reason     string
	Attempt    int
	EnqueuedAt time.Time
}
