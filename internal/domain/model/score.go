package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// MaxScore is the highest achievable score on any chart.
	MaxScore = 555555
	// JudgementCategories is the length of NoteCounts:
	// Meticulous, Precise, Good, Offbeat, Missed.
	JudgementCategories = 5
)

// NoteCounts holds per-judgement note counts in fixed order.
type NoteCounts []int

// UnmarshalJSON accepts only an array. A bare number is rejected rather
// than coerced so malformed clients surface as invalid scores.
func (c *NoteCounts) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = nil
		return nil
	}
	if len(b) == 0 || b[0] != '[' {
		return fmt.Errorf("%w: count must be an array of %d integers", ErrInvalidScore, JudgementCategories)
	}
	var v []int
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("%w: count: %v", ErrInvalidScore, err)
	}
	*c = v
	return nil
}

// ScoreInput is the gameplay payload of one submission.
type ScoreInput struct {
	Score        int        `json:"score"`
	Total        int        `json:"total"`
	Combo        int        `json:"combo"`
	Count        NoteCounts `json:"count"`
	Log          string     `json:"log,omitempty"`
	SubmissionID string     `json:"submissionId,omitempty"`
}

// Validate enforces the payload domain.
func (in ScoreInput) Validate() error {
	if in.Score < 0 || in.Score > MaxScore {
		return fmt.Errorf("%w: score %d outside [0, %d]", ErrInvalidScore, in.Score, MaxScore)
	}
	if in.Total < 0 {
		return fmt.Errorf("%w: negative total", ErrInvalidScore)
	}
	if in.Combo < 0 {
		return fmt.Errorf("%w: negative combo", ErrInvalidScore)
	}
	if len(in.Count) != JudgementCategories {
		return fmt.Errorf("%w: count has %d entries, want %d", ErrInvalidScore, len(in.Count), JudgementCategories)
	}
	for i, n := range in.Count {
		if n < 0 {
			return fmt.Errorf("%w: count[%d] is negative", ErrInvalidScore, i)
		}
	}
	return nil
}

// ScoreEntry is the single stored standing of a player on a level.
type ScoreEntry struct {
	ID         string
	PlayerID   string
	Level      Level
	Score      int
	Total      int
	Combo      int
	Count      NoteCounts
	Log        string
	PlayCount  int
	PlayNumber int
	UpdatedAt  time.Time

	// PlayerName is denormalized on read; it is not part of the stored row.
	PlayerName string
}

// Submission is a validated score on its way into the store.
type Submission struct {
	EntryID  string // used only when the entry does not exist yet
	PlayerID string
	Level    Level
	Input    ScoreInput
	At       time.Time
}

// LeaderboardRow is a ranked view of a ScoreEntry. Never stored.
type LeaderboardRow struct {
	Rank  int
	Entry ScoreEntry
}

// ScoreResult is the outcome of a registration: the caller's row and a
// snapshot of the level's leaderboard taken at the same point.
type ScoreResult struct {
	Row         LeaderboardRow
	Level       Level
	Leaderboard []LeaderboardRow
	// Replayed is set when the submission id had been seen before and
	// nothing was written.
	Replayed bool
}
