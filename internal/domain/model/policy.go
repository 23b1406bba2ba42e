package model

import (
	"fmt"
	"slices"
	"strings"
)

// Policy decides which submission becomes the stored, rankable entry.
type Policy string

const (
	// PolicyLatest replaces the entry on every submission.
	PolicyLatest Policy = "latest"
	// PolicyBest replaces the entry only on a strictly higher score.
	PolicyBest Policy = "best"
)

// ParsePolicy accepts "latest" or "best"; empty means latest.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyLatest, nil
	case PolicyLatest, PolicyBest:
		return p, nil
	default:
		return "", fmt.Errorf("unknown score policy %q", s)
	}
}

// Apply folds sub into prev and returns the entry to store. PlayCount
// always increments. Under PolicyBest a non-improving play keeps the
// previous score, PlayNumber and UpdatedAt.
func (p Policy) Apply(prev *ScoreEntry, sub Submission) ScoreEntry {
	next := ScoreEntry{
		ID:         sub.EntryID,
		PlayerID:   sub.PlayerID,
		Level:      sub.Level,
		Score:      sub.Input.Score,
		Total:      sub.Input.Total,
		Combo:      sub.Input.Combo,
		Count:      slices.Clone(sub.Input.Count),
		Log:        sub.Input.Log,
		PlayCount:  1,
		PlayNumber: 1,
		UpdatedAt:  sub.At,
	}
	if prev == nil {
		return next
	}
	playCount := prev.PlayCount + 1
	if p == PolicyBest && sub.Input.Score <= prev.Score {
		kept := *prev
		kept.Count = slices.Clone(prev.Count)
		kept.PlayCount = playCount
		return kept
	}
	next.ID = prev.ID
	next.PlayCount = playCount
	next.PlayNumber = playCount
	return next
}
