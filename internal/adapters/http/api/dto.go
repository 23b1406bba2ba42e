package api

import (
	"time"

	"github.com/okian/scoreboard/internal/adapters/storage"
	"github.com/okian/scoreboard/internal/domain/model"
)

type playerResponse struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Linked             bool   `json:"linked"`
	LinkedLegacyUserID string `json:"linkedLegacyUserId,omitempty"`
}

func toPlayer(p model.Player) playerResponse {
	return playerResponse{
		ID:                 p.ID,
		Name:               p.Name,
		Linked:             p.Linked(),
		LinkedLegacyUserID: p.LinkedLegacyUserID,
	}
}

type rankingEntry struct {
	ID         string    `json:"id"`
	MD5        string    `json:"md5"`
	PlayMode   string    `json:"playMode"`
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Score      int       `json:"score"`
	Total      int       `json:"total"`
	Combo      int       `json:"combo"`
	Count      []int     `json:"count"`
	Log        string    `json:"log,omitempty"`
	PlayCount  int       `json:"playCount"`
	PlayNumber int       `json:"playNumber"`
	RecordedAt time.Time `json:"recordedAt"`
}

type leaderboardRow struct {
	Rank  int          `json:"rank"`
	Entry rankingEntry `json:"entry"`
}

func toRow(r model.LeaderboardRow) leaderboardRow {
	e := r.Entry
	count := []int(e.Count)
	if count == nil {
		count = []int{}
	}
	return leaderboardRow{
		Rank: r.Rank,
		Entry: rankingEntry{
			ID:         e.ID,
			MD5:        e.Level.MD5,
			PlayMode:   string(e.Level.PlayMode),
			PlayerID:   e.PlayerID,
			PlayerName: e.PlayerName,
			Score:      e.Score,
			Total:      e.Total,
			Combo:      e.Combo,
			Count:      count,
			Log:        e.Log,
			PlayCount:  e.PlayCount,
			PlayNumber: e.PlayNumber,
			RecordedAt: e.UpdatedAt,
		},
	}
}

func toRows(rows []model.LeaderboardRow) []leaderboardRow {
	out := make([]leaderboardRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, toRow(r))
	}
	return out
}

type levelResponse struct {
	MD5         string           `json:"md5"`
	PlayMode    string           `json:"playMode"`
	Leaderboard []leaderboardRow `json:"leaderboard"`
}

type scoreResponse struct {
	ResultingRow leaderboardRow `json:"resultingRow"`
	Level        levelResponse  `json:"level"`
}

func toScoreResponse(res model.ScoreResult) scoreResponse {
	return scoreResponse{
		ResultingRow: toRow(res.Row),
		Level: levelResponse{
			MD5:         res.Level.MD5,
			PlayMode:    string(res.Level.PlayMode),
			Leaderboard: toRows(res.Leaderboard),
		},
	}
}

type chartLevel struct {
	PlayMode string `json:"playMode"`
	Entries  int    `json:"entries"`
}

type chartResponse struct {
	MD5    string       `json:"md5"`
	Levels []chartLevel `json:"levels"`
}

func toChart(md5 string, levels []storage.LevelSummary) chartResponse {
	out := chartResponse{MD5: md5, Levels: make([]chartLevel, 0, len(levels))}
	for _, l := range levels {
		out.Levels = append(out.Levels, chartLevel{PlayMode: string(l.Level.PlayMode), Entries: l.Entries})
	}
	return out
}

type legacyUserResponse struct {
	ID       string `json:"_id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}
