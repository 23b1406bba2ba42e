package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Player is the registration response.
type Player struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Row is one leaderboard row as served.
type Row struct {
	Rank  int `json:"rank"`
	Entry struct {
		PlayerID   string `json:"playerId"`
		PlayerName string `json:"playerName"`
		Score      int    `json:"score"`
		PlayCount  int    `json:"playCount"`
	} `json:"entry"`
}

// Input is one play.
type Input struct {
	Score        int    `json:"score"`
	Total        int    `json:"total"`
	Combo        int    `json:"combo"`
	Count        []int  `json:"count"`
	SubmissionID string `json:"submissionId,omitempty"`
}

type scoreRequest struct {
	JWT      string `json:"jwt"`
	MD5      string `json:"md5"`
	PlayMode string `json:"playMode"`
	Input    Input  `json:"input"`
}

type scoreResponse struct {
	ResultingRow Row `json:"resultingRow"`
}

// client is a small JSON client for the scoreboard API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string, timeout time.Duration) *client {
	return &client{base: base, http: &http.Client{Timeout: timeout}}
}

func (c *client) health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *client) registerPlayer(ctx context.Context, name string) (Player, error) {
	var p Player
	err := c.do(ctx, http.MethodPost, "/players", map[string]string{"name": name}, &p)
	return p, err
}

func (c *client) submit(ctx context.Context, token, md5, mode string, in Input) (Row, error) {
	var res scoreResponse
	err := c.do(ctx, http.MethodPost, "/scores", scoreRequest{JWT: token, MD5: md5, PlayMode: mode, Input: in}, &res)
	return res.ResultingRow, err
}

func (c *client) leaderboard(ctx context.Context, md5, mode string, limit int) ([]Row, error) {
	var rows []Row
	path := "/charts/" + url.PathEscape(md5) + "/levels/" + url.PathEscape(mode) + "/leaderboard?max=" + strconv.Itoa(limit)
	err := c.do(ctx, http.MethodGet, path, nil, &rows)
	return rows, err
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrRequest, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading body: %w", ErrRequest, err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrRequest, method, path, resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrRequest, path, err)
	}
	return nil
}
