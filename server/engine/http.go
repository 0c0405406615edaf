package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPFactory creates games on a rules sidecar speaking JSON over HTTP.
type HTTPFactory struct {
	BaseURL string
	Client  *http.Client
}

func NewHTTPFactory(baseURL string) *HTTPFactory {
	return &HTTPFactory{
		BaseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (f *HTTPFactory) NewGame(ctx context.Context, seats []PlayerID, seed int64) (Game, error) {
	if len(seats) < 2 {
		return nil, fmt.Errorf("need at least two seats, got %d", len(seats))
	}
	req := struct {
		Players []PlayerID `json:"players"`
		Seed    int64      `json:"seed"`
	}{seats, seed}
	var out struct {
		GameID string `json:"game_id"`
	}
	if err := doJSON(ctx, f.Client, http.MethodPost, f.BaseURL+"/games", req, &out); err != nil {
		return nil, fmt.Errorf("create game: %w", err)
	}
	if out.GameID == "" {
		return nil, Contract("create", "empty game id", nil)
	}
	return &HTTPGame{id: out.GameID, base: f.BaseURL + "/games/" + out.GameID, client: f.Client}, nil
}

type status struct {
	CurrentColor  PlayerID         `json:"current_color"`
	GameOver      bool             `json:"game_over"`
	Winner        *PlayerID        `json:"winner"`
	VictoryPoints map[PlayerID]int `json:"victory_points"`
}

// HTTPGame is a Game backed by the rules sidecar. Status is cached between
// Apply calls since turns within a game are strictly sequential.
type HTTPGame struct {
	id     string
	base   string
	client *http.Client
	cached *status
}

func (g *HTTPGame) ID() string { return g.id }

func (g *HTTPGame) status(ctx context.Context) (*status, error) {
	if g.cached != nil {
		return g.cached, nil
	}
	var st status
	if err := doJSON(ctx, g.client, http.MethodGet, g.base+"/status", nil, &st); err != nil {
		return nil, err
	}
	if st.CurrentColor == "" && !st.GameOver {
		return nil, Contract("status", "no current player for a running game", nil)
	}
	g.cached = &st
	return g.cached, nil
}

func (g *HTTPGame) CurrentPlayer(ctx context.Context) (PlayerID, error) {
	st, err := g.status(ctx)
	if err != nil {
		return "", err
	}
	return st.CurrentColor, nil
}

func (g *HTTPGame) LegalActions(ctx context.Context) ([]Action, error) {
	var out struct {
		Actions []Action `json:"actions"`
	}
	if err := doJSON(ctx, g.client, http.MethodGet, g.base+"/actions", nil, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

func (g *HTTPGame) Apply(ctx context.Context, a Action) error {
	g.cached = nil
	err := doJSON(ctx, g.client, http.MethodPost, g.base+"/actions", a, nil)
	var he *httpError
	if errors.As(err, &he) && (he.Status == http.StatusConflict || he.Status == http.StatusUnprocessableEntity) {
		return &IllegalActionError{Action: a, Reason: he.Body}
	}
	return err
}

func (g *HTTPGame) Over(ctx context.Context) (bool, error) {
	st, err := g.status(ctx)
	if err != nil {
		return false, err
	}
	return st.GameOver, nil
}

func (g *HTTPGame) Winner(ctx context.Context) (PlayerID, bool, error) {
	st, err := g.status(ctx)
	if err != nil {
		return "", false, err
	}
	if st.Winner == nil || *st.Winner == "" {
		return "", false, nil
	}
	return *st.Winner, true, nil
}

func (g *HTTPGame) VictoryPoints(ctx context.Context, p PlayerID) (int, error) {
	st, err := g.status(ctx)
	if err != nil {
		return 0, err
	}
	vp, ok := st.VictoryPoints[p]
	if !ok {
		return 0, Contract("victory_points", fmt.Sprintf("unknown player %s", p), nil)
	}
	return vp, nil
}

func (g *HTTPGame) Snapshot(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.base+"/state", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpError{Status: resp.StatusCode, Body: truncate(string(body), 400)}
	}
	return body, nil
}

type httpError struct {
	Status int
	Body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("engine http %d: %s", e.Status, e.Body)
}

func doJSON(ctx context.Context, c *http.Client, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpError{Status: resp.StatusCode, Body: truncate(strings.TrimSpace(string(raw)), 400)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return Contract(method+" "+url, "malformed response", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
