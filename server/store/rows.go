package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"catan-bench/server/engine"
	"catan-bench/server/match"
	"catan-bench/server/tournament"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// ErrNotFound is returned by reads that match no row.
var ErrNotFound = errors.New("not found")

// RunSummary is one stored tournament run.
type RunSummary struct {
	ID              string    `json:"run_id"`
	Started         time.Time `json:"started_at"`
	Finished        time.Time `json:"finished_at"`
	SeatsPerGame    int       `json:"seats_per_game"`
	GamesPerMatchup int       `json:"games_per_matchup"`
	Scheduled       int       `json:"scheduled_games"`
	Played          int       `json:"played_games"`
	Cancelled       bool      `json:"cancelled"`
}

// GameSummary is a stored game without its decision log.
type GameSummary struct {
	RunID     string              `json:"run_id"`
	GameID    string              `json:"game_id"`
	Matchup   int                 `json:"matchup_index"`
	Number    int                 `json:"game_number"`
	Seed      int64               `json:"seed"`
	Winner    string              `json:"winner,omitempty"`
	Reason    match.Reason        `json:"termination_reason"`
	Error     string              `json:"error,omitempty"`
	Rounds    int                 `json:"rounds"`
	Turns     int                 `json:"turns"`
	Decisions int                 `json:"decision_count"`
	Fallbacks int                 `json:"fallbacks"`
	Players   []match.Participant `json:"players"`
	Started   time.Time           `json:"started_at"`
	Finished  time.Time           `json:"finished_at"`
}

func summarize(runID string, r match.Result) GameSummary {
	return GameSummary{
		RunID:     runID,
		GameID:    r.GameID,
		Matchup:   r.Matchup,
		Number:    r.Number,
		Seed:      r.Seed,
		Winner:    r.Winner,
		Reason:    r.Reason,
		Error:     r.Error,
		Rounds:    r.Rounds,
		Turns:     r.Turns,
		Decisions: len(r.Decisions),
		Fallbacks: r.Fallbacks(),
		Players:   r.Players,
		Started:   r.Started,
		Finished:  r.Finished,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

// expand turns a summary back into a result awaiting its decisions.
func expand(g GameSummary) match.Result {
	return match.Result{
		GameID:   g.GameID,
		Matchup:  g.Matchup,
		Number:   g.Number,
		Seed:     g.Seed,
		Players:  g.Players,
		Winner:   g.Winner,
		Reason:   g.Reason,
		Error:    g.Error,
		Turns:    g.Turns,
		Rounds:   g.Rounds,
		Started:  g.Started,
		Finished: g.Finished,
	}
}

func finishDecision(d *match.Decision, color string, action []byte) error {
	d.Color = engine.PlayerID(color)
	d.Success = !d.Fallback
	if err := json.Unmarshal(action, &d.Action); err != nil {
		return fmt.Errorf("decode action #%d: %w", d.Seq, err)
	}
	return nil
}

// decisionRow is a decision with its storage id and encoded action.
type decisionRow struct {
	ID         string
	ActionJSON []byte
	match.Decision
}

func decisionRows(r match.Result) ([]decisionRow, error) {
	out := make([]decisionRow, len(r.Decisions))
	for i, d := range r.Decisions {
		id, err := gonanoid.New()
		if err != nil {
			return nil, fmt.Errorf("failed to generate nanoid: %w", err)
		}
		a, err := json.Marshal(d.Action)
		if err != nil {
			return nil, fmt.Errorf("encode action of %s #%d: %w", r.GameID, d.Seq, err)
		}
		out[i] = decisionRow{ID: id, ActionJSON: a, Decision: d}
	}
	return out, nil
}

// standing joins a leaderboard line with the raw counters behind it.
type standing struct {
	tournament.Entry
	Unrated     int
	PositionSum int
	VPSum       int
}

func standings(run tournament.Run) []standing {
	recs := make(map[string]tournament.PlayerRecord, len(run.Records))
	for _, r := range run.Records {
		recs[r.Name] = r
	}
	out := make([]standing, len(run.Leaderboard))
	for i, e := range run.Leaderboard {
		r := recs[e.Name]
		out[i] = standing{Entry: e, Unrated: r.Unrated, PositionSum: r.PositionSum, VPSum: r.VPSum}
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
