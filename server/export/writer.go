// Package export writes a finished run to disk as JSON and CSV.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"catan-bench/server/match"
	"catan-bench/server/tournament"
)

// Report is the layout of the results JSON file.
type Report struct {
	Info        Info                          `json:"tournament_info"`
	Games       []match.Result                `json:"games"`
	Analysis    tournament.Analysis           `json:"analysis"`
	PlayerStats []tournament.PlayerRecord     `json:"player_stats"`
	Matchups    []tournament.Matchup          `json:"matchup_analysis"`
	HeadToHead  map[string]map[string]float64 `json:"head_to_head"`
	Leaderboard []tournament.Entry            `json:"leaderboard"`
}

type Info struct {
	RunID           string    `json:"run_id"`
	Started         time.Time `json:"started_at"`
	Finished        time.Time `json:"finished_at"`
	SeatsPerGame    int       `json:"seats_per_game"`
	GamesPerMatchup int       `json:"games_per_matchup"`
	Scheduled       int       `json:"scheduled_games"`
	Played          int       `json:"played_games"`
	Cancelled       bool      `json:"cancelled"`
}

// Writer puts each run in its own directory under baseDir.
type Writer struct {
	baseDir string
}

func NewWriter(baseDir string) (*Writer, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &Writer{baseDir: baseDir}, nil
}

// Dir is where a run's files go.
func (w *Writer) Dir(runID string) string { return filepath.Join(w.baseDir, runID) }

func (w *Writer) SaveRun(_ context.Context, run tournament.Run) error {
	dir := w.Dir(run.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	if err := w.writeReport(dir, run); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(dir, "games.csv"), gameRows(run)); err != nil {
		return fmt.Errorf("failed to write games: %w", err)
	}
	if err := writeCSV(filepath.Join(dir, "standings.csv"), standingRows(run)); err != nil {
		return fmt.Errorf("failed to write standings: %w", err)
	}
	if err := writeCSV(filepath.Join(dir, "decisions.csv"), decisionRows(run)); err != nil {
		return fmt.Errorf("failed to write decisions: %w", err)
	}
	return nil
}

func NewReport(run tournament.Run) Report {
	return Report{
		Info: Info{
			RunID:           run.ID,
			Started:         run.Started,
			Finished:        run.Finished,
			SeatsPerGame:    run.SeatsPerGame,
			GamesPerMatchup: run.GamesPerMatchup,
			Scheduled:       run.Scheduled,
			Played:          len(run.Results),
			Cancelled:       run.Cancelled,
		},
		Games:       run.Results,
		Analysis:    tournament.Analyze(run.Results),
		PlayerStats: run.Records,
		Matchups:    tournament.Matchups(run.Results),
		HeadToHead:  tournament.HeadToHead(run.Results),
		Leaderboard: run.Leaderboard,
	}
}

func (w *Writer) writeReport(dir string, run tournament.Run) error {
	f, err := os.Create(filepath.Join(dir, "tournament_results.json"))
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewReport(run)); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}
	return f.Close()
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return f.Close()
}

func gameRows(run tournament.Run) [][]string {
	rows := [][]string{{"game_id", "winner", "winner_color", "termination_reason", "rounds", "turns",
		"decisions", "fallbacks", "duration_seconds", "players", "scores", "success"}}
	for _, r := range run.Results {
		winner, color := r.Winner, ""
		names := make([]string, len(r.Players))
		scores := make([]string, len(r.Players))
		for i, p := range r.Players {
			names[i] = p.Name
			scores[i] = strconv.Itoa(p.VP)
			if p.Name == r.Winner {
				color = string(p.Color)
			}
		}
		if winner == "" {
			winner = "None"
		}
		rows = append(rows, []string{
			r.GameID,
			winner,
			color,
			string(r.Reason),
			strconv.Itoa(r.Rounds),
			strconv.Itoa(r.Turns),
			strconv.Itoa(len(r.Decisions)),
			strconv.Itoa(r.Fallbacks()),
			ftoa(r.Duration().Seconds()),
			strings.Join(names, ", "),
			strings.Join(scores, ", "),
			strconv.FormatBool(r.Reason.Rated()),
		})
	}
	return rows
}

func standingRows(run tournament.Run) [][]string {
	rows := [][]string{{"rank", "player", "model", "baseline", "games", "wins", "losses", "draws",
		"win_rate", "win_ci_low", "win_ci_high", "avg_position", "avg_vp", "rating", "glicko", "glicko_rd",
		"competence", "decisions", "fallback_rate", "avg_latency_ms", "cost_usd"}}
	for _, e := range run.Leaderboard {
		rows = append(rows, []string{
			strconv.Itoa(e.Rank),
			e.Name,
			e.Model,
			strconv.FormatBool(e.Baseline),
			strconv.Itoa(e.Games),
			strconv.Itoa(e.Wins),
			strconv.Itoa(e.Losses),
			strconv.Itoa(e.Draws),
			ftoa(e.WinRate),
			ftoa(e.WinLow),
			ftoa(e.WinHigh),
			ftoa(e.AvgPosition),
			ftoa(e.AvgVP),
			ftoa(e.Rating),
			ftoa(e.Glicko),
			ftoa(e.GlickoRD),
			ftoa(e.Competence),
			strconv.Itoa(e.Decisions),
			ftoa(e.FallbackRate),
			ftoa(e.AvgLatencyMS),
			ftoa(e.CostUSD),
		})
	}
	return rows
}

func decisionRows(run tournament.Run) [][]string {
	rows := [][]string{{"game_id", "seq", "round", "player", "color", "state_digest", "options",
		"chosen_index", "action", "fallback", "attempts", "final_state", "latency_ms", "tokens", "cost_usd", "error"}}
	for _, r := range run.Results {
		for _, d := range r.Decisions {
			rows = append(rows, []string{
				r.GameID,
				strconv.Itoa(d.Seq),
				strconv.Itoa(d.Round),
				d.Player,
				string(d.Color),
				d.StateDigest,
				strconv.Itoa(len(d.Options)),
				strconv.Itoa(d.Index),
				d.ActionText,
				strconv.FormatBool(d.Fallback),
				strconv.Itoa(d.Attempts),
				d.FinalState,
				strconv.FormatInt(d.LatencyMS, 10),
				strconv.Itoa(d.Tokens),
				ftoa(d.CostUSD),
				d.Error,
			})
		}
	}
	return rows
}

func ftoa(f float64) string { return strconv.FormatFloat(f, 'f', 4, 64) }
