package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"catan-bench/server/engine"
	"catan-bench/server/match"
	"catan-bench/server/tournament"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run() tournament.Run {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	players := func(a, b int) []match.Participant {
		pos := match.Positions([]int{a, b})
		return []match.Participant{
			{Name: "A", Color: engine.Red, VP: a, Position: pos[0]},
			{Name: "B", Color: engine.Blue, VP: b, Position: pos[1]},
		}
	}
	results := []match.Result{
		{GameID: "M01_G01", Players: players(10, 3), Winner: "A", Reason: match.Victory, Rounds: 12,
			Decisions: []match.Decision{{Seq: 1, Player: "A", Color: engine.Red, ActionText: "Roll the dice", Fallback: true}},
			Started:   start, Finished: start.Add(90 * time.Second)},
		{GameID: "M01_G02", Players: players(0, 0), Reason: match.FatalError, Error: "engine down",
			Started: start, Finished: start},
	}
	recs := []tournament.PlayerRecord{
		{Name: "A", Games: 1, Wins: 1, PositionSum: 1, VPSum: 10, VPs: []int{10}, Rating: 1516},
		{Name: "B", Games: 1, Losses: 1, PositionSum: 2, VPSum: 3, VPs: []int{3}, Rating: 1484},
	}
	return tournament.Run{
		ID: "r1", Started: start, Finished: start.Add(time.Hour), SeatsPerGame: 2, GamesPerMatchup: 2, Scheduled: 2,
		Results: results, Records: recs, Leaderboard: tournament.Leaderboard(recs, 2, tournament.DefaultWeights()),
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestWriterSavesRun(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.SaveRun(context.Background(), run()))

	raw, err := os.ReadFile(filepath.Join(w.Dir("r1"), "tournament_results.json"))
	require.NoError(t, err)
	var got map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &got))
	for _, k := range []string{"tournament_info", "games", "analysis", "player_stats", "matchup_analysis", "head_to_head", "leaderboard"} {
		assert.Contains(t, got, k)
	}

	var report struct {
		Analysis    tournament.Analysis `json:"analysis"`
		Leaderboard []tournament.Entry  `json:"leaderboard"`
	}
	require.NoError(t, json.Unmarshal(raw, &report))
	assert.Equal(t, 2, report.Analysis.TotalGames)
	assert.Equal(t, 1, report.Analysis.FailedGames)
	assert.Equal(t, "A", report.Leaderboard[0].Name)

	games := readCSV(t, filepath.Join(w.Dir("r1"), "games.csv"))
	require.Len(t, games, 3)
	assert.Equal(t, []string{"M01_G01", "A", "RED", "victory"}, games[1][:4])
	assert.Equal(t, "90.0000", games[1][8])
	assert.Equal(t, "None", games[2][1])
	assert.Equal(t, "false", games[2][11])

	standings := readCSV(t, filepath.Join(w.Dir("r1"), "standings.csv"))
	require.Len(t, standings, 3)
	assert.Equal(t, "1", standings[1][0])
	assert.Equal(t, "A", standings[1][1])

	decisions := readCSV(t, filepath.Join(w.Dir("r1"), "decisions.csv"))
	require.Len(t, decisions, 2)
	assert.Equal(t, "Roll the dice", decisions[1][8])
	assert.Equal(t, "true", decisions[1][9])
}
