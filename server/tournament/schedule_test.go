package tournament

import (
	"testing"

	"catan-bench/server/engine"
	"catan-bench/server/match"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleCoversEveryCombination(t *testing.T) {
	s, err := NewSchedule([]string{"a", "b", "c", "d", "e"}, ScheduleOptions{SeatsPerGame: 4, GamesPerMatchup: 2})
	require.NoError(t, err)
	assert.Len(t, s.Matchups, 5)
	assert.Equal(t, []string{"a", "b", "c", "d"}, s.Matchups[0])
	assert.Equal(t, []string{"b", "c", "d", "e"}, s.Matchups[4])
	require.Len(t, s.Fixtures, 10)
	assert.Equal(t, "M01_G01", s.Fixtures[0].ID)
	assert.Equal(t, "M05_G02", s.Fixtures[9].ID)
	assert.Empty(t, s.Fillers)

	// The second game of a matchup opens with the second player.
	assert.Equal(t, "b", s.Fixtures[1].Seats[0].Name)
	assert.Equal(t, "a", s.Fixtures[1].Seats[3].Name)
	assert.Equal(t, []engine.PlayerID{engine.Red, engine.Blue, engine.White, engine.Orange}, s.Fixtures[1].Colors())
}

func TestScheduleIsDeterministic(t *testing.T) {
	opts := ScheduleOptions{SeatsPerGame: 3, GamesPerMatchup: 4, Shuffle: true, Seed: 42}
	a, err := NewSchedule([]string{"x", "y", "z", "w"}, opts)
	require.NoError(t, err)
	b, err := NewSchedule([]string{"x", "y", "z", "w"}, opts)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	opts.Seed = 43
	c, err := NewSchedule([]string{"x", "y", "z", "w"}, opts)
	require.NoError(t, err)
	assert.NotEqual(t, a.Fixtures[0].Seed, c.Fixtures[0].Seed)
}

func TestScheduleFillsShortRoster(t *testing.T) {
	s, err := NewSchedule([]string{"solo", "Random_0"}, ScheduleOptions{SeatsPerGame: 4, GamesPerMatchup: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Random_1", "Random_2"}, s.Fillers)
	require.Len(t, s.Fixtures, 1)
	assert.Len(t, s.Fixtures[0].Seats, 4)
}

func TestScheduleRejectsBadInput(t *testing.T) {
	for name, tc := range map[string]struct {
		roster []string
		opts   ScheduleOptions
	}{
		"one seat":   {[]string{"a", "b"}, ScheduleOptions{SeatsPerGame: 1, GamesPerMatchup: 1}},
		"five seats": {[]string{"a", "b"}, ScheduleOptions{SeatsPerGame: 5, GamesPerMatchup: 1}},
		"no games":   {[]string{"a", "b"}, ScheduleOptions{SeatsPerGame: 2}},
		"empty":      {nil, ScheduleOptions{SeatsPerGame: 2, GamesPerMatchup: 1}},
		"duplicate":  {[]string{"a", "a"}, ScheduleOptions{SeatsPerGame: 2, GamesPerMatchup: 1}},
	} {
		_, err := NewSchedule(tc.roster, tc.opts)
		assert.Error(t, err, name)
	}
}

func TestHeadToHeadSplitsSharedWins(t *testing.T) {
	three := func(reason match.Reason, winner string, vp ...int) match.Result {
		pos := match.Positions(vp)
		r := match.Result{Reason: reason, Winner: winner}
		for i, n := range []string{"a", "b", "c"} {
			r.Players = append(r.Players, match.Participant{Name: n, VP: vp[i], Position: pos[i]})
		}
		return r
	}
	h := HeadToHead([]match.Result{
		three(match.Victory, "a", 10, 6, 3),
		three(match.RoundLimit, "", 8, 8, 2),
		three(match.FatalError, "", 0, 0, 9),
	})
	assert.Equal(t, 1.5, h["a"]["c"])
	assert.Equal(t, 1.0, h["a"]["b"])
	assert.Equal(t, 0.5, h["b"]["c"])
	assert.Zero(t, h["c"]["a"])
	assert.NotContains(t, h["b"], "a")
}

func TestAnalyzeAndMatchups(t *testing.T) {
	results := []match.Result{
		result("g1", match.Victory, "A", [2]int{10, 4}),
		result("g2", match.RoundLimit, "", [2]int{5, 5}),
		result("g3", match.FatalError, "", [2]int{0, 0}),
		result("g4", match.Cancelled, "", [2]int{1, 0}),
	}
	a := Analyze(results)
	assert.Equal(t, 4, a.TotalGames)
	assert.Equal(t, 2, a.CompletedGames)
	assert.Equal(t, 1, a.FailedGames)
	assert.Equal(t, 1, a.CancelledGames)
	assert.Equal(t, 0.5, a.SuccessRate)
	assert.Equal(t, map[string]int{"A": 1}, a.WinCounts)

	ms := Matchups(results)
	require.Len(t, ms, 1)
	assert.Equal(t, "A_vs_B", ms[0].Key)
	assert.Equal(t, 2, ms[0].Games)
	assert.Equal(t, 1, ms[0].Wins["A"])
	assert.Equal(t, 0, ms[0].Wins["B"])
	assert.Equal(t, 1, ms[0].NoWin)
}
