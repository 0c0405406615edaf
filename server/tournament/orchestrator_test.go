package tournament

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"

	"catan-bench/server/agent"
	"catan-bench/server/engine"
	"catan-bench/server/match"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tableGame offers END_TURN and BUILD_CITY on every decision. A city is
// worth ten points and wins the game on the spot.
type tableGame struct {
	seats  []engine.PlayerID
	cur    int
	vp     map[engine.PlayerID]int
	winner engine.PlayerID
	over   bool
	turns  int
}

func (g *tableGame) ID() string { return "table" }

func (g *tableGame) CurrentPlayer(context.Context) (engine.PlayerID, error) {
	return g.seats[g.cur], nil
}

func (g *tableGame) LegalActions(context.Context) ([]engine.Action, error) {
	p := g.seats[g.cur]
	return []engine.Action{{Player: p, Kind: engine.EndTurn}, {Player: p, Kind: engine.BuildCity}}, nil
}

func (g *tableGame) Apply(_ context.Context, a engine.Action) error {
	switch a.Kind {
	case engine.BuildCity:
		g.vp[a.Player] += 10
		g.winner, g.over = a.Player, true
	case engine.EndTurn:
		g.turns++
		g.cur = (g.cur + 1) % len(g.seats)
	}
	return nil
}

func (g *tableGame) Over(context.Context) (bool, error) { return g.over, nil }

func (g *tableGame) Winner(context.Context) (engine.PlayerID, bool, error) {
	return g.winner, g.over, nil
}

func (g *tableGame) VictoryPoints(_ context.Context, p engine.PlayerID) (int, error) {
	return g.vp[p], nil
}

func (g *tableGame) Snapshot(context.Context) ([]byte, error) {
	var ps []string
	for _, c := range g.seats {
		ps = append(ps, fmt.Sprintf(`{"color":%q,"victory_points":%d}`, c, g.vp[c]))
	}
	return []byte(fmt.Sprintf(`{"turn":%d,"current_color":%q,"current_prompt":"PLAY_TURN","players":[%s]}`,
		g.turns, g.seats[g.cur], strings.Join(ps, ","))), nil
}

type tableFactory struct {
	mu    sync.Mutex
	games int
	err   error
}

func (f *tableFactory) NewGame(_ context.Context, seats []engine.PlayerID, _ int64) (engine.Game, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.games++
	return &tableGame{seats: seats, vp: map[engine.PlayerID]int{}}, nil
}

// picker always chooses the same catalogue index.
type picker struct {
	name  string
	index int
}

func (p picker) Name() string { return p.name }

func (p picker) Decide(_ context.Context, in agent.Input) agent.Outcome {
	return agent.Outcome{Action: in.Actions[p.index], Index: p.index, Final: agent.StateResolved, Attempts: 1}
}

func (p picker) Stats() agent.Stats { return agent.Stats{} }

func entrant(name string, index int) Entrant {
	return Entrant{Name: name, Model: "fake", NewAgent: func(int64) agent.Decider { return picker{name: name, index: index} }}
}

func options(seats, games int) Options {
	return Options{
		Schedule:    ScheduleOptions{SeatsPerGame: seats, GamesPerMatchup: games, Seed: 7},
		Parallelism: 2,
		Elo:         DefaultElo(),
		Weights:     DefaultWeights(),
		Match:       match.Config{MaxRounds: 10},
	}
}

type memSink struct{ runs []Run }

func (s *memSink) SaveRun(_ context.Context, r Run) error {
	s.runs = append(s.runs, r)
	return nil
}

func byName(records []PlayerRecord) map[string]PlayerRecord {
	out := make(map[string]PlayerRecord, len(records))
	for _, r := range records {
		out[r.Name] = r
	}
	return out
}

func TestBuilderWinsEveryGameAndLeads(t *testing.T) {
	for _, games := range []int{1, 4} {
		o, err := New("run", []Entrant{entrant("A", 1), entrant("B", 0)}, &tableFactory{}, options(2, games), zerolog.Nop(), nil)
		require.NoError(t, err)
		sink := &memSink{}
		o.AddSink(sink)

		run, err := o.Run(context.Background())
		require.NoError(t, err)
		require.Len(t, run.Results, games)
		require.Len(t, sink.runs, 1)

		recs := byName(run.Records)
		assert.Equal(t, games, recs["A"].Wins)
		assert.Equal(t, games, recs["A"].Games)
		assert.Equal(t, 0, recs["B"].Wins)
		assert.Equal(t, games, recs["B"].Losses)
		assert.Greater(t, Competence(recs["A"], 2, DefaultWeights()), Competence(recs["B"], 2, DefaultWeights()))
		assert.Equal(t, "A", run.Leaderboard[0].Name)
		assert.Equal(t, 1, run.Leaderboard[0].Rank)
		assert.InDelta(t, 1.0, run.Leaderboard[0].Competence, 1e-9)
		assert.Greater(t, recs["A"].Rating, 1500.0)
		assert.InDelta(t, 3000.0, recs["A"].Rating+recs["B"].Rating, 1e-9)
	}
}

func TestFillersJoinShortRoster(t *testing.T) {
	f := &tableFactory{}
	o, err := New("run", []Entrant{entrant("A", 1)}, f, options(3, 2), zerolog.Nop(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Random_0", "Random_1"}, o.Schedule().Fillers)

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, f.games)
	recs := byName(run.Records)
	require.Contains(t, recs, "Random_1")
	assert.True(t, recs["Random_1"].Baseline)
	assert.Equal(t, 2, recs["Random_0"].Games)
}

func TestFailedGamesAreLoggedButNotRated(t *testing.T) {
	f := &tableFactory{err: errors.New("engine down")}
	o, err := New("run", []Entrant{entrant("A", 1), entrant("B", 0)}, f, options(2, 3), zerolog.Nop(), nil)
	require.NoError(t, err)

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, run.Results, 3)
	for _, r := range run.Results {
		assert.Equal(t, match.FatalError, r.Reason)
		assert.Contains(t, r.Error, "engine down")
	}
	for _, r := range run.Records {
		assert.Equal(t, 0, r.Games)
		assert.Equal(t, 3, r.Unrated)
		assert.Equal(t, 1500.0, r.Rating)
	}
}

func TestCancelledRunPlaysNothingNew(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &tableFactory{}
	o, err := New("run", []Entrant{entrant("A", 1), entrant("B", 0)}, f, options(2, 5), zerolog.Nop(), nil)
	require.NoError(t, err)
	sink := &memSink{}
	o.AddSink(sink)

	run, err := o.Run(ctx)
	require.NoError(t, err)
	assert.True(t, run.Cancelled)
	assert.Empty(t, run.Results)
	assert.Zero(t, f.games)
	require.Len(t, sink.runs, 1, "an interrupted run is still saved")
}

func TestAbsorbSkipsCancelledGames(t *testing.T) {
	o, err := New("run", []Entrant{entrant("A", 1), entrant("B", 0)}, &tableFactory{}, options(2, 1), zerolog.Nop(), nil)
	require.NoError(t, err)
	o.Absorb(result("g1", match.Cancelled, "", [2]int{3, 2}))

	recs := byName(o.Records())
	assert.Equal(t, 0, recs["A"].Games)
	assert.Equal(t, 1, recs["A"].Unrated)
	assert.Len(t, o.Results(), 1)
}

func result(id string, reason match.Reason, winner string, vp [2]int) match.Result {
	pos := match.Positions(vp[:])
	return match.Result{
		GameID: id,
		Reason: reason,
		Winner: winner,
		Players: []match.Participant{
			{Name: "A", Color: engine.Red, VP: vp[0], Position: pos[0]},
			{Name: "B", Color: engine.Blue, VP: vp[1], Position: pos[1]},
		},
	}
}

func TestCompetenceIgnoresAbsorbOrder(t *testing.T) {
	results := []match.Result{
		result("g1", match.Victory, "A", [2]int{10, 4}),
		result("g2", match.Victory, "B", [2]int{6, 10}),
		result("g3", match.RoundLimit, "", [2]int{7, 7}),
		result("g4", match.RoundLimit, "A", [2]int{8, 5}),
		result("g5", match.FatalError, "", [2]int{2, 3}),
	}
	absorb := func(order []int) map[string]PlayerRecord {
		o, err := New("run", []Entrant{entrant("A", 1), entrant("B", 0)}, &tableFactory{}, options(2, 1), zerolog.Nop(), nil)
		require.NoError(t, err)
		for _, i := range order {
			o.Absorb(results[i])
		}
		return byName(o.Records())
	}
	fwd := absorb([]int{0, 1, 2, 3, 4})
	rev := absorb([]int{4, 3, 2, 1, 0})
	mix := absorb([]int{2, 4, 0, 3, 1})

	for _, name := range []string{"A", "B"} {
		want := Competence(fwd[name], 2, DefaultWeights())
		assert.InDelta(t, want, Competence(rev[name], 2, DefaultWeights()), 1e-12)
		assert.InDelta(t, want, Competence(mix[name], 2, DefaultWeights()), 1e-12)
		assert.Equal(t, 4, fwd[name].Games)
	}
	assert.Equal(t, 2, fwd["A"].Wins)
	assert.Equal(t, 1, fwd["A"].Draws)
	assert.Equal(t, 1, fwd["B"].Draws)
	assert.Equal(t, 2, fwd["B"].Losses)
}

func TestCompetence(t *testing.T) {
	r := PlayerRecord{Games: 2, Wins: 1, PositionSum: 3, VPSum: 16}
	// 0.4*0.5 + 0.3*(4-1.5)/3 + 0.3*0.8
	assert.InDelta(t, 0.69, Competence(r, 4, DefaultWeights()), 1e-9)

	r.VPSum = 40
	assert.InDelta(t, 0.2+0.25+0.3, Competence(r, 4, DefaultWeights()), 1e-9, "VP component is capped")

	assert.Zero(t, Competence(PlayerRecord{}, 4, DefaultWeights()))
	assert.InDelta(t, 0.4+0.3+0.03, Competence(PlayerRecord{Games: 1, Wins: 1, PositionSum: 1, VPSum: 1}, 1, DefaultWeights()), 1e-9)
}

func TestLeaderboardTieBreaks(t *testing.T) {
	w := Weights{Win: 1}
	recs := []PlayerRecord{
		{Name: "c", Games: 2, Wins: 1, Rating: 1490},
		{Name: "b", Games: 2, Wins: 1, Rating: 1510},
		{Name: "a", Games: 2, Wins: 1, Rating: 1510},
		{Name: "d", Games: 2, Wins: 2, Rating: 1400},
	}
	board := Leaderboard(recs, 2, w)
	var names []string
	for _, e := range board {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"d", "a", "b", "c"}, names)
	assert.Equal(t, 4, board[3].Rank)
}

func TestEloTwoPlayerZeroSum(t *testing.T) {
	e := DefaultElo()
	for _, rs := range [][2]float64{{1500, 1500}, {1720, 1410}, {1200, 1850}} {
		d := e.Deltas(rs[:], []int{1, 2})
		assert.InDelta(t, 0, d[0]+d[1], 1e-9)
		assert.Greater(t, d[0], 0.0)

		swapped := e.Deltas([]float64{rs[1], rs[0]}, []int{2, 1})
		assert.InDelta(t, d[0], swapped[1], 1e-9)
		assert.InDelta(t, d[1], swapped[0], 1e-9)
	}
	d := e.Deltas([]float64{1500, 1500}, []int{1, 2})
	assert.InDelta(t, 16, d[0], 1e-9)
}

func TestEloMultiplayer(t *testing.T) {
	e := DefaultElo()
	d := e.Deltas([]float64{1500, 1500, 1500, 1500}, []int{1, 1, 3, 4})
	sum := 0.0
	for _, x := range d {
		sum += x
	}
	assert.InDelta(t, 0, sum, 1e-9)
	assert.InDelta(t, d[0], d[1], 1e-9, "tied leaders move together")
	assert.InDelta(t, 32, d[0], 1e-9)
	assert.InDelta(t, -48, d[3], 1e-9)
}

func TestGlickoPeriod(t *testing.T) {
	after := glickoPeriod([]Glicko2{NewGlicko2(), NewGlicko2()}, []int{1, 2})
	assert.Greater(t, after[0].Rating, 1500.0)
	assert.Less(t, after[1].Rating, 1500.0)
	assert.Less(t, after[0].RD, 350.0)
	assert.InDelta(t, after[0].Rating-1500, 1500-after[1].Rating, 1e-6)
	assert.Equal(t, 1, after[0].Games)

	idle := NewGlicko2()
	idle.RD = 50
	idle.Age()
	assert.Greater(t, idle.RD, 50.0)
	assert.Equal(t, 1500.0, idle.Rating)
}

func TestGlickoMatchesGlickmanExample(t *testing.T) {
	p := Glicko2{Rating: 1500, RD: 200, Volatility: 0.06}
	p.UpdateBatch([]OpponentResult{
		{Opp: Glicko2{Rating: 1400, RD: 30}, S: 1},
		{Opp: Glicko2{Rating: 1550, RD: 100}, S: 0},
		{Opp: Glicko2{Rating: 1700, RD: 300}, S: 0},
	}, 0.5)
	assert.InDelta(t, 1464.06, p.Rating, 0.05)
	assert.InDelta(t, 151.52, p.RD, 0.05)
	assert.InDelta(t, 0.05999, p.Volatility, 1e-4)
	assert.Equal(t, 1, p.Games)
}

func TestGlickoSettlesOverRepeatedGames(t *testing.T) {
	ratings := []Glicko2{NewGlicko2(), NewGlicko2()}
	for range 10 {
		ratings = glickoPeriod(ratings, []int{1, 2})
	}
	assert.Less(t, ratings[0].RD, 210.0)
	assert.Greater(t, ratings[0].Rating, 1800.0)
	assert.Less(t, ratings[1].Rating, 1200.0)
	assert.InDelta(t, ratings[0].RD, ratings[1].RD, 1e-9)

	draw := glickoPeriod([]Glicko2{NewGlicko2(), NewGlicko2()}, []int{1, 1})
	assert.InDelta(t, 1500, draw[0].Rating, 1e-9)
	assert.Less(t, draw[0].RD, 300.0)
}

func TestWilsonCI95(t *testing.T) {
	lo, hi := WilsonCI95(0, 0, 0)
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 1.0, hi)

	lo, hi = WilsonCI95(5, 0, 10)
	assert.InDelta(t, 0.237, lo, 1e-3)
	assert.InDelta(t, 0.763, hi, 1e-3)

	lo, hi = WilsonCI95(10, 0, 10)
	assert.LessOrEqual(t, hi, 1.0)
	assert.Greater(t, lo, 0.6)
}

func TestBootstrapCI95IsSeeded(t *testing.T) {
	vals := []float64{3, 7, 10, 4, 9, 6}
	l1, h1 := BootstrapCI95(vals, 500, 3)
	l2, h2 := BootstrapCI95(vals, 500, 3)
	assert.Equal(t, l1, l2)
	assert.Equal(t, h1, h2)
	assert.LessOrEqual(t, l1, 6.5)
	assert.GreaterOrEqual(t, h1, 6.5)
	assert.False(t, math.IsNaN(l1))
}
