package match

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"catan-bench/server/agent"
	"catan-bench/server/engine"
	"catan-bench/server/state"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGame passes the turn on every END_TURN. Hooks let tests bend the rules.
type fakeGame struct {
	seats   []engine.PlayerID
	cur     int
	applied []engine.Action
	vp      map[engine.PlayerID]int

	overAfter int // game ends once this many actions were applied; 0 never
	winner    engine.PlayerID
	actions   func(p engine.PlayerID) []engine.Action
	reject    bool
	badState  bool
	onApply   func()
}

func newFake(seats ...engine.PlayerID) *fakeGame {
	return &fakeGame{seats: seats, vp: map[engine.PlayerID]int{}}
}

func (g *fakeGame) ID() string { return "fake" }

func (g *fakeGame) CurrentPlayer(context.Context) (engine.PlayerID, error) {
	return g.seats[g.cur], nil
}

func (g *fakeGame) LegalActions(context.Context) ([]engine.Action, error) {
	p := g.seats[g.cur]
	if g.actions != nil {
		return g.actions(p), nil
	}
	return []engine.Action{{Player: p, Kind: engine.EndTurn}}, nil
}

func (g *fakeGame) Apply(_ context.Context, a engine.Action) error {
	if g.reject {
		return &engine.IllegalActionError{Action: a, Reason: "nope"}
	}
	g.applied = append(g.applied, a)
	if g.onApply != nil {
		g.onApply()
	}
	if a.Kind == engine.EndTurn {
		g.cur = (g.cur + 1) % len(g.seats)
	}
	return nil
}

func (g *fakeGame) Over(context.Context) (bool, error) {
	return g.overAfter > 0 && len(g.applied) >= g.overAfter, nil
}

func (g *fakeGame) Winner(ctx context.Context) (engine.PlayerID, bool, error) {
	over, _ := g.Over(ctx)
	return g.winner, over, nil
}

func (g *fakeGame) VictoryPoints(_ context.Context, p engine.PlayerID) (int, error) {
	return g.vp[p], nil
}

func (g *fakeGame) Snapshot(context.Context) ([]byte, error) {
	if g.badState {
		return []byte(`{"players": [`), nil
	}
	var ps []string
	for _, c := range g.seats {
		ps = append(ps, fmt.Sprintf(`{"color":%q,"victory_points":%d}`, c, g.vp[c]))
	}
	return []byte(fmt.Sprintf(`{"turn":%d,"current_color":%q,"current_prompt":"PLAY_TURN","players":[%s]}`,
		len(g.applied), g.seats[g.cur], strings.Join(ps, ","))), nil
}

func seatsFor(colors ...engine.PlayerID) []Seat {
	out := make([]Seat, len(colors))
	for i, c := range colors {
		name := fmt.Sprintf("p%d", i+1)
		out[i] = Seat{Name: name, Model: "random", Color: c, Agent: agent.NewBaseline(name, int64(i))}
	}
	return out
}

func runner(maxRounds int) *Runner {
	return NewRunner(Config{MaxRounds: maxRounds, MaxDecisions: 5000}, zerolog.Nop(), nil)
}

func TestPlayStopsOnVictory(t *testing.T) {
	g := newFake(engine.Red, engine.Blue)
	g.overAfter = 3
	g.winner = engine.Red
	g.vp = map[engine.PlayerID]int{engine.Red: 10, engine.Blue: 6}

	res := runner(100).Play(context.Background(), "M01_G01", g, seatsFor(engine.Red, engine.Blue))
	assert.Equal(t, Victory, res.Reason)
	assert.Equal(t, "p1", res.Winner)
	require.Len(t, res.Decisions, 3)
	assert.Equal(t, []string{"p1", "p2", "p1"}, []string{res.Decisions[0].Player, res.Decisions[1].Player, res.Decisions[2].Player})
	assert.Equal(t, 3, res.Turns)
	assert.Equal(t, 10, res.Players[0].VP)
	assert.Equal(t, 1, res.Players[0].Position)
	assert.Equal(t, 2, res.Players[1].Position)
	assert.Empty(t, res.Error)
	assert.Equal(t, 1, res.Decisions[0].Seq)
	assert.Equal(t, "End your turn", res.Decisions[0].ActionText)
	assert.Len(t, res.Decisions[0].StateDigest, 16)
	assert.Nil(t, res.Decisions[0].State)
	assert.Equal(t, 2, res.Stats["p1"].Decisions)
}

func TestPlayStopsAtRoundCeiling(t *testing.T) {
	for _, maxRounds := range []int{1, 3, 7} {
		g := newFake(engine.Red, engine.Blue, engine.White)
		g.vp = map[engine.PlayerID]int{engine.Red: 4, engine.Blue: 8, engine.White: 5}

		res := runner(maxRounds).Play(context.Background(), "g", g, seatsFor(engine.Red, engine.Blue, engine.White))
		assert.Equal(t, RoundLimit, res.Reason)
		assert.Equal(t, maxRounds, res.Rounds)
		assert.Equal(t, 3*maxRounds, res.Turns)
		assert.Len(t, res.Decisions, 3*maxRounds)
		assert.Equal(t, "p2", res.Winner)
		assert.Equal(t, []int{3, 1, 2}, []int{res.Players[0].Position, res.Players[1].Position, res.Players[2].Position})
	}
}

func TestPlayRoundCeilingTieHasNoWinner(t *testing.T) {
	g := newFake(engine.Red, engine.Blue, engine.White)
	g.vp = map[engine.PlayerID]int{engine.Red: 7, engine.Blue: 7, engine.White: 3}

	res := runner(2).Play(context.Background(), "g", g, seatsFor(engine.Red, engine.Blue, engine.White))
	assert.Equal(t, RoundLimit, res.Reason)
	assert.Empty(t, res.Winner)
	assert.Equal(t, []int{1, 1, 3}, []int{res.Players[0].Position, res.Players[1].Position, res.Players[2].Position})
}

func TestPlayActionsWithinATurnDoNotAdvanceRounds(t *testing.T) {
	g := newFake(engine.Red, engine.Blue)
	g.actions = func(p engine.PlayerID) []engine.Action {
		// Roll until a turn has three actions, then end it.
		n := 0
		for i := len(g.applied) - 1; i >= 0 && g.applied[i].Kind != engine.EndTurn; i-- {
			n++
		}
		if n < 2 {
			return []engine.Action{{Player: p, Kind: engine.Roll}}
		}
		return []engine.Action{{Player: p, Kind: engine.EndTurn}}
	}
	res := runner(2).Play(context.Background(), "g", g, seatsFor(engine.Red, engine.Blue))
	assert.Equal(t, RoundLimit, res.Reason)
	assert.Equal(t, 4, res.Turns)
	assert.Len(t, res.Decisions, 12)
	assert.Equal(t, 2, res.Decisions[3].Turn)
}

func TestPlayFatalWithoutLegalActions(t *testing.T) {
	g := newFake(engine.Red, engine.Blue)
	g.actions = func(engine.PlayerID) []engine.Action { return nil }

	res := runner(10).Play(context.Background(), "g", g, seatsFor(engine.Red, engine.Blue))
	assert.Equal(t, FatalError, res.Reason)
	assert.Contains(t, res.Error, engine.ErrContract.Error())
	assert.Empty(t, res.Winner)
	assert.Empty(t, res.Decisions)
}

func TestPlayFatalOnIllegalAction(t *testing.T) {
	g := newFake(engine.Red, engine.Blue)
	g.reject = true

	res := runner(10).Play(context.Background(), "g", g, seatsFor(engine.Red, engine.Blue))
	assert.Equal(t, FatalError, res.Reason)
	assert.Contains(t, res.Error, "illegal action")
	assert.Len(t, res.Decisions, 1, "the rejected decision is still logged")
}

func TestPlayFatalOnUnreadableState(t *testing.T) {
	g := newFake(engine.Red, engine.Blue)
	g.badState = true

	res := runner(10).Play(context.Background(), "g", g, seatsFor(engine.Red, engine.Blue))
	assert.Equal(t, FatalError, res.Reason)
	assert.True(t, strings.HasPrefix(res.Error, "serialize state:"), res.Error)
}

func TestPlayDecisionCap(t *testing.T) {
	g := newFake(engine.Red, engine.Blue)
	g.actions = func(p engine.PlayerID) []engine.Action { return []engine.Action{{Player: p, Kind: engine.Roll}} }

	r := NewRunner(Config{MaxRounds: 10, MaxDecisions: 25}, zerolog.Nop(), nil)
	res := r.Play(context.Background(), "g", g, seatsFor(engine.Red, engine.Blue))
	assert.Equal(t, FatalError, res.Reason)
	assert.Len(t, res.Decisions, 25)
}

func TestPlayCancelledBetweenDecisions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := newFake(engine.Red, engine.Blue)
	g.onApply = func() {
		if len(g.applied) == 2 {
			cancel()
		}
	}

	res := runner(50).Play(ctx, "g", g, seatsFor(engine.Red, engine.Blue))
	assert.Equal(t, Cancelled, res.Reason)
	assert.False(t, res.Reason.Rated())
	assert.Len(t, g.applied, 2, "the decision in flight completes, no new one starts")
	assert.Len(t, res.Decisions, 2)
}

func TestPlayRejectsUnseatedPlayer(t *testing.T) {
	g := newFake(engine.Red, engine.Orange)
	res := runner(5).Play(context.Background(), "g", g, seatsFor(engine.Red, engine.Blue))
	// ORANGE acts second but only RED and BLUE are seated.
	assert.Equal(t, FatalError, res.Reason)
	assert.Contains(t, res.Error, "ORANGE is not seated")
}

func TestPlayKeepsStatesWhenAsked(t *testing.T) {
	g := newFake(engine.Red, engine.Blue)
	g.overAfter = 1
	g.winner = engine.Red
	r := NewRunner(Config{MaxRounds: 5, KeepStates: true}, zerolog.Nop(), nil)
	res := r.Play(context.Background(), "g", g, seatsFor(engine.Red, engine.Blue))
	require.Len(t, res.Decisions, 1)
	require.NotNil(t, res.Decisions[0].State)
	assert.Equal(t, engine.Red, res.Decisions[0].State.Self.Color)
	assert.Equal(t, state.Digest(*res.Decisions[0].State), res.Decisions[0].StateDigest)
}

func TestPositions(t *testing.T) {
	assert.Equal(t, []int{1, 1, 3, 4}, Positions([]int{10, 10, 7, 2}))
	assert.Equal(t, []int{2, 1, 2}, Positions([]int{5, 9, 5}))
	assert.Equal(t, []int{1, 1}, Positions([]int{0, 0}))
}
