package catalog

import (
	"encoding/json"
	"errors"
	"testing"

	"catan-bench/server/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func act(kind engine.ActionKind, value string) engine.Action {
	a := engine.Action{Player: engine.Red, Kind: kind}
	if value != "" {
		a.Value = json.RawMessage(value)
	}
	return a
}

func TestResolveEveryIndex(t *testing.T) {
	for n := 0; n <= 6; n++ {
		actions := make([]engine.Action, n)
		for i := range actions {
			actions[i] = act(engine.BuildSettlement, jsonInt(i))
		}
		for i := 0; i < n; i++ {
			got, err := Resolve(i, actions)
			require.NoError(t, err)
			assert.Equal(t, actions[i], got)
		}
		for _, i := range []int{-5, -1, n, n + 1, 1 << 20} {
			_, err := Resolve(i, actions)
			var oor *IndexOutOfRangeError
			require.True(t, errors.As(err, &oor), "n=%d i=%d", n, i)
			assert.Equal(t, i, oor.Index)
			assert.Equal(t, n, oor.Len)
		}
	}
}

func TestDescribeKeepsEngineOrderAndDuplicates(t *testing.T) {
	actions := []engine.Action{
		act(engine.EndTurn, ""),
		act(engine.BuildRoad, "[3,4]"),
		act(engine.BuildRoad, "[3,4]"),
		act(engine.Roll, ""),
	}
	entries := Describe(actions)
	require.Len(t, entries, 4)
	for i, e := range entries {
		assert.Equal(t, i, e.Index)
		assert.Equal(t, actions[i].Kind, e.Kind)
	}
	assert.Equal(t, entries[1].Text, entries[2].Text)
	assert.Equal(t, "0: End your turn\n1: Build road between nodes 3 and 4\n2: Build road between nodes 3 and 4\n3: Roll the dice to start your turn\n", Listing(entries))
}

func TestText(t *testing.T) {
	cases := []struct {
		a    engine.Action
		want string
	}{
		{act(engine.BuildSettlement, "12"), "Build settlement at node 12"},
		{act(engine.BuildCity, "7"), "Upgrade settlement to city at node 7"},
		{act(engine.MaritimeTrade, `["WOOD","WOOD","WOOD","WOOD","ORE"]`), "Trade 4 wood for 1 ore at 4:1 rate"},
		{act(engine.MaritimeTrade, `["SHEEP","SHEEP",null,null,"BRICK"]`), "Trade 2 sheep for 1 brick at 2:1 rate"},
		{act(engine.MoveRobber, `[[0,1,-1],"BLUE",null]`), "Move robber to tile (0,1,-1) and steal from BLUE"},
		{act(engine.MoveRobber, `[[2,-2,0],null,null]`), "Move robber to tile (2,-2,0) without stealing"},
		{act(engine.OfferTrade, `[1,0,0,0,0,0,1,0,0,0]`), "Offer trade: give 1 wood for 1 brick"},
		{act(engine.Discard, `[0,0,0,2,1]`), "Discard 2 wheat, 1 ore"},
		{act(engine.Discard, `["ORE","WHEAT","WHEAT"]`), "Discard 2 wheat, 1 ore"},
		{act(engine.PlayYearOfPlenty, `["BRICK","ORE"]`), "Play Year of Plenty to take brick and ore"},
		{act(engine.PlayMonopoly, `"WHEAT"`), "Play Monopoly to collect all wheat"},
		{act(engine.BuyDevCard, ""), "Buy a development card"},
		{act("SOMETHING_NEW", `{"x": 1}`), `something new {"x":1}`},
		{act(engine.BuildSettlement, `"garbled"`), `build settlement "garbled"`},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Text(c.a), "kind %s", c.a.Kind)
	}
}

func TestCategories(t *testing.T) {
	actions := []engine.Action{
		act(engine.Roll, ""),
		act(engine.BuildRoad, "[1,2]"),
		act(engine.MaritimeTrade, `["WOOD","WOOD","WOOD","WOOD","ORE"]`),
		act(engine.BuyDevCard, ""),
		act(engine.BuildCity, "3"),
	}
	got := Categories(actions)
	assert.Equal(t, map[string][]int{
		GameFlow: {0},
		Building: {1, 4},
		Trading:  {2},
		DevCards: {3},
	}, got)
	assert.True(t, IsBuild(engine.BuyDevCard))
	assert.False(t, IsBuild(engine.PlayKnight))
}

func jsonInt(i int) string {
	b, _ := json.Marshal(i)
	return string(b)
}
