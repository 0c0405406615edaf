package engine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sidecar(t *testing.T) (*httptest.Server, *int) {
	t.Helper()
	statusCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("POST /games", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Players []PlayerID `json:"players"`
			Seed    int64      `json:"seed"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, []PlayerID{Red, Blue}, body.Players)
		assert.Equal(t, int64(7), body.Seed)
		_, _ = w.Write([]byte(`{"game_id":"g1"}`))
	})
	mux.HandleFunc("GET /games/g1/status", func(w http.ResponseWriter, r *http.Request) {
		statusCalls++
		_, _ = w.Write([]byte(`{"current_color":"BLUE","game_over":true,"winner":"BLUE","victory_points":{"RED":4,"BLUE":10}}`))
	})
	mux.HandleFunc("GET /games/g1/actions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"actions":[{"color":"BLUE","action_type":"ROLL"},{"color":"BLUE","action_type":"BUILD_ROAD","value":[3,4]}]}`))
	})
	mux.HandleFunc("POST /games/g1/actions", func(w http.ResponseWriter, r *http.Request) {
		var a Action
		require.NoError(t, json.NewDecoder(r.Body).Decode(&a))
		if a.Kind == BuildCity {
			http.Error(w, "no settlement at node", http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /games/g1/state", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"turn":3}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &statusCalls
}

func TestHTTPGameRoundTrip(t *testing.T) {
	srv, statusCalls := sidecar(t)
	ctx := context.Background()

	g, err := NewHTTPFactory(srv.URL+"/").NewGame(ctx, []PlayerID{Red, Blue}, 7)
	require.NoError(t, err)
	assert.Equal(t, "g1", g.ID())

	p, err := g.CurrentPlayer(ctx)
	require.NoError(t, err)
	assert.Equal(t, Blue, p)

	over, err := g.Over(ctx)
	require.NoError(t, err)
	assert.True(t, over)

	w, ok, err := g.Winner(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Blue, w)

	vp, err := g.VictoryPoints(ctx, Red)
	require.NoError(t, err)
	assert.Equal(t, 4, vp)
	assert.Equal(t, 1, *statusCalls, "status should be cached until the next apply")

	_, err = g.VictoryPoints(ctx, Orange)
	assert.ErrorIs(t, err, ErrContract)

	actions, err := g.LegalActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, BuildRoad, actions[1].Kind)
	assert.JSONEq(t, `[3,4]`, string(actions[1].Value))

	require.NoError(t, g.Apply(ctx, actions[0]))
	_, err = g.CurrentPlayer(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, *statusCalls)

	raw, err := g.Snapshot(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"turn":3}`, string(raw))
}

func TestHTTPGameApplyRejected(t *testing.T) {
	srv, _ := sidecar(t)
	ctx := context.Background()

	g, err := NewHTTPFactory(srv.URL).NewGame(ctx, []PlayerID{Red, Blue}, 7)
	require.NoError(t, err)

	err = g.Apply(ctx, Action{Player: Blue, Kind: BuildCity, Value: json.RawMessage(`12`)})
	var illegal *IllegalActionError
	require.True(t, errors.As(err, &illegal))
	assert.Equal(t, BuildCity, illegal.Action.Kind)
	assert.Contains(t, illegal.Reason, "no settlement")
}

func TestNewGameNeedsTwoSeats(t *testing.T) {
	_, err := NewHTTPFactory("http://unused").NewGame(context.Background(), []PlayerID{Red}, 1)
	require.Error(t, err)
}
