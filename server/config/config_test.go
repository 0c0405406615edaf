package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"GAMES_PER_MATCHUP", "SEATS_PER_GAME", "MAX_ROUNDS", "DECISION_ATTEMPTS",
		"DECISION_TIMEOUT", "RETRY_DELAY", "ELO_K", "W_WIN", "W_POS", "W_VP", "PORT", "SHUFFLE_SEATS"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.GamesPerMatchup)
	assert.Equal(t, 4, cfg.SeatsPerGame)
	assert.Equal(t, 100, cfg.MaxRounds)
	assert.Equal(t, 3, cfg.DecisionAttempts)
	assert.Equal(t, 30*time.Second, cfg.DecisionTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryDelay)
	assert.Equal(t, 32.0, cfg.EloK)
	assert.True(t, cfg.ShuffleSeats)
}

func TestLoadReportsEveryBadValue(t *testing.T) {
	t.Setenv("MAX_ROUNDS", "many")
	t.Setenv("DECISION_TIMEOUT", "soon")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `MAX_ROUNDS="many" is not a valid integer`)
	assert.Contains(t, err.Error(), `DECISION_TIMEOUT="soon" is not a valid duration`)
}

func TestValidate(t *testing.T) {
	base := Config{
		GamesPerMatchup: 1, SeatsPerGame: 4, Parallelism: 1, MaxRounds: 10, MaxDecisions: 10,
		DecisionAttempts: 3, DecisionTimeout: time.Second, EloK: 32, VPTarget: 10,
		WeightWin: 0.4, WeightPosition: 0.3, WeightVP: 0.3, Port: 8080,
	}
	require.NoError(t, base.Validate())

	zero := base
	zero.DecisionAttempts = 0
	assert.NoError(t, zero.Validate(), "zero attempts means always fall back")

	seats := base
	seats.SeatsPerGame = 5
	assert.ErrorContains(t, seats.Validate(), "SEATS_PER_GAME")

	weights := base
	weights.WeightVP = 0.5
	assert.ErrorContains(t, weights.Validate(), "sum to 1")
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "off")
	v, err := envBool("TEST_BOOL", true)
	require.NoError(t, err)
	assert.False(t, v)

	t.Setenv("TEST_BOOL", "maybe")
	_, err = envBool("TEST_BOOL", false)
	assert.EqualError(t, err, `TEST_BOOL="maybe" is not a valid boolean`)
}

func TestParsePlayers(t *testing.T) {
	got, err := ParsePlayers(" alpha=openai:gpt-4o-mini, beta=anthropic:claude-3-5-haiku-latest ,gpt-4.1,router=openrouter:meta-llama/llama-3.1-70b-instruct")
	require.NoError(t, err)
	assert.Equal(t, []PlayerSpec{
		{Name: "alpha", Provider: "openai", Model: "gpt-4o-mini"},
		{Name: "beta", Provider: "anthropic", Model: "claude-3-5-haiku-latest"},
		{Name: "gpt-4.1", Provider: "", Model: "gpt-4.1"},
		{Name: "router", Provider: "openrouter", Model: "meta-llama/llama-3.1-70b-instruct"},
	}, got)

	_, err = ParsePlayers("a=openai:x,a=openai:y")
	assert.ErrorContains(t, err, "duplicate")

	_, err = ParsePlayers("a=openai:")
	assert.ErrorContains(t, err, "no model")

	none, err := ParsePlayers("")
	require.NoError(t, err)
	assert.Empty(t, none)
}
