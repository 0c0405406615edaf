package match

import (
	"time"

	"catan-bench/server/agent"
	"catan-bench/server/engine"
	"catan-bench/server/state"
)

// Reason says why a game stopped.
type Reason string

const (
	Victory    Reason = "victory"
	RoundLimit Reason = "round-limit"
	FatalError Reason = "fatal-error"
	Cancelled  Reason = "cancelled"
)

// Rated reports whether a game with this ending feeds records and ratings.
func (r Reason) Rated() bool { return r == Victory || r == RoundLimit }

// Decision is one appended entry of the game log. It is never modified after
// the runner appends it.
type Decision struct {
	Seq         int               `json:"seq"`
	Turn        int               `json:"turn"`
	Round       int               `json:"round"`
	Player      string            `json:"player"`
	Color       engine.PlayerID   `json:"color"`
	StateDigest string            `json:"state_digest"`
	State       *state.Structured `json:"state,omitempty"`
	Options     []string          `json:"options"`
	Index       int               `json:"chosen_index"`
	Action      engine.Action     `json:"action"`
	ActionText  string            `json:"action_text"`
	Fallback    bool              `json:"fallback"`
	Success     bool              `json:"success"`
	FinalState  string            `json:"final_state"`
	Attempts    int               `json:"attempts"`
	Raw         string            `json:"raw_reply,omitempty"`
	Reasoning   string            `json:"reasoning,omitempty"`
	Error       string            `json:"error,omitempty"`
	LatencyMS   int64             `json:"latency_ms"`
	Tokens      int               `json:"tokens"`
	CostUSD     float64           `json:"cost_usd"`
	At          time.Time         `json:"at"`
}

// Participant is one seat's final line in a result, in seating order.
type Participant struct {
	Name     string          `json:"name"`
	Model    string          `json:"model"`
	Color    engine.PlayerID `json:"color"`
	VP       int             `json:"victory_points"`
	Position int             `json:"position"`
}

// Result is one finished, aborted or cancelled game.
type Result struct {
	GameID    string                 `json:"game_id"`
	Matchup   int                    `json:"matchup_index"`
	Number    int                    `json:"game_number"`
	Seed      int64                  `json:"seed"`
	Players   []Participant          `json:"players"`
	Winner    string                 `json:"winner,omitempty"`
	Reason    Reason                 `json:"termination_reason"`
	Error     string                 `json:"error,omitempty"`
	Turns     int                    `json:"turns"`
	Rounds    int                    `json:"rounds"`
	Decisions []Decision             `json:"decisions"`
	Stats     map[string]agent.Stats `json:"player_stats"`
	Started   time.Time              `json:"started_at"`
	Finished  time.Time              `json:"finished_at"`
}

func (r Result) Duration() time.Duration { return r.Finished.Sub(r.Started) }

func (r Result) Fallbacks() int {
	n := 0
	for _, d := range r.Decisions {
		if d.Fallback {
			n++
		}
	}
	return n
}

// Positions ranks scores highest first. Ties share the better position and
// the next distinct score skips past them, so 10, 10, 7 ranks 1, 1, 3.
func Positions(vps []int) []int {
	out := make([]int, len(vps))
	for i, v := range vps {
		pos := 1
		for _, w := range vps {
			if w > v {
				pos++
			}
		}
		out[i] = pos
	}
	return out
}
