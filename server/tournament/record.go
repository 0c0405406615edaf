package tournament

import (
	"math"

	"catan-bench/server/agent"
)

// PlayerRecord accumulates one roster player's rated results. Only the
// orchestrator mutates it, and only after a game has fully completed.
type PlayerRecord struct {
	Name     string `json:"name"`
	Model    string `json:"model"`
	Baseline bool   `json:"baseline"`

	Games       int     `json:"games_played"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	Draws       int     `json:"draws"`
	PositionSum int     `json:"position_sum"`
	VPSum       int     `json:"victory_points_sum"`
	VPs         []int   `json:"victory_points"`
	Rating      float64 `json:"rating"`
	Glicko      Glicko2 `json:"glicko"`

	// Unrated counts games this player sat in that ended in a fatal error or
	// were cancelled.
	Unrated int `json:"unrated_games"`
	// Decisions covers every game played, rated or not.
	Decisions agent.Stats `json:"decisions"`
}

func (r PlayerRecord) WinRate() float64 {
	if r.Games == 0 {
		return 0
	}
	return float64(r.Wins) / float64(r.Games)
}

func (r PlayerRecord) AvgPosition() float64 {
	if r.Games == 0 {
		return 0
	}
	return float64(r.PositionSum) / float64(r.Games)
}

func (r PlayerRecord) AvgVP() float64 {
	if r.Games == 0 {
		return 0
	}
	return float64(r.VPSum) / float64(r.Games)
}

// Weights combine the competence components.
type Weights struct {
	Win      float64
	Position float64
	VP       float64
	// VPTarget is the average VP that earns the full VP component.
	VPTarget float64
}

func DefaultWeights() Weights { return Weights{Win: 0.4, Position: 0.3, VP: 0.3, VPTarget: 10} }

// Competence scores a record in [0,1] for a table of seats players. It reads
// the counters only, so it does not depend on the order results arrived in.
func Competence(r PlayerRecord, seats int, w Weights) float64 {
	if r.Games == 0 {
		return 0
	}
	pos := 1.0
	if seats > 1 {
		pos = (float64(seats) - r.AvgPosition()) / float64(seats-1)
	}
	vp := 0.0
	if w.VPTarget > 0 {
		vp = math.Min(1, r.AvgVP()/w.VPTarget)
	}
	return w.Win*r.WinRate() + w.Position*pos + w.VP*vp
}
