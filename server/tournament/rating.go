package tournament

import "math"

// Elo is a multiplayer Elo rule: every pair of participants plays one
// virtual game decided by finishing position.
type Elo struct {
	K     float64
	Start float64
}

func DefaultElo() Elo { return Elo{K: 32, Start: 1500} }

// Expect is a's expected score against b.
func (e Elo) Expect(a, b float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (b-a)/400.0))
}

// Deltas returns the rating change of every participant of one game.
// All pairs are scored from the ratings held before the game, so the result
// does not depend on seating order, and each pair's changes cancel out.
func (e Elo) Deltas(ratings []float64, positions []int) []float64 {
	out := make([]float64, len(ratings))
	for i := range ratings {
		for j := i + 1; j < len(ratings); j++ {
			d := e.K * (pairScore(positions[i], positions[j]) - e.Expect(ratings[i], ratings[j]))
			out[i] += d
			out[j] -= d
		}
	}
	return out
}

// pairScore is the score of the player at position a against position b.
// Lower positions are better.
func pairScore(a, b int) float64 {
	switch {
	case a < b:
		return 1
	case a > b:
		return 0
	}
	return 0.5
}
