package tournament

import (
	"math"
	"math/rand"
	"sort"
)

// WilsonCI95 bounds a win rate where draws count as half a win.
func WilsonCI95(wins, draws, total int) (low, hi float64) {
	if total <= 0 {
		return 0, 1
	}
	z := 1.96
	n := float64(total)
	p := (float64(wins) + 0.5*float64(draws)) / n
	den := 1 + z*z/n
	center := p + z*z/(2*n)
	half := z * math.Sqrt(p*(1-p)/n+z*z/(4*n*n))
	return math.Max(0, (center-half)/den), math.Min(1, (center+half)/den)
}

// BootstrapCI95 bounds the mean of vals by resampling B times. The
// generator is seeded so a leaderboard renders the same way every time.
func BootstrapCI95(vals []float64, B int, seed int64) (low, hi float64) {
	n := len(vals)
	if n == 0 || B <= 1 {
		return 0, 0
	}
	rng := rand.New(rand.NewSource(seed))
	res := make([]float64, B)
	for b := 0; b < B; b++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += vals[rng.Intn(n)]
		}
		res[b] = sum / float64(n)
	}
	sort.Float64s(res)
	l := int(0.025 * float64(B-1))
	h := int(0.975 * float64(B-1))
	return res[l], res[h]
}
