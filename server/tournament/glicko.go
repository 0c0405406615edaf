package tournament

import "math"

// Glicko-2 constants (Glickman's paper values).
const (
	g2Scale    = 173.7178
	pi2        = math.Pi * math.Pi
	glickoTau  = 0.5
	glickoEps  = 1e-6
	glickoBase = 1500.0
)

// Glicko2 is a secondary rating reported next to Elo. Its RD shrinks as a
// player accumulates games, which tells a reader how settled a rating is.
type Glicko2 struct {
	Rating     float64 `json:"rating"`
	RD         float64 `json:"rd"`
	Volatility float64 `json:"volatility"`
	Games      int     `json:"games"`
}

func NewGlicko2() Glicko2 {
	return Glicko2{Rating: glickoBase, RD: 350, Volatility: 0.06}
}

func toMuPhi(r, rd float64) (mu, phi float64)   { return (r - glickoBase) / g2Scale, rd / g2Scale }
func fromMuPhi(mu, phi float64) (r, rd float64) { return mu*g2Scale + glickoBase, phi * g2Scale }

func g(phi float64) float64 { return 1.0 / math.Sqrt(1.0+3.0*phi*phi/pi2) }
func gExp(mu, muj, phij float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phij)*(mu-muj)))
}

// OpponentResult is one opponent as rated at the start of the period and
// the score S in [0,1] against them.
type OpponentResult struct {
	Opp Glicko2
	S   float64
}

// Age is the no-games step: RD grows with volatility, rating is unchanged.
func (a *Glicko2) Age() {
	muA, phiA := toMuPhi(a.Rating, a.RD)
	phiStar := math.Sqrt(phiA*phiA + a.Volatility*a.Volatility)
	a.Rating, a.RD = fromMuPhi(muA, phiStar)
	a.Games++
}

// UpdateBatch applies one rating period. Each game is one period, with every
// other participant as an opponent.
func (a *Glicko2) UpdateBatch(results []OpponentResult, tau float64) {
	if len(results) == 0 {
		a.Age()
		return
	}

	muA, phiA := toMuPhi(a.Rating, a.RD)

	var sumG2E, sumGSE float64
	for _, r := range results {
		muB, phiB := toMuPhi(r.Opp.Rating, r.Opp.RD)
		gB := g(phiB)
		e := gExp(muA, muB, phiB)
		sumG2E += gB * gB * e * (1.0 - e)
		sumGSE += gB * (r.S - e)
	}
	v := 1.0 / sumG2E
	delta := v * sumGSE

	// New volatility: root of f by the Illinois method.
	a2 := math.Log(a.Volatility * a.Volatility)
	f := func(x float64) float64 {
		ex := math.Exp(x)
		num := ex * (delta*delta - phiA*phiA - v - ex)
		den := 2.0 * (phiA*phiA + v + ex) * (phiA*phiA + v + ex)
		return num/den - (x-a2)/(tau*tau)
	}

	A := a2
	var B float64
	if delta*delta > phiA*phiA+v {
		B = math.Log(delta*delta - phiA*phiA - v)
	} else {
		k := 1.0
		for f(a2-k*tau) < 0 && k < 1e6 {
			k++
		}
		B = a2 - k*tau
	}
	fA, fB := f(A), f(B)
	for it := 0; it < 100 && math.Abs(B-A) > glickoEps; it++ {
		C := A + (A-B)*fA/(fB-fA)
		fC := f(C)
		if math.IsNaN(fC) || math.IsInf(fC, 0) {
			break
		}
		if fC*fB <= 0 {
			A, fA = B, fB
		} else {
			fA /= 2
		}
		B, fB = C, fC
	}

	newVol := math.Exp(A / 2.0)
	phiStar := math.Sqrt(phiA*phiA + newVol*newVol)
	phiNew := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muNew := muA + phiNew*phiNew*sumGSE

	a.Rating, a.RD = fromMuPhi(muNew, phiNew)
	a.Volatility = newVol
	a.Games++
}

// glickoPeriod rates one game. before holds every participant's rating as
// it stood when the game started.
func glickoPeriod(before []Glicko2, positions []int) []Glicko2 {
	out := make([]Glicko2, len(before))
	for i := range before {
		opps := make([]OpponentResult, 0, len(before)-1)
		for j := range before {
			if j != i {
				opps = append(opps, OpponentResult{Opp: before[j], S: pairScore(positions[i], positions[j])})
			}
		}
		out[i] = before[i]
		out[i].UpdateBatch(opps, glickoTau)
	}
	return out
}
