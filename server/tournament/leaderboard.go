package tournament

import (
	"sort"
)

// Entry is one leaderboard line, always derived from a PlayerRecord.
type Entry struct {
	Rank        int     `json:"rank"`
	Name        string  `json:"name"`
	Model       string  `json:"model"`
	Baseline    bool    `json:"baseline"`
	Games       int     `json:"games_played"`
	Wins        int     `json:"wins"`
	Losses      int     `json:"losses"`
	Draws       int     `json:"draws"`
	WinRate     float64 `json:"win_rate"`
	WinLow      float64 `json:"win_rate_ci_low"`
	WinHigh     float64 `json:"win_rate_ci_high"`
	AvgPosition float64 `json:"avg_position"`
	AvgVP       float64 `json:"avg_victory_points"`
	VPLow       float64 `json:"avg_vp_ci_low"`
	VPHigh      float64 `json:"avg_vp_ci_high"`
	Rating      float64 `json:"rating"`
	Glicko      float64 `json:"glicko_rating"`
	GlickoRD    float64 `json:"glicko_rd"`
	Competence  float64 `json:"competence"`

	Decisions    int     `json:"decisions"`
	FallbackRate float64 `json:"fallback_rate"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	CostUSD      float64 `json:"cost_usd"`
}

const bootstrapRounds = 1000

// Leaderboard ranks records by competence, then win rate, then rating, then
// name.
func Leaderboard(records []PlayerRecord, seats int, w Weights) []Entry {
	out := make([]Entry, 0, len(records))
	for _, r := range records {
		e := Entry{
			Name:        r.Name,
			Model:       r.Model,
			Baseline:    r.Baseline,
			Games:       r.Games,
			Wins:        r.Wins,
			Losses:      r.Losses,
			Draws:       r.Draws,
			WinRate:     r.WinRate(),
			AvgPosition: r.AvgPosition(),
			AvgVP:       r.AvgVP(),
			Rating:      r.Rating,
			Glicko:      r.Glicko.Rating,
			GlickoRD:    r.Glicko.RD,
			Competence:  Competence(r, seats, w),

			Decisions:    r.Decisions.Decisions,
			FallbackRate: r.Decisions.FallbackRate(),
			AvgLatencyMS: float64(r.Decisions.AvgLatency().Microseconds()) / 1000,
			CostUSD:      r.Decisions.CostUSD,
		}
		e.WinLow, e.WinHigh = WilsonCI95(r.Wins, r.Draws, r.Games)
		vps := make([]float64, len(r.VPs))
		for i, v := range r.VPs {
			vps[i] = float64(v)
		}
		e.VPLow, e.VPHigh = BootstrapCI95(vps, bootstrapRounds, int64(len(vps)))
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		switch {
		case a.Competence != b.Competence:
			return a.Competence > b.Competence
		case a.WinRate != b.WinRate:
			return a.WinRate > b.WinRate
		case a.Rating != b.Rating:
			return a.Rating > b.Rating
		}
		return a.Name < b.Name
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
