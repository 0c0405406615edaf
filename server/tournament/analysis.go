package tournament

import (
	"slices"
	"sort"
	"strings"

	"catan-bench/server/match"
)

// Analysis summarises a whole run.
type Analysis struct {
	TotalGames       int                  `json:"total_games"`
	CompletedGames   int                  `json:"completed_games"`
	FailedGames      int                  `json:"failed_games"`
	CancelledGames   int                  `json:"cancelled_games"`
	SuccessRate      float64              `json:"success_rate"`
	Terminations     map[match.Reason]int `json:"terminations"`
	WinCounts        map[string]int       `json:"win_counts"`
	Decisions        int                  `json:"decisions"`
	Fallbacks        int                  `json:"fallbacks"`
	AvgRounds        float64              `json:"average_rounds"`
	AvgDurationSec   float64              `json:"average_game_duration"`
	TotalDurationSec float64              `json:"total_tournament_duration"`
}

func Analyze(results []match.Result) Analysis {
	a := Analysis{
		TotalGames:   len(results),
		Terminations: map[match.Reason]int{},
		WinCounts:    map[string]int{},
	}
	rounds := 0
	for _, r := range results {
		a.Terminations[r.Reason]++
		switch {
		case r.Reason.Rated():
			a.CompletedGames++
			rounds += r.Rounds
		case r.Reason == match.Cancelled:
			a.CancelledGames++
		default:
			a.FailedGames++
		}
		if r.Winner != "" {
			a.WinCounts[r.Winner]++
		}
		a.Decisions += len(r.Decisions)
		a.Fallbacks += r.Fallbacks()
		a.TotalDurationSec += r.Duration().Seconds()
	}
	if a.TotalGames > 0 {
		a.SuccessRate = float64(a.CompletedGames) / float64(a.TotalGames)
		a.AvgDurationSec = a.TotalDurationSec / float64(a.TotalGames)
	}
	if a.CompletedGames > 0 {
		a.AvgRounds = float64(rounds) / float64(a.CompletedGames)
	}
	return a
}

// Matchup tallies the games of one seat set.
type Matchup struct {
	Key     string         `json:"key"`
	Players []string       `json:"players"`
	Games   int            `json:"games"`
	Wins    map[string]int `json:"wins"`
	NoWin   int            `json:"no_winner"`
}

// Matchups groups rated results by their sorted seat set.
func Matchups(results []match.Result) []Matchup {
	byKey := map[string]*Matchup{}
	for _, r := range results {
		if !r.Reason.Rated() {
			continue
		}
		names := make([]string, len(r.Players))
		for i, p := range r.Players {
			names[i] = p.Name
		}
		sort.Strings(names)
		key := strings.Join(names, "_vs_")
		m, ok := byKey[key]
		if !ok {
			m = &Matchup{Key: key, Players: names, Wins: map[string]int{}}
			for _, n := range names {
				m.Wins[n] = 0
			}
			byKey[key] = m
		}
		m.Games++
		if r.Winner != "" {
			m.Wins[r.Winner]++
		} else {
			m.NoWin++
		}
	}
	out := make([]Matchup, 0, len(byKey))
	for _, m := range byKey {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// HeadToHead counts, for row player and column opponent, the games the row
// player won with the opponent at the table. A shared top score splits the
// win evenly among the tied leaders.
func HeadToHead(results []match.Result) map[string]map[string]float64 {
	h := map[string]map[string]float64{}
	add := func(w, o string, v float64) {
		if h[w] == nil {
			h[w] = map[string]float64{}
		}
		h[w][o] += v
	}
	for _, r := range results {
		if !r.Reason.Rated() {
			continue
		}
		var leaders []string
		if r.Winner != "" {
			leaders = []string{r.Winner}
		} else {
			for _, p := range r.Players {
				if p.Position == 1 {
					leaders = append(leaders, p.Name)
				}
			}
		}
		if len(leaders) == 0 {
			continue
		}
		share := 1.0 / float64(len(leaders))
		for _, w := range leaders {
			for _, p := range r.Players {
				if !slices.Contains(leaders, p.Name) {
					add(w, p.Name, share)
				}
			}
		}
	}
	return h
}
