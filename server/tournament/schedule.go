package tournament

import (
	"fmt"
	"math/rand"

	"catan-bench/server/engine"
)

// FillerPrefix names the random seats added when the roster is too small
// for a full table.
const FillerPrefix = "Random_"

type ScheduleOptions struct {
	SeatsPerGame    int
	GamesPerMatchup int
	// Shuffle permutes seats with the seeded generator after rotation.
	Shuffle bool
	Seed    int64
}

// SeatAssignment places one roster name at one engine colour.
type SeatAssignment struct {
	Name  string          `json:"name"`
	Color engine.PlayerID `json:"color"`
}

// Fixture is one scheduled game.
type Fixture struct {
	ID      string           `json:"game_id"`
	Matchup int              `json:"matchup_index"`
	Game    int              `json:"game_number"`
	Seed    int64            `json:"seed"`
	Seats   []SeatAssignment `json:"seats"`
}

// Colors lists the seat colours in seating order.
func (f Fixture) Colors() []engine.PlayerID {
	out := make([]engine.PlayerID, len(f.Seats))
	for i, s := range f.Seats {
		out[i] = s.Color
	}
	return out
}

type Schedule struct {
	Fixtures []Fixture
	// Matchups are the seat sets in play, in roster order.
	Matchups [][]string
	// Fillers are the baseline names appended to a short roster.
	Fillers []string
}

// NewSchedule derives the fixture list from the roster. Every
// SeatsPerGame-sized combination of the roster plays GamesPerMatchup games.
// The result depends only on its inputs.
func NewSchedule(roster []string, opts ScheduleOptions) (Schedule, error) {
	n := opts.SeatsPerGame
	switch {
	case n < 2 || n > len(engine.Colors):
		return Schedule{}, fmt.Errorf("schedule: seats per game must be between 2 and %d, got %d", len(engine.Colors), n)
	case opts.GamesPerMatchup < 1:
		return Schedule{}, fmt.Errorf("schedule: games per matchup must be positive, got %d", opts.GamesPerMatchup)
	case len(roster) == 0:
		return Schedule{}, fmt.Errorf("schedule: empty roster")
	}
	seen := make(map[string]bool, len(roster))
	for _, name := range roster {
		if name == "" {
			return Schedule{}, fmt.Errorf("schedule: empty player name")
		}
		if seen[name] {
			return Schedule{}, fmt.Errorf("schedule: duplicate player %q", name)
		}
		seen[name] = true
	}

	var s Schedule
	names := append([]string(nil), roster...)
	for i := 0; len(names) < n; i++ {
		f := fmt.Sprintf("%s%d", FillerPrefix, i)
		if seen[f] {
			continue
		}
		s.Fillers = append(s.Fillers, f)
		names = append(names, f)
	}

	s.Matchups = combinations(names, n)
	rng := rand.New(rand.NewSource(opts.Seed))
	for m, combo := range s.Matchups {
		for g := 0; g < opts.GamesPerMatchup; g++ {
			order := rotate(combo, g)
			if opts.Shuffle {
				rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
			}
			f := Fixture{
				ID:      fmt.Sprintf("M%02d_G%02d", m+1, g+1),
				Matchup: m + 1,
				Game:    g + 1,
				Seed:    rng.Int63(),
				Seats:   make([]SeatAssignment, n),
			}
			for i, name := range order {
				f.Seats[i] = SeatAssignment{Name: name, Color: engine.Colors[i]}
			}
			s.Fixtures = append(s.Fixtures, f)
		}
	}
	return s, nil
}

// combinations returns the k-subsets of names in lexicographic index order.
func combinations(names []string, k int) [][]string {
	var out [][]string
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		c := make([]string, k)
		for i, j := range idx {
			c[i] = names[j]
		}
		out = append(out, c)

		i := k - 1
		for i >= 0 && idx[i] == len(names)-k+i {
			i--
		}
		if i < 0 {
			return out
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
}

// rotate moves the first seat back by g places so each player opens in turn.
func rotate(names []string, g int) []string {
	out := make([]string, len(names))
	for i := range names {
		out[i] = names[(i+g)%len(names)]
	}
	return out
}
