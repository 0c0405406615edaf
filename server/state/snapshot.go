package state

import "catan-bench/server/engine"

// Snapshot mirrors the state document served by the rules sidecar.
type Snapshot struct {
	Turn          int              `json:"turn"`
	CurrentColor  engine.PlayerID  `json:"current_color"`
	Prompt        string           `json:"current_prompt"`
	HasRolled     bool             `json:"has_rolled"`
	Dice          []int            `json:"dice,omitempty"`
	Robber        []int            `json:"robber_coordinate"`
	Tiles         []Tile           `json:"tiles"`
	Ports         []Port           `json:"ports"`
	Players       []PlayerState    `json:"players"`
	Bank          map[string]int   `json:"bank"`
	DevDeck       int              `json:"development_cards_left"`
	LongestRoad   *engine.PlayerID `json:"longest_road_owner"`
	LargestArmy   *engine.PlayerID `json:"largest_army_owner"`
	VictoryTarget int              `json:"victory_points_to_win,omitempty"`
}

type Tile struct {
	Coordinate []int  `json:"coordinate"`
	Resource   string `json:"resource"` // empty for the desert
	Number     int    `json:"number"`
}

type Port struct {
	Nodes    []int  `json:"nodes"`
	Resource string `json:"resource"` // empty for 3:1 ports
	Ratio    int    `json:"ratio"`
}

type PlayerState struct {
	Color          engine.PlayerID `json:"color"`
	VictoryPoints  int             `json:"victory_points"`
	PublicVP       int             `json:"public_victory_points"`
	Resources      map[string]int  `json:"resources"`
	DevCards       map[string]int  `json:"development_cards"`
	PlayedDevCards map[string]int  `json:"played_development_cards"`
	Settlements    []int           `json:"settlements"`
	Cities         []int           `json:"cities"`
	Roads          [][2]int        `json:"roads"`
	LongestRoadLen int             `json:"longest_road_length"`
}
