// Package state turns raw engine snapshots into the bounded, per-viewer
// summary embedded in decision prompts.
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"

	"catan-bench/server/engine"
)

const (
	maxTiles       = 19
	maxPorts       = 9
	maxSettlements = 5
	maxCities      = 4
	maxRoads       = 15
	defaultTarget  = 10
)

// SerializationError means the engine state could not be read. It is fatal
// to the match that produced it.
type SerializationError struct {
	Reason string
	Err    error
}

func (e *SerializationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("serialize state: %s: %v", e.Reason, e.Err)
	}
	return "serialize state: " + e.Reason
}

func (e *SerializationError) Unwrap() error { return e.Err }

// TurnInfo carries runner-side metadata that the engine does not know about.
type TurnInfo struct {
	Round     int
	MaxRounds int
}

type Structured struct {
	GameInfo  GameInfo    `json:"game_info"`
	Board     Board       `json:"board_state"`
	Self      Self        `json:"current_player"`
	Opponents []Opponent  `json:"opponents"`
	Cards     Cards       `json:"resources_and_cards"`
	Strategy  Strategy    `json:"strategic_context"`
	Turn      TurnContext `json:"turn_context"`
}

type GameInfo struct {
	Turn            int             `json:"turn_number"`
	Round           int             `json:"round"`
	MaxRounds       int             `json:"max_rounds,omitempty"`
	RoundsRemaining int             `json:"rounds_remaining,omitempty"`
	CurrentColor    engine.PlayerID `json:"current_player_color"`
	Viewer          engine.PlayerID `json:"your_color"`
	Phase           string          `json:"game_phase"`
	VictoryTarget   int             `json:"victory_points_to_win"`
}

type Board struct {
	Robber      []int       `json:"robber_position"`
	Tiles       []TileView  `json:"tiles"`
	Ports       []Port      `json:"ports"`
	Occupancy   []Occupancy `json:"occupancy"`
	LongestRoad string      `json:"longest_road_owner,omitempty"`
	LargestArmy string      `json:"largest_army_owner,omitempty"`
}

type TileView struct {
	Coordinate []int  `json:"coordinate"`
	Resource   string `json:"resource"`
	Number     int    `json:"number,omitempty"`
	HasRobber  bool   `json:"has_robber,omitempty"`
}

type Occupancy struct {
	Color       engine.PlayerID `json:"color"`
	Settlements []int           `json:"settlements"`
	Cities      []int           `json:"cities"`
	Roads       int             `json:"roads"`
}

type Buildings struct {
	Settlements     []int    `json:"settlements"`
	Cities          []int    `json:"cities"`
	Roads           [][2]int `json:"roads"`
	SettlementsLeft int      `json:"settlements_available"`
	CitiesLeft      int      `json:"cities_available"`
	RoadsLeft       int      `json:"roads_available"`
}

type Afford struct {
	Settlement bool `json:"settlement"`
	City       bool `json:"city"`
	Road       bool `json:"road"`
	DevCard    bool `json:"development_card"`
}

type Self struct {
	Color          engine.PlayerID `json:"color"`
	VictoryPoints  int             `json:"victory_points"`
	PublicVP       int             `json:"public_victory_points"`
	ResourceCount  int             `json:"resource_cards_count"`
	Resources      map[string]int  `json:"resources"`
	DevCards       map[string]int  `json:"development_cards"`
	KnightsPlayed  int             `json:"knights_played"`
	LongestRoadLen int             `json:"longest_road_length"`
	Buildings      Buildings       `json:"buildings"`
	CanAfford      Afford          `json:"can_afford"`
}

// Opponent holds only what every player at the table can see.
type Opponent struct {
	Color          engine.PlayerID `json:"color"`
	PublicVP       int             `json:"public_victory_points"`
	ResourceCount  int             `json:"resource_cards_count"`
	DevCardCount   int             `json:"development_cards_count"`
	KnightsPlayed  int             `json:"knights_played"`
	LongestRoadLen int             `json:"longest_road_length"`
	Buildings      Buildings       `json:"buildings"`
}

type Cards struct {
	Bank    map[string]int `json:"resource_bank"`
	DevDeck int            `json:"development_cards_left"`
	Dice    []int          `json:"dice_roll_this_turn,omitempty"`
}

type Trade struct {
	Give  string `json:"offer"`
	Count int    `json:"have"`
	Ratio string `json:"ratio"`
}

type Threat struct {
	Player engine.PlayerID `json:"player"`
	Level  string          `json:"threat_level"`
	VP     int             `json:"public_victory_points"`
}

type Victory struct {
	Current        int    `json:"current_victory_points"`
	Needed         int    `json:"points_needed"`
	TurnsEstimated int    `json:"turns_estimated"`
	Recommended    string `json:"recommended_strategy"`
}

type Strategy struct {
	Trades     []Trade  `json:"trade_opportunities"`
	Priorities []string `json:"building_priorities"`
	Threats    []Threat `json:"threat_assessment"`
	Victory    Victory  `json:"victory_analysis"`
}

type TurnContext struct {
	Prompt    string `json:"current_prompt"`
	Expecting string `json:"expecting_action,omitempty"`
	Phase     string `json:"turn_phase"`
}

// Extract decodes raw and builds the summary seen by viewer.
func Extract(raw []byte, viewer engine.PlayerID, turn TurnInfo) (Structured, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Structured{}, &SerializationError{Reason: "decode snapshot", Err: err}
	}
	return FromSnapshot(snap, viewer, turn)
}

func FromSnapshot(snap Snapshot, viewer engine.PlayerID, turn TurnInfo) (Structured, error) {
	if err := validate(snap, viewer); err != nil {
		return Structured{}, err
	}
	target := snap.VictoryTarget
	if target <= 0 {
		target = defaultTarget
	}

	var me PlayerState
	for _, p := range snap.Players {
		if p.Color == viewer {
			me = p
		}
	}

	out := Structured{
		GameInfo: GameInfo{
			Turn:          snap.Turn,
			Round:         turn.Round,
			MaxRounds:     turn.MaxRounds,
			CurrentColor:  snap.CurrentColor,
			Viewer:        viewer,
			Phase:         gamePhase(snap, viewer),
			VictoryTarget: target,
		},
		Board: board(snap),
		Self: Self{
			Color:          me.Color,
			VictoryPoints:  me.VictoryPoints,
			PublicVP:       me.PublicVP,
			ResourceCount:  sum(me.Resources),
			Resources:      canonical(me.Resources, engine.Resources),
			DevCards:       canonical(me.DevCards, engine.DevCards),
			KnightsPlayed:  me.PlayedDevCards["KNIGHT"],
			LongestRoadLen: me.LongestRoadLen,
			Buildings:      buildings(me),
			CanAfford:      affordability(me.Resources),
		},
		Cards: Cards{
			Bank:    canonical(snap.Bank, engine.Resources),
			DevDeck: snap.DevDeck,
			Dice:    slices.Clone(snap.Dice),
		},
		Turn: turnContext(snap),
	}
	if turn.MaxRounds > 0 {
		out.GameInfo.RoundsRemaining = max(0, turn.MaxRounds-turn.Round)
	}

	for _, p := range snap.Players {
		if p.Color == viewer {
			continue
		}
		out.Opponents = append(out.Opponents, Opponent{
			Color:          p.Color,
			PublicVP:       p.PublicVP,
			ResourceCount:  sum(p.Resources),
			DevCardCount:   sum(p.DevCards),
			KnightsPlayed:  p.PlayedDevCards["KNIGHT"],
			LongestRoadLen: p.LongestRoadLen,
			Buildings:      buildings(p),
		})
	}
	out.Strategy = strategy(snap, me, out.Opponents, target)
	return out, nil
}

// Digest is a short stable reference to a summary, stored with each decision.
func Digest(s Structured) string {
	b, _ := json.Marshal(s)
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:8])
}

func validate(snap Snapshot, viewer engine.PlayerID) error {
	if len(snap.Players) < 2 {
		return &SerializationError{Reason: fmt.Sprintf("expected at least 2 players, got %d", len(snap.Players))}
	}
	seen := map[engine.PlayerID]bool{}
	for i, p := range snap.Players {
		if p.Color == "" {
			return &SerializationError{Reason: fmt.Sprintf("player %d has no color", i)}
		}
		if seen[p.Color] {
			return &SerializationError{Reason: fmt.Sprintf("duplicate player %s", p.Color)}
		}
		seen[p.Color] = true
		if p.VictoryPoints < 0 || p.PublicVP < 0 {
			return &SerializationError{Reason: fmt.Sprintf("negative victory points for %s", p.Color)}
		}
		for _, m := range []map[string]int{p.Resources, p.DevCards, p.PlayedDevCards} {
			for k, v := range m {
				if v < 0 {
					return &SerializationError{Reason: fmt.Sprintf("negative %s count for %s", k, p.Color)}
				}
			}
		}
	}
	if !seen[viewer] {
		return &SerializationError{Reason: fmt.Sprintf("viewer %q is not seated", viewer)}
	}
	return nil
}

func board(snap Snapshot) Board {
	b := Board{Robber: slices.Clone(snap.Robber)}
	for i, t := range snap.Tiles {
		if i == maxTiles {
			break
		}
		b.Tiles = append(b.Tiles, TileView{
			Coordinate: slices.Clone(t.Coordinate),
			Resource:   desert(t.Resource),
			Number:     t.Number,
			HasRobber:  len(snap.Robber) > 0 && slices.Equal(t.Coordinate, snap.Robber),
		})
	}
	for i, p := range snap.Ports {
		if i == maxPorts {
			break
		}
		b.Ports = append(b.Ports, Port{Nodes: slices.Clone(p.Nodes), Resource: p.Resource, Ratio: p.Ratio})
	}
	for _, p := range snap.Players {
		bl := buildings(p)
		b.Occupancy = append(b.Occupancy, Occupancy{
			Color:       p.Color,
			Settlements: bl.Settlements,
			Cities:      bl.Cities,
			Roads:       len(bl.Roads),
		})
	}
	if snap.LongestRoad != nil {
		b.LongestRoad = string(*snap.LongestRoad)
	}
	if snap.LargestArmy != nil {
		b.LargestArmy = string(*snap.LargestArmy)
	}
	return b
}

func buildings(p PlayerState) Buildings {
	s := capped(p.Settlements, maxSettlements)
	c := capped(p.Cities, maxCities)
	r := capped(p.Roads, maxRoads)
	return Buildings{
		Settlements:     s,
		Cities:          c,
		Roads:           r,
		SettlementsLeft: maxSettlements - len(s),
		CitiesLeft:      maxCities - len(c),
		RoadsLeft:       maxRoads - len(r),
	}
}

func capped[T any](xs []T, n int) []T {
	if xs == nil {
		return []T{}
	}
	if len(xs) > n {
		xs = xs[:n]
	}
	return slices.Clone(xs)
}

var (
	settlementCost = map[string]int{"WOOD": 1, "BRICK": 1, "SHEEP": 1, "WHEAT": 1}
	cityCost       = map[string]int{"WHEAT": 2, "ORE": 3}
	roadCost       = map[string]int{"WOOD": 1, "BRICK": 1}
	devCardCost    = map[string]int{"SHEEP": 1, "WHEAT": 1, "ORE": 1}
)

func affordability(hand map[string]int) Afford {
	return Afford{
		Settlement: covers(hand, settlementCost),
		City:       covers(hand, cityCost),
		Road:       covers(hand, roadCost),
		DevCard:    covers(hand, devCardCost),
	}
}

func covers(hand, cost map[string]int) bool {
	for k, n := range cost {
		if hand[k] < n {
			return false
		}
	}
	return true
}

func gamePhase(snap Snapshot, viewer engine.PlayerID) string {
	switch snap.Prompt {
	case "BUILD_INITIAL_SETTLEMENT", "BUILD_INITIAL_ROAD":
		return "setup"
	}
	top := 0
	for _, p := range snap.Players {
		vp := p.PublicVP
		if p.Color == viewer {
			vp = p.VictoryPoints
		}
		top = max(top, vp)
	}
	switch {
	case top < 5:
		return "early"
	case top < 8:
		return "mid"
	default:
		return "late"
	}
}

func turnContext(snap Snapshot) TurnContext {
	tc := TurnContext{Prompt: snap.Prompt}
	switch snap.Prompt {
	case "BUILD_INITIAL_SETTLEMENT":
		tc.Expecting, tc.Phase = "BUILD_SETTLEMENT", "setup"
	case "BUILD_INITIAL_ROAD":
		tc.Expecting, tc.Phase = "BUILD_ROAD", "setup"
	case "PLAY_TURN":
		tc.Expecting = "ROLL_OR_ACTION"
		tc.Phase = "pre_roll"
		if snap.HasRolled {
			tc.Phase = "post_roll"
		}
	case "DISCARD":
		tc.Expecting, tc.Phase = "DISCARD", "discard"
	case "MOVE_ROBBER":
		tc.Expecting, tc.Phase = "MOVE_ROBBER", "move_robber"
	case "DECIDE_TRADE":
		tc.Expecting, tc.Phase = "TRADE_DECISION", "decide_trade"
	default:
		tc.Phase = "unknown"
	}
	return tc
}

func strategy(snap Snapshot, me PlayerState, opps []Opponent, target int) Strategy {
	st := Strategy{Trades: []Trade{}, Threats: []Threat{}}

	ratios := tradeRatios(snap.Ports, me)
	for _, r := range engine.Resources {
		have := me.Resources[r]
		if have >= ratios[r] {
			st.Trades = append(st.Trades, Trade{Give: r, Count: have, Ratio: fmt.Sprintf("%d:1", ratios[r])})
		}
	}

	switch vp := me.VictoryPoints; {
	case vp < 5:
		st.Priorities = []string{"settlements", "roads"}
	case vp < 8:
		st.Priorities = []string{"cities", "development_cards"}
	default:
		st.Priorities = []string{"development_cards", "cities"}
	}

	for _, o := range opps {
		if o.PublicVP >= me.VictoryPoints+2 {
			level := "medium"
			if o.PublicVP >= target-2 {
				level = "high"
			}
			st.Threats = append(st.Threats, Threat{Player: o.Color, Level: level, VP: o.PublicVP})
		}
	}

	needed := max(0, target-me.VictoryPoints)
	st.Victory = Victory{
		Current:        me.VictoryPoints,
		Needed:         needed,
		TurnsEstimated: max(1, needed/2),
		Recommended:    "building",
	}
	if needed <= 3 {
		st.Victory.Recommended = "aggressive"
	}
	return st
}

// tradeRatios gives the best bank rate per resource from the ports the
// player has built on.
func tradeRatios(ports []Port, me PlayerState) map[string]int {
	out := map[string]int{}
	for _, r := range engine.Resources {
		out[r] = 4
	}
	owned := map[int]bool{}
	for _, n := range me.Settlements {
		owned[n] = true
	}
	for _, n := range me.Cities {
		owned[n] = true
	}
	for _, p := range ports {
		if !slices.ContainsFunc(p.Nodes, func(n int) bool { return owned[n] }) {
			continue
		}
		ratio := p.Ratio
		if ratio <= 0 {
			ratio = 3
		}
		if p.Resource == "" {
			for r := range out {
				out[r] = min(out[r], ratio)
			}
			continue
		}
		if _, ok := out[p.Resource]; ok {
			out[p.Resource] = min(out[p.Resource], ratio)
		}
	}
	return out
}

func canonical(m map[string]int, keys []string) map[string]int {
	out := make(map[string]int, len(keys))
	for _, k := range keys {
		out[k] = m[k]
	}
	return out
}

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

func desert(r string) string {
	if r == "" {
		return "DESERT"
	}
	return r
}
