// Package catalog indexes the engine's legal actions and renders each one as
// text a model can choose from by number.
package catalog

import (
	"encoding/json"
	"fmt"
	"strings"

	"catan-bench/server/engine"
)

type Entry struct {
	Index int               `json:"index"`
	Kind  engine.ActionKind `json:"kind"`
	Text  string            `json:"text"`
}

// IndexOutOfRangeError is the single validation gate between a model's
// choice and the engine.
type IndexOutOfRangeError struct {
	Index int
	Len   int
}

func (e *IndexOutOfRangeError) Error() string {
	return fmt.Sprintf("action index %d out of range [0, %d)", e.Index, e.Len)
}

// Describe keeps the engine's order exactly: entry i describes actions[i].
func Describe(actions []engine.Action) []Entry {
	out := make([]Entry, len(actions))
	for i, a := range actions {
		out[i] = Entry{Index: i, Kind: a.Kind, Text: Text(a)}
	}
	return out
}

func Resolve(i int, actions []engine.Action) (engine.Action, error) {
	if i < 0 || i >= len(actions) {
		return engine.Action{}, &IndexOutOfRangeError{Index: i, Len: len(actions)}
	}
	return actions[i], nil
}

// Listing renders entries one per line as "i: text".
func Listing(entries []Entry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%d: %s\n", e.Index, e.Text)
	}
	return b.String()
}

// IsBuild reports the kinds preferred when a decision falls back.
func IsBuild(k engine.ActionKind) bool {
	switch k {
	case engine.BuildSettlement, engine.BuildCity, engine.BuildRoad, engine.BuyDevCard:
		return true
	}
	return false
}

const (
	Building = "building"
	Trading  = "trading"
	DevCards = "development_cards"
	GameFlow = "game_flow"
	Special  = "special"
)

func category(k engine.ActionKind) string {
	switch k {
	case engine.BuildSettlement, engine.BuildCity, engine.BuildRoad:
		return Building
	case engine.MaritimeTrade, engine.OfferTrade, engine.AcceptTrade, engine.RejectTrade,
		engine.ConfirmTrade, engine.CancelTrade:
		return Trading
	case engine.BuyDevCard, engine.PlayKnight, engine.PlayYearOfPlenty, engine.PlayMonopoly,
		engine.PlayRoadBuilding:
		return DevCards
	case engine.Roll, engine.EndTurn:
		return GameFlow
	}
	return Special
}

// Categories groups action indices; empty groups are left out.
func Categories(actions []engine.Action) map[string][]int {
	out := map[string][]int{}
	for i, a := range actions {
		c := category(a.Kind)
		out[c] = append(out[c], i)
	}
	return out
}

// Text names the action kind and every parameter it carries.
func Text(a engine.Action) string {
	switch a.Kind {
	case engine.Roll:
		return "Roll the dice to start your turn"
	case engine.EndTurn:
		return "End your turn"
	case engine.BuyDevCard:
		return "Buy a development card"
	case engine.PlayKnight:
		return "Play a Knight card (move the robber)"
	case engine.PlayRoadBuilding:
		return "Play Road Building card to build 2 roads"
	case engine.AcceptTrade:
		if s, ok := tradeText(a.Value); ok {
			return "Accept trade: " + s
		}
		return "Accept the proposed trade"
	case engine.RejectTrade:
		return "Reject the proposed trade"
	case engine.CancelTrade:
		return "Cancel your trade offer"
	case engine.BuildSettlement:
		var node int
		if decode(a.Value, &node) {
			return fmt.Sprintf("Build settlement at node %d", node)
		}
	case engine.BuildCity:
		var node int
		if decode(a.Value, &node) {
			return fmt.Sprintf("Upgrade settlement to city at node %d", node)
		}
	case engine.BuildRoad:
		var edge [2]int
		if decode(a.Value, &edge) {
			return fmt.Sprintf("Build road between nodes %d and %d", edge[0], edge[1])
		}
	case engine.PlayYearOfPlenty:
		var res []string
		if decode(a.Value, &res) && len(res) > 0 {
			return "Play Year of Plenty to take " + joinAnd(lower(res))
		}
	case engine.PlayMonopoly:
		var res string
		if decode(a.Value, &res) && res != "" {
			return "Play Monopoly to collect all " + strings.ToLower(res)
		}
	case engine.MaritimeTrade:
		if s, ok := maritimeText(a.Value); ok {
			return s
		}
	case engine.OfferTrade:
		if s, ok := tradeText(a.Value); ok {
			return "Offer trade: " + s
		}
	case engine.ConfirmTrade:
		if s, ok := tradeText(a.Value); ok {
			return "Confirm trade: " + s
		}
	case engine.MoveRobber:
		if s, ok := robberText(a.Value); ok {
			return s
		}
	case engine.Discard:
		if s, ok := discardText(a.Value); ok {
			return "Discard " + s
		}
	}
	return fallbackText(a)
}

func fallbackText(a engine.Action) string {
	name := strings.ReplaceAll(strings.ToLower(string(a.Kind)), "_", " ")
	if len(a.Value) == 0 || string(a.Value) == "null" {
		return name
	}
	return fmt.Sprintf("%s %s", name, compact(a.Value))
}

// maritimeText reads [give x4 ..., want] as served by the engine, where the
// leading entries are the offered resources and the last one is requested.
func maritimeText(raw json.RawMessage) (string, bool) {
	var v []*string
	if !decode(raw, &v) || len(v) < 2 || v[len(v)-1] == nil {
		return "", false
	}
	counts := map[string]int{}
	n := 0
	for _, r := range v[:len(v)-1] {
		if r == nil {
			continue
		}
		counts[*r]++
		n++
	}
	if n == 0 {
		return "", false
	}
	return fmt.Sprintf("Trade %s for 1 %s at %d:1 rate",
		freq(counts), strings.ToLower(*v[len(v)-1]), n), true
}

// tradeText reads a 10-entry freqdeck: offered counts then requested counts.
func tradeText(raw json.RawMessage) (string, bool) {
	var v []int
	if !decode(raw, &v) || len(v) < 10 {
		return "", false
	}
	return fmt.Sprintf("give %s for %s", deck(v[:5]), deck(v[5:10])), true
}

func robberText(raw json.RawMessage) (string, bool) {
	var v []json.RawMessage
	if !decode(raw, &v) || len(v) < 1 {
		return "", false
	}
	var coord []int
	if !decode(v[0], &coord) {
		return "", false
	}
	where := fmt.Sprintf("Move robber to tile (%s)", ints(coord))
	var victim *string
	if len(v) > 1 {
		_ = json.Unmarshal(v[1], &victim)
	}
	if victim == nil || *victim == "" {
		return where + " without stealing", true
	}
	return fmt.Sprintf("%s and steal from %s", where, *victim), true
}

func discardText(raw json.RawMessage) (string, bool) {
	var counts []int
	if decode(raw, &counts) && len(counts) == len(engine.Resources) {
		return deck(counts), true
	}
	var list []string
	if decode(raw, &list) && len(list) > 0 {
		m := map[string]int{}
		for _, r := range list {
			m[r]++
		}
		return freq(m), true
	}
	return "", false
}

func deck(counts []int) string {
	var parts []string
	for i, c := range counts {
		if c > 0 && i < len(engine.Resources) {
			parts = append(parts, fmt.Sprintf("%d %s", c, strings.ToLower(engine.Resources[i])))
		}
	}
	if len(parts) == 0 {
		return "nothing"
	}
	return strings.Join(parts, ", ")
}

func freq(m map[string]int) string {
	var parts []string
	for _, r := range engine.Resources {
		if c := m[r]; c > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c, strings.ToLower(r)))
		}
	}
	if len(parts) == 0 {
		return "nothing"
	}
	return strings.Join(parts, ", ")
}

func decode(raw json.RawMessage, v any) bool {
	if len(raw) == 0 {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

func ints(xs []int) string {
	s := make([]string, len(xs))
	for i, x := range xs {
		s[i] = fmt.Sprint(x)
	}
	return strings.Join(s, ",")
}

func lower(xs []string) []string {
	out := make([]string, len(xs))
	for i, x := range xs {
		out[i] = strings.ToLower(x)
	}
	return out
}

func joinAnd(xs []string) string {
	if len(xs) == 1 {
		return xs[0]
	}
	return strings.Join(xs[:len(xs)-1], ", ") + " and " + xs[len(xs)-1]
}

func compact(raw json.RawMessage) string {
	s := strings.Join(strings.Fields(string(raw)), "")
	if len(s) > 80 {
		s = s[:77] + "..."
	}
	return s
}
