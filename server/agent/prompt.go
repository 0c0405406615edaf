package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"catan-bench/server/catalog"
)

const benchSystem = `
You are an expert Settlers of Catan player competing against other AI players.

Objective:
- Reach 10 victory points first. Settlements are worth 1, cities 2, Longest Road 2, Largest Army 2, Victory Point cards 1.

Costs:
- Road: 1 wood + 1 brick.
- Settlement: 1 wood + 1 brick + 1 sheep + 1 wheat.
- City: 3 ore + 2 wheat.
- Development card: 1 sheep + 1 wheat + 1 ore.

Strategic principles:
- Production first: build on numbers 6 and 8 and diversify resources early.
- Expand toward ports and open intersections before opponents block you.
- Upgrade to cities once ore and wheat income is steady; they double production.
- Trade with the bank at your best ratio when it completes a build this turn.
- Place the robber on the leader's strongest tile; play knights to protect your own.
- Keep your hand at seven cards or fewer when a seven could be rolled.
- Watch public victory points and deny anyone close to winning.

Decision framework:
- Prefer actions that gain victory points or production now.
- End your turn only when nothing useful remains.
`

const replyContract = `Respond ONLY with a JSON object of the form {"action_index": <int>, "reasoning": "<one short sentence>"}.
action_index must be one of the numbers listed under AVAILABLE ACTIONS. No prose, no markdown.`

var phaseAdvice = map[string]string{
	"setup": "Setup phase: pick intersections touching high-probability numbers (6, 8, 5, 9) and at least three different resources.",
	"early": "Early game: expand. Roads and settlements grow production; avoid spending on development cards unless nothing else fits.",
	"mid":   "Mid game: convert production into cities and contest Longest Road or Largest Army.",
	"late":  "Late game: count points. Take any action that wins now, and block or rob the leader.",
}

// SystemPrompt is the static guidance sent with every decision.
func SystemPrompt() string {
	return strings.TrimSpace(benchSystem) + "\n\n" + replyContract
}

// BuildPrompt renders the per-decision user message. It is a pure function of
// its input.
func BuildPrompt(in Input, entries []catalog.Entry) (string, error) {
	st, err := json.MarshalIndent(in.State, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s. Round %d", in.Player, in.Round)
	if in.State.GameInfo.MaxRounds > 0 {
		fmt.Fprintf(&b, " of %d", in.State.GameInfo.MaxRounds)
	}
	b.WriteString(".\n")
	if tip, ok := phaseAdvice[in.State.GameInfo.Phase]; ok {
		b.WriteString(tip)
		b.WriteByte('\n')
	}

	b.WriteString("\nGAME STATE (JSON):\n")
	b.Write(st)
	b.WriteString("\n\nAVAILABLE ACTIONS:\n")
	b.WriteString(catalog.Listing(entries))

	if cats := catalog.Categories(in.Actions); len(cats) > 1 {
		b.WriteString("\nBY CATEGORY:\n")
		names := make([]string, 0, len(cats))
		for k := range cats {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			fmt.Fprintf(&b, "- %s: %s\n", k, joinInts(cats[k]))
		}
	}

	fmt.Fprintf(&b, "\nChoose exactly one action by its number (0 to %d).\n", len(entries)-1)
	b.WriteString(replyContract)
	return b.String(), nil
}

func joinInts(xs []int) string {
	s := make([]string, len(xs))
	for i, x := range xs {
		s[i] = fmt.Sprint(x)
	}
	return strings.Join(s, ", ")
}
