package agent

import (
	"context"
	"time"

	"catan-bench/server/engine"
	"catan-bench/server/state"
)

// Input is everything a decider sees for one choice. The runner has already
// serialized the state, so deciding never touches the engine.
type Input struct {
	GameID  string
	Player  engine.PlayerID
	Round   int
	State   state.Structured
	Actions []engine.Action
}

// Outcome is the result of one decision. Index always points into
// Input.Actions; Fallback marks that the model's own choice was not used.
type Outcome struct {
	Action           engine.Action
	Index            int
	Fallback         bool
	Final            State
	Attempts         int
	Raw              string
	Reasoning        string
	Latency          time.Duration
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	Err              error
}

// Decider picks one of the legal actions. Decide never fails: every path
// ends in a resolved or fallback action.
type Decider interface {
	Name() string
	Decide(ctx context.Context, in Input) Outcome
	Stats() Stats
}

// Stats are read-only counters for reporting. They never feed back into a
// decision.
type Stats struct {
	Decisions        int           `json:"decisions"`
	Resolved         int           `json:"resolved"`
	Fallbacks        int           `json:"fallbacks"`
	Attempts         int           `json:"attempts"`
	Retries          int           `json:"retries"`
	ProviderErrors   int           `json:"provider_errors"`
	ParseErrors      int           `json:"parse_errors"`
	RangeErrors      int           `json:"range_errors"`
	Latency          time.Duration `json:"latency_ns"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	CostUSD          float64       `json:"cost_usd"`
}

func (s Stats) Merge(o Stats) Stats {
	s.Decisions += o.Decisions
	s.Resolved += o.Resolved
	s.Fallbacks += o.Fallbacks
	s.Attempts += o.Attempts
	s.Retries += o.Retries
	s.ProviderErrors += o.ProviderErrors
	s.ParseErrors += o.ParseErrors
	s.RangeErrors += o.RangeErrors
	s.Latency += o.Latency
	s.PromptTokens += o.PromptTokens
	s.CompletionTokens += o.CompletionTokens
	s.CostUSD += o.CostUSD
	return s
}

func (s Stats) FallbackRate() float64 {
	if s.Decisions == 0 {
		return 0
	}
	return float64(s.Fallbacks) / float64(s.Decisions)
}

func (s Stats) AvgLatency() time.Duration {
	if s.Decisions == 0 {
		return 0
	}
	return s.Latency / time.Duration(s.Decisions)
}
