// Package agent turns a serialized game state into one legal action, either
// by asking a model or, for seat fillers, at random.
package agent

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"catan-bench/server/catalog"
	"catan-bench/server/llm"
	"catan-bench/server/telemetry"

	"github.com/rs/zerolog"
)

type Options struct {
	Attempts   int
	Timeout    time.Duration
	RetryDelay time.Duration
}

// LLM decides by querying a model client.
type LLM struct {
	name    string
	client  llm.Client
	opts    Options
	log     zerolog.Logger
	metrics *telemetry.Metrics

	mu    sync.Mutex
	stats Stats
}

func New(name string, client llm.Client, opts Options, log zerolog.Logger, metrics *telemetry.Metrics) *LLM {
	return &LLM{
		name:    name,
		client:  client,
		opts:    opts,
		log:     log.With().Str("agent", name).Str("model", client.Name()).Logger(),
		metrics: metrics,
	}
}

func (a *LLM) Name() string { return a.name }

func (a *LLM) Decide(ctx context.Context, in Input) Outcome {
	start := time.Now()
	m := &machine{a: a, parent: ctx, in: in}
	out := m.run()
	out.Latency = time.Since(start)

	a.mu.Lock()
	a.stats.Decisions++
	a.stats.Attempts += out.Attempts
	if out.Attempts > 1 {
		a.stats.Retries += out.Attempts - 1
	}
	if out.Fallback {
		a.stats.Fallbacks++
	} else {
		a.stats.Resolved++
	}
	a.stats.Latency += out.Latency
	a.stats.PromptTokens += out.PromptTokens
	a.stats.CompletionTokens += out.CompletionTokens
	a.stats.CostUSD += out.CostUSD
	a.mu.Unlock()

	a.metrics.RecordDecision(ctx, a.name, out.Fallback, out.Attempts, out.Latency)
	if out.Fallback {
		a.log.Info().
			Str("game", in.GameID).
			Int("attempts", out.Attempts).
			Int("index", out.Index).
			AnErr("cause", out.Err).
			Msg("decision fell back")
	} else {
		a.log.Debug().
			Str("game", in.GameID).
			Int("index", out.Index).
			Str("action", catalog.Text(out.Action)).
			Dur("latency", out.Latency).
			Msg("decision resolved")
	}
	return out
}

func (a *LLM) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *LLM) countFailure(err error) {
	var (
		pe  *llm.ProviderError
		pa  *ParseError
		oor *catalog.IndexOutOfRangeError
	)
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case errors.As(err, &pe):
		a.stats.ProviderErrors++
	case errors.As(err, &pa):
		a.stats.ParseErrors++
	case errors.As(err, &oor):
		a.stats.RangeErrors++
	}
}

// Baseline picks uniformly among the legal actions. It fills empty seats
// and gives the models something to beat.
type Baseline struct {
	name string

	mu    sync.Mutex
	rng   *rand.Rand
	stats Stats
}

func NewBaseline(name string, seed int64) *Baseline {
	return &Baseline{name: name, rng: rand.New(rand.NewSource(seed))}
}

func (b *Baseline) Name() string { return b.name }

func (b *Baseline) Decide(_ context.Context, in Input) Outcome {
	start := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stats.Decisions++
	if len(in.Actions) == 0 {
		b.stats.Fallbacks++
		return Outcome{Index: -1, Fallback: true, Final: StateFallback, Err: errNoActions}
	}
	i := b.rng.Intn(len(in.Actions))
	b.stats.Resolved++
	out := Outcome{Action: in.Actions[i], Index: i, Final: StateResolved, Latency: time.Since(start)}
	b.stats.Latency += out.Latency
	return out
}

func (b *Baseline) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
