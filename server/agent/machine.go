package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catan-bench/server/catalog"
	"catan-bench/server/engine"
	"catan-bench/server/llm"
)

// State is a step of one decision. StateResolved and StateFallback are terminal.
type State int

const (
	StateBuildPrompt State = iota
	StateQueryModel
	StateParseReply
	StateValidateIndex
	StateResolved
	StateFallback
)

var stateNames = [...]string{"BUILD_PROMPT", "QUERY_MODEL", "PARSE_REPLY", "VALIDATE_INDEX", "RESOLVED", "FALLBACK"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) Terminal() bool { return s == StateResolved || s == StateFallback }

var errNoActions = errors.New("no legal actions to choose from")

// machine carries one decision through its states. Each transition function
// returns the next state; only retry decides between another query and the
// fallback, so the attempt budget is enforced in one place.
type machine struct {
	a      *LLM
	parent context.Context
	in     Input

	user     string
	entries  []catalog.Entry
	attempts int
	text     string
	index    int
	action   engine.Action
	lastErr  error
	out      Outcome
}

func (m *machine) run() Outcome {
	st := StateBuildPrompt
	for !st.Terminal() {
		st = m.step(st)
	}
	m.out.Final = st
	m.out.Attempts = m.attempts
	m.out.Raw = m.text
	if st == StateResolved {
		m.out.Action, m.out.Index = m.action, m.index
		m.out.Err = nil
		return m.out
	}
	m.out.Fallback = true
	m.out.Err = m.lastErr
	m.out.Index = fallbackIndex(m.in.Actions)
	if m.out.Index >= 0 {
		m.out.Action = m.in.Actions[m.out.Index]
	}
	m.out.Reasoning = ""
	return m.out
}

func (m *machine) step(st State) State {
	switch st {
	case StateBuildPrompt:
		return m.buildPrompt()
	case StateQueryModel:
		return m.query()
	case StateParseReply:
		return m.parse()
	case StateValidateIndex:
		return m.validate()
	}
	return StateFallback
}

func (m *machine) buildPrompt() State {
	if len(m.in.Actions) == 0 {
		m.lastErr = errNoActions
		return StateFallback
	}
	m.entries = catalog.Describe(m.in.Actions)
	user, err := BuildPrompt(m.in, m.entries)
	if err != nil {
		m.lastErr = err
		return StateFallback
	}
	m.user = user
	if m.a.opts.Attempts <= 0 {
		return StateFallback
	}
	return StateQueryModel
}

func (m *machine) query() State {
	if m.attempts > 0 && m.a.opts.RetryDelay > 0 {
		t := time.NewTimer(m.a.opts.RetryDelay)
		select {
		case <-t.C:
		case <-m.parent.Done():
			t.Stop()
			m.lastErr = m.parent.Err()
			return StateFallback
		}
	}
	m.attempts++

	// A cancelled run lets the in-flight query finish; only the per-attempt
	// timeout bounds it.
	c, err := m.generate(context.WithoutCancel(m.parent))
	m.out.PromptTokens += c.PromptTokens
	m.out.CompletionTokens += c.CompletionTokens
	m.out.CostUSD += c.CostUSD
	if err != nil {
		return m.retry(err)
	}
	m.text = c.Text
	return StateParseReply
}

func (m *machine) generate(ctx context.Context) (c llm.Completion, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &llm.ProviderError{Provider: m.a.client.Name(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	c, err = m.a.client.Generate(ctx, SystemPrompt(), m.user, m.a.opts.Timeout)
	if err != nil {
		var pe *llm.ProviderError
		if !errors.As(err, &pe) {
			err = &llm.ProviderError{Provider: m.a.client.Name(), Err: err}
		}
	}
	return c, err
}

func (m *machine) parse() State {
	idx, reasoning, err := ParseReply(m.text)
	if err != nil {
		return m.retry(err)
	}
	m.index = idx
	m.out.Reasoning = reasoning
	return StateValidateIndex
}

func (m *machine) validate() State {
	act, err := catalog.Resolve(m.index, m.in.Actions)
	if err != nil {
		return m.retry(err)
	}
	m.action = act
	return StateResolved
}

// retry records err and spends another attempt if any remain.
func (m *machine) retry(err error) State {
	m.lastErr = err
	m.a.countFailure(err)
	m.a.log.Warn().
		Err(err).
		Str("game", m.in.GameID).
		Str("player", string(m.in.Player)).
		Int("attempt", m.attempts).
		Int("limit", m.a.opts.Attempts).
		Msg("decision attempt failed")
	if m.attempts >= m.a.opts.Attempts || m.parent.Err() != nil {
		return StateFallback
	}
	return StateQueryModel
}

// fallbackIndex is the first building action, else the first action.
func fallbackIndex(actions []engine.Action) int {
	if len(actions) == 0 {
		return -1
	}
	for i, a := range actions {
		if catalog.IsBuild(a.Kind) {
			return i
		}
	}
	return 0
}
