// Package match plays one game against the rules engine, one decision at a
// time, and records what happened.
package match

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catan-bench/server/agent"
	"catan-bench/server/catalog"
	"catan-bench/server/engine"
	"catan-bench/server/state"
	"catan-bench/server/telemetry"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	MaxRounds    int
	MaxDecisions int
	// KeepStates stores the full serialized state on every decision instead
	// of only its digest.
	KeepStates bool
}

// Seat binds a roster player to an engine colour for one game.
type Seat struct {
	Name  string
	Model string
	Color engine.PlayerID
	Agent agent.Decider
}

type Runner struct {
	cfg     Config
	log     zerolog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

func NewRunner(cfg Config, log zerolog.Logger, metrics *telemetry.Metrics) *Runner {
	if cfg.MaxDecisions <= 0 {
		cfg.MaxDecisions = 5000
	}
	return &Runner{cfg: cfg, log: log, metrics: metrics, now: time.Now}
}

// Play drives g until it ends. It never returns an error: failures end the
// game with FatalError and are described in Result.Error.
//
// Cancelling ctx stops the game before its next decision. The decision in
// progress, including its engine calls, always completes.
func (r *Runner) Play(ctx context.Context, id string, g engine.Game, seats []Seat) Result {
	ctx, span := telemetry.Tracer().Start(ctx, "match.play", trace.WithAttributes(
		attribute.String("game.id", id),
		attribute.Int("game.seats", len(seats)),
	))
	defer span.End()

	log := r.log.With().Str("game", id).Logger()
	p := &play{r: r, ctx: ctx, ectx: context.WithoutCancel(ctx), g: g, seats: seats, log: log}
	p.res = Result{GameID: id, Started: r.now(), Players: make([]Participant, len(seats))}
	for i, s := range seats {
		p.res.Players[i] = Participant{Name: s.Name, Model: s.Model, Color: s.Color}
	}

	err := p.loop()
	p.finish(err)

	span.SetAttributes(
		attribute.String("game.reason", string(p.res.Reason)),
		attribute.Int("game.decisions", len(p.res.Decisions)),
	)
	if err != nil && p.res.Reason == FatalError {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.metrics.RecordGame(ctx, string(p.res.Reason))

	ev := log.Info()
	if p.res.Reason == FatalError {
		ev = log.Error().Err(err)
	}
	ev.Str("reason", string(p.res.Reason)).
		Str("winner", p.res.Winner).
		Int("rounds", p.res.Rounds).
		Int("decisions", len(p.res.Decisions)).
		Int("fallbacks", p.res.Fallbacks()).
		Dur("took", p.res.Duration()).
		Msg("game finished")
	return p.res
}

var errCancelled = errors.New("run cancelled")

type play struct {
	r     *Runner
	ctx   context.Context // cancellation is only observed between decisions
	ectx  context.Context // engine calls
	g     engine.Game
	seats []Seat
	log   zerolog.Logger

	turns int
	res   Result
}

func (p *play) loop() error {
	if len(p.seats) < 2 {
		return engine.Contract("seats", fmt.Sprintf("need at least 2 seats, got %d", len(p.seats)), nil)
	}
	for {
		if p.ctx.Err() != nil {
			p.res.Reason = Cancelled
			return errCancelled
		}

		over, err := p.g.Over(p.ectx)
		if err != nil {
			return fmt.Errorf("game over check: %w", err)
		}
		if over {
			p.res.Reason = Victory
			return nil
		}
		if p.rounds() >= p.r.cfg.MaxRounds {
			p.res.Reason = RoundLimit
			return nil
		}
		if len(p.res.Decisions) >= p.r.cfg.MaxDecisions {
			return engine.Contract("loop", fmt.Sprintf("no result after %d decisions", len(p.res.Decisions)), nil)
		}

		if err := p.decide(); err != nil {
			return err
		}
	}
}

func (p *play) rounds() int { return p.turns / len(p.seats) }

func (p *play) decide() error {
	cur, err := p.g.CurrentPlayer(p.ectx)
	if err != nil {
		return fmt.Errorf("current player: %w", err)
	}
	seat, ok := p.seat(cur)
	if !ok {
		return engine.Contract("current player", fmt.Sprintf("%s is not seated", cur), nil)
	}
	actions, err := p.g.LegalActions(p.ectx)
	if err != nil {
		return fmt.Errorf("legal actions: %w", err)
	}
	if len(actions) == 0 {
		return engine.Contract("legal actions", fmt.Sprintf("no legal actions for %s while the game is running", cur), nil)
	}

	raw, err := p.g.Snapshot(p.ectx)
	if err != nil {
		return &state.SerializationError{Reason: "read engine state", Err: err}
	}
	st, err := state.Extract(raw, cur, state.TurnInfo{Round: p.rounds() + 1, MaxRounds: p.r.cfg.MaxRounds})
	if err != nil {
		return err
	}

	in := agent.Input{GameID: p.res.GameID, Player: cur, Round: p.rounds() + 1, State: st, Actions: actions}
	// The agent sees the live context so it stops retrying once the run is
	// cancelled; it detaches its own in-flight query.
	out := seat.Agent.Decide(p.ctx, in)
	if out.Index < 0 || out.Index >= len(actions) {
		return engine.Contract("decide", fmt.Sprintf("agent %s returned index %d of %d", seat.Name, out.Index, len(actions)), out.Err)
	}

	entries := catalog.Describe(actions)
	d := Decision{
		Seq:         len(p.res.Decisions) + 1,
		Turn:        p.turns + 1,
		Round:       p.rounds() + 1,
		Player:      seat.Name,
		Color:       cur,
		StateDigest: state.Digest(st),
		Options:     make([]string, len(entries)),
		Index:       out.Index,
		Action:      out.Action,
		ActionText:  entries[out.Index].Text,
		Fallback:    out.Fallback,
		Success:     !out.Fallback,
		FinalState:  out.Final.String(),
		Attempts:    out.Attempts,
		Raw:         out.Raw,
		Reasoning:   out.Reasoning,
		LatencyMS:   out.Latency.Milliseconds(),
		Tokens:      out.PromptTokens + out.CompletionTokens,
		CostUSD:     out.CostUSD,
		At:          p.r.now(),
	}
	for i, e := range entries {
		d.Options[i] = e.Text
	}
	if out.Err != nil {
		d.Error = out.Err.Error()
	}
	if p.r.cfg.KeepStates {
		d.State = &st
	}
	p.res.Decisions = append(p.res.Decisions, d)

	if err := p.g.Apply(p.ectx, out.Action); err != nil {
		var ill *engine.IllegalActionError
		if errors.As(err, &ill) {
			p.log.Error().
				Str("player", seat.Name).
				Str("action", d.ActionText).
				Bool("fallback", out.Fallback).
				Msg("engine rejected a listed action")
		}
		return fmt.Errorf("apply: %w", err)
	}
	if out.Action.Kind == engine.EndTurn {
		p.turns++
	}
	return nil
}

func (p *play) seat(c engine.PlayerID) (Seat, bool) {
	for _, s := range p.seats {
		if s.Color == c {
			return s, true
		}
	}
	return Seat{}, false
}

// finish fills in scores, positions and the winner. Final scores are read
// for every ending; only rated endings treat a failed read as fatal.
func (p *play) finish(err error) {
	defer func() { p.res.Finished = p.r.now() }()
	p.res.Turns = p.turns
	p.res.Rounds = p.rounds()
	if len(p.seats) > 0 {
		p.res.Stats = make(map[string]agent.Stats, len(p.seats))
		for _, s := range p.seats {
			p.res.Stats[s.Name] = s.Agent.Stats()
		}
	}

	if err != nil && p.res.Reason != Cancelled {
		p.res.Reason = FatalError
	}
	if err != nil {
		p.res.Error = err.Error()
	}

	vps := make([]int, len(p.seats))
	for i, s := range p.seats {
		vp, verr := p.g.VictoryPoints(p.ectx, s.Color)
		if verr != nil {
			if p.res.Reason.Rated() {
				p.res.Reason = FatalError
				p.res.Error = fmt.Sprintf("final scores: %v", verr)
			}
			continue
		}
		vps[i] = vp
		p.res.Players[i].VP = vp
	}
	for i, pos := range Positions(vps) {
		p.res.Players[i].Position = pos
	}

	switch p.res.Reason {
	case Victory:
		c, ok, werr := p.g.Winner(p.ectx)
		if werr != nil || !ok {
			p.res.Reason = FatalError
			p.res.Error = engine.Contract("winner", "game over without a winner", werr).Error()
			return
		}
		s, seated := p.seat(c)
		if !seated {
			p.res.Reason = FatalError
			p.res.Error = engine.Contract("winner", fmt.Sprintf("winner %s is not seated", c), nil).Error()
			return
		}
		p.res.Winner = s.Name
	case RoundLimit:
		p.res.Winner = leader(p.res.Players)
	}
}

// leader is the strictly highest scorer, or "" on a shared top score.
func leader(ps []Participant) string {
	best, name, tied := -1, "", false
	for _, p := range ps {
		switch {
		case p.VP > best:
			best, name, tied = p.VP, p.Name, false
		case p.VP == best:
			tied = true
		}
	}
	if tied {
		return ""
	}
	return name
}
