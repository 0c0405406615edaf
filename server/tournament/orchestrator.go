// Package tournament schedules games across a roster, plays them through the
// match runner and keeps the records, ratings and leaderboard of one run.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"catan-bench/server/agent"
	"catan-bench/server/engine"
	"catan-bench/server/match"
	"catan-bench/server/telemetry"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Entrant is one roster player.
type Entrant struct {
	Name     string
	Model    string
	Baseline bool
	// NewAgent builds a fresh decider for one game. Agents are never shared
	// between games.
	NewAgent func(seed int64) agent.Decider
}

// BaselineEntrant is a random-move player.
func BaselineEntrant(name string) Entrant {
	return Entrant{
		Name:     name,
		Model:    "random",
		Baseline: true,
		NewAgent: func(seed int64) agent.Decider { return agent.NewBaseline(name, seed) },
	}
}

type Options struct {
	Schedule    ScheduleOptions
	Parallelism int
	Elo         Elo
	Weights     Weights
	Match       match.Config
}

// Run is everything one tournament produced.
type Run struct {
	ID              string         `json:"run_id"`
	Started         time.Time      `json:"started_at"`
	Finished        time.Time      `json:"finished_at"`
	SeatsPerGame    int            `json:"seats_per_game"`
	GamesPerMatchup int            `json:"games_per_matchup"`
	Scheduled       int            `json:"scheduled_games"`
	Cancelled       bool           `json:"cancelled"`
	Results         []match.Result `json:"games"`
	Records         []PlayerRecord `json:"player_stats"`
	Leaderboard     []Entry        `json:"leaderboard"`
	Fixtures        []Fixture      `json:"-"`
}

// Sink persists a finished run.
type Sink interface {
	SaveRun(ctx context.Context, run Run) error
}

// Orchestrator owns the roster and the running leaderboard of one run.
type Orchestrator struct {
	id       string
	opts     Options
	factory  engine.Factory
	runner   *match.Runner
	log      zerolog.Logger
	metrics  *telemetry.Metrics
	entrants map[string]Entrant
	order    []string
	sched    Schedule

	onResult func(match.Result, []Entry)
	sinks    []Sink
	notify   sync.Mutex

	mu      sync.Mutex
	records map[string]*PlayerRecord
	results []match.Result
}

func New(id string, roster []Entrant, factory engine.Factory, opts Options, log zerolog.Logger, metrics *telemetry.Metrics) (*Orchestrator, error) {
	if opts.Parallelism < 1 {
		opts.Parallelism = 1
	}
	if opts.Elo.K == 0 {
		opts.Elo = DefaultElo()
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}

	names := make([]string, len(roster))
	for i, e := range roster {
		if e.NewAgent == nil {
			return nil, fmt.Errorf("tournament: player %q has no agent", e.Name)
		}
		names[i] = e.Name
	}
	sched, err := NewSchedule(names, opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("tournament: %w", err)
	}

	o := &Orchestrator{
		id:       id,
		opts:     opts,
		factory:  factory,
		runner:   match.NewRunner(opts.Match, log, metrics),
		log:      log.With().Str("run", id).Logger(),
		metrics:  metrics,
		entrants: make(map[string]Entrant, len(roster)+len(sched.Fillers)),
		sched:    sched,
		records:  map[string]*PlayerRecord{},
	}
	for _, e := range roster {
		o.register(e)
	}
	for _, f := range sched.Fillers {
		o.register(BaselineEntrant(f))
	}
	return o, nil
}

func (o *Orchestrator) register(e Entrant) {
	o.entrants[e.Name] = e
	o.order = append(o.order, e.Name)
	o.records[e.Name] = &PlayerRecord{
		Name:     e.Name,
		Model:    e.Model,
		Baseline: e.Baseline,
		Rating:   o.opts.Elo.Start,
		Glicko:   NewGlicko2(),
	}
}

// OnResult is called after each game has been absorbed, with the leaderboard
// as it stands. Calls are serialised.
func (o *Orchestrator) OnResult(fn func(match.Result, []Entry)) { o.onResult = fn }

func (o *Orchestrator) AddSink(s Sink) { o.sinks = append(o.sinks, s) }

func (o *Orchestrator) Schedule() Schedule { return o.sched }

// Run plays every fixture and persists the outcome. Game failures never
// stop the run; only sink failures are returned, alongside the Run.
//
// Cancelling ctx lets running games finish their current decision and
// skips fixtures that have not started.
func (o *Orchestrator) Run(ctx context.Context) (Run, error) {
	run := Run{
		ID:              o.id,
		Started:         time.Now(),
		SeatsPerGame:    o.opts.Schedule.SeatsPerGame,
		GamesPerMatchup: o.opts.Schedule.GamesPerMatchup,
		Scheduled:       len(o.sched.Fixtures),
		Fixtures:        o.sched.Fixtures,
	}
	o.log.Info().
		Int("players", len(o.order)).
		Int("matchups", len(o.sched.Matchups)).
		Int("games", len(o.sched.Fixtures)).
		Int("parallelism", o.opts.Parallelism).
		Msg("tournament starting")

	var g errgroup.Group
	g.SetLimit(o.opts.Parallelism)
	for _, f := range o.sched.Fixtures {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			o.Absorb(o.play(ctx, f))
			return nil
		})
	}
	_ = g.Wait()

	run.Cancelled = ctx.Err() != nil
	run.Finished = time.Now()
	run.Results = o.Results()
	run.Records = o.Records()
	run.Leaderboard = o.Leaderboard()

	o.log.Info().
		Int("played", len(run.Results)).
		Int("scheduled", run.Scheduled).
		Bool("cancelled", run.Cancelled).
		Dur("took", run.Finished.Sub(run.Started)).
		Msg("tournament finished")

	// Results are saved even when the run was interrupted.
	sctx := context.WithoutCancel(ctx)
	var errs []error
	for _, s := range o.sinks {
		if err := s.SaveRun(sctx, run); err != nil {
			o.log.Error().Err(err).Msg("save run")
			errs = append(errs, err)
		}
	}
	return run, errors.Join(errs...)
}

func (o *Orchestrator) play(ctx context.Context, f Fixture) match.Result {
	seats := make([]match.Seat, len(f.Seats))
	for i, s := range f.Seats {
		e := o.entrants[s.Name]
		seats[i] = match.Seat{Name: s.Name, Model: e.Model, Color: s.Color, Agent: e.NewAgent(f.Seed + int64(i))}
	}

	game, err := o.factory.NewGame(ctx, f.Colors(), f.Seed)
	if err != nil {
		o.log.Error().Err(err).Str("game", f.ID).Msg("could not start game")
		now := time.Now()
		res := match.Result{
			GameID:   f.ID,
			Reason:   match.FatalError,
			Error:    fmt.Sprintf("new game: %v", err),
			Started:  now,
			Finished: now,
		}
		for _, s := range seats {
			res.Players = append(res.Players, match.Participant{Name: s.Name, Model: s.Model, Color: s.Color})
		}
		o.metrics.RecordGame(ctx, string(res.Reason))
		return o.stamp(res, f)
	}
	return o.stamp(o.runner.Play(ctx, f.ID, game, seats), f)
}

func (o *Orchestrator) stamp(res match.Result, f Fixture) match.Result {
	res.Matchup, res.Number, res.Seed = f.Matchup, f.Game, f.Seed
	return res
}

// Absorb folds one finished game into the records. Fatal and cancelled games
// are kept in the log but change no counters or ratings.
func (o *Orchestrator) Absorb(res match.Result) {
	o.notify.Lock()
	defer o.notify.Unlock()

	o.mu.Lock()
	o.results = append(o.results, res)
	for name, st := range res.Stats {
		o.record(name).Decisions = o.record(name).Decisions.Merge(st)
	}

	if !res.Reason.Rated() {
		for _, p := range res.Players {
			o.record(p.Name).Unrated++
		}
	} else {
		o.rate(res)
	}
	done := len(o.results)
	var board []Entry
	if o.onResult != nil {
		board = o.leaderboardLocked()
	}
	o.mu.Unlock()

	o.log.Info().
		Str("game", res.GameID).
		Str("reason", string(res.Reason)).
		Str("winner", res.Winner).
		Int("done", done).
		Int("scheduled", len(o.sched.Fixtures)).
		Msg("game absorbed")
	if o.onResult != nil {
		o.onResult(res, board)
	}
}

// rate must be called with mu held.
func (o *Orchestrator) rate(res match.Result) {
	n := len(res.Players)
	ratings := make([]float64, n)
	glickos := make([]Glicko2, n)
	positions := make([]int, n)
	for i, p := range res.Players {
		r := o.record(p.Name)
		ratings[i] = r.Rating
		glickos[i] = r.Glicko
		positions[i] = p.Position
	}
	deltas := o.opts.Elo.Deltas(ratings, positions)
	after := glickoPeriod(glickos, positions)

	for i, p := range res.Players {
		r := o.record(p.Name)
		r.Games++
		switch {
		case res.Winner == p.Name:
			r.Wins++
		case res.Winner == "" && p.Position == 1:
			r.Draws++
		default:
			r.Losses++
		}
		r.PositionSum += p.Position
		r.VPSum += p.VP
		r.VPs = append(r.VPs, p.VP)
		r.Rating += deltas[i]
		r.Glicko = after[i]
	}
}

// record returns name's record, creating it for players outside the roster.
func (o *Orchestrator) record(name string) *PlayerRecord {
	r, ok := o.records[name]
	if !ok {
		r = &PlayerRecord{Name: name, Rating: o.opts.Elo.Start, Glicko: NewGlicko2()}
		o.records[name] = r
		o.order = append(o.order, name)
	}
	return r
}

// Records returns a copy of every record in registration order.
func (o *Orchestrator) Records() []PlayerRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.recordsLocked()
}

func (o *Orchestrator) recordsLocked() []PlayerRecord {
	out := make([]PlayerRecord, 0, len(o.order))
	for _, n := range o.order {
		r := *o.records[n]
		r.VPs = append([]int(nil), r.VPs...)
		out = append(out, r)
	}
	return out
}

func (o *Orchestrator) Leaderboard() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.leaderboardLocked()
}

func (o *Orchestrator) leaderboardLocked() []Entry {
	return Leaderboard(o.recordsLocked(), o.opts.Schedule.SeatsPerGame, o.opts.Weights)
}

// Results returns the games absorbed so far, in completion order.
func (o *Orchestrator) Results() []match.Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]match.Result(nil), o.results...)
}
