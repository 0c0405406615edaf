package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"catan-bench/server/agent"
	"catan-bench/server/config"
	"catan-bench/server/engine"
	"catan-bench/server/export"
	"catan-bench/server/llm"
	"catan-bench/server/logger"
	"catan-bench/server/match"
	"catan-bench/server/store"
	"catan-bench/server/telemetry"
	"catan-bench/server/tournament"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

var version = "dev"

//
// ===== pretty printing =====
//

var useColor bool

const (
	colReset  = "\033[0m"
	colBold   = "\033[1m"
	colDim    = "\033[2m"
	colGreen  = "\033[32m"
	colRed    = "\033[31m"
	colYellow = "\033[33m"
	colCyan   = "\033[36m"
	colMag    = "\033[35m"
)

func c(code, s string) string {
	if !useColor {
		return s
	}
	return code + s + colReset
}
func bold(s string) string { return c(colBold, s) }
func dim(s string) string  { return c(colDim, s) }
func good(s string) string { return c(colGreen, s) }
func warn(s string) string { return c(colYellow, s) }
func bad(s string) string  { return c(colRed, s) }
func cyan(s string) string { return c(colCyan, s) }
func mag(s string) string  { return c(colMag, s) }
func modelShort(m string) string {
	m = strings.TrimSpace(m)
	if len(m) <= 28 {
		return m
	}
	return m[:28]
}
func section(title string) { fmt.Printf("\n%s %s %s\n", dim("──"), bold(title), dim("──")) }
func sub(title string)     { fmt.Printf("%s %s\n", dim("•"), bold(title)) }

func reasonTag(r match.Reason) string {
	switch r {
	case match.Victory:
		return good(string(r))
	case match.RoundLimit:
		return warn(string(r))
	case match.Cancelled:
		return dim(string(r))
	}
	return bad(string(r))
}

//
// ===== bootstrap =====
//

// loadAPIKeysFromSecrets fills unset provider keys from <KEY>_FILE or the
// usual secret mounts.
func loadAPIKeysFromSecrets() {
	for _, key := range []string{"OPENAI_API_KEY", "OPENROUTER_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_API_KEY"} {
		if os.Getenv(key) != "" {
			continue
		}
		file := strings.ToLower(key) + ".txt"
		var candidates []string
		if p := os.Getenv(key + "_FILE"); strings.TrimSpace(p) != "" {
			candidates = append(candidates, p)
		}
		candidates = append(candidates,
			filepath.Join("secrets", file),
			filepath.Join("server", file),
			file,
			filepath.Join("/run/secrets", strings.ToLower(key)),
		)
		for _, path := range candidates {
			if b, err := os.ReadFile(path); err == nil {
				if v := strings.TrimSpace(string(b)); v != "" {
					os.Setenv(key, v)
					break
				}
			}
		}
	}
}

func main() {
	_ = godotenv.Load()
	loadAPIKeysFromSecrets()

	useColor = (os.Getenv("NO_COLOR") == "") && (strings.TrimSpace(os.Getenv("USE_COLOR")) != "0")

	var migrate, serve bool
	for _, a := range os.Args[1:] {
		switch a {
		case "--migrate":
			migrate = true
		case "--serve":
			serve = true
		case "--tournament":
		default:
			fmt.Fprintf(os.Stderr, "unknown flag %s (want --tournament, --serve or --migrate)\n", a)
			os.Exit(2)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel, cfg.LogPretty)

	switch {
	case migrate:
		if err := runMigrate(context.Background(), cfg, log); err != nil {
			log.Fatal().Err(err).Msg("migrate failed")
		}
	case serve:
		runServe(cfg, log)
	default:
		if err := runTournament(cfg, log); err != nil {
			log.Fatal().Err(err).Msg("tournament failed")
		}
	}
}

func runMigrate(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	if cfg.DatabaseURL == "" && cfg.SQLitePath == "" {
		return errors.New("set DATABASE_URL or SQLITE_PATH to migrate")
	}
	if cfg.DatabaseURL != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := store.Migrate(ctx, db); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		log.Info().Msg("postgres migrated")
	}
	if cfg.SQLitePath != "" {
		// OpenLite applies pending migrations itself.
		l, err := store.OpenLite(cfg.SQLitePath, log)
		if err != nil {
			return fmt.Errorf("sqlite: %w", err)
		}
		defer l.Close()
		log.Info().Str("path", cfg.SQLitePath).Msg("sqlite migrated")
	}
	return nil
}

func watchSignals(cancel context.CancelFunc) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	cancel()
}

// watchStop cancels the run once STOP_FILE appears or MAX_SECONDS elapses.
// Games already in progress finish their current decision.
func watchStop(ctx context.Context, cancel context.CancelFunc, cfg config.Config, log zerolog.Logger) {
	var deadline time.Time
	if cfg.MaxRuntime > 0 {
		deadline = time.Now().Add(cfg.MaxRuntime)
	}
	if deadline.IsZero() && cfg.StopFile == "" {
		return
	}
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			if !deadline.IsZero() && now.After(deadline) {
				log.Warn().Dur("max_runtime", cfg.MaxRuntime).Msg("time budget spent, stopping")
				cancel()
				return
			}
			if cfg.StopFile != "" {
				if _, err := os.Stat(cfg.StopFile); err == nil {
					log.Warn().Str("file", cfg.StopFile).Msg("stop file found, stopping")
					cancel()
					return
				}
			}
		}
	}
}

//
// ===== tournament =====
//

func runTournament(cfg config.Config, log zerolog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go watchSignals(cancel)
	go watchStop(ctx, cancel, cfg, log)

	shutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		log.Warn().Err(err).Msg("telemetry disabled")
	} else {
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			if err := shutdown(sctx); err != nil {
				log.Warn().Err(err).Msg("telemetry shutdown")
			}
		}()
	}
	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		return err
	}

	if cfg.EngineURL == "" {
		return errors.New("ENGINE_URL is required to play games")
	}
	roster, err := buildRoster(cfg, log, metrics)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	orch, err := tournament.New(runID, roster, engine.NewHTTPFactory(cfg.EngineURL), tournament.Options{
		Schedule: tournament.ScheduleOptions{
			SeatsPerGame:    cfg.SeatsPerGame,
			GamesPerMatchup: cfg.GamesPerMatchup,
			Shuffle:         cfg.ShuffleSeats,
			Seed:            cfg.Seed,
		},
		Parallelism: cfg.Parallelism,
		Elo:         tournament.Elo{K: cfg.EloK, Start: cfg.EloStart},
		Weights: tournament.Weights{
			Win:      cfg.WeightWin,
			Position: cfg.WeightPosition,
			VP:       cfg.WeightVP,
			VPTarget: cfg.VPTarget,
		},
		Match: match.Config{
			MaxRounds:    cfg.MaxRounds,
			MaxDecisions: cfg.MaxDecisions,
			KeepStates:   cfg.KeepStates,
		},
	}, log, metrics)
	if err != nil {
		return err
	}

	closeSinks, err := attachSinks(ctx, orch, cfg, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	sched := orch.Schedule()
	section("Catan bench " + runID[:8])
	sub(fmt.Sprintf("%d players, %d seats, %d matchups, %d games", len(roster)+len(sched.Fillers),
		cfg.SeatsPerGame, len(sched.Matchups), len(sched.Fixtures)))
	for _, e := range roster {
		fmt.Printf("  %s %s\n", cyan(e.Name), dim(modelShort(e.Model)))
	}
	for _, f := range sched.Fillers {
		fmt.Printf("  %s %s\n", mag(f), dim("random"))
	}

	done := 0
	orch.OnResult(func(res match.Result, board []tournament.Entry) {
		done++
		winner := res.Winner
		if winner == "" {
			winner = "-"
		}
		line := fmt.Sprintf("[%3d/%d] %s %-12s winner=%s rounds=%d decisions=%d fallbacks=%d %s",
			done, len(sched.Fixtures), res.GameID, reasonTag(res.Reason), bold(winner),
			res.Rounds, len(res.Decisions), res.Fallbacks(), dim(res.Duration().Round(time.Second).String()))
		if res.Error != "" {
			line += " " + bad(res.Error)
		}
		if len(board) > 0 {
			line += dim(fmt.Sprintf("  leader=%s %.3f", board[0].Name, board[0].Competence))
		}
		fmt.Println(line)
	})

	run, err := orch.Run(ctx)
	printLeaderboard(run)
	if run.Cancelled {
		fmt.Println(warn(fmt.Sprintf("stopped early: %d of %d games played", len(run.Results), run.Scheduled)))
	}
	return err
}

// buildRoster turns BENCH_PLAYERS into entrants. A "random" model plays the
// baseline agent.
func buildRoster(cfg config.Config, log zerolog.Logger, metrics *telemetry.Metrics) ([]tournament.Entrant, error) {
	specs, err := config.ParsePlayers(cfg.Players)
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, errors.New("BENCH_PLAYERS is empty")
	}
	opts := agent.Options{
		Attempts:   cfg.DecisionAttempts,
		Timeout:    cfg.DecisionTimeout,
		RetryDelay: cfg.RetryDelay,
	}
	out := make([]tournament.Entrant, 0, len(specs))
	for _, s := range specs {
		if s.Provider == "random" || (s.Provider == "" && s.Model == "random") {
			out = append(out, tournament.BaselineEntrant(s.Name))
			continue
		}
		target := s.Model
		if s.Provider != "" {
			target = s.Provider + ":" + s.Model
		}
		client, err := llm.New(llm.ParseTarget(target))
		if err != nil {
			return nil, fmt.Errorf("player %s: %w", s.Name, err)
		}
		name := s.Name
		out = append(out, tournament.Entrant{
			Name:  name,
			Model: client.Name(),
			NewAgent: func(int64) agent.Decider {
				return agent.New(name, client, opts, log, metrics)
			},
		})
	}
	return out, nil
}

// attachSinks registers every configured output. Failing to open a database
// is fatal; the run is not worth playing if it cannot be kept.
func attachSinks(ctx context.Context, orch *tournament.Orchestrator, cfg config.Config, log zerolog.Logger) (func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if cfg.ResultsDir != "" {
		w, err := export.NewWriter(cfg.ResultsDir)
		if err != nil {
			return nil, err
		}
		orch.AddSink(w)
	}
	if cfg.DatabaseURL != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		closers = append(closers, db.Close)
		if err := store.Migrate(ctx, db); err != nil {
			closeAll()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		orch.AddSink(db)
	}
	if cfg.SQLitePath != "" {
		l, err := store.OpenLite(cfg.SQLitePath, log)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, func() { _ = l.Close() })
		orch.AddSink(l)
	}
	return closeAll, nil
}

func printLeaderboard(run tournament.Run) {
	section("Leaderboard")
	fmt.Printf("%s\n", dim(fmt.Sprintf("%-4s %-22s %5s %5s %14s %7s %6s %7s %7s %9s",
		"#", "player", "games", "wins", "win% (95% CI)", "avgPos", "avgVP", "elo", "fb%", "score")))
	for _, e := range run.Leaderboard {
		name := e.Name
		if e.Baseline {
			name = mag(fmt.Sprintf("%-22s", name))
		} else {
			name = cyan(fmt.Sprintf("%-22s", name))
		}
		fmt.Printf("%-4d %s %5d %5d %5.1f [%2.0f-%2.0f] %7.2f %6.2f %7.1f %6.1f%% %9s\n",
			e.Rank, name, e.Games, e.Wins, 100*e.WinRate, 100*e.WinLow, 100*e.WinHigh,
			e.AvgPosition, e.AvgVP, e.Rating, 100*e.FallbackRate, bold(fmt.Sprintf("%.3f", e.Competence)))
	}

	a := tournament.Analyze(run.Results)
	section("Summary")
	fmt.Printf("games %d  completed %s  failed %s  cancelled %d  avg rounds %.1f  fallbacks %d/%d\n",
		a.TotalGames, good(fmt.Sprint(a.CompletedGames)), bad(fmt.Sprint(a.FailedGames)), a.CancelledGames,
		a.AvgRounds, a.Fallbacks, a.Decisions)
	var cost float64
	for _, e := range run.Leaderboard {
		cost += e.CostUSD
	}
	if cost > 0 {
		fmt.Printf("model spend %s\n", warn(fmt.Sprintf("$%.4f", cost)))
	}
}
