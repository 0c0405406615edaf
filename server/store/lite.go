package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"catan-bench/server/match"
	"catan-bench/server/tournament"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Lite is the single-file store used when no Postgres is configured.
type Lite struct {
	db     *sql.DB
	logger zerolog.Logger
}

func OpenLite(path string, logger zerolog.Logger) (*Lite, error) {
	logger.Info().Str("path", path).Msg("opening sqlite store")

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer at a time; WAL lets the API read alongside it.
	db.SetMaxOpenConns(1)

	if err := optimizeSQLite(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to optimize SQLite: %w", err)
	}
	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Lite{db: db, logger: logger}, nil
}

func (l *Lite) Close() error { return l.db.Close() }

func (l *Lite) Ping(ctx context.Context) error { return l.db.PingContext(ctx) }

func runMigrations(db *sql.DB, logger zerolog.Logger) error {
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run goose migrations: %w", err)
	}

	logger.Debug().Msg("sqlite migrations applied")
	return nil
}

func optimizeSQLite(db *sql.DB, logger zerolog.Logger) error {
	pragmas := []struct {
		name  string
		value string
	}{
		{"journal_mode", "WAL"},
		{"synchronous", "NORMAL"},
		{"busy_timeout", "5000"},
		{"foreign_keys", "ON"},
		{"temp_store", "MEMORY"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			logger.Warn().Err(err).Str("pragma", p.name).Str("value", p.value).Msg("failed to set pragma")
			return fmt.Errorf("failed to set PRAGMA %s: %w", p.name, err)
		}
	}
	return nil
}

// SaveRun mirrors DB.SaveRun.
func (l *Lite) SaveRun(ctx context.Context, run tournament.Run) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // no-op once committed

	if _, err := tx.ExecContext(ctx, `
        INSERT INTO runs(id, started_at, finished_at, seats_per_game, games_per_matchup,
                         scheduled_games, played_games, cancelled)
        VALUES (?,?,?,?,?,?,?,?)
    `, run.ID, run.Started, run.Finished, run.SeatsPerGame, run.GamesPerMatchup,
		run.Scheduled, len(run.Results), run.Cancelled); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, r := range run.Records {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO players(name, model, baseline, last_rating, runs)
            VALUES (?,?,?,?,1)
            ON CONFLICT (name) DO UPDATE
              SET model = excluded.model,
                  baseline = excluded.baseline,
                  last_rating = excluded.last_rating,
                  runs = players.runs + 1,
                  updated_at = CURRENT_TIMESTAMP
        `, r.Name, r.Model, r.Baseline, r.Rating); err != nil {
			return fmt.Errorf("upsert player %s: %w", r.Name, err)
		}
	}

	ins, err := tx.PrepareContext(ctx, `
        INSERT INTO decisions(id, run_id, game_id, seq, turn, round, player, color, state_digest,
                              options, chosen_index, action, action_text, fallback, attempts, final_state,
                              latency_ms, tokens, cost_usd, raw_reply, reasoning, error, decided_at)
        VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    `)
	if err != nil {
		return err
	}
	defer ins.Close()

	for _, res := range run.Results {
		g := summarize(run.ID, res)
		players, err := json.Marshal(g.Players)
		if err != nil {
			return err
		}
		stats, err := json.Marshal(res.Stats)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO games(run_id, game_id, matchup_index, game_number, seed, winner, reason, error,
                              rounds, turns, decision_count, fallbacks, players, player_stats,
                              started_at, finished_at)
            VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        `, g.RunID, g.GameID, g.Matchup, g.Number, g.Seed, nullable(g.Winner), string(g.Reason), nullable(g.Error),
			g.Rounds, g.Turns, g.Decisions, g.Fallbacks, string(players), string(stats), g.Started, g.Finished); err != nil {
			return fmt.Errorf("insert game %s: %w", g.GameID, err)
		}

		rows, err := decisionRows(res)
		if err != nil {
			return err
		}
		for _, d := range rows {
			if _, err := ins.ExecContext(ctx,
				d.ID, run.ID, res.GameID, d.Seq, d.Turn, d.Round, d.Player, string(d.Color), d.StateDigest,
				len(d.Options), d.Index, string(d.ActionJSON), d.ActionText, d.Fallback, d.Attempts, d.FinalState,
				d.LatencyMS, d.Tokens, d.CostUSD, nullable(d.Raw), nullable(d.Reasoning), nullable(d.Error), d.At,
			); err != nil {
				return fmt.Errorf("insert decision %s #%d: %w", res.GameID, d.Seq, err)
			}
		}
	}

	for _, s := range standings(run) {
		if _, err := tx.ExecContext(ctx, `
            INSERT INTO standings(run_id, name, rank, model, baseline, games, wins, losses, draws, unrated,
                                  position_sum, vp_sum, win_rate, win_ci_low, win_ci_high, avg_position,
                                  avg_vp, vp_ci_low, vp_ci_high, rating, glicko_rating, glicko_rd,
                                  competence, decisions, fallback_rate, avg_latency_ms, cost_usd)
            VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        `, run.ID, s.Name, s.Rank, s.Model, s.Baseline, s.Games, s.Wins, s.Losses, s.Draws, s.Unrated,
			s.PositionSum, s.VPSum, s.WinRate, s.WinLow, s.WinHigh, s.AvgPosition,
			s.AvgVP, s.VPLow, s.VPHigh, s.Rating, s.Glicko, s.GlickoRD,
			s.Competence, s.Decisions, s.FallbackRate, s.AvgLatencyMS, s.CostUSD); err != nil {
			return fmt.Errorf("insert standing %s: %w", s.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	l.logger.Info().Str("run", run.ID).Int("games", len(run.Results)).Msg("run saved")
	return nil
}

func (l *Lite) LatestRun(ctx context.Context) (RunSummary, error) {
	var r RunSummary
	err := l.db.QueryRowContext(ctx, `
        SELECT id, started_at, finished_at, seats_per_game, games_per_matchup,
               scheduled_games, played_games, cancelled
          FROM runs ORDER BY started_at DESC LIMIT 1
    `).Scan(&r.ID, &r.Started, &r.Finished, &r.SeatsPerGame, &r.GamesPerMatchup, &r.Scheduled, &r.Played, &r.Cancelled)
	if errors.Is(err, sql.ErrNoRows) {
		return RunSummary{}, ErrNotFound
	}
	return r, err
}

func (l *Lite) Leaderboard(ctx context.Context, runID string) ([]tournament.Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
        SELECT rank, name, model, baseline, games, wins, losses, draws, win_rate, win_ci_low, win_ci_high,
               avg_position, avg_vp, vp_ci_low, vp_ci_high, rating, glicko_rating, glicko_rd, competence,
               decisions, fallback_rate, avg_latency_ms, cost_usd
          FROM standings WHERE run_id = ? ORDER BY rank
    `, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []tournament.Entry
	for rows.Next() {
		var e tournament.Entry
		if err := rows.Scan(&e.Rank, &e.Name, &e.Model, &e.Baseline, &e.Games, &e.Wins, &e.Losses, &e.Draws,
			&e.WinRate, &e.WinLow, &e.WinHigh, &e.AvgPosition, &e.AvgVP, &e.VPLow, &e.VPHigh, &e.Rating,
			&e.Glicko, &e.GlickoRD, &e.Competence, &e.Decisions, &e.FallbackRate, &e.AvgLatencyMS, &e.CostUSD); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

func (l *Lite) Games(ctx context.Context, runID string) ([]GameSummary, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT `+gameColumns+` FROM games WHERE run_id = ? ORDER BY game_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []GameSummary
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (l *Lite) Game(ctx context.Context, runID, gameID string) (match.Result, error) {
	g, err := scanGame(l.db.QueryRowContext(ctx, `SELECT `+gameColumns+` FROM games WHERE run_id = ? AND game_id = ?`, runID, gameID))
	if errors.Is(err, sql.ErrNoRows) {
		return match.Result{}, ErrNotFound
	}
	if err != nil {
		return match.Result{}, err
	}

	rows, err := l.db.QueryContext(ctx, `
        SELECT seq, turn, round, player, color, state_digest, chosen_index, action, action_text, fallback,
               attempts, final_state, latency_ms, tokens, cost_usd, COALESCE(raw_reply, ''),
               COALESCE(reasoning, ''), COALESCE(error, ''), decided_at
          FROM decisions WHERE run_id = ? AND game_id = ? ORDER BY seq
    `, runID, gameID)
	if err != nil {
		return match.Result{}, err
	}
	defer rows.Close()
	res := expand(g)
	for rows.Next() {
		var (
			d      match.Decision
			color  string
			action []byte
		)
		if err := rows.Scan(&d.Seq, &d.Turn, &d.Round, &d.Player, &color, &d.StateDigest, &d.Index, &action,
			&d.ActionText, &d.Fallback, &d.Attempts, &d.FinalState, &d.LatencyMS, &d.Tokens, &d.CostUSD,
			&d.Raw, &d.Reasoning, &d.Error, &d.At); err != nil {
			return match.Result{}, err
		}
		if err := finishDecision(&d, color, action); err != nil {
			return match.Result{}, err
		}
		res.Decisions = append(res.Decisions, d)
	}
	return res, rows.Err()
}
