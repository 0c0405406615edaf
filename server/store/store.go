// Package store persists tournament runs to Postgres (DB) or SQLite (Lite).
package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"catan-bench/server/match"
	"catan-bench/server/tournament"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schema embed.FS

type DB struct{ *pgxpool.Pool }

func Open(ctx context.Context, dsn string) (*DB, error) {
	p, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &DB{p}, nil
}

func (db *DB) Close()                         { db.Pool.Close() }
func (db *DB) Ping(ctx context.Context) error { return db.Pool.Ping(ctx) }

func Migrate(ctx context.Context, db *DB) error {
	sqlBytes, err := schema.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, string(sqlBytes))
	return err
}

var decisionColumns = []string{
	"id", "run_id", "game_id", "seq", "turn", "round", "player", "color", "state_digest",
	"options", "chosen_index", "action", "action_text", "fallback", "attempts", "final_state",
	"latency_ms", "tokens", "cost_usd", "raw_reply", "reasoning", "error", "decided_at",
}

// SaveRun writes a run, its games, their decisions and the final standings
// in one transaction.
func (db *DB) SaveRun(ctx context.Context, run tournament.Run) error {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // safe if already committed

	if _, err := tx.Exec(ctx, `
        INSERT INTO runs(id, started_at, finished_at, seats_per_game, games_per_matchup,
                         scheduled_games, played_games, cancelled)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    `, run.ID, run.Started, run.Finished, run.SeatsPerGame, run.GamesPerMatchup,
		run.Scheduled, len(run.Results), run.Cancelled); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, r := range run.Records {
		if _, err := tx.Exec(ctx, `
            INSERT INTO players(name, model, baseline, last_rating, runs)
            VALUES ($1,$2,$3,$4,1)
            ON CONFLICT (name) DO UPDATE
              SET model = EXCLUDED.model,
                  baseline = EXCLUDED.baseline,
                  last_rating = EXCLUDED.last_rating,
                  runs = players.runs + 1,
                  updated_at = now()
        `, r.Name, r.Model, r.Baseline, r.Rating); err != nil {
			return fmt.Errorf("upsert player %s: %w", r.Name, err)
		}
	}

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
		if _, err := tx.Exec(ctx, `
            INSERT INTO games(run_id, game_id, matchup_index, game_number, seed, winner, reason, error,
                              rounds, turns, decision_count, fallbacks, players, player_stats,
                              started_at, finished_at)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
        `, g.RunID, g.GameID, g.Matchup, g.Number, g.Seed, nullable(g.Winner), string(g.Reason), nullable(g.Error),
			g.Rounds, g.Turns, g.Decisions, g.Fallbacks, players, stats, g.Started, g.Finished); err != nil {
			return fmt.Errorf("insert game %s: %w", g.GameID, err)
		}

		rows, err := decisionRows(res)
		if err != nil {
			return err
		}
		src := make([][]any, len(rows))
		for i, d := range rows {
			src[i] = []any{
				d.ID, run.ID, res.GameID, d.Seq, d.Turn, d.Round, d.Player, string(d.Color), d.StateDigest,
				len(d.Options), d.Index, d.ActionJSON, d.ActionText, d.Fallback, d.Attempts, d.FinalState,
				d.LatencyMS, d.Tokens, d.CostUSD, nullable(d.Raw), nullable(d.Reasoning), nullable(d.Error), d.At,
			}
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"decisions"}, decisionColumns, pgx.CopyFromRows(src)); err != nil {
			return fmt.Errorf("copy decisions of %s: %w", res.GameID, err)
		}
	}

	for _, s := range standings(run) {
		if _, err := tx.Exec(ctx, `
            INSERT INTO standings(run_id, name, rank, model, baseline, games, wins, losses, draws, unrated,
                                  position_sum, vp_sum, win_rate, win_ci_low, win_ci_high, avg_position,
                                  avg_vp, vp_ci_low, vp_ci_high, rating, glicko_rating, glicko_rd,
                                  competence, decisions, fallback_rate, avg_latency_ms, cost_usd)
            VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27)
        `, run.ID, s.Name, s.Rank, s.Model, s.Baseline, s.Games, s.Wins, s.Losses, s.Draws, s.Unrated,
			s.PositionSum, s.VPSum, s.WinRate, s.WinLow, s.WinHigh, s.AvgPosition,
			s.AvgVP, s.VPLow, s.VPHigh, s.Rating, s.Glicko, s.GlickoRD,
			s.Competence, s.Decisions, s.FallbackRate, s.AvgLatencyMS, s.CostUSD); err != nil {
			return fmt.Errorf("insert standing %s: %w", s.Name, err)
		}
	}

	return tx.Commit(ctx)
}

func (db *DB) LatestRun(ctx context.Context) (RunSummary, error) {
	var r RunSummary
	err := db.QueryRow(ctx, `
        SELECT id, started_at, finished_at, seats_per_game, games_per_matchup,
               scheduled_games, played_games, cancelled
          FROM runs ORDER BY started_at DESC LIMIT 1
    `).Scan(&r.ID, &r.Started, &r.Finished, &r.SeatsPerGame, &r.GamesPerMatchup, &r.Scheduled, &r.Played, &r.Cancelled)
	if errors.Is(err, pgx.ErrNoRows) {
		return RunSummary{}, ErrNotFound
	}
	return r, err
}

func (db *DB) Leaderboard(ctx context.Context, runID string) ([]tournament.Entry, error) {
	rows, err := db.Query(ctx, `
        SELECT rank, name, model, baseline, games, wins, losses, draws, win_rate, win_ci_low, win_ci_high,
               avg_position, avg_vp, vp_ci_low, vp_ci_high, rating, glicko_rating, glicko_rd, competence,
               decisions, fallback_rate, avg_latency_ms, cost_usd
          FROM standings WHERE run_id = $1 ORDER BY rank
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

const gameColumns = `run_id, game_id, matchup_index, game_number, seed, COALESCE(winner, ''), reason,
        COALESCE(error, ''), rounds, turns, decision_count, fallbacks, players, started_at, finished_at`

func scanGame(row scanner) (GameSummary, error) {
	var (
		g       GameSummary
		reason  string
		players []byte
	)
	if err := row.Scan(&g.RunID, &g.GameID, &g.Matchup, &g.Number, &g.Seed, &g.Winner, &reason, &g.Error,
		&g.Rounds, &g.Turns, &g.Decisions, &g.Fallbacks, &players, &g.Started, &g.Finished); err != nil {
		return GameSummary{}, err
	}
	g.Reason = match.Reason(reason)
	if err := json.Unmarshal(players, &g.Players); err != nil {
		return GameSummary{}, fmt.Errorf("decode players of %s: %w", g.GameID, err)
	}
	return g, nil
}

func (db *DB) Games(ctx context.Context, runID string) ([]GameSummary, error) {
	rows, err := db.Query(ctx, `SELECT `+gameColumns+` FROM games WHERE run_id = $1 ORDER BY game_id`, runID)
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

// Game returns one stored game with its full decision log.
func (db *DB) Game(ctx context.Context, runID, gameID string) (match.Result, error) {
	g, err := scanGame(db.QueryRow(ctx, `SELECT `+gameColumns+` FROM games WHERE run_id = $1 AND game_id = $2`, runID, gameID))
	if errors.Is(err, pgx.ErrNoRows) {
		return match.Result{}, ErrNotFound
	}
	if err != nil {
		return match.Result{}, err
	}

	rows, err := db.Query(ctx, `
        SELECT seq, turn, round, player, color, state_digest, chosen_index, action, action_text, fallback,
               attempts, final_state, latency_ms, tokens, cost_usd, COALESCE(raw_reply, ''),
               COALESCE(reasoning, ''), COALESCE(error, ''), decided_at
          FROM decisions WHERE run_id = $1 AND game_id = $2 ORDER BY seq
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
