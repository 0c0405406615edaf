package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"catan-bench/server/match"
	"catan-bench/server/store"
	"catan-bench/server/tournament"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Reader is the read side of a results store.
type Reader interface {
	Ping(ctx context.Context) error
	LatestRun(ctx context.Context) (store.RunSummary, error)
	Leaderboard(ctx context.Context, runID string) ([]tournament.Entry, error)
	Games(ctx context.Context, runID string) ([]store.GameSummary, error)
	Game(ctx context.Context, runID, gameID string) (match.Result, error)
}

const queryTimeout = 10 * time.Second

func Router(db Reader, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(tracingMiddleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}).Handler)

	r.Get("/api/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := withTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			writeJSON(w, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	})

	r.Get("/api/runs/latest", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := withTimeout(r.Context(), queryTimeout)
		defer cancel()
		run, err := db.LatestRun(ctx)
		if err != nil {
			fail(w, r, err, "no runs yet")
			return
		}
		board, err := db.Leaderboard(ctx, run.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			fail(w, r, err, "")
			return
		}
		if board == nil {
			board = []tournament.Entry{}
		}
		writeJSON(w, map[string]any{"run": run, "leaderboard": board})
	})

	r.Route("/api/runs/{run}", func(r chi.Router) {
		r.Get("/leaderboard", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := withTimeout(r.Context(), queryTimeout)
			defer cancel()
			board, err := db.Leaderboard(ctx, chi.URLParam(r, "run"))
			if err != nil {
				fail(w, r, err, "unknown run")
				return
			}
			writeJSON(w, board)
		})

		r.Get("/games", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := withTimeout(r.Context(), queryTimeout)
			defer cancel()
			games, err := db.Games(ctx, chi.URLParam(r, "run"))
			if err != nil {
				fail(w, r, err, "")
				return
			}
			if games == nil {
				games = []store.GameSummary{}
			}
			writeJSON(w, games)
		})

		r.Get("/games/{game}", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := withTimeout(r.Context(), queryTimeout)
			defer cancel()
			g, err := db.Game(ctx, chi.URLParam(r, "run"), chi.URLParam(r, "game"))
			if err != nil {
				fail(w, r, err, "unknown game")
				return
			}
			writeJSON(w, g)
		})
	})

	return r
}

// fail maps store.ErrNotFound to 404 with notFound as the message and
// everything else to 500.
func fail(w http.ResponseWriter, r *http.Request, err error, notFound string) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, notFound, http.StatusNotFound)
		return
	}
	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("query failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

// requestLogger attaches a logger carrying the request id to the context and
// logs each completed request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := middleware.GetReqID(r.Context())
			w.Header().Set("X-Request-ID", requestID)

			l := logger.With().Str("request_id", requestID).Logger()
			ctx := l.WithContext(r.Context())

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			l.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Msg("request completed")
		})
	}
}

var (
	httpTracer = otel.Tracer("catan-bench/http")
	httpMeter  = otel.GetMeterProvider().Meter("catan-bench/http")
)

// tracingMiddleware opens a span per request and records request metrics.
func tracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := httpTracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
				attribute.String("http.request_id", middleware.GetReqID(r.Context())),
			),
		)
		defer span.End()

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		span.SetAttributes(attribute.Int("http.status_code", status))

		attrs := []attribute.KeyValue{
			attribute.String("http.method", r.Method),
			attribute.String("http.route", chi.RouteContext(r.Context()).RoutePattern()),
			attribute.String("http.status_code", strconv.Itoa(status)),
		}
		if counter, err := httpMeter.Int64Counter("http.server.request_count"); err == nil {
			counter.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
		}
		if hist, err := httpMeter.Float64Histogram("http.server.duration", otelmetric.WithUnit("ms")); err == nil {
			hist.Record(ctx, float64(time.Since(start).Milliseconds()), otelmetric.WithAttributes(attrs...))
		}
	})
}
