package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"catan-bench/server/config"
	"catan-bench/server/store"
	"catan-bench/server/telemetry"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

const shutdownTimeout = 10 * time.Second

// serveModule wires the results API. cfg and the logger are supplied by main.
var serveModule = fx.Options(
	fx.Provide(openReader),
	fx.Invoke(startTelemetry),
	fx.Invoke(runServer),
)

func runServe(cfg config.Config, log zerolog.Logger) {
	fx.New(
		fx.Supply(cfg, log),
		serveModule,
		fx.NopLogger,
	).Run()
}

// openReader picks Postgres when DATABASE_URL is set and SQLite otherwise.
func openReader(lc fx.Lifecycle, cfg config.Config, log zerolog.Logger) (Reader, error) {
	switch {
	case cfg.DatabaseURL != "":
		db, err := store.Open(context.Background(), cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error {
			db.Close()
			return nil
		}})
		return db, nil
	case cfg.SQLitePath != "":
		l, err := store.OpenLite(cfg.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error { return l.Close() }})
		return l, nil
	}
	return nil, errors.New("--serve needs DATABASE_URL or SQLITE_PATH")
}

func startTelemetry(lc fx.Lifecycle, cfg config.Config, log zerolog.Logger) {
	var shutdown telemetry.Shutdown
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			var err error
			shutdown, err = telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
			if err != nil {
				log.Warn().Err(err).Msg("telemetry disabled")
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if shutdown == nil {
				return nil
			}
			return shutdown(ctx)
		},
	})
}

func runServer(lc fx.Lifecycle, cfg config.Config, rd Reader, log zerolog.Logger) {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      Router(rd, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info().Str("addr", srv.Addr).Msg("server starting")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal().Err(err).Msg("server failed")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("server shutdown failed")
				return err
			}
			log.Info().Msg("server stopped gracefully")
			return nil
		},
	})
}
