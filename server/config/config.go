// Package config reads benchmark settings from the environment.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// tournament
	Players         string
	GamesPerMatchup int
	SeatsPerGame    int
	Parallelism     int
	ShuffleSeats    bool
	Seed            int64
	EloK            float64
	EloStart        float64
	WeightWin       float64
	WeightPosition  float64
	WeightVP        float64
	VPTarget        float64

	// match
	MaxRounds    int
	MaxDecisions int
	KeepStates   bool

	// decisions
	DecisionAttempts int
	DecisionTimeout  time.Duration
	RetryDelay       time.Duration

	// infrastructure
	EngineURL    string
	DatabaseURL  string
	SQLitePath   string
	ResultsDir   string
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string
	Port         int
	LogLevel     string
	LogPretty    bool
	StopFile     string
	MaxRuntime   time.Duration
}

// Load reads every knob, reporting all malformed values at once.
func Load() (Config, error) {
	var errs []error
	str := func(key, def string) string { return envStr(key, def) }
	num := func(key string, def int) int {
		v, err := envInt(key, def)
		errs = append(errs, err)
		return v
	}
	flt := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		errs = append(errs, err)
		return v
	}
	flag := func(key string, def bool) bool {
		v, err := envBool(key, def)
		errs = append(errs, err)
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		errs = append(errs, err)
		return v
	}

	cfg := Config{
		Players:         str("BENCH_PLAYERS", ""),
		GamesPerMatchup: num("GAMES_PER_MATCHUP", 5),
		SeatsPerGame:    num("SEATS_PER_GAME", 4),
		Parallelism:     num("PARALLELISM", 2),
		ShuffleSeats:    flag("SHUFFLE_SEATS", true),
		Seed:            int64(num("SEED", 0)),
		EloK:            flt("ELO_K", 32),
		EloStart:        flt("ELO_START", 1500),
		WeightWin:       flt("W_WIN", 0.4),
		WeightPosition:  flt("W_POS", 0.3),
		WeightVP:        flt("W_VP", 0.3),
		VPTarget:        flt("VP_TARGET", 10),

		MaxRounds:    num("MAX_ROUNDS", 100),
		MaxDecisions: num("MAX_DECISIONS", 5000),
		KeepStates:   flag("KEEP_STATES", false),

		DecisionAttempts: num("DECISION_ATTEMPTS", 3),
		DecisionTimeout:  dur("DECISION_TIMEOUT", 30*time.Second),
		RetryDelay:       dur("RETRY_DELAY", 500*time.Millisecond),

		EngineURL:    str("ENGINE_URL", ""),
		DatabaseURL:  str("DATABASE_URL", ""),
		SQLitePath:   str("SQLITE_PATH", ""),
		ResultsDir:   str("RESULTS_DIR", "results"),
		OTELEndpoint: str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure: flag("OTEL_INSECURE", true),
		ServiceName:  str("OTEL_SERVICE_NAME", "catan-bench"),
		Port:         num("PORT", 8080),
		LogLevel:     str("LOG_LEVEL", "info"),
		LogPretty:    flag("LOG_PRETTY", false),
		StopFile:     str("STOP_FILE", ""),
		MaxRuntime:   time.Duration(num("MAX_SECONDS", 0)) * time.Second,
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.SeatsPerGame < 2 || c.SeatsPerGame > 4:
		return fmt.Errorf("config: SEATS_PER_GAME must be between 2 and 4, got %d", c.SeatsPerGame)
	case c.GamesPerMatchup < 1:
		return fmt.Errorf("config: GAMES_PER_MATCHUP must be positive")
	case c.Parallelism < 1:
		return fmt.Errorf("config: PARALLELISM must be positive")
	case c.MaxRounds < 1:
		return fmt.Errorf("config: MAX_ROUNDS must be positive")
	case c.MaxDecisions < 1:
		return fmt.Errorf("config: MAX_DECISIONS must be positive")
	case c.DecisionAttempts < 0:
		return fmt.Errorf("config: DECISION_ATTEMPTS must not be negative")
	case c.DecisionTimeout <= 0:
		return fmt.Errorf("config: DECISION_TIMEOUT must be positive")
	case c.RetryDelay < 0:
		return fmt.Errorf("config: RETRY_DELAY must not be negative")
	case c.EloK <= 0:
		return fmt.Errorf("config: ELO_K must be positive")
	case c.VPTarget <= 0:
		return fmt.Errorf("config: VP_TARGET must be positive")
	case c.WeightWin < 0 || c.WeightPosition < 0 || c.WeightVP < 0:
		return fmt.Errorf("config: competence weights must not be negative")
	case math.Abs(c.WeightWin+c.WeightPosition+c.WeightVP-1) > 1e-6:
		return fmt.Errorf("config: competence weights must sum to 1")
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("config: PORT out of range")
	}
	return nil
}

// PlayerSpec is one roster entry: a display name bound to a model.
type PlayerSpec struct {
	Name     string
	Provider string
	Model    string
}

// ParsePlayers reads "name=provider:model" entries separated by commas.
// The name may be omitted, in which case the model id stands in for it.
func ParsePlayers(s string) ([]PlayerSpec, error) {
	var out []PlayerSpec
	seen := map[string]bool{}
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name, target, ok := strings.Cut(raw, "=")
		if !ok {
			target, name = raw, ""
		}
		name, target = strings.TrimSpace(name), strings.TrimSpace(target)
		provider, model, hasProvider := strings.Cut(target, ":")
		if !hasProvider || strings.Contains(provider, "/") {
			provider, model = "", target
		}
		model = strings.TrimSpace(model)
		if model == "" {
			return nil, fmt.Errorf("config: player %q has no model", raw)
		}
		if name == "" {
			name = model
		}
		if seen[name] {
			return nil, fmt.Errorf("config: duplicate player name %q", name)
		}
		seen[name] = true
		out = append(out, PlayerSpec{Name: name, Provider: strings.ToLower(strings.TrimSpace(provider)), Model: model})
	}
	return out, nil
}

func envStr(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return true, nil
	case "no", "off":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
