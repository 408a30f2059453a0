package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/compostwatch/compostwatch/agent/internal/compute"
	"github.com/compostwatch/compostwatch/agent/internal/config"
	"github.com/compostwatch/compostwatch/agent/internal/coord"
	"github.com/compostwatch/compostwatch/agent/internal/farmcalendar"
	"github.com/compostwatch/compostwatch/agent/internal/forecast"
	"github.com/compostwatch/compostwatch/agent/internal/pile"
	"github.com/compostwatch/compostwatch/agent/internal/runner"
	"github.com/compostwatch/compostwatch/agent/internal/scraper"
	"github.com/compostwatch/compostwatch/agent/internal/security"
	"github.com/compostwatch/compostwatch/agent/internal/shipper"
	"github.com/compostwatch/compostwatch/agent/internal/storage"
)

const certCheckInterval = 24 * time.Hour

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file, using process environment")
	}

	slog.Info("compostwatch-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(parseLevel(cfg.Agent.LogLevel))
	slog.Info("config loaded",
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"sources", len(cfg.Agent.Sources),
		"piles", len(cfg.Agent.Piles),
		"evaluation_interval", cfg.Agent.EvaluationInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	scrapers := make(map[string]scraper.Scraper, len(cfg.Agent.Sources))
	for _, src := range cfg.Agent.Sources {
		s, err := scraper.New(src)
		if err != nil {
			slog.Error("skipping source, could not build scraper", "source", src.ID, "err", err)
			continue
		}
		scrapers[src.ID] = s
		slog.Info("registered source", "id", src.ID, "type", src.Type, "endpoint", src.Endpoint)
	}

	go security.Watch(ctx, cfg.Agent.Sources, certCheckInterval)

	deps := runner.Deps{
		Scrapers:      scrapers,
		ActivityTypes: cfg.Agent.FarmCalendar.ActivityTypes,
	}

	// Storage: Postgres when configured, otherwise an in-memory outbox.
	var pileRepo pile.Repository
	if dsn := cfg.Agent.Storage.DSN(); dsn != "" {
		pool, err := connectPostgres(ctx, dsn)
		if err != nil {
			slog.Error("postgres unavailable", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		repo := storage.NewPostgresRepository(pool)
		pileRepo = repo
		deps.Outbox = repo
		slog.Info("connected to postgres")
	} else {
		deps.Outbox = storage.NewMemoryRepository()
	}
	registry := pile.NewRegistry(cfg.Agent.Piles, scrapers, pileRepo)
	if repo, ok := pileRepo.(pile.Writer); ok {
		if _, err := registry.Seed(ctx, repo); err != nil {
			slog.Error("failed to seed pile registry", "err", err)
			os.Exit(1)
		}
	}
	deps.Piles = registry

	// Coordination: per-pile locks and transition state.
	switch c := cfg.Agent.Coordination; c.Backend {
	case "redis":
		client, err := coord.NewRedisClient(ctx, c.RedisAddr, c.RedisPassword(), c.RedisDB)
		if err != nil {
			slog.Error("redis unavailable", "err", err)
			os.Exit(1)
		}
		defer client.Close()
		deps.Locker = coord.NewRedisLocker(client)
		deps.Tracker = compute.NewTracker(coord.NewRedisStateStore(client), cfg.Agent.Analysis.Hysteresis)
		slog.Info("coordination via redis", "addr", c.RedisAddr)
	default:
		deps.Locker = coord.NewMemoryLocker()
		deps.Tracker = compute.NewTracker(compute.NewMemoryStateStore(), cfg.Agent.Analysis.Hysteresis)
	}

	// Weather and farm calendar share the gatekeeper session.
	if gk := cfg.Agent.Gatekeeper; gk.LoginURL != "" {
		gatekeeper := farmcalendar.NewGatekeeper(gk.LoginURL, gk.Username, gk.Password, gk.TokenTTL, config.DefaultSourceTimeout)
		if w := cfg.Agent.Weather; w.Endpoint != "" {
			deps.Forecast = forecast.New(w.Endpoint, gatekeeper, w.Timeout)
		}
		if fc := cfg.Agent.FarmCalendar; fc.Endpoint != "" {
			deps.Calendar = farmcalendar.NewClient(fc.Endpoint, gatekeeper, fc.Timeout)
		}
	}

	ship := shipper.New(cfg.Agent)
	deps.Shipper = ship
	go ship.Run(ctx)

	rn := runner.New(deps, cfg.Agent.MaxConcurrent, cfg.Agent.Coordination.LockTTL, runner.SettingsFrom(cfg.Agent.Analysis))

	// Hot reload covers the analysis settings and the log level; sources,
	// piles and connections need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(parseLevel(updated.Agent.LogLevel))
			rn.Apply(runner.SettingsFrom(updated.Agent.Analysis))
			slog.Info("config hot-reloaded",
				"log_level", updated.Agent.LogLevel,
				"strict", updated.Agent.Analysis.Strict,
			)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	if len(cfg.Agent.Piles) == 0 {
		slog.Warn("no piles configured, agent will idle")
	}
	go rn.Run(ctx, cfg.Agent.EvaluationInterval)

	<-ctx.Done()
	slog.Info("compostwatch-agent shutting down", "pending_reports", ship.Pending())
}

func connectPostgres(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	repo := storage.NewPostgresRepository(pool)
	if err := repo.Health(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
