package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"GoalSentinel/internal/config"
	"GoalSentinel/internal/controller"
	"GoalSentinel/internal/guard"
	"GoalSentinel/internal/metrics"
	"GoalSentinel/internal/model"
	"GoalSentinel/internal/notifier"
	"GoalSentinel/internal/riskprofile"
	"GoalSentinel/internal/simulation"
	"GoalSentinel/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// appNotifier reaches both users and the operator.
type appNotifier interface {
	Notify(ctx context.Context, userID string, n model.Notification) error
	SendOperator(ctx context.Context, text string) error
}

// app holds the wired service graph shared by all commands.
type app struct {
	store      store.Store
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	engine     *simulation.Engine
	profiles   *riskprofile.Registry
	guard      *guard.Guard
	controller *controller.Controller
	notifier   appNotifier
	telegram   *notifier.TelegramNotifier
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("schedule timezone: %w", err)
	}

	st, err := openStore(cfg.Database.SQLitePath, logger)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	sources := simulation.RandomSources()
	if cfg.Simulation.Seed != 0 {
		sources = simulation.SeededSources(cfg.Simulation.Seed)
		logger.Info("simulation seeded", zap.Uint64("seed", cfg.Simulation.Seed))
	}
	engine := simulation.NewEngine(st, st, simulation.Options{
		Sources: sources,
		Workers: cfg.Simulation.Workers,
		Logger:  logger.Named("simulation"),
		Metrics: m,
	})
	profiles := riskprofile.NewRegistry(st, nil, logger.Named("riskprofile"))

	a := &app{
		store:    st,
		registry: reg,
		metrics:  m,
		engine:   engine,
		profiles: profiles,
	}
	if cfg.Telegram.BotToken != "" {
		a.telegram = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
			cfg.Telegram.UserChats, cfg.Proxy, logger.Named("telegram"))
		a.notifier = a.telegram
	} else {
		logger.Warn("telegram not configured, notifications go to the log")
		a.notifier = notifier.NewLogNotifier(logger.Named("notifier"))
	}

	a.guard = guard.New(engine, st, profiles, st, guard.Config{
		MaxIterations:     cfg.Simulation.MaxIterations,
		DefaultIterations: cfg.Simulation.DefaultIterations,
		Cooldown:          cfg.Guard.Cooldown,
		FailOpen:          cfg.GuardFailOpen(),
	}, logger.Named("guard"), m)

	a.controller = controller.New(st, engine, profiles, a.notifier, controller.Config{
		Iterations:  cfg.Simulation.ScheduledIterations,
		Workers:     cfg.Controller.Workers,
		GoalTimeout: cfg.Controller.GoalTimeout,
		Location:    loc,
	}, logger.Named("controller"), m)
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// openStore selects the in-memory store for an empty path or ":memory:".
func openStore(path string, logger *zap.Logger) (store.Store, error) {
	if path == "" || path == ":memory:" {
		logger.Warn("using in-memory store, data is lost on exit")
		return store.NewMemoryStore(), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.NewSQLiteStore(path, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return st, nil
}
