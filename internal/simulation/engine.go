package simulation

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"GoalSentinel/internal/metrics"
	"GoalSentinel/internal/model"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResultStore persists simulation results.
type ResultStore interface {
	SaveResult(ctx context.Context, r *model.SimulationResult) error
}

// ProfileToucher records when a goal was last simulated.
type ProfileToucher interface {
	TouchLastSimulation(ctx context.Context, goalID string, at time.Time) error
}

// Options tunes an Engine. Zero values select defaults.
type Options struct {
	Sources SourceFactory
	Workers int
	Now     func() time.Time
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Engine runs Monte Carlo projections for goals and persists every run.
type Engine struct {
	results  ResultStore
	profiles ProfileToucher
	sources  SourceFactory
	workers  int
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewEngine creates an Engine.
func NewEngine(results ResultStore, profiles ProfileToucher, opts Options) *Engine {
	e := &Engine{
		results:  results,
		profiles: profiles,
		sources:  opts.Sources,
		workers:  opts.Workers,
		now:      opts.Now,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if e.sources == nil {
		e.sources = RandomSources()
	}
	if e.workers <= 0 {
		e.workers = runtime.GOMAXPROCS(0)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Simulate projects goal under tier with the given number of paths, stores
// the result and stamps the goal's risk profile.
func (e *Engine) Simulate(ctx context.Context, goal model.Goal, tier model.RiskTier, iterations int, trigger model.Trigger) (*model.SimulationResult, error) {
	params, ok := tier.Params()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTier, tier)
	}
	now := e.now()
	horizon := goal.HorizonMonths(now)

	start := time.Now()
	out, err := Run(ctx, Params{
		Current:    goal.CurrentAmount.InexactFloat64(),
		Target:     goal.TargetAmount.InexactFloat64(),
		Monthly:    goal.MonthlyContribution.InexactFloat64(),
		Horizon:    horizon,
		Model:      params,
		Iterations: iterations,
	}, e.sources, e.workers)
	if err != nil {
		return nil, fmt.Errorf("simulate goal %s: %w", goal.ID, err)
	}
	elapsed := time.Since(start)
	e.metrics.ObserveSimulation(string(trigger), elapsed)

	res := &model.SimulationResult{
		ID:                 uuid.NewString(),
		GoalID:             goal.ID,
		UserID:             goal.UserID,
		Iterations:         iterations,
		P1:                 out.P1,
		P10:                out.P10,
		P50:                out.P50,
		P90:                out.P90,
		SuccessProbability: out.SuccessProbability,
		ExpectedShortfall:  out.ExpectedShortfall,
		RiskTier:           tier,
		HorizonMonths:      horizon,
		Trigger:            trigger,
		CreatedAt:          now,
	}
	if err := e.results.SaveResult(ctx, res); err != nil {
		return nil, fmt.Errorf("save simulation result: %w", err)
	}
	// The result is stored; a failed touch only logs.
	if err := e.profiles.TouchLastSimulation(ctx, goal.ID, now); err != nil {
		e.logger.Warn("update last simulation time",
			zap.String("goal_id", goal.ID), zap.Error(err))
	}

	e.logger.Debug("simulation finished",
		zap.String("goal_id", goal.ID),
		zap.String("tier", string(tier)),
		zap.Int("iterations", iterations),
		zap.Int("paths", out.Paths),
		zap.Int("horizon_months", horizon),
		zap.Float64("success_probability", out.SuccessProbability),
		zap.Duration("elapsed", elapsed))
	return res, nil
}
