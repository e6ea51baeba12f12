// Package controller runs the weekly de-risking sweep over all active goals.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"GoalSentinel/internal/metrics"
	"GoalSentinel/internal/model"
	"GoalSentinel/internal/notifier"
	"GoalSentinel/internal/riskprofile"
	"GoalSentinel/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of evaluating one goal.
type Outcome string

const (
	OutcomeNoAction   Outcome = "no_action"
	OutcomeDowngraded Outcome = "downgraded"
	OutcomeEscalated  Outcome = "escalated"
	OutcomeSkipped    Outcome = "skipped"
	OutcomeFailed     Outcome = "failed"
)

// GoalLister supplies a point-in-time snapshot of active goals.
type GoalLister interface {
	ListActiveGoals(ctx context.Context) ([]model.Goal, error)
}

// Simulator runs and persists one simulation.
type Simulator interface {
	Simulate(ctx context.Context, goal model.Goal, tier model.RiskTier, iterations int, trigger model.Trigger) (*model.SimulationResult, error)
}

// Profiles reads and downgrades risk profiles.
type Profiles interface {
	GetOrCreate(ctx context.Context, goalID string) (model.RiskProfile, error)
	DowngradeFrom(ctx context.Context, cur model.RiskProfile, trig riskprofile.Trigger) (*model.RiskProfile, *model.RebalanceEvent, error)
	HasRebalanced(ctx context.Context, goalID, window string) (bool, error)
}

// Notifier delivers user notifications.
type Notifier interface {
	Notify(ctx context.Context, userID string, n model.Notification) error
}

// Config tunes the sweep.
type Config struct {
	Iterations  int
	Workers     int
	GoalTimeout time.Duration
	Location    *time.Location
}

// Evaluation records what happened to one goal.
type Evaluation struct {
	GoalID   string
	UserID   string
	Outcome  Outcome
	Result   *model.SimulationResult
	FromTier model.RiskTier
	ToTier   model.RiskTier
	Err      error
}

// Controller decides, per goal, whether to leave the risk tier alone,
// downgrade it, or alert the user.
type Controller struct {
	goals    GoalLister
	sim      Simulator
	profiles Profiles
	notifier Notifier
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New creates a Controller.
func New(goals GoalLister, sim Simulator, profiles Profiles, n Notifier, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Controller {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		goals:    goals,
		sim:      sim,
		profiles: profiles,
		notifier: n,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
		metrics:  m,
	}
}

// WithClock replaces the controller's time source.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// Window returns the scheduling window of t.
func (c *Controller) Window(t time.Time) string {
	return model.WindowKey(t.In(c.cfg.Location))
}

// Sweep evaluates every active goal. Goals are independent: a failing goal
// is logged and counted, never aborting the others. The returned error is
// only set when the goal list itself cannot be read.
func (c *Controller) Sweep(ctx context.Context) (SweepReport, error) {
	start := c.now()
	report := SweepReport{
		Window:    c.Window(start),
		StartedAt: start,
		Counts:    make(map[Outcome]int),
	}

	goals, err := c.goals.ListActiveGoals(ctx)
	if err != nil {
		return report, fmt.Errorf("list active goals: %w", err)
	}
	c.logger.Info("sweep started",
		zap.String("window", report.Window), zap.Int("goals", len(goals)))

	evals := make([]Evaluation, len(goals))
	g := new(errgroup.Group)
	g.SetLimit(c.cfg.Workers)
	for i, goal := range goals {
		g.Go(func() error {
			evals[i] = c.Evaluate(ctx, goal, report.Window)
			return nil
		})
	}
	_ = g.Wait()

	for _, ev := range evals {
		report.Counts[ev.Outcome]++
		c.metrics.ObserveEvaluation(string(ev.Outcome))
	}
	report.Goals = len(goals)
	report.Evaluations = evals
	report.Duration = c.now().Sub(start)
	c.metrics.ObserveSweep(report.Duration)

	c.logger.Info("sweep finished",
		zap.String("window", report.Window),
		zap.Int("goals", report.Goals),
		zap.Int("no_action", report.Counts[OutcomeNoAction]),
		zap.Int("downgraded", report.Counts[OutcomeDowngraded]),
		zap.Int("escalated", report.Counts[OutcomeEscalated]),
		zap.Int("skipped", report.Counts[OutcomeSkipped]),
		zap.Int("failed", report.Counts[OutcomeFailed]),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// Evaluate runs one goal through read-tier, simulate, decide, downgrade and
// notify, in that order.
func (c *Controller) Evaluate(ctx context.Context, goal model.Goal, window string) Evaluation {
	ev := Evaluation{GoalID: goal.ID, UserID: goal.UserID}
	log := c.logger.With(zap.String("goal_id", goal.ID), zap.String("user_id", goal.UserID))

	done, err := c.profiles.HasRebalanced(ctx, goal.ID, window)
	if err != nil {
		return c.fail(log, ev, fmt.Errorf("check rebalance log: %w", err))
	}
	if done {
		log.Info("goal already rebalanced in this window", zap.String("window", window))
		ev.Outcome = OutcomeSkipped
		return ev
	}

	profile, err := c.profiles.GetOrCreate(ctx, goal.ID)
	if err != nil {
		return c.fail(log, ev, fmt.Errorf("load risk profile: %w", err))
	}
	ev.FromTier = profile.Tier

	simCtx := ctx
	if c.cfg.GoalTimeout > 0 {
		var cancel context.CancelFunc
		simCtx, cancel = context.WithTimeout(ctx, c.cfg.GoalTimeout)
		defer cancel()
	}
	res, err := c.sim.Simulate(simCtx, goal, profile.Tier, c.cfg.Iterations, model.TriggerScheduled)
	if err != nil {
		return c.fail(log, ev, err)
	}
	ev.Result = res

	if res.SuccessProbability >= profile.MinSuccessProbability {
		ev.Outcome = OutcomeNoAction
		return ev
	}

	if _, hasLower := profile.Tier.Lower(); profile.AutoRebalance && hasLower {
		updated, _, err := c.profiles.DowngradeFrom(ctx, profile, riskprofile.Trigger{
			UserID:             goal.UserID,
			Window:             window,
			SuccessProbability: res.SuccessProbability,
		})
		switch {
		case errors.Is(err, store.ErrDuplicate):
			ev.Outcome = OutcomeSkipped
			return ev
		case err != nil:
			return c.fail(log, ev, err)
		case updated != nil:
			ev.Outcome = OutcomeDowngraded
			ev.ToTier = updated.Tier
			log.Info("risk downgraded",
				zap.String("from", string(profile.Tier)),
				zap.String("to", string(updated.Tier)),
				zap.Float64("success_probability", res.SuccessProbability),
				zap.Float64("threshold", profile.MinSuccessProbability))
			c.notify(ctx, log, goal.UserID, notifier.RebalancedNotice(
				goal, profile.Tier, updated.Tier, res.SuccessProbability, profile.MinSuccessProbability))
			return ev
		}
	}

	ev.Outcome = OutcomeEscalated
	log.Warn("goal below success threshold",
		zap.String("tier", string(profile.Tier)),
		zap.Bool("auto_rebalance", profile.AutoRebalance),
		zap.Float64("success_probability", res.SuccessProbability),
		zap.Float64("threshold", profile.MinSuccessProbability))
	c.notify(ctx, log, goal.UserID, notifier.LowProbabilityNotice(
		goal, profile.Tier, res.SuccessProbability, profile.MinSuccessProbability, res.ExpectedShortfall))
	return ev
}

func (c *Controller) fail(log *zap.Logger, ev Evaluation, err error) Evaluation {
	log.Error("goal evaluation failed", zap.Error(err))
	ev.Outcome = OutcomeFailed
	ev.Err = err
	return ev
}

// notify is fire-and-forget: delivery failures never change the outcome.
func (c *Controller) notify(ctx context.Context, log *zap.Logger, userID string, n model.Notification) {
	if err := c.notifier.Notify(ctx, userID, n); err != nil {
		c.metrics.ObserveNotificationFailure()
		log.Error("send notification", zap.String("kind", string(n.Kind)), zap.Error(err))
	}
}
