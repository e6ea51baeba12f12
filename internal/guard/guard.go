// Package guard protects user-triggered simulations with an iteration cap and
// a per-user cooldown.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"GoalSentinel/internal/metrics"
	"GoalSentinel/internal/model"
	"GoalSentinel/internal/store"

	"go.uber.org/zap"
)

// Reason codes returned to clients.
const (
	CodeIterationsTooHigh = "ITERATIONS_TOO_HIGH"
	CodeInvalidIterations = "INVALID_ITERATIONS"
	CodeRateLimited       = "RATE_LIMITED"
	CodeGoalNotFound      = "GOAL_NOT_FOUND"
)

// RejectionError is a client error raised before any simulation work.
type RejectionError struct {
	Code    string
	Message string
}

func (e *RejectionError) Error() string { return e.Code + ": " + e.Message }

// AsRejection unwraps a *RejectionError from err.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	ok := errors.As(err, &rej)
	return rej, ok
}

// Simulator runs and persists one simulation.
type Simulator interface {
	Simulate(ctx context.Context, goal model.Goal, tier model.RiskTier, iterations int, trigger model.Trigger) (*model.SimulationResult, error)
}

// GoalGetter looks up goals in the goal directory.
type GoalGetter interface {
	GetGoal(ctx context.Context, id string) (model.Goal, error)
}

// Profiles yields the goal's risk profile, creating it if absent.
type Profiles interface {
	GetOrCreate(ctx context.Context, goalID string) (model.RiskProfile, error)
}

// RecentResults answers the cooldown question.
type RecentResults interface {
	HasResultSince(ctx context.Context, userID string, since time.Time) (bool, error)
}

// Config holds the guard policy.
type Config struct {
	MaxIterations     int
	DefaultIterations int
	Cooldown          time.Duration
	// FailOpen allows a request when the cooldown lookup itself fails.
	FailOpen bool
}

// Request is a user-triggered simulation request. A nil Iterations selects
// the default.
type Request struct {
	UserID     string
	GoalID     string
	Iterations *int
}

// Guard wraps the simulator for requests that do not come from the scheduler.
type Guard struct {
	sim      Simulator
	goals    GoalGetter
	profiles Profiles
	recent   RecentResults
	cfg      Config
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a Guard.
func New(sim Simulator, goals GoalGetter, profiles Profiles, recent RecentResults, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		sim:      sim,
		goals:    goals,
		profiles: profiles,
		recent:   recent,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger,
		metrics:  m,
		inflight: make(map[string]struct{}),
	}
}

// WithClock replaces the guard's time source.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Simulate validates req, enforces the cooldown and then runs the simulation
// with the goal's current tier.
func (g *Guard) Simulate(ctx context.Context, req Request) (*model.SimulationResult, error) {
	iterations, err := g.iterations(req.Iterations)
	if err != nil {
		return nil, g.reject(err)
	}

	if !g.acquire(req.UserID) {
		return nil, g.reject(&RejectionError{Code: CodeRateLimited, Message: "a simulation for this user is already running"})
	}
	defer g.release(req.UserID)

	if err := g.checkCooldown(ctx, req.UserID); err != nil {
		return nil, g.reject(err)
	}

	goal, err := g.goals.GetGoal(ctx, req.GoalID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && goal.UserID != req.UserID) {
		return nil, g.reject(&RejectionError{Code: CodeGoalNotFound, Message: fmt.Sprintf("goal %s not found", req.GoalID)})
	}
	if err != nil {
		return nil, fmt.Errorf("load goal: %w", err)
	}

	profile, err := g.profiles.GetOrCreate(ctx, goal.ID)
	if err != nil {
		return nil, fmt.Errorf("load risk profile: %w", err)
	}
	return g.sim.Simulate(ctx, goal, profile.Tier, iterations, model.TriggerManual)
}

func (g *Guard) iterations(requested *int) (int, error) {
	if requested == nil {
		return g.cfg.DefaultIterations, nil
	}
	n := *requested
	switch {
	case n < 1:
		return 0, &RejectionError{Code: CodeInvalidIterations, Message: "iterations must be positive"}
	case n > g.cfg.MaxIterations:
		return 0, &RejectionError{
			Code:    CodeIterationsTooHigh,
			Message: fmt.Sprintf("iterations %d exceed the maximum of %d", n, g.cfg.MaxIterations),
		}
	}
	return n, nil
}

func (g *Guard) checkCooldown(ctx context.Context, userID string) error {
	since := g.now().Add(-g.cfg.Cooldown)
	recent, err := g.recent.HasResultSince(ctx, userID, since)
	if err != nil {
		if !g.cfg.FailOpen {
			return fmt.Errorf("cooldown check: %w", err)
		}
		g.metrics.ObserveFailOpen()
		g.logger.Warn("cooldown check failed, allowing request",
			zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	if recent {
		return &RejectionError{
			Code:    CodeRateLimited,
			Message: fmt.Sprintf("a simulation was run in the last %s, retry later", g.cfg.Cooldown),
		}
	}
	return nil
}

func (g *Guard) reject(err error) error {
	if rej, ok := AsRejection(err); ok {
		g.metrics.ObserveRejection(rej.Code)
	}
	return err
}

func (g *Guard) acquire(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[userID]; busy {
		return false
	}
	g.inflight[userID] = struct{}{}
	return true
}

func (g *Guard) release(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, userID)
}
