// Package riskprofile owns the per-goal risk tier and its downgrade transitions.
package riskprofile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"GoalSentinel/internal/model"
	"GoalSentinel/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the subset of the persistence layer the registry needs.
type Store interface {
	GetProfile(ctx context.Context, goalID string) (model.RiskProfile, error)
	CreateProfile(ctx context.Context, p model.RiskProfile) (model.RiskProfile, error)
	UpdateProfile(ctx context.Context, p model.RiskProfile) (model.RiskProfile, error)
	DowngradeTier(ctx context.Context, d store.Downgrade) (model.RiskProfile, error)
	HasRebalanceEvent(ctx context.Context, goalID, window string) (bool, error)
}

// ErrInvalidProfile marks a user edit that is rejected before it is stored.
var ErrInvalidProfile = errors.New("invalid risk profile")

// Trigger describes the evaluation that caused an automatic downgrade.
type Trigger struct {
	UserID             string
	Window             string
	SuccessProbability float64
}

// Registry reads and transitions risk profiles. Every write is a
// compare-and-swap, so a concurrent user edit or a second scheduler makes the
// losing downgrade fail instead of overwriting.
type Registry struct {
	store  Store
	now    func() time.Time
	logger *zap.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(st Store, now func() time.Time, logger *zap.Logger) *Registry {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: st, now: now, logger: logger}
}

// GetOrCreate returns the goal's profile, lazily creating the default one.
func (r *Registry) GetOrCreate(ctx context.Context, goalID string) (model.RiskProfile, error) {
	p, err := r.store.GetProfile(ctx, goalID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.RiskProfile{}, err
	}
	p, err = r.store.CreateProfile(ctx, model.NewRiskProfile(goalID, r.now()))
	if err != nil {
		return model.RiskProfile{}, fmt.Errorf("create risk profile: %w", err)
	}
	r.logger.Info("risk profile created",
		zap.String("goal_id", goalID), zap.String("tier", string(p.Tier)))
	return p, nil
}

// Update applies a user edit to the profile. p.Version must be the version
// the user read; a stale one fails with store.ErrVersionConflict.
func (r *Registry) Update(ctx context.Context, p model.RiskProfile) (model.RiskProfile, error) {
	if !p.Tier.Valid() {
		return model.RiskProfile{}, fmt.Errorf("%w: unknown risk tier %q", ErrInvalidProfile, p.Tier)
	}
	if p.MinSuccessProbability < 0 || p.MinSuccessProbability > 1 {
		return model.RiskProfile{}, fmt.Errorf("%w: min success probability must be between 0 and 1", ErrInvalidProfile)
	}
	p.UpdatedAt = r.now()
	updated, err := r.store.UpdateProfile(ctx, p)
	if err != nil {
		return model.RiskProfile{}, fmt.Errorf("update risk profile %s: %w", p.GoalID, err)
	}
	r.logger.Info("risk profile updated",
		zap.String("goal_id", p.GoalID),
		zap.String("tier", string(updated.Tier)),
		zap.Bool("auto_rebalance", updated.AutoRebalance),
		zap.Int64("version", updated.Version))
	return updated, nil
}

// Downgrade moves the goal one tier down. It returns nil, and writes nothing,
// when the profile is already at the conservative floor.
func (r *Registry) Downgrade(ctx context.Context, goalID string) (*model.RiskProfile, error) {
	cur, err := r.store.GetProfile(ctx, goalID)
	if err != nil {
		return nil, err
	}
	p, _, err := r.downgrade(ctx, cur, nil)
	return p, err
}

// DowngradeFrom downgrades the profile exactly as it was read by the caller
// and appends a RebalanceEvent in the same write. It fails with
// store.ErrVersionConflict if the profile changed since, and with
// store.ErrDuplicate if the window already holds a downgrade.
func (r *Registry) DowngradeFrom(ctx context.Context, cur model.RiskProfile, trig Trigger) (*model.RiskProfile, *model.RebalanceEvent, error) {
	return r.downgrade(ctx, cur, &trig)
}

// HasRebalanced reports whether the goal was already downgraded in window.
func (r *Registry) HasRebalanced(ctx context.Context, goalID, window string) (bool, error) {
	return r.store.HasRebalanceEvent(ctx, goalID, window)
}

func (r *Registry) downgrade(ctx context.Context, cur model.RiskProfile, trig *Trigger) (*model.RiskProfile, *model.RebalanceEvent, error) {
	lower, ok := cur.Tier.Lower()
	if !ok {
		return nil, nil, nil
	}
	now := r.now()
	d := store.Downgrade{
		GoalID:          cur.GoalID,
		ExpectedVersion: cur.Version,
		From:            cur.Tier,
		To:              lower,
		At:              now,
	}
	if trig != nil {
		d.Event = &model.RebalanceEvent{
			ID:                 uuid.NewString(),
			GoalID:             cur.GoalID,
			UserID:             trig.UserID,
			FromTier:           cur.Tier,
			ToTier:             lower,
			SuccessProbability: trig.SuccessProbability,
			Window:             trig.Window,
			CreatedAt:          now,
		}
	}

	updated, err := r.store.DowngradeTier(ctx, d)
	if err != nil {
		return nil, nil, fmt.Errorf("downgrade %s from %s: %w", cur.GoalID, cur.Tier, err)
	}
	r.logger.Info("risk tier downgraded",
		zap.String("goal_id", cur.GoalID),
		zap.String("from", string(cur.Tier)),
		zap.String("to", string(lower)))
	return &updated, d.Event, nil
}
