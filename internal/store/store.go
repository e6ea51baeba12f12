// Package store persists goals, risk profiles, simulation results and
// rebalance events.
package store

import (
	"context"
	"errors"
	"time"

	"GoalSentinel/internal/model"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrDuplicate       = errors.New("duplicate")
)

// Downgrade is a compare-and-swap tier change. It applies only when the
// stored profile still has ExpectedVersion and From. Event, when set, is
// appended in the same transaction; a second event for the same goal and
// window fails the whole change with ErrDuplicate.
type Downgrade struct {
	GoalID          string
	ExpectedVersion int64
	From            model.RiskTier
	To              model.RiskTier
	At              time.Time
	Event           *model.RebalanceEvent
}

// Store is the persistence contract shared by the SQLite and in-memory stores.
type Store interface {
	ListActiveGoals(ctx context.Context) ([]model.Goal, error)
	GetGoal(ctx context.Context, id string) (model.Goal, error)
	PutGoal(ctx context.Context, g model.Goal) error

	GetProfile(ctx context.Context, goalID string) (model.RiskProfile, error)
	// CreateProfile inserts p unless a profile already exists and returns
	// whichever profile is stored afterwards.
	CreateProfile(ctx context.Context, p model.RiskProfile) (model.RiskProfile, error)
	// UpdateProfile writes user-editable settings if p.Version matches.
	UpdateProfile(ctx context.Context, p model.RiskProfile) (model.RiskProfile, error)
	DowngradeTier(ctx context.Context, d Downgrade) (model.RiskProfile, error)
	// TouchLastSimulation does not change the profile version.
	TouchLastSimulation(ctx context.Context, goalID string, at time.Time) error

	SaveResult(ctx context.Context, r *model.SimulationResult) error
	HasResultSince(ctx context.Context, userID string, since time.Time) (bool, error)
	// ListResults returns the newest results first.
	ListResults(ctx context.Context, goalID string, limit int) ([]model.SimulationResult, error)

	HasRebalanceEvent(ctx context.Context, goalID, window string) (bool, error)
	ListRebalanceEvents(ctx context.Context, goalID string) ([]model.RebalanceEvent, error)

	Close() error
}
