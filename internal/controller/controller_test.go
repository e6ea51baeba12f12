package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"GoalSentinel/internal/metrics"
	"GoalSentinel/internal/model"
	"GoalSentinel/internal/riskprofile"
	"GoalSentinel/internal/simulation"
	"GoalSentinel/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var now = time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu   sync.Mutex
	sent map[string][]model.Notification
	err  error
}

func (r *recordingNotifier) Notify(_ context.Context, userID string, n model.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent == nil {
		r.sent = make(map[string][]model.Notification)
	}
	r.sent[userID] = append(r.sent[userID], n)
	return r.err
}

func (r *recordingNotifier) forUser(userID string) []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sent[userID]
}

// failingSimulator fails for the listed goals and delegates the rest.
type failingSimulator struct {
	next  Simulator
	fails map[string]bool
}

func (f failingSimulator) Simulate(ctx context.Context, goal model.Goal, tier model.RiskTier, iterations int, trigger model.Trigger) (*model.SimulationResult, error) {
	if f.fails[goal.ID] {
		return nil, errors.New("simulation backend unavailable")
	}
	return f.next.Simulate(ctx, goal, tier, iterations, trigger)
}

type blockingSimulator struct{}

func (blockingSimulator) Simulate(ctx context.Context, _ model.Goal, _ model.RiskTier, _ int, _ model.Trigger) (*model.SimulationResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fixture struct {
	store    *store.MemoryStore
	registry *riskprofile.Registry
	engine   *simulation.Engine
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	st := store.NewMemoryStore()
	clock := func() time.Time { return now }
	logger := zaptest.NewLogger(t)
	return &fixture{
		store:    st,
		registry: riskprofile.NewRegistry(st, clock, logger),
		engine: simulation.NewEngine(st, st, simulation.Options{
			Sources: simulation.SeededSources(7),
			Workers: 2,
			Now:     clock,
			Logger:  logger,
		}),
		notifier: &recordingNotifier{},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
}

func (f *fixture) controller(t *testing.T, sim Simulator, cfg Config) *Controller {
	if sim == nil {
		sim = f.engine
	}
	if cfg.Iterations == 0 {
		cfg.Iterations = 2000
	}
	return New(f.store, sim, f.registry, f.notifier, cfg, zaptest.NewLogger(t), f.metrics).
		WithClock(func() time.Time { return now })
}

func (f *fixture) addGoal(t *testing.T, id string, current, target int64, tier model.RiskTier, auto bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.PutGoal(ctx, model.Goal{
		ID:                  id,
		UserID:              "user-" + id,
		Name:                "Goal " + id,
		TargetAmount:        decimal.NewFromInt(target),
		CurrentAmount:       decimal.NewFromInt(current),
		MonthlyContribution: decimal.NewFromInt(500),
		TargetDate:          now.AddDate(5, 0, 0),
		Status:              model.GoalActive,
	}))
	p := model.NewRiskProfile(id, now)
	p.Tier = tier
	p.AutoRebalance = auto
	_, err := f.store.CreateProfile(ctx, p)
	require.NoError(t, err)
}

func (f *fixture) tier(t *testing.T, goalID string) model.RiskTier {
	p, err := f.store.GetProfile(context.Background(), goalID)
	require.NoError(t, err)
	return p.Tier
}

func evaluation(t *testing.T, r SweepReport, goalID string) Evaluation {
	t.Helper()
	for _, ev := range r.Evaluations {
		if ev.GoalID == goalID {
			return ev
		}
	}
	t.Fatalf("no evaluation for goal %s", goalID)
	return Evaluation{}
}

func TestSweepDowngradesUnderperformingGoal(t *testing.T) {
	f := newFixture(t)
	f.addGoal(t, "behind", 0, 200000, model.TierAggressive, true)

	report, err := f.controller(t, nil, Config{Workers: 2}).Sweep(context.Background())
	require.NoError(t, err)

	ev := evaluation(t, report, "behind")
	assert.Equal(t, OutcomeDowngraded, ev.Outcome)
	assert.Equal(t, model.TierAggressive, ev.FromTier)
	assert.Equal(t, model.TierModerate, ev.ToTier)
	require.NotNil(t, ev.Result)
	assert.Less(t, ev.Result.SuccessProbability, 0.70)
	assert.Equal(t, model.TriggerScheduled, ev.Result.Trigger)
	assert.Equal(t, model.TierModerate, f.tier(t, "behind"))

	events, err := f.store.ListRebalanceEvents(context.Background(), "behind")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "2026-W42", events[0].Window)
	assert.Equal(t, model.TierAggressive, events[0].FromTier)
	assert.Equal(t, model.TierModerate, events[0].ToTier)

	sent := f.notifier.forUser("user-behind")
	require.Len(t, sent, 1)
	assert.Equal(t, model.KindRebalanced, sent[0].Kind)
}

func TestSweepEscalatesWhenAutoRebalanceDisabled(t *testing.T) {
	f := newFixture(t)
	f.addGoal(t, "manual", 0, 200000, model.TierModerate, false)

	report, err := f.controller(t, nil, Config{Workers: 1}).Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeEscalated, evaluation(t, report, "manual").Outcome)
	assert.Equal(t, model.TierModerate, f.tier(t, "manual"))

	events, err := f.store.ListRebalanceEvents(context.Background(), "manual")
	require.NoError(t, err)
	assert.Empty(t, events)

	sent := f.notifier.forUser("user-manual")
	require.Len(t, sent, 1)
	assert.Equal(t, model.KindLowProbability, sent[0].Kind)
}

func TestSweepEscalatesAtConservativeFloor(t *testing.T) {
	f := newFixture(t)
	f.addGoal(t, "floor", 0, 200000, model.TierConservative, true)

	report, err := f.controller(t, nil, Config{}).Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeEscalated, evaluation(t, report, "floor").Outcome)
	assert.Equal(t, model.TierConservative, f.tier(t, "floor"))
}

func TestSweepLeavesOnTrackGoalAlone(t *testing.T) {
	f := newFixture(t)
	f.addGoal(t, "funded", 75000, 50000, model.TierAggressive, true)

	report, err := f.controller(t, nil, Config{}).Sweep(context.Background())
	require.NoError(t, err)

	ev := evaluation(t, report, "funded")
	assert.Equal(t, OutcomeNoAction, ev.Outcome)
	assert.Equal(t, 1.0, ev.Result.SuccessProbability)
	assert.Equal(t, model.TierAggressive, f.tier(t, "funded"))
	assert.Empty(t, f.notifier.forUser("user-funded"))
}

func TestRepeatedSweepInSameWindowIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addGoal(t, "behind", 0, 200000, model.TierAggressive, true)
	c := f.controller(t, nil, Config{Workers: 2})

	first, err := c.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, OutcomeDowngraded, evaluation(t, first, "behind").Outcome)

	second, err := c.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, evaluation(t, second, "behind").Outcome)
	assert.Equal(t, model.TierModerate, f.tier(t, "behind"))

	events, err := f.store.ListRebalanceEvents(context.Background(), "behind")
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Len(t, f.notifier.forUser("user-behind"), 1)

	// Next week the goal is evaluated again.
	c.WithClock(func() time.Time { return now.AddDate(0, 0, 7) })
	third, err := c.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2026-W43", third.Window)
	assert.Equal(t, OutcomeDowngraded, evaluation(t, third, "behind").Outcome)
	assert.Equal(t, model.TierConservative, f.tier(t, "behind"))
}

func TestSweepIsolatesGoalFailures(t *testing.T) {
	f := newFixture(t)
	f.addGoal(t, "broken", 0, 200000, model.TierAggressive, true)
	f.addGoal(t, "behind", 0, 200000, model.TierAggressive, true)
	f.addGoal(t, "funded", 75000, 50000, model.TierModerate, false)

	sim := failingSimulator{next: f.engine, fails: map[string]bool{"broken": true}}
	report, err := f.controller(t, sim, Config{Workers: 3}).Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, report.Goals)
	broken := evaluation(t, report, "broken")
	assert.Equal(t, OutcomeFailed, broken.Outcome)
	assert.Error(t, broken.Err)
	assert.Equal(t, model.TierAggressive, f.tier(t, "broken"))

	assert.Equal(t, OutcomeDowngraded, evaluation(t, report, "behind").Outcome)
	assert.Equal(t, OutcomeNoAction, evaluation(t, report, "funded").Outcome)
	assert.Equal(t, 1, report.Counts[OutcomeFailed])
	require.Len(t, report.Failed(), 1)
	assert.Contains(t, report.Summary(), "broken")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Evaluations.WithLabelValues(string(OutcomeFailed))))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Evaluations.WithLabelValues(string(OutcomeDowngraded))))
}

func TestSweepBoundsEachGoalByTimeout(t *testing.T) {
	f := newFixture(t)
	f.addGoal(t, "slow", 0, 200000, model.TierAggressive, true)

	c := f.controller(t, blockingSimulator{}, Config{GoalTimeout: 20 * time.Millisecond})
	report, err := c.Sweep(context.Background())
	require.NoError(t, err)

	ev := evaluation(t, report, "slow")
	assert.Equal(t, OutcomeFailed, ev.Outcome)
	assert.ErrorIs(t, ev.Err, context.DeadlineExceeded)
	assert.Equal(t, model.TierAggressive, f.tier(t, "slow"))
}

func TestNotificationFailureDoesNotFailGoal(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("telegram down")
	f.addGoal(t, "behind", 0, 200000, model.TierAggressive, true)

	report, err := f.controller(t, nil, Config{}).Sweep(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeDowngraded, evaluation(t, report, "behind").Outcome)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NotificationFailures))
}

func TestSweepSkipsPausedGoals(t *testing.T) {
	f := newFixture(t)
	f.addGoal(t, "behind", 0, 200000, model.TierAggressive, true)
	g, err := f.store.GetGoal(context.Background(), "behind")
	require.NoError(t, err)
	g.Status = model.GoalPaused
	require.NoError(t, f.store.PutGoal(context.Background(), g))

	report, err := f.controller(t, nil, Config{}).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Goals)
	assert.Equal(t, model.TierAggressive, f.tier(t, "behind"))
}

func TestSummary(t *testing.T) {
	r := SweepReport{
		Window:   "2026-W42",
		Goals:    4,
		Duration: 1500 * time.Millisecond,
		Counts: map[Outcome]int{
			OutcomeNoAction:   2,
			OutcomeDowngraded: 1,
			OutcomeEscalated:  1,
		},
	}
	s := r.Summary()
	assert.Contains(t, s, "2026-W42")
	assert.Contains(t, s, "Goals evaluated: 4")
	assert.Contains(t, s, "Downgraded: 1")
	assert.NotContains(t, s, "Failures")
}
