package scheduler

import (
	"context"
	"fmt"
	"html"

	"GoalSentinel/internal/controller"

	"go.uber.org/zap"
)

// SweepJobName is the operator-facing name of the weekly sweep.
const SweepJobName = "weekly-sweep"

// Sweeper runs one sweep over all active goals.
type Sweeper interface {
	Sweep(ctx context.Context) (controller.SweepReport, error)
}

// OperatorNotifier sends messages to the operator chat.
type OperatorNotifier interface {
	SendOperator(ctx context.Context, text string) error
}

// SweepJob runs the weekly de-risking sweep and reports it to the operator.
type SweepJob struct {
	sweeper  Sweeper
	notifier OperatorNotifier
	cadence  string
	logger   *zap.Logger
}

// NewSweepJob creates the weekly sweep job.
func NewSweepJob(sw Sweeper, n OperatorNotifier, cadence string, logger *zap.Logger) *SweepJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SweepJob{sweeper: sw, notifier: n, cadence: cadence, logger: logger}
}

func (j *SweepJob) Name() string    { return SweepJobName }
func (j *SweepJob) Cadence() string { return j.cadence }

// RunOnce runs one sweep. Only a failure to start the sweep is returned;
// per-goal failures are part of the report.
func (j *SweepJob) RunOnce(ctx context.Context) error {
	report, err := j.sweeper.Sweep(ctx)
	if err != nil {
		j.trySend(ctx, fmt.Sprintf("❌ Weekly risk sweep failed: %s", html.EscapeString(err.Error())))
		return err
	}
	j.trySend(ctx, report.Summary())
	return nil
}

func (j *SweepJob) trySend(ctx context.Context, text string) {
	if j.notifier == nil {
		return
	}
	if err := j.notifier.SendOperator(ctx, text); err != nil {
		j.logger.Error("send sweep summary", zap.Error(err))
	}
}
