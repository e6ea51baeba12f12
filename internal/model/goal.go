package model

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// DaysPerMonth is the average Gregorian month length used to convert a
// target date into a monthly horizon.
const DaysPerMonth = 30.44

// GoalStatus is the lifecycle status owned by the goal directory.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalPaused    GoalStatus = "paused"
	GoalCompleted GoalStatus = "completed"
)

// Goal is a savings/investment goal. It is owned by the goal directory and
// read-only to the simulator.
type Goal struct {
	ID                  string
	UserID              string
	Name                string
	TargetAmount        decimal.Decimal
	CurrentAmount       decimal.Decimal
	MonthlyContribution decimal.Decimal
	TargetDate          time.Time
	Status              GoalStatus
}

// Validate checks that a new goal is well formed.
func (g Goal) Validate(now time.Time) error {
	switch {
	case g.ID == "":
		return errors.New("goal id is required")
	case g.UserID == "":
		return errors.New("goal user id is required")
	case g.TargetAmount.IsNegative():
		return errors.New("target amount must not be negative")
	case g.CurrentAmount.IsNegative():
		return errors.New("current amount must not be negative")
	case g.MonthlyContribution.IsNegative():
		return errors.New("monthly contribution must not be negative")
	case !g.TargetDate.After(now):
		return errors.New("target date must be in the future")
	}
	return nil
}

// HorizonMonths returns the number of monthly steps between now and the
// target date, rounded up and floored at one month.
func (g Goal) HorizonMonths(now time.Time) int {
	days := g.TargetDate.Sub(now).Hours() / 24
	months := int(math.Ceil(days / DaysPerMonth))
	if months < 1 {
		return 1
	}
	return months
}
