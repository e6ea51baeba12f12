package model

import (
	"fmt"
	"time"
)

// RiskTier is a named bucket mapping to a fixed return/volatility pair.
type RiskTier string

const (
	TierConservative RiskTier = "conservative"
	TierModerate     RiskTier = "moderate"
	TierAggressive   RiskTier = "aggressive"
)

// TierParams holds the annualized parametric return model of a tier.
type TierParams struct {
	MeanReturn float64
	Volatility float64
}

// Tiers maps every tier to its annualized mean return and volatility.
var Tiers = map[RiskTier]TierParams{
	TierConservative: {MeanReturn: 0.04, Volatility: 0.05},
	TierModerate:     {MeanReturn: 0.07, Volatility: 0.12},
	TierAggressive:   {MeanReturn: 0.10, Volatility: 0.20},
}

// tierOrder lists tiers from lowest to highest risk.
var tierOrder = []RiskTier{TierConservative, TierModerate, TierAggressive}

// ParseRiskTier converts a string into a known tier.
func ParseRiskTier(s string) (RiskTier, error) {
	t := RiskTier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown risk tier %q", s)
	}
	return t, nil
}

// Valid reports whether t is one of the known tiers.
func (t RiskTier) Valid() bool {
	_, ok := Tiers[t]
	return ok
}

// Params returns the return model for t.
func (t RiskTier) Params() (TierParams, bool) {
	p, ok := Tiers[t]
	return p, ok
}

// Lower returns the next less risky tier. The second result is false when t
// is already the floor (conservative) or unknown.
func (t RiskTier) Lower() (RiskTier, bool) {
	for i, o := range tierOrder {
		if o == t && i > 0 {
			return tierOrder[i-1], true
		}
	}
	return "", false
}

// DefaultMinSuccessProbability is the threshold assigned to new profiles.
const DefaultMinSuccessProbability = 0.70

// RiskProfile is the per-goal risk configuration. Version increases on every
// write and is used for compare-and-swap updates.
type RiskProfile struct {
	GoalID                string
	Tier                  RiskTier
	AutoRebalance         bool
	MinSuccessProbability float64
	LastSimulationAt      *time.Time
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewRiskProfile returns the lazily created default profile for a goal.
func NewRiskProfile(goalID string, now time.Time) RiskProfile {
	return RiskProfile{
		GoalID:                goalID,
		Tier:                  TierModerate,
		AutoRebalance:         false,
		MinSuccessProbability: DefaultMinSuccessProbability,
		Version:               1,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
}
