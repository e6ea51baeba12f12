package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRiskTierLower(t *testing.T) {
	tests := []struct {
		tier   RiskTier
		want   RiskTier
		wantOK bool
	}{
		{TierAggressive, TierModerate, true},
		{TierModerate, TierConservative, true},
		{TierConservative, "", false},
		{RiskTier("yolo"), "", false},
	}
	for _, tt := range tests {
		got, ok := tt.tier.Lower()
		assert.Equal(t, tt.wantOK, ok, "tier %s", tt.tier)
		assert.Equal(t, tt.want, got, "tier %s", tt.tier)
	}
}

func TestParseRiskTier(t *testing.T) {
	tier, err := ParseRiskTier("aggressive")
	require.NoError(t, err)
	assert.Equal(t, TierAggressive, tier)

	_, err = ParseRiskTier("balanced")
	assert.Error(t, err)
}

func TestTierVolatilityIncreasesWithRisk(t *testing.T) {
	c, _ := TierConservative.Params()
	m, _ := TierModerate.Params()
	a, _ := TierAggressive.Params()
	assert.Less(t, c.Volatility, m.Volatility)
	assert.Less(t, m.Volatility, a.Volatility)
}

func TestGoalHorizonMonths(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		target time.Time
		want   int
	}{
		{"five years", now.AddDate(5, 0, 0), 60},
		{"one day", now.Add(24 * time.Hour), 1},
		{"past date floors to one", now.AddDate(-1, 0, 0), 1},
		{"exactly now", now, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := Goal{TargetDate: tt.target}
			assert.Equal(t, tt.want, g.HorizonMonths(now))
		})
	}
}

func TestGoalValidate(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	valid := Goal{
		ID:                  "g1",
		UserID:              "u1",
		TargetAmount:        decimal.NewFromInt(50000),
		CurrentAmount:       decimal.Zero,
		MonthlyContribution: decimal.NewFromInt(500),
		TargetDate:          now.AddDate(5, 0, 0),
		Status:              GoalActive,
	}
	assert.NoError(t, valid.Validate(now))

	past := valid
	past.TargetDate = now.AddDate(0, -1, 0)
	assert.Error(t, past.Validate(now))

	negative := valid
	negative.MonthlyContribution = decimal.NewFromInt(-1)
	assert.Error(t, negative.Validate(now))
}

func TestWindowKey(t *testing.T) {
	sunday := time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2026-W42", WindowKey(sunday))
	assert.Equal(t, WindowKey(sunday), WindowKey(sunday.Add(3*time.Hour)))
	assert.NotEqual(t, WindowKey(sunday), WindowKey(sunday.AddDate(0, 0, 7)))
}

func TestNewRiskProfileDefaults(t *testing.T) {
	now := time.Now()
	p := NewRiskProfile("g1", now)
	assert.Equal(t, TierModerate, p.Tier)
	assert.False(t, p.AutoRebalance)
	assert.Equal(t, DefaultMinSuccessProbability, p.MinSuccessProbability)
	assert.Nil(t, p.LastSimulationAt)
}
