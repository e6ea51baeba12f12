package model

import "time"

// Trigger records what started a simulation run.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// SimulationResult is one persisted Monte Carlo run. Results are append-only.
type SimulationResult struct {
	ID                 string    `json:"id"`
	GoalID             string    `json:"goal_id"`
	UserID             string    `json:"user_id"`
	Iterations         int       `json:"iterations"`
	P1                 float64   `json:"p1"`
	P10                float64   `json:"p10"`
	P50                float64   `json:"p50"`
	P90                float64   `json:"p90"`
	SuccessProbability float64   `json:"success_probability"`
	ExpectedShortfall  float64   `json:"expected_shortfall"`
	RiskTier           RiskTier  `json:"risk_tier"`
	HorizonMonths      int       `json:"horizon_months"`
	Trigger            Trigger   `json:"trigger"`
	CreatedAt          time.Time `json:"created_at"`
}
