package model

import (
	"fmt"
	"time"
)

// RebalanceEvent is appended once per automatic tier downgrade.
type RebalanceEvent struct {
	ID                 string    `json:"id"`
	GoalID             string    `json:"goal_id"`
	UserID             string    `json:"user_id"`
	FromTier           RiskTier  `json:"from_tier"`
	ToTier             RiskTier  `json:"to_tier"`
	SuccessProbability float64   `json:"success_probability"`
	Window             string    `json:"window"`
	CreatedAt          time.Time `json:"created_at"`
}

// WindowKey returns the scheduling window a time belongs to, as an ISO
// year-week such as "2026-W42".
func WindowKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// NotificationKind classifies user notifications.
type NotificationKind string

const (
	KindRebalanced     NotificationKind = "risk_rebalanced"
	KindLowProbability NotificationKind = "low_success_probability"
)

// Notification is the payload handed to the notifier.
type Notification struct {
	Title   string
	Message string
	Kind    NotificationKind
}
