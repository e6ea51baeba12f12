package controller

import (
	"fmt"
	"strings"
	"time"
)

// SweepReport summarises one sweep.
type SweepReport struct {
	Window      string
	StartedAt   time.Time
	Duration    time.Duration
	Goals       int
	Counts      map[Outcome]int
	Evaluations []Evaluation
}

// Failed returns the evaluations that ended in an error.
func (r SweepReport) Failed() []Evaluation {
	var out []Evaluation
	for _, ev := range r.Evaluations {
		if ev.Outcome == OutcomeFailed {
			out = append(out, ev)
		}
	}
	return out
}

// Summary renders the report for the operator chat.
func (r SweepReport) Summary() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📊 <b>Weekly risk sweep</b> | %s\n\n", r.Window))
	b.WriteString(fmt.Sprintf("Goals evaluated: %d\n", r.Goals))
	b.WriteString(fmt.Sprintf("On track: %d\n", r.Counts[OutcomeNoAction]))
	b.WriteString(fmt.Sprintf("Downgraded: %d\n", r.Counts[OutcomeDowngraded]))
	b.WriteString(fmt.Sprintf("Escalated: %d\n", r.Counts[OutcomeEscalated]))
	b.WriteString(fmt.Sprintf("Skipped: %d\n", r.Counts[OutcomeSkipped]))
	b.WriteString(fmt.Sprintf("Failed: %d\n", r.Counts[OutcomeFailed]))
	b.WriteString(fmt.Sprintf("Duration: %s\n", r.Duration.Round(time.Millisecond)))
	if failed := r.Failed(); len(failed) > 0 {
		b.WriteString("\n⚠️ Failures:\n")
		for _, ev := range failed {
			b.WriteString(fmt.Sprintf("  %s: %v\n", ev.GoalID, ev.Err))
		}
	}
	return b.String()
}
