package scheduler

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"GoalSentinel/internal/model"
	"GoalSentinel/internal/notifier"

	"go.uber.org/zap"
)

const historyLimit = 5

// ResultLister reads a goal's simulation history, newest first.
type ResultLister interface {
	ListResults(ctx context.Context, goalID string, limit int) ([]model.SimulationResult, error)
}

// HandleCommand processes an operator command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return usage()
	}
	switch fields[0] {
	case "/jobs":
		return s.formatJobs()
	case "/run":
		if len(fields) < 2 {
			return "Usage: /run &lt;job&gt;"
		}
		return s.startJob(fields[1])
	case "/history":
		if len(fields) < 2 {
			return "Usage: /history &lt;goalID&gt;"
		}
		return s.formatHistory(ctx, fields[1])
	default:
		return usage()
	}
}

func usage() string {
	return "Available commands:\n• /jobs\n• /run &lt;job&gt;\n• /history &lt;goalID&gt;"
}

func (s *Scheduler) formatJobs() string {
	jobs := s.Jobs()
	if len(jobs) == 0 {
		return "No jobs registered."
	}
	var b strings.Builder
	b.WriteString("🗓 <b>Jobs</b>\n\n")
	for _, j := range jobs {
		b.WriteString(fmt.Sprintf("<b>%s</b> (%s)\n", j.Name, j.Cadence))
		if !j.Next.IsZero() {
			b.WriteString(fmt.Sprintf("  next: %s\n", j.Next.Format(time.RFC3339)))
		}
		switch {
		case j.Running:
			b.WriteString("  running now\n")
		case j.LastRun.IsZero():
			b.WriteString("  never run\n")
		case j.LastErr != nil:
			b.WriteString(fmt.Sprintf("  last run %s failed\n", j.LastRun.Format(time.RFC3339)))
		default:
			b.WriteString(fmt.Sprintf("  last run %s ok\n", j.LastRun.Format(time.RFC3339)))
		}
	}
	return b.String()
}

// startJob runs the job in the background; the job reports its own outcome.
func (s *Scheduler) startJob(name string) string {
	s.mu.Lock()
	e, ok := s.entries[name]
	running := ok && e.running
	s.mu.Unlock()
	if !ok {
		return fmt.Sprintf("Unknown job %s. Try /jobs.", html.EscapeString(name))
	}
	if running {
		return fmt.Sprintf("Job %s is already running.", name)
	}
	go func() {
		if err := s.run(s.runContext(), name); err != nil {
			s.logger.Error("manual job run failed", zap.String("job", name), zap.Error(err))
		}
	}()
	return fmt.Sprintf("▶️ Started %s.", name)
}

func (s *Scheduler) formatHistory(ctx context.Context, goalID string) string {
	if s.history == nil {
		return "History is not available."
	}
	results, err := s.history.ListResults(ctx, goalID, historyLimit)
	if err != nil {
		s.logger.Error("list results", zap.String("goal_id", goalID), zap.Error(err))
		return "❌ Could not load history."
	}
	label := html.EscapeString(goalID)
	if len(results) == 0 {
		return fmt.Sprintf("No simulations for goal %s.", label)
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📈 <b>Recent simulations</b> | %s\n\n", label))
	for _, r := range results {
		b.WriteString(notifier.FormatResult(r))
	}
	return b.String()
}
