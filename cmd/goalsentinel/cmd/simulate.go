package cmd

import (
	"encoding/json"
	"fmt"

	"GoalSentinel/internal/guard"

	"github.com/spf13/cobra"
)

var (
	simGoalID     string
	simUserID     string
	simIterations int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a guarded simulation for one goal",
	Long: `Simulate runs the same guarded simulation as the HTTP API, including the
iteration cap and per-user cooldown, and prints the persisted result as JSON.

Example:
  goalsentinel simulate --goal g-123 --user u-42 --iterations 5000`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simGoalID, "goal", "", "goal id (required)")
	simulateCmd.Flags().StringVar(&simUserID, "user", "", "owning user id (required)")
	simulateCmd.Flags().IntVarP(&simIterations, "iterations", "n", 0, "number of paths (default from config)")
	simulateCmd.MarkFlagRequired("goal")
	simulateCmd.MarkFlagRequired("user")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	req := guard.Request{UserID: simUserID, GoalID: simGoalID}
	if cmd.Flags().Changed("iterations") {
		req.Iterations = &simIterations
	}
	res, err := a.guard.Simulate(cmd.Context(), req)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
