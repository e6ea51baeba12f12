package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sweepNotify bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one de-risking sweep now and print the report",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
	sweepCmd.Flags().BoolVar(&sweepNotify, "notify", false, "also send the summary to the operator chat")
}

var stripTags = strings.NewReplacer("<b>", "", "</b>", "")

func runSweep(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.controller.Sweep(cmd.Context())
	if err != nil {
		return err
	}
	summary := report.Summary()
	fmt.Fprint(cmd.OutOrStdout(), stripTags.Replace(summary))

	if sweepNotify {
		if err := a.notifier.SendOperator(cmd.Context(), summary); err != nil {
			logger.Error("send sweep summary", zap.Error(err))
		}
	}
	return nil
}
