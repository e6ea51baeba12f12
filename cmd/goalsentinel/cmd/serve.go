package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"GoalSentinel/internal/api"
	"GoalSentinel/internal/scheduler"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the weekly scheduler, HTTP API and operator bot",
	Long: `Serve starts the weekly de-risking sweep on its cron cadence, the HTTP API
for user-triggered simulations, and (when Telegram is configured) the operator
command bot.

Set RUN_ON_START=true to run one sweep immediately after startup.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger.Info("GoalSentinel starting...")

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, _ := cfg.Location()
	sched := scheduler.New(loc, a.store, logger.Named("scheduler"))
	if err := sched.Register(scheduler.NewSweepJob(a.controller, a.notifier, cfg.Schedule.WeeklyCron, logger)); err != nil {
		return fmt.Errorf("register cron jobs: %w", err)
	}
	sched.Start(ctx)
	defer sched.Stop()
	if next, err := sched.Next(scheduler.SweepJobName); err == nil {
		logger.Info("next weekly sweep", zap.Time("at", next))
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.NewServer(logger.Named("http"), a.guard, a.store, a.profiles, a.registry).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if a.telegram != nil {
		go a.telegram.StartPolling(ctx, sched.HandleCommand)
		logger.Info("telegram polling started")
	}

	if os.Getenv("RUN_ON_START") == "true" || cfg.Schedule.RunOnStart {
		logger.Info("RUN_ON_START enabled, executing weekly sweep now")
		go func() {
			if err := sched.RunNow(ctx, scheduler.SweepJobName); err != nil {
				logger.Error("startup sweep", zap.Error(err))
			}
		}()
	}

	logger.Info("GoalSentinel is running. Press Ctrl+C to stop.")

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping...")
	case err := <-serveErr:
		logger.Error("http server failed", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	logger.Info("GoalSentinel stopped")
	return nil
}
