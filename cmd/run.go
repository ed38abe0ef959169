package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/egp-watch/internal/metrics"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch, diff, notify and persist once",
		Long: `Runs the pipeline once: load the snapshot, fetch candidate records
through the SQL, keyword and delegate tiers, announce records not seen before,
then write the updated snapshot. Exits non-zero when every tier fails.`,
		Args: cobra.NoArgs,
		RunE: runRunCommand,
	}
	cmd.Flags().Bool("dry-run", false, "fetch and diff against an empty snapshot, print the announcements, send and write nothing")
	return cmd
}

func runRunCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}
	runner, err := appInstance.Runner(ctx, dryRun)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	_, runErr := runner.Run(ctx)
	if dryRun {
		if runErr != nil {
			return runErr
		}
		for _, ev := range appInstance.Previewed() {
			if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\n\n", ev.Message); err != nil {
				return err
			}
		}
		return nil
	}

	cfg := appInstance.GetConfig()
	// Push even on failure so the failed run is visible to alerting.
	if err := metrics.Push(context.WithoutCancel(ctx), cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
		appInstance.GetLogger().Warn("metrics push failed", zap.Error(err))
	}
	return runErr
}
