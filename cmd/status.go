package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harvestkit/facultydir/internal/clock/system"
	"github.com/harvestkit/facultydir/internal/config"
	"github.com/harvestkit/facultydir/internal/harvest"
	"github.com/harvestkit/facultydir/internal/progress"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show checkpointed progress for the configured query",
		RunE:  runStatusCommand,
	}
}

func runStatusCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	kv, err := buildStore(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer closeQuietly(kv, zap.NewNop(), "store")

	query := harvest.SanitizeQuery(harvest.Query{
		Keyword:     cfg.Run.Keyword,
		Department:  cfg.Run.Department,
		Institution: cfg.Run.Institution,
	})

	tracker := progress.NewTracker(kv, system.New(), cfg.Run.CheckpointInterval, zap.NewNop())
	resumed, err := tracker.Initialize(cmd.Context(), query, cfg.Run.MaxItems)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if !resumed {
		cmd.Println("no checkpoint for this query; a harvest would start fresh")
		return nil
	}

	stats := tracker.Stats()
	cmd.Printf("processed:  %d of %d (%d%%)\n",
		stats.TotalProcessed, stats.TotalRequested, stats.ProgressPercentage)
	cmd.Printf("remaining:  %d\n", stats.Remaining)
	cmd.Printf("rate:       %.1f records/min\n", stats.RatePerMinute)
	return nil
}
