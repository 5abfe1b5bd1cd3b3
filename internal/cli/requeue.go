package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/regbridge/subtrack/internal/core/config"
	redisclient "github.com/regbridge/subtrack/internal/infra/redis"
	"github.com/regbridge/subtrack/internal/infra/storage/postgres"
)

var requeueCmd = &cobra.Command{
	Use:   "requeue [item_id]",
	Short: "Requeue a dead-lettered delivery item with a fresh attempt budget",
	Args:  cobra.ExactArgs(1),
	Run:   runRequeue,
}

func init() {
	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) {
	itemID := args[0]

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	// Direct SQL is cleaner for a one-shot operator override. The state
	// guard mirrors the engine: only failed items can be requeued.
	query := `
		UPDATE delivery_items
		SET state = 'pending', attempts = 0, last_error = '', next_attempt_at = $2, updated_at = $2
		WHERE id = $1 AND state = 'failed'
	`
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := db.ExecContext(ctx, query, itemID, now)
	if err != nil {
		slog.Error("Failed to requeue item", "error", err)
		os.Exit(1)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		fmt.Printf("Item %s not found or not in failed state\n", itemID)
		os.Exit(1)
	}

	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, dead-letter entry left in place", "error", err)
		} else {
			defer func() {
				_ = client.Close()
			}()
			if err := redisclient.NewDeadLetterStore(client).Remove(ctx, itemID); err != nil {
				slog.Warn("Failed to remove dead-letter entry", "error", err)
			}
		}
	}

	fmt.Printf("Successfully requeued delivery item %s\n", itemID)
}
