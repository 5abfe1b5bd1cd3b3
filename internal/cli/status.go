package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/regbridge/subtrack/internal/core/config"
	"github.com/regbridge/subtrack/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show submission and delivery queue counts",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
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

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)

	_, _ = fmt.Fprintln(w, "SUBMISSION STATUS\tCOUNT")
	rows, err := db.QueryContext(ctx, "SELECT status, COUNT(*) FROM submissions GROUP BY status ORDER BY status")
	if err != nil {
		slog.Error("Failed to query submissions", "error", err)
		os.Exit(1)
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\n", status, count)
	}
	_ = rows.Close()

	_, _ = fmt.Fprintln(w, "\nDELIVERY STATE\tCOUNT")
	rows, err = db.QueryContext(ctx, "SELECT state, COUNT(*) FROM delivery_items GROUP BY state ORDER BY state")
	if err != nil {
		slog.Error("Failed to query delivery items", "error", err)
		os.Exit(1)
	}
	for rows.Next() {
		var state string
		var count int64
		if err := rows.Scan(&state, &count); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\n", state, count)
	}
	_ = rows.Close()

	var oldestID, oldestCreated string
	err = db.QueryRowContext(ctx,
		"SELECT id, created_at FROM submissions WHERE status = 'pending' ORDER BY created_at LIMIT 1",
	).Scan(&oldestID, &oldestCreated)
	if err == nil {
		_, _ = fmt.Fprintf(w, "\nOLDEST PENDING\t%s (%s)\n", oldestID, oldestCreated)
	}

	_ = w.Flush()
}
