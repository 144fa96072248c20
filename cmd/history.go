package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/config"
	"backup-sentinel/internal/database"
	"backup-sentinel/internal/logging"
)

var (
	histDatabase string
	histLimit    int
	histBefore   string
	histSince    time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Query the backup history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List completed backups for a database, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if histDatabase == "" {
			return fmt.Errorf("--database is required")
		}
		before, err := parseBefore(histBefore)
		if err != nil {
			return err
		}
		return withHistory(cmd.Context(), func(h backup.HistoryStore) error {
			var events []*backup.BackupEvent
			var err error
			if before.IsZero() {
				events, err = h.FindCompletedByDatabase(cmd.Context(), histDatabase)
			} else {
				events, err = h.FindCompletedBefore(cmd.Context(), histDatabase, before)
			}
			if err != nil {
				return err
			}
			if histLimit > 0 && len(events) > histLimit {
				events = events[:histLimit]
			}
			newPrinter(cmd).History(events)
			return nil
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <backup-id>",
	Short: "Show one backup event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHistory(cmd.Context(), func(h backup.HistoryStore) error {
			event, err := h.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			newPrinter(cmd).Event(event, false)
			return nil
		})
	},
}

var historyDetectionsCmd = &cobra.Command{
	Use:   "detections",
	Short: "Count ransomware detections in a recent window",
	RunE: func(cmd *cobra.Command, args []string) error {
		since := time.Now().UTC().Add(-histSince)
		return withHistory(cmd.Context(), func(h backup.HistoryStore) error {
			count, err := h.CountRansomwareSince(cmd.Context(), since)
			if err != nil {
				return err
			}
			newPrinter(cmd).Detections(count, since)
			return nil
		})
	},
}

func init() {
	historyListCmd.Flags().StringVar(&histDatabase, "database", "", "database name")
	historyListCmd.Flags().IntVar(&histLimit, "limit", 20, "maximum rows to print (0 for all)")
	historyListCmd.Flags().StringVar(&histBefore, "before", "", "only backups created before this date (2006-01-02 or RFC3339)")
	historyDetectionsCmd.Flags().DurationVar(&histSince, "since", 24*time.Hour, "look-back window")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDetectionsCmd)
	rootCmd.AddCommand(historyCmd)
}

// parseBefore accepts a date or an RFC3339 timestamp; empty means no bound
func parseBefore(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --before %q: use 2006-01-02 or RFC3339", value)
	}
	return t, nil
}

// withHistory opens only the history store, without the rest of the pipeline
func withHistory(ctx context.Context, fn func(backup.HistoryStore) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	svc, db, err := openHistoryDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if svc != nil {
		defer svc.Close(db)
	}
	h, err := newHistory(cfg, db, logger)
	if err != nil {
		return err
	}
	return fn(h)
}

func openHistoryDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*database.Service, *sql.DB, error) {
	if cfg.History.Backend != "mysql" {
		return nil, nil, nil
	}
	return openDatabase(ctx, cfg, logger)
}
