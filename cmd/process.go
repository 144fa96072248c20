package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/listener"
)

var (
	procInstance    string
	procDatabase    string
	procBucket      string
	procPrefix      string
	procLocation    string
	procRequestedBy string
	procFile        string
	procOutput      string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Run the pipeline for a single backup request",
	Long: `Run one backup request through the pipeline synchronously and print the
resulting event. The request can be given as flags or as a JSON message body
with --file (use - for stdin), in the same format the worker consumes.

Examples:
  backup-sentinel process --instance=prod-1 --database=orders
  backup-sentinel process --file=request.json --output=json`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&procInstance, "instance", "", "database instance identifier")
	processCmd.Flags().StringVar(&procDatabase, "database", "", "database name")
	processCmd.Flags().StringVar(&procBucket, "bucket", "", "override the backup bucket")
	processCmd.Flags().StringVar(&procPrefix, "prefix", "", "override the backup prefix")
	processCmd.Flags().StringVar(&procLocation, "location", "", "explicit backup artifact location")
	processCmd.Flags().StringVar(&procRequestedBy, "requested-by", "cli", "requester recorded on the event")
	processCmd.Flags().StringVar(&procFile, "file", "", "read the request from a JSON file")
	processCmd.Flags().StringVarP(&procOutput, "output", "o", "text", "output format (text, json)")

	rootCmd.AddCommand(processCmd)
}

func readRequest(now time.Time) (backup.BackupRequest, error) {
	if procFile == "" {
		req := backup.BackupRequest{
			DatabaseInstance: procInstance,
			DatabaseName:     procDatabase,
			BackupBucket:     procBucket,
			BackupPrefix:     procPrefix,
			BackupLocation:   procLocation,
			RequestedAt:      now,
			RequestedBy:      procRequestedBy,
		}
		return req, req.Validate()
	}

	var data []byte
	var err error
	if procFile == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(procFile)
	}
	if err != nil {
		return backup.BackupRequest{}, fmt.Errorf("failed to read request: %w", err)
	}
	return listener.ParseRequest(data, now)
}

func runProcess(cmd *cobra.Command, args []string) error {
	if procOutput != "text" && procOutput != "json" {
		return fmt.Errorf("unsupported output format %q", procOutput)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	req, err := readRequest(time.Now().UTC())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.orchestrator.Process(ctx, req)
	if err != nil {
		return err
	}

	if procOutput == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Event     *backup.BackupEvent `json:"event"`
			Duplicate bool                `json:"duplicate"`
		}{result.Event, result.Duplicate})
	}
	if result.Event == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Request already processed; existing event could not be loaded.")
		return nil
	}
	newPrinter(cmd).Event(result.Event, result.Duplicate)
	return nil
}
