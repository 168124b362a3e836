package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kestrel-systems/faceaccess/internal/config"
	"github.com/kestrel-systems/faceaccess/internal/constants"
	"github.com/kestrel-systems/faceaccess/internal/store"
)

var exportLogsCmd = &cobra.Command{
	Use:   "export-logs",
	Short: "Export the audit log to a JSON file",
	Long: `Export up to 1000 of the most recent audit log records (access grants,
denials, and exit-button events) to a JSON file for offline review.`,
	RunE: runExportLogs,
}

func init() {
	rootCmd.AddCommand(exportLogsCmd)
	exportLogsCmd.Flags().String("config", "", "Path to the YAML configuration file (required)")
	exportLogsCmd.Flags().String("export-logs", "", "Path to write the exported JSON file (required)")
	exportLogsCmd.Flags().Int("limit", constants.DefaultAuditExportLimit, "Maximum number of records to export")
}

func runExportLogs(cmd *cobra.Command, args []string) error {
	configPath := mustGetString(cmd, "config")
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}
	outPath := mustGetString(cmd, "export-logs")
	if outPath == "" {
		return fmt.Errorf("--export-logs is required")
	}
	limit := mustGetInt(cmd, "limit")
	if limit <= 0 || limit > constants.DefaultAuditExportLimit {
		limit = constants.DefaultAuditExportLimit
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.Open(cfg.Database.Path, cfg.Face.EmbeddingDim, func(string, error) {})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	logs, err := st.GetAuditLogs(ctx, nil, nil, nil, limit)
	if err != nil {
		return fmt.Errorf("reading audit logs: %w", err)
	}

	bar := progressbar.NewOptions(len(logs),
		progressbar.OptionSetDescription("Exporting audit logs"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	out := make([]store.AuditRecord, 0, len(logs))
	for _, rec := range logs {
		out = append(out, rec)
		_ = bar.Add(1)
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("writing export file: %w", err)
	}

	fmt.Printf("\nExported %d audit records to %s\n", len(out), outPath)
	return nil
}
