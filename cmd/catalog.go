package cmd

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"backup-sentinel/internal/backup"
	"backup-sentinel/internal/database"
)

var (
	catalogTable    string
	catalogCategory string
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect the sensitive-data catalog used for content scans",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog rules, optionally for one table or category",
	Long: `List the sensitive-field rules from the configured catalog source.
Without filters only active rules are shown.

Examples:
  backup-sentinel catalog list
  backup-sentinel catalog list --table=customers
  backup-sentinel catalog list --category=CREDIT_CARD`,
	RunE: runCatalogList,
}

func init() {
	catalogListCmd.Flags().StringVar(&catalogTable, "table", "", "only rules for this table")
	catalogListCmd.Flags().StringVar(&catalogCategory, "category", "", "only rules of this data category, e.g. EMAIL")

	catalogCmd.AddCommand(catalogListCmd)
	rootCmd.AddCommand(catalogCmd)
}

func runCatalogList(cmd *cobra.Command, args []string) error {
	if catalogTable != "" && catalogCategory != "" {
		return fmt.Errorf("--table and --category cannot be combined")
	}
	category := backup.DataCategory(strings.ToUpper(catalogCategory))
	if catalogCategory != "" && !category.Valid() {
		return fmt.Errorf("unknown data category %q", catalogCategory)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	if cfg.Catalog.Source == "none" {
		fmt.Fprintln(cmd.OutOrStdout(), "No catalog configured (catalog.source: none).")
		return nil
	}

	ctx := cmd.Context()
	var db *sql.DB
	if cfg.Catalog.Source == "mysql" {
		svc := database.NewService(logger)
		if db, err = svc.Connect(ctx, cfg.Database); err != nil {
			return err
		}
		defer svc.Close(db)
	}

	catalog, err := newCatalog(cfg, db)
	if err != nil {
		return err
	}

	var rules []backup.SensitiveFieldRule
	switch {
	case catalogTable != "":
		rules, err = catalog.RulesByTable(ctx, catalogTable)
	case catalogCategory != "":
		rules, err = catalog.RulesByCategory(ctx, category)
	default:
		rules, err = catalog.ActiveRules(ctx)
	}
	if err != nil {
		return err
	}
	newPrinter(cmd).Rules(rules)
	return nil
}
