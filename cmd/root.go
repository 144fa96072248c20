package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"backup-sentinel/internal/config"
	"backup-sentinel/internal/display"
	"backup-sentinel/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	logFormat string
	noColor   bool

	loader = config.NewLoader()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "backup-sentinel",
	Short: "Detect ransomware in database backups and contain compromised databases",
	Long: `backup-sentinel inspects every new database backup for signs of ransomware,
checks whether the live database itself has been tampered with, and when it
has, cancels the backup and restores the newest known-clean one.

Examples:
  # Run the worker: pull backup-ready messages and expose /metrics
  backup-sentinel serve --config=backup-sentinel.yaml

  # Process a single backup by hand
  backup-sentinel process --instance=prod-1 --database=orders \
                          --location=gs://backup-bucket/backups/orders/latest.sql.gz

  # Show recent history for a database
  backup-sentinel history list --database=orders`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./backup-sentinel.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (quiet, normal, verbose, debug)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")

	v := loader.Viper()
	v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(createVersionCommand())
	rootCmd.AddCommand(createConfigCommand())
}

// loadConfig reads the configuration named by --config
func loadConfig() (*config.Config, error) {
	cfg, err := loader.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.NewLogger(logging.Config{
		Level:   cfg.Log.Level,
		Output:  os.Stderr,
		Format:  cfg.Log.Format,
		LogFile: cfg.Log.File,
	})
}

func newPrinter(cmd *cobra.Command) *display.Printer {
	colors := display.NewPlainColorSystem()
	if !noColor && cmd.OutOrStdout() == os.Stdout {
		colors = display.NewColorSystem(display.DefaultColorTheme(), os.Stdout)
	}
	return display.NewPrinter(cmd.OutOrStdout(), colors)
}

// Version information (set by main package)
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
	goVersion = "unknown"
)

// SetVersionInfo sets the version information from build flags
func SetVersionInfo(v, bt, gc, gv string) {
	version = v
	buildTime = bt
	gitCommit = gc
	goVersion = gv
}

// createVersionCommand creates the version subcommand
func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "backup-sentinel version %s\n", version)
			fmt.Fprintf(out, "Built: %s\n", buildTime)
			fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			fmt.Fprintf(out, "Go version: %s\n", goVersion)
		},
	}
}

// createConfigCommand groups the configuration helpers
func createConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Generate and inspect configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a commented configuration template",
		Long: `Write a configuration template that can be used with the --config flag.
Without a path the template is printed to stdout.

Examples:
  backup-sentinel config init > backup-sentinel.yaml
  backup-sentinel config init /etc/backup-sentinel/backup-sentinel.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				fmt.Fprint(cmd.OutOrStdout(), config.Template)
				return nil
			}
			if err := config.WriteTemplate(args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration template written to %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			if used := loader.ConfigFileUsed(); used != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", used)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "List the recognised environment variables",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range loader.EnvironmentVariables() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}

	configCmd.AddCommand(initCmd, showCmd, envCmd)
	return configCmd
}
