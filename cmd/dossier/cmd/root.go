package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/mfenderov/dossier/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool
	cfg     config.Config
)

// GetConfig returns the loaded configuration.
func GetConfig() config.Config {
	return cfg
}

var rootCmd = &cobra.Command{
	Use:   "dossier",
	Short: "dossier: company research reports from the open web",
	Long: `dossier researches a company across web search, its own website and
news feeds, keeps the relevant documents, writes a briefing per category and
compiles them into one markdown report.

Commands:
  research  Research a company and print the report
  serve     Start the HTTP API with live progress events
  mcp       Start the MCP server over stdio
  report    Print an archived report`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initLogger, initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

func initLogger() {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

func initConfig() {
	loaded, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		loaded = config.Defaults()
	}
	cfg = loaded
}
