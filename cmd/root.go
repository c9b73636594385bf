// Package cmd implements the dataquery command line.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xiaot623/dataquery/internal/config"
	"github.com/xiaot623/dataquery/internal/logging"
)

var (
	// Global flags
	cfgFile  string
	logLevel string

	// Loaded configuration
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "dataquery",
	Short: "Ask questions about CSV and Excel files in plain language",
	Long: `dataquery loads CSV and Excel files and answers natural-language questions
about them with text or a PNG chart, over HTTP or from the command line.`,
	SilenceUsage: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./dataquery.yaml when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
}

func loadConfig() error {
	c, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if rootCmd.PersistentFlags().Changed("log-level") {
		c.Log.Level = logLevel
	}
	if err := logging.Setup(c.Log.Level, c.Log.Format); err != nil {
		return err
	}
	cfg = c
	return nil
}
