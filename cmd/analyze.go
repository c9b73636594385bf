package cmd

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xiaot623/dataquery/internal/domain"
)

var (
	anaFiles    []string
	anaQuery    string
	anaAPIKey   string
	anaUseAgent bool
	anaOut      string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Answer one question about local files with a chart",
	Example: `  dataquery analyze --file sales.csv --query "Plot revenue by region" --out chart.png
  dataquery analyze --file q1.xlsx --file q2.xlsx --query "Compare units" --use-agent=false`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(anaFiles) == 0 {
			return errors.New("at least one --file is required")
		}
		uploads, err := readLocalFiles(anaFiles)
		if err != nil {
			return err
		}

		svc, closeStore, err := buildService(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		chart, err := svc.Analyze(cmd.Context(), uploads, anaQuery, anaAPIKey, anaUseAgent)
		if err != nil {
			return err
		}

		if anaOut == "" {
			fmt.Fprintln(cmd.OutOrStdout(), chart)
			return nil
		}
		raw, err := base64.StdEncoding.DecodeString(chart)
		if err != nil {
			return fmt.Errorf("failed to decode chart: %w", err)
		}
		if err := os.WriteFile(anaOut, raw, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", anaOut, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Chart written to %s (%d bytes)\n", anaOut, len(raw))
		return nil
	},
}

func init() {
	analyzeCmd.Flags().StringArrayVarP(&anaFiles, "file", "f", nil, "CSV, XLSX or XLS file (repeatable)")
	analyzeCmd.Flags().StringVarP(&anaQuery, "query", "q", "", "question to answer")
	analyzeCmd.Flags().StringVar(&anaAPIKey, "api-key", "", "LLM API key (defaults to llm.api_key)")
	analyzeCmd.Flags().BoolVar(&anaUseAgent, "use-agent", true, "answer with the dataframe agent instead of generated code")
	analyzeCmd.Flags().StringVarP(&anaOut, "out", "o", "", "write the PNG here instead of printing base64")
	_ = analyzeCmd.MarkFlagRequired("query")
	rootCmd.AddCommand(analyzeCmd)
}

func readLocalFiles(paths []string) ([]domain.UploadedFile, error) {
	uploads := make([]domain.UploadedFile, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		uploads = append(uploads, domain.UploadedFile{Filename: filepath.Base(p), Content: content})
	}
	return uploads, nil
}
