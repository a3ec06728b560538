package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"tradeagent/internal/app"
	"tradeagent/internal/pipeline"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// NewAnalyzeCmd creates the analyze command.
func NewAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze SYMBOL...",
		Short: "Run the pipeline once for the given symbols",
		Long: `Analyze runs the configured pipeline for each symbol concurrently and prints one
report per symbol. The command fails when any report is unsuccessful.

Examples:
  tradeagent analyze BTCUSDT
  tradeagent analyze BTCUSDT ETHUSDT --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: runAnalyzeCmd,
	}
	cmd.Flags().StringP("format", "f", formatText, "Output format: text, json or yaml")
	return cmd
}

func runAnalyzeCmd(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case formatText, formatJSON, formatYAML:
	default:
		return fmt.Errorf("unsupported format %q (want text, json or yaml)", format)
	}

	cfg, _, cleanup, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApp(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	reports, err := application.Service().AnalyzeMany(ctx, args)
	if err != nil {
		return err
	}
	if err := writeReports(cmd.OutOrStdout(), format, reports); err != nil {
		return err
	}
	failed := failedSubjects(reports)
	if len(failed) > 0 {
		return fmt.Errorf("analysis failed for %s", strings.Join(failed, ", "))
	}
	return nil
}

func writeReports(w io.Writer, format string, reports map[string]*pipeline.RunReport) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	case formatYAML:
		generic, err := toGeneric(reports)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		writeText(w, reports)
		return nil
	}
}

// toGeneric 先经 JSON 编码，让 yaml 输出沿用 json 字段名与结果信封。
func toGeneric(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func writeText(w io.Writer, reports map[string]*pipeline.RunReport) {
	for _, subject := range sortedKeys(reports) {
		r := reports[subject]
		origin := string(r.DataOrigin)
		if origin == "" {
			origin = "-"
		}
		fmt.Fprintf(w, "%s  success=%t  origin=%s  elapsed=%s  run=%s\n",
			subject, r.Success, origin, r.TotalElapsed, r.RunID)
		for _, res := range r.Results {
			m := res.Meta()
			fmt.Fprintf(w, "  %-10s %-9s conf=%.2f  %s\n", m.Step, m.Status, m.Confidence, m.Summary)
		}
		for _, msg := range r.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", msg)
		}
		for _, msg := range r.Errors {
			fmt.Fprintf(w, "  error: %s\n", msg)
		}
	}
}

func failedSubjects(reports map[string]*pipeline.RunReport) []string {
	var out []string
	for _, subject := range sortedKeys(reports) {
		if !reports[subject].Success {
			out = append(out, subject)
		}
	}
	return out
}

func sortedKeys(reports map[string]*pipeline.RunReport) []string {
	keys := make([]string, 0, len(reports))
	for k := range reports {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
