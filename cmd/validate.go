package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/josephgoksu/TriageWing/internal/finding"
	"github.com/josephgoksu/TriageWing/internal/logger"
	"github.com/josephgoksu/TriageWing/internal/ui"
	"github.com/josephgoksu/TriageWing/internal/validation"
)

type validateOptions struct {
	output      string
	outFile     string
	concurrency int
	noCache     bool
	summary     bool
}

var validateOpts validateOptions

var validateCmd = &cobra.Command{
	Use:   "validate <findings.json|findings.yaml>",
	Short: "Triage findings and validate the noisy ones with an LLM",
	Long: `Reads static-analysis findings, decides per analyzer which ones need a
second opinion, asks the configured model about those, and writes the
findings that survive together with their verdict and confidence.

Rejected findings and race reports in code with no threading are dropped.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runValidate(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), args[0], validateOpts)
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().StringVarP(&validateOpts.output, "output", "o", "json", "output format: json or yaml")
	validateCmd.Flags().StringVar(&validateOpts.outFile, "out", "", "write results to a file instead of stdout")
	validateCmd.Flags().IntVar(&validateOpts.concurrency, "concurrency", 0, "parallel validations (default from validation.concurrency)")
	validateCmd.Flags().BoolVar(&validateOpts.noCache, "no-cache", false, "do not read or write the verdict cache")
	validateCmd.Flags().BoolVar(&validateOpts.summary, "summary", false, "print a verdict summary to stderr")
}

func runValidate(ctx context.Context, stdout, stderr io.Writer, path string, opts validateOptions) error {
	if opts.output != "json" && opts.output != "yaml" {
		return fmt.Errorf("unknown output format %q (valid: json, yaml)", opts.output)
	}

	findings, err := finding.Load(appFs, path)
	if err != nil {
		return err
	}

	orch, err := buildOrchestrator(ctx, pipelineOptions{noCache: opts.noCache, concurrency: opts.concurrency})
	if err != nil {
		return err
	}
	defer func() { _ = orch.Close() }()

	logger.SetBatch(path, "")
	batch, runErr := orch.EnhanceBatch(ctx, findings)
	logger.SetBatch(path, batch.ID.String())

	data, err := encodeFindings(batch.Findings, opts.output)
	if err != nil {
		return err
	}
	if opts.outFile != "" {
		if err := afero.WriteFile(appFs, opts.outFile, data, 0o644); err != nil {
			return fmt.Errorf("write results: %w", err)
		}
	} else if _, err := stdout.Write(data); err != nil {
		return err
	}

	if opts.summary {
		printSummary(stderr, batch.Summary, orch, isTerminalWriter(stderr))
	}
	return runErr
}

func encodeFindings(findings []finding.EnhancedFinding, format string) ([]byte, error) {
	if findings == nil {
		findings = []finding.EnhancedFinding{}
	}
	if format == "yaml" {
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(findings); err != nil {
			return nil, fmt.Errorf("encode yaml: %w", err)
		}
		_ = enc.Close()
		return buf.Bytes(), nil
	}

	data, err := json.MarshalIndent(findings, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(data, '\n'), nil
}

func printSummary(w io.Writer, s validation.Summary, orch *validation.Orchestrator, styled bool) {
	rows := []ui.Row{
		{Label: "findings", Value: fmt.Sprint(s.Total)},
		{Label: "kept", Value: fmt.Sprint(s.Kept), Style: &ui.StyleSuccess},
		{Label: "confirmed", Value: fmt.Sprint(s.Confirmed)},
		{Label: "skipped", Value: fmt.Sprint(s.Skipped)},
		{Label: "rejected", Value: fmt.Sprint(s.Rejected)},
		{Label: "filtered", Value: fmt.Sprint(s.LocalFiltered)},
		{Label: "failed", Value: fmt.Sprint(s.Failed), Style: &ui.StyleWarning},
		{Label: "AI calls", Value: fmt.Sprint(s.AICalls)},
	}
	if stats, ok := orch.CacheStats(); ok {
		rows = append(rows,
			ui.Row{Label: "cache hits", Value: fmt.Sprintf("%d (memory %d, disk %d)", stats.Hits, stats.L1Hits, stats.L2Hits)},
			ui.Row{Label: "requests avoided", Value: fmt.Sprintf("%.1f%%", stats.RequestsAvoided*100)},
		)
	}
	ui.Panel(w, "Validation summary", rows, styled)
}

func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && ui.IsTerminal(f)
}
