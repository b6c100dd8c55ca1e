package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/nimbus/internal/opserr"
	"github.com/yairfalse/nimbus/internal/orchestrator"
)

var (
	logsStart    string
	logsEnd      string
	logsPattern  string
	logsLimit    int
	logsLanguage string
)

var logsCmd = &cobra.Command{
	Use:     "logs",
	Aliases: []string{"cwl"},
	Short:   "Read and analyze log groups",
}

var logsFetchCmd = &cobra.Command{
	Use:   "fetch <log-group>",
	Short: "Fetch log events from a log group",
	Example: `  nimbus logs fetch /aws/lambda/api --start 1h
  nimbus logs fetch /app/web --start 2024-03-01T00:00:00Z --end 2024-03-02T00:00:00Z --pattern ERROR
  nimbus logs fetch /app/web --start -3600 --limit 500`,
	Args: cobra.ExactArgs(1),
	RunE: withArgs(func(ctx context.Context, a *app, args []string) error {
		req, err := logRequest(args[0], time.Now())
		if err != nil {
			return err
		}
		events, err := a.orch.FetchLogs(ctx, req)
		if err != nil {
			return err
		}
		return a.out.print(events, func(w io.Writer) error {
			for _, e := range events {
				if _, err := fmt.Fprintf(w, "%s %s %s\n", e.Timestamp.Format(time.RFC3339Nano), e.Stream, e.Message); err != nil {
					return err
				}
			}
			return nil
		})
	}),
}

var logsSentimentCmd = &cobra.Command{
	Use:   "sentiment <log-group>",
	Short: "Classify the sentiment of log messages",
	Long: `Classify the sentiment of log messages.

Empty messages are skipped and long ones truncated before they are sent.
If some batches fail the results that succeeded are still printed and
the command exits with status 4.`,
	Args: cobra.ExactArgs(1),
	RunE: withArgs(func(ctx context.Context, a *app, args []string) error {
		req, err := logRequest(args[0], time.Now())
		if err != nil {
			return err
		}
		report, err := a.orch.AnalyzeLogSentiment(ctx, orchestrator.SentimentRequest{
			LogRequest: req,
			Language:   logsLanguage,
		})
		var partial *opserr.PartialBatchError
		if err != nil && !errors.As(err, &partial) {
			return err
		}
		if perr := a.out.print(report, func(w io.Writer) error { return writeSentiment(w, report) }); perr != nil {
			return perr
		}
		return err
	}),
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.AddCommand(logsFetchCmd, logsSentimentCmd)

	for _, c := range []*cobra.Command{logsFetchCmd, logsSentimentCmd} {
		f := c.Flags()
		f.StringVar(&logsStart, "start", "1h", "Window start: RFC 3339, YYYY-MM-DD, a duration ago (1h, 7d) or seconds ago")
		f.StringVar(&logsEnd, "end", "", "Window end (default: now)")
		f.StringVar(&logsPattern, "pattern", "", "CloudWatch Logs filter pattern")
		f.IntVar(&logsLimit, "limit", 0, "Maximum events (default: logs.default_limit)")
	}
	logsSentimentCmd.Flags().StringVar(&logsLanguage, "language", "en", "Language code of the messages")
}

func logRequest(group string, now time.Time) (orchestrator.LogRequest, error) {
	window, err := parseWindow(logsStart, logsEnd, now)
	if err != nil {
		return orchestrator.LogRequest{}, &usageError{err: err}
	}
	return orchestrator.LogRequest{
		Group:   group,
		Window:  window,
		Pattern: logsPattern,
		Limit:   logsLimit,
	}, nil
}

func writeSentiment(w io.Writer, report orchestrator.ClassificationReport) error {
	rows := make([][]string, 0, len(report.Results))
	for _, r := range report.Results {
		label := r.Label
		if r.Failed() {
			label = "error: " + r.Error
		}
		rows = append(rows, []string{strconv.Itoa(r.Index), label, preview(r.Text, 60)})
	}
	if err := writeTable(w, []string{"#", "SENTIMENT", "MESSAGE"}, rows); err != nil {
		return err
	}

	summary := make([][]string, 0, len(report.Labels)+1)
	for _, label := range sortedKeys(report.Labels) {
		summary = append(summary, []string{label, strconv.Itoa(report.Labels[label])})
	}
	if report.Failed > 0 {
		summary = append(summary, []string{"failed", strconv.Itoa(report.Failed)})
	}
	return writeTable(w, []string{"SENTIMENT", "COUNT"}, summary)
}

// preview shortens s for a table cell.
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
