package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yairfalse/nimbus/internal/cost"
	"github.com/yairfalse/nimbus/internal/orchestrator"
)

// moneyPlaces is the precision of amounts and percentages in command output.
const moneyPlaces = 2

var (
	costStart       string
	costEnd         string
	costGranularity string
	costGroupBy     string
	costMetric      string
	forecastDays    int
)

var costCmd = &cobra.Command{
	Use:   "cost",
	Short: "Report and forecast spend",
}

var costReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Aggregate spend per category",
	Long: `Aggregate spend per category over a window and show each category's
share of the total. Credits and refunds are excluded.`,
	Example: `  nimbus cost report                                  # this month so far
  nimbus cost report --start 2024-01-01 --end 2024-04-01 --granularity DAILY
  nimbus cost report --start 30d --group-by LINKED_ACCOUNT -o json`,
	Args: cobra.NoArgs,
	RunE: runE(func(ctx context.Context, a *app) error {
		req, err := costRequest(time.Now())
		if err != nil {
			return err
		}
		// The text report is rendered by the aggregator; other formats encode the summary.
		if a.out.format == formatText {
			_, err := a.orch.CostReport(ctx, req, a.out.w)
			return err
		}
		summary, err := a.orch.CostReport(ctx, req, nil)
		if err != nil {
			return err
		}
		return a.out.print(summary.Round(moneyPlaces), func(w io.Writer) error { return cost.WriteReport(w, summary) })
	}),
}

var costForecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Forecast spend for the coming days",
	Args:  cobra.NoArgs,
	RunE: runE(func(ctx context.Context, a *app) error {
		start := time.Now().UTC().Truncate(24 * time.Hour)
		req := orchestrator.CostRequest{
			Granularity: strings.ToUpper(costGranularity),
			Metric:      costMetric,
		}
		req.Window.Start = start
		req.Window.End = start.AddDate(0, 0, forecastDays)

		fc, err := a.orch.Forecast(ctx, req)
		if err != nil {
			return err
		}
		return a.out.print(fc.Round(moneyPlaces), func(w io.Writer) error {
			currency := fc.Currency
			if currency == "" {
				currency = "USD"
			}
			_, err := fmt.Fprintf(w, "Forecast %s to %s: %s %s\n",
				fc.Window.Start.Format(time.DateOnly), fc.Window.End.Format(time.DateOnly),
				fc.Amount.StringFixed(moneyPlaces), currency)
			return err
		})
	}),
}

func init() {
	rootCmd.AddCommand(costCmd)
	costCmd.AddCommand(costReportCmd, costForecastCmd)

	f := costReportCmd.Flags()
	f.StringVar(&costStart, "start", "", "Window start (default: first day of this month)")
	f.StringVar(&costEnd, "end", "", "Window end (default: now)")
	f.StringVar(&costGroupBy, "group-by", "", "Cost dimension to group by (default: cost.group_by)")

	for _, c := range []*cobra.Command{costReportCmd, costForecastCmd} {
		c.Flags().StringVar(&costGranularity, "granularity", "", "DAILY or MONTHLY (default: cost.granularity)")
		c.Flags().StringVar(&costMetric, "metric", "", "Cost metric, e.g. UnblendedCost (default: cost.metric)")
	}
	costForecastCmd.Flags().IntVar(&forecastDays, "days", 30, "Days to forecast")
}

func costRequest(now time.Time) (orchestrator.CostRequest, error) {
	window, err := parseWindow(costStart, costEnd, now)
	if err != nil {
		return orchestrator.CostRequest{}, &usageError{err: err}
	}
	if window.Start.IsZero() {
		window.Start = monthStart(now)
		// Cost Explorer needs at least one whole day; on the 1st report last month.
		if now.UTC().Day() == 1 {
			window.Start = window.Start.AddDate(0, -1, 0)
		}
	}
	return orchestrator.CostRequest{
		Window:      window,
		Granularity: strings.ToUpper(costGranularity),
		GroupBy:     costGroupBy,
		Metric:      costMetric,
	}, nil
}
