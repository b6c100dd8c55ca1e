package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/yairfalse/nimbus/internal/provider"
	"github.com/yairfalse/nimbus/pkg/resource"
)

const ceDateLayout = "2006-01-02"

const (
	defaultCostMetric  = "UnblendedCost"
	defaultCostGroupBy = "SERVICE"
)

// Credits and refunds are excluded so every category amount is a charge.
var excludeCredits = &cetypes.Expression{
	Not: &cetypes.Expression{
		Dimensions: &cetypes.DimensionValues{
			Key:    cetypes.DimensionRecordType,
			Values: []string{"Credit", "Refund"},
		},
	},
}

// CostByCategory returns one page of the grouped cost time series.
func (p *Provider) CostByCategory(ctx context.Context, q provider.CostQuery, cursor string) (resource.Page[resource.CostBucket], error) {
	metric := q.Metric
	if metric == "" {
		metric = defaultCostMetric
	}
	groupBy := q.GroupBy
	if groupBy == "" {
		groupBy = defaultCostGroupBy
	}

	input := &costexplorer.GetCostAndUsageInput{
		TimePeriod:  dateInterval(q.Window),
		Granularity: granularity(q.Granularity),
		Metrics:     []string{metric},
		GroupBy: []cetypes.GroupDefinition{{
			Type: cetypes.GroupDefinitionTypeDimension,
			Key:  aws.String(groupBy),
		}},
		Filter: excludeCredits,
	}
	if cursor != "" {
		input.NextPageToken = aws.String(cursor)
	}

	output, err := p.costClient.GetCostAndUsage(ctx, input)
	if err != nil {
		return resource.Page[resource.CostBucket]{}, fmt.Errorf("get cost and usage: %w", err)
	}

	page := resource.Page[resource.CostBucket]{
		Items: make([]resource.CostBucket, 0, len(output.ResultsByTime)),
		Next:  aws.ToString(output.NextPageToken),
	}
	for _, result := range output.ResultsByTime {
		bucket, err := convertResult(result, metric)
		if err != nil {
			return resource.Page[resource.CostBucket]{}, err
		}
		page.Items = append(page.Items, bucket)
	}
	return page, nil
}

// Forecast projects total spend over the query window.
func (p *Provider) Forecast(ctx context.Context, q provider.CostQuery) (resource.CostForecast, error) {
	metric := q.Metric
	if metric == "" {
		metric = defaultCostMetric
	}

	output, err := p.costClient.GetCostForecast(ctx, &costexplorer.GetCostForecastInput{
		TimePeriod:  dateInterval(q.Window),
		Granularity: granularity(q.Granularity),
		Metric:      forecastMetric(metric),
	})
	if err != nil {
		return resource.CostForecast{}, fmt.Errorf("get cost forecast: %w", err)
	}

	forecast := resource.CostForecast{Window: q.Window, Amount: decimal.Zero}
	if output.Total != nil {
		amount, err := parseAmount(output.Total.Amount)
		if err != nil {
			return resource.CostForecast{}, fmt.Errorf("forecast total: %w", err)
		}
		forecast.Amount = amount
		forecast.Currency = aws.ToString(output.Total.Unit)
	}
	return forecast, nil
}

func convertResult(result cetypes.ResultByTime, metric string) (resource.CostBucket, error) {
	bucket := resource.CostBucket{Entries: make([]resource.CostEntry, 0, len(result.Groups))}
	if result.TimePeriod != nil {
		bucket.Start, _ = time.Parse(ceDateLayout, aws.ToString(result.TimePeriod.Start))
		bucket.End, _ = time.Parse(ceDateLayout, aws.ToString(result.TimePeriod.End))
	}

	for _, group := range result.Groups {
		mv, ok := group.Metrics[metric]
		if !ok {
			continue
		}
		amount, err := parseAmount(mv.Amount)
		if err != nil {
			return resource.CostBucket{}, fmt.Errorf("bucket %s: %w", bucket.Start.Format(ceDateLayout), err)
		}
		category := strings.Join(group.Keys, "/")
		if amount.IsNegative() {
			log.Warn().
				Str("category", category).
				Str("amount", amount.String()).
				Msg("dropping negative cost entry")
			continue
		}
		if bucket.Currency == "" {
			bucket.Currency = aws.ToString(mv.Unit)
		}
		bucket.Entries = append(bucket.Entries, resource.CostEntry{Category: category, Amount: amount})
	}
	return bucket, nil
}

func parseAmount(s *string) (decimal.Decimal, error) {
	if s == nil || *s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", *s, err)
	}
	return d, nil
}

func dateInterval(w resource.TimeWindow) *cetypes.DateInterval {
	end := w.End
	if end.IsZero() {
		end = time.Now().UTC()
	}
	return &cetypes.DateInterval{
		Start: aws.String(w.Start.UTC().Format(ceDateLayout)),
		End:   aws.String(end.UTC().Format(ceDateLayout)),
	}
}

func granularity(g string) cetypes.Granularity {
	switch strings.ToUpper(g) {
	case "DAILY":
		return cetypes.GranularityDaily
	default:
		return cetypes.GranularityMonthly
	}
}

// forecastMetric maps a usage metric name (UnblendedCost) to the forecast
// enum (UNBLENDED_COST).
func forecastMetric(metric string) cetypes.Metric {
	var b strings.Builder
	for i, r := range metric {
		if i > 0 && r >= 'A' && r <= 'Z' {
			b.WriteByte('_')
		}
		b.WriteRune(r)
	}
	return cetypes.Metric(strings.ToUpper(b.String()))
}
