package orchestrator

import (
	"context"
	"io"

	"github.com/yairfalse/nimbus/internal/cost"
	"github.com/yairfalse/nimbus/internal/opserr"
	"github.com/yairfalse/nimbus/internal/paginate"
	"github.com/yairfalse/nimbus/internal/provider"
	"github.com/yairfalse/nimbus/pkg/resource"
)

// CostReport aggregates spend per category over the request window, writes a
// human-readable table to w when w is non-nil, and returns the summary.
func (o *Orchestrator) CostReport(ctx context.Context, req CostRequest, w io.Writer) (resource.CostSummary, error) {
	return track(ctx, o, "cost_report", "", func(ctx context.Context) (resource.CostSummary, error) {
		q, err := o.costQuery(req)
		if err != nil {
			return resource.CostSummary{}, err
		}

		buckets, err := paginate.Collect(ctx, o.opts.MaxCostBuckets, func(ctx context.Context, cursor string) (resource.Page[resource.CostBucket], error) {
			return o.clients.Billing.CostByCategory(ctx, q, cursor)
		})
		if err != nil {
			return resource.CostSummary{}, opserr.External("cost_report", "", err)
		}

		summary, err := cost.Aggregate(buckets)
		if err != nil {
			return resource.CostSummary{}, err
		}
		if summary.Window.Start.IsZero() {
			summary.Window = q.Window
		}

		if w != nil {
			if err := cost.WriteReport(w, summary); err != nil {
				return summary, err
			}
		}
		return summary, nil
	})
}

// Forecast projects spend over a future window.
func (o *Orchestrator) Forecast(ctx context.Context, req CostRequest) (resource.CostForecast, error) {
	return track(ctx, o, "cost_forecast", "", func(ctx context.Context) (resource.CostForecast, error) {
		q, err := o.costQuery(req)
		if err != nil {
			return resource.CostForecast{}, err
		}
		fc, err := o.clients.Billing.Forecast(ctx, q)
		if err != nil {
			return resource.CostForecast{}, opserr.External("cost_forecast", "", err)
		}
		return fc, nil
	})
}

func (o *Orchestrator) costQuery(req CostRequest) (provider.CostQuery, error) {
	if o.clients.Billing == nil {
		return provider.CostQuery{}, opserr.Invalid("no billing client configured")
	}
	window := req.Window
	if window.End.IsZero() {
		window.End = o.now()
	}
	if window.Start.IsZero() {
		return provider.CostQuery{}, opserr.Invalid("cost window start required")
	}
	if !window.Start.Before(window.End) {
		return provider.CostQuery{}, opserr.Invalid("cost window start must be before end")
	}

	q := provider.CostQuery{
		Window:      window,
		Granularity: req.Granularity,
		GroupBy:     req.GroupBy,
		Metric:      req.Metric,
	}
	if q.Granularity == "" {
		q.Granularity = o.opts.Cost.Granularity
	}
	if q.GroupBy == "" {
		q.GroupBy = o.opts.Cost.GroupBy
	}
	if q.Metric == "" {
		q.Metric = o.opts.Cost.Metric
	}
	return q, nil
}
