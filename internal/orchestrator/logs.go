package orchestrator

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/nimbus/internal/batch"
	"github.com/yairfalse/nimbus/internal/opserr"
	"github.com/yairfalse/nimbus/internal/paginate"
	"github.com/yairfalse/nimbus/internal/provider"
	"github.com/yairfalse/nimbus/pkg/resource"
)

// Comprehend rejects documents over 5000 bytes; 4000 leaves room for
// multi-byte encodings.
const maxClassifyBytes = 4000

// FetchLogs returns up to req.Limit events from a log group, oldest first.
func (o *Orchestrator) FetchLogs(ctx context.Context, req LogRequest) ([]resource.LogEvent, error) {
	return track(ctx, o, "fetch_logs", resource.Handle(req.Group), func(ctx context.Context) ([]resource.LogEvent, error) {
		return o.fetchLogs(ctx, req)
	})
}

func (o *Orchestrator) fetchLogs(ctx context.Context, req LogRequest) ([]resource.LogEvent, error) {
	if o.clients.Logs == nil {
		return nil, opserr.Invalid("no log client configured")
	}
	if req.Group == "" {
		return nil, opserr.Invalid("log group required")
	}
	if req.Limit < 0 {
		return nil, opserr.Invalid("limit must not be negative")
	}
	limit := req.Limit
	if limit == 0 {
		limit = o.opts.DefaultLogLimit
	}

	window := req.Window
	if window.End.IsZero() {
		window.End = o.now()
	}
	if !window.Start.IsZero() && window.Start.After(window.End) {
		return nil, opserr.Invalid("window start %s is after end %s", window.Start, window.End)
	}

	q := provider.LogQuery{
		Group:    req.Group,
		Window:   window,
		Pattern:  req.Pattern,
		PageSize: o.opts.LogPageSize,
	}
	events, err := paginate.Collect(ctx, limit, func(ctx context.Context, cursor string) (resource.Page[resource.LogEvent], error) {
		return o.clients.Logs.FilterEvents(ctx, q, cursor)
	})
	if err != nil {
		return nil, opserr.External("fetch_logs", resource.Handle(req.Group), err)
	}

	log.Debug().
		Str("log_group", req.Group).
		Int("events", len(events)).
		Int("limit", limit).
		Msg("log events fetched")
	return events, nil
}

// AnalyzeLogSentiment classifies the non-empty messages of a log query. Long
// messages are truncated before classification; results carry the text sent.
func (o *Orchestrator) AnalyzeLogSentiment(ctx context.Context, req SentimentRequest) (ClassificationReport, error) {
	return track(ctx, o, "analyze_log_sentiment", resource.Handle(req.Group), func(ctx context.Context) (ClassificationReport, error) {
		if o.clients.Classifier == nil {
			return ClassificationReport{}, opserr.Invalid("no classifier configured")
		}
		events, err := o.fetchLogs(ctx, req.LogRequest)
		if err != nil {
			return ClassificationReport{}, err
		}

		texts := make([]string, 0, len(events))
		for _, e := range events {
			msg := strings.TrimSpace(e.Message)
			if msg == "" {
				continue
			}
			texts = append(texts, truncateUTF8(msg, maxClassifyBytes))
		}
		return o.classify(ctx, req.Language, texts)
	})
}

// Classify labels the sentiment of texts in provider-sized batches. Every
// text gets exactly one result. When some fail the report is still returned
// alongside *opserr.PartialBatchError.
func (o *Orchestrator) Classify(ctx context.Context, language string, texts []string) (ClassificationReport, error) {
	return track(ctx, o, "classify", "", func(ctx context.Context) (ClassificationReport, error) {
		if o.clients.Classifier == nil {
			return ClassificationReport{}, opserr.Invalid("no classifier configured")
		}
		return o.classify(ctx, language, texts)
	})
}

func (o *Orchestrator) classify(ctx context.Context, language string, texts []string) (ClassificationReport, error) {
	reqs := make([]resource.ClassificationRequest, len(texts))
	for i, t := range texts {
		reqs[i] = resource.ClassificationRequest{Index: i, Text: t}
	}

	classifier := o.clients.Classifier
	report, err := batch.Dispatch(ctx, reqs,
		batch.Options{Size: classifier.MaxBatchSize(), Concurrency: o.opts.BatchConcurrency},
		func(ctx context.Context, items []batch.Item[resource.ClassificationRequest]) ([]batch.Outcome[resource.ClassificationResult], error) {
			chunk := make([]resource.ClassificationRequest, len(items))
			for i, it := range items {
				chunk[i] = it.Value
			}
			results, err := classifier.ClassifyBatch(ctx, language, chunk)
			if err != nil {
				return nil, opserr.External("classify_batch", "", err)
			}
			outcomes := make([]batch.Outcome[resource.ClassificationResult], len(results))
			for i, r := range results {
				outcomes[i] = batch.Outcome[resource.ClassificationResult]{Index: r.Index, Value: r, Err: r.Err}
			}
			return outcomes, nil
		})
	if err != nil {
		return ClassificationReport{}, opserr.Invalid("%v", err)
	}

	out := ClassificationReport{
		Results: make([]resource.ClassificationResult, len(report.Results)),
		Batches: report.Batches,
		Labels:  make(map[string]int),
	}
	for i, oc := range report.Results {
		r := oc.Value
		r.Index = oc.Index
		if r.Text == "" {
			r.Text = texts[oc.Index]
		}
		if oc.Err != nil {
			r.Label = ""
			r.Scores = nil
			r.Err = oc.Err
			r.Error = oc.Err.Error()
			out.Failed++
		} else {
			out.Labels[r.Label]++
		}
		out.Results[i] = r
	}

	o.metrics.RecordBatchFailures(ctx, "classify", out.Failed)
	if out.Failed > 0 {
		log.Warn().
			Int("failed", out.Failed).
			Int("total", len(texts)).
			Int("batches", out.Batches).
			Msg("classification partially failed")
	}
	if err := ctx.Err(); err != nil {
		return out, opserr.Cancelled("classify", "", err)
	}
	return out, report.Err()
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
