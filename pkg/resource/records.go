package resource

import (
	"time"

	"github.com/shopspring/decimal"
)

// LogEvent is a single log line read from a log group.
type LogEvent struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Message   string    `json:"message" yaml:"message"`
	Stream    string    `json:"stream" yaml:"stream"`
}

// TimeWindow bounds a query in time. A zero End means "now".
type TimeWindow struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// LastWindow returns the window covering the d before now.
func LastWindow(now time.Time, d time.Duration) TimeWindow {
	if d < 0 {
		d = -d
	}
	return TimeWindow{Start: now.Add(-d), End: now}
}

// CostEntry is the amount charged to one category within one time bucket.
type CostEntry struct {
	Category string          `json:"category" yaml:"category"`
	Amount   decimal.Decimal `json:"amount" yaml:"amount"`
}

// CostBucket groups the cost entries of one time period.
type CostBucket struct {
	Start    time.Time   `json:"start" yaml:"start"`
	End      time.Time   `json:"end" yaml:"end"`
	Currency string      `json:"currency,omitempty" yaml:"currency,omitempty"`
	Entries  []CostEntry `json:"entries" yaml:"entries"`
}

// CategoryTotal is the aggregated cost of one category.
type CategoryTotal struct {
	Category   string          `json:"category" yaml:"category"`
	Total      decimal.Decimal `json:"total" yaml:"total"`
	Percentage decimal.Decimal `json:"percentage" yaml:"percentage"`
}

// CostSummary is the aggregate of a grouped cost time series.
// Categories are ordered by descending total, then category name.
type CostSummary struct {
	Categories []CategoryTotal `json:"categories" yaml:"categories"`
	GrandTotal decimal.Decimal `json:"grand_total" yaml:"grand_total"`
	Currency   string          `json:"currency,omitempty" yaml:"currency,omitempty"`
	Window     TimeWindow      `json:"window" yaml:"window"`
}

// Round returns a copy with every amount and percentage rounded to places.
func (s CostSummary) Round(places int32) CostSummary {
	out := s
	out.GrandTotal = s.GrandTotal.Round(places)
	out.Categories = make([]CategoryTotal, len(s.Categories))
	for i, c := range s.Categories {
		c.Total = c.Total.Round(places)
		c.Percentage = c.Percentage.Round(places)
		out.Categories[i] = c
	}
	return out
}

// CostForecast is a projected spend for a future window.
type CostForecast struct {
	Window   TimeWindow      `json:"window" yaml:"window"`
	Amount   decimal.Decimal `json:"amount" yaml:"amount"`
	Currency string          `json:"currency,omitempty" yaml:"currency,omitempty"`
}

// Round returns a copy with the amount rounded to places.
func (f CostForecast) Round(places int32) CostForecast {
	f.Amount = f.Amount.Round(places)
	return f
}

// ClassificationRequest is one text to classify, tagged with its input position.
type ClassificationRequest struct {
	Index int    `json:"index" yaml:"index"`
	Text  string `json:"text" yaml:"text"`
}

// ClassificationResult is the outcome for one request index.
// Exactly one of Label or Err is meaningful.
type ClassificationResult struct {
	Index  int                `json:"index" yaml:"index"`
	Label  string             `json:"label,omitempty" yaml:"label,omitempty"`
	Scores map[string]float64 `json:"scores,omitempty" yaml:"scores,omitempty"`
	Text   string             `json:"text,omitempty" yaml:"text,omitempty"`
	Err    error              `json:"-" yaml:"-"`
	Error  string             `json:"error,omitempty" yaml:"error,omitempty"`
}

// Failed reports whether the item was not classified.
func (r ClassificationResult) Failed() bool {
	return r.Err != nil
}

// DeploySpec names a stored artifact to roll out to a deployment group.
type DeploySpec struct {
	Application string `json:"application" yaml:"application"`
	Group       string `json:"group" yaml:"group"`
	Bucket      string `json:"bucket" yaml:"bucket"`
	Key         string `json:"key" yaml:"key"`
	BundleType  string `json:"bundle_type" yaml:"bundle_type"`
}

// Deployment is a triggered, not awaited, rollout.
type Deployment struct {
	ID        string     `json:"deployment_id" yaml:"deployment_id"`
	Spec      DeploySpec `json:"spec" yaml:"spec"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
}
