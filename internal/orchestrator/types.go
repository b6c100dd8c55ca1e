package orchestrator

import (
	"time"

	"github.com/yairfalse/nimbus/pkg/resource"
)

// TransitionResult describes a completed lifecycle transition.
type TransitionResult struct {
	Handle      resource.Handle       `json:"handle" yaml:"handle"`
	From        resource.State        `json:"from" yaml:"from"`
	To          resource.State        `json:"to" yaml:"to"`
	Attempts    int                   `json:"attempts" yaml:"attempts"`
	Elapsed     time.Duration         `json:"elapsed" yaml:"elapsed"`
	Transitions []resource.Transition `json:"transitions,omitempty" yaml:"transitions,omitempty"`
}

// DrainResult describes a deleted container.
type DrainResult struct {
	Container string   `json:"container" yaml:"container"`
	Deleted   []string `json:"deleted" yaml:"deleted"`
}

// LogRequest selects log events. A zero Limit uses the configured default and
// a zero Window.End means now.
type LogRequest struct {
	Group   string              `json:"group" yaml:"group"`
	Window  resource.TimeWindow `json:"window" yaml:"window"`
	Pattern string              `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Limit   int                 `json:"limit" yaml:"limit"`
}

// SentimentRequest classifies the messages selected by a LogRequest.
type SentimentRequest struct {
	LogRequest
	Language string `json:"language" yaml:"language"`
}

// ClassificationReport is the merged outcome of a batched classification.
// Results holds one entry per input text, sorted by index.
type ClassificationReport struct {
	Results []resource.ClassificationResult `json:"results" yaml:"results"`
	Batches int                             `json:"batches" yaml:"batches"`
	Failed  int                             `json:"failed" yaml:"failed"`
	// Labels counts successful results per label.
	Labels map[string]int `json:"labels" yaml:"labels"`
}

// CostRequest selects a cost time series. Empty fields use the configured
// defaults.
type CostRequest struct {
	Window      resource.TimeWindow `json:"window" yaml:"window"`
	Granularity string              `json:"granularity" yaml:"granularity"`
	GroupBy     string              `json:"group_by" yaml:"group_by"`
	Metric      string              `json:"metric" yaml:"metric"`
}
