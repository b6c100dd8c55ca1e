// Package provider defines the cloud capabilities nimbus orchestrates.
//
// Implementations translate provider responses into pkg/resource records before
// returning, so nothing provider-shaped crosses into the orchestration core.
package provider

import (
	"context"
	"io"

	"github.com/yairfalse/nimbus/pkg/resource"
)

// Compute controls instance lifecycle. Mutating calls only submit the request;
// callers observe the resulting state with InstanceState.
type Compute interface {
	ListInstances(ctx context.Context) ([]resource.Instance, error)
	DescribeInstance(ctx context.Context, id resource.Handle) (resource.Instance, error)
	InstanceState(ctx context.Context, id resource.Handle) (resource.State, error)
	CreateInstance(ctx context.Context, spec resource.InstanceSpec) (resource.Instance, error)
	StartInstance(ctx context.Context, id resource.Handle) error
	StopInstance(ctx context.Context, id resource.Handle) error
	TerminateInstance(ctx context.Context, id resource.Handle) error
	ConsoleOutput(ctx context.Context, id resource.Handle) (string, error)
}

// ObjectStore manages buckets and the objects in them.
type ObjectStore interface {
	ListContainers(ctx context.Context) ([]resource.Container, error)
	CreateContainer(ctx context.Context, name, region string) error
	DeleteContainer(ctx context.Context, name string) error
	ListObjects(ctx context.Context, container, prefix, cursor string) (resource.Page[resource.Object], error)
	PutObject(ctx context.Context, container, key string, body io.Reader) error
	GetObject(ctx context.Context, container, key string, dst io.WriterAt) (int64, error)
	DeleteObject(ctx context.Context, container, key string) error
}

// LogQuery selects events from one log group.
type LogQuery struct {
	Group   string
	Window  resource.TimeWindow
	Pattern string
	// PageSize caps events per request; zero leaves it to the service.
	PageSize int
}

// LogStore reads log events page by page.
type LogStore interface {
	FilterEvents(ctx context.Context, q LogQuery, cursor string) (resource.Page[resource.LogEvent], error)
}

// CostQuery selects a grouped cost time series.
type CostQuery struct {
	Window      resource.TimeWindow
	Granularity string // DAILY or MONTHLY
	GroupBy     string // cost dimension, e.g. SERVICE
	Metric      string // e.g. UnblendedCost
}

// Billing reads cost history and forecasts.
type Billing interface {
	CostByCategory(ctx context.Context, q CostQuery, cursor string) (resource.Page[resource.CostBucket], error)
	Forecast(ctx context.Context, q CostQuery) (resource.CostForecast, error)
}

// Classifier labels the sentiment of texts. ClassifyBatch accepts at most
// MaxBatchSize requests and keys every result by the request's Index.
type Classifier interface {
	MaxBatchSize() int
	ClassifyBatch(ctx context.Context, language string, reqs []resource.ClassificationRequest) ([]resource.ClassificationResult, error)
}

// Deployer triggers deployments of stored artifacts.
type Deployer interface {
	CreateDeployment(ctx context.Context, spec resource.DeploySpec) (string, error)
}
