package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	cwltypes "github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy"
	cdtypes "github.com/aws/aws-sdk-go-v2/service/codedeploy/types"
	"github.com/aws/aws-sdk-go-v2/service/comprehend"
	comprehendtypes "github.com/aws/aws-sdk-go-v2/service/comprehend/types"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/nimbus/internal/provider"
	"github.com/yairfalse/nimbus/pkg/resource"
)

func TestFilterEvents(t *testing.T) {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	mock := &mockCloudWatchLogsClient{
		FilterLogEventsFunc: func(ctx context.Context, params *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error) {
			assert.Equal(t, "/app/api", aws.ToString(params.LogGroupName))
			assert.Equal(t, start.UnixMilli(), aws.ToInt64(params.StartTime))
			assert.Equal(t, end.UnixMilli(), aws.ToInt64(params.EndTime))
			assert.Equal(t, "ERROR", aws.ToString(params.FilterPattern))
			assert.Equal(t, int32(50), aws.ToInt32(params.Limit))
			return &cloudwatchlogs.FilterLogEventsOutput{
				Events: []cwltypes.FilteredLogEvent{{
					Timestamp:     aws.Int64(start.Add(time.Minute).UnixMilli()),
					Message:       aws.String("ERROR boom"),
					LogStreamName: aws.String("stream-a"),
				}},
				NextToken: aws.String("more"),
			}, nil
		},
	}

	p := &Provider{cwLogsClient: mock}
	page, err := p.FilterEvents(context.Background(), provider.LogQuery{
		Group:    "/app/api",
		Window:   resource.TimeWindow{Start: start, End: end},
		Pattern:  "ERROR",
		PageSize: 50,
	}, "")

	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "stream-a", page.Items[0].Stream)
	assert.True(t, page.Items[0].Timestamp.Equal(start.Add(time.Minute)))
	assert.Equal(t, "more", page.Next)
}

func TestCostByCategory(t *testing.T) {
	mock := &mockCostExplorerClient{
		GetCostAndUsageFunc: func(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error) {
			assert.Equal(t, cetypes.GranularityDaily, params.Granularity)
			assert.Equal(t, []string{"UnblendedCost"}, params.Metrics)
			require.NotNil(t, params.Filter)
			require.NotNil(t, params.Filter.Not)
			assert.Equal(t, cetypes.DimensionRecordType, params.Filter.Not.Dimensions.Key)
			assert.Equal(t, "2024-05-01", aws.ToString(params.TimePeriod.Start))
			return &costexplorer.GetCostAndUsageOutput{
				ResultsByTime: []cetypes.ResultByTime{{
					TimePeriod: &cetypes.DateInterval{Start: aws.String("2024-05-01"), End: aws.String("2024-05-02")},
					Groups: []cetypes.Group{
						{Keys: []string{"Amazon EC2"}, Metrics: map[string]cetypes.MetricValue{
							"UnblendedCost": {Amount: aws.String("12.3456"), Unit: aws.String("USD")},
						}},
						{Keys: []string{"Tax"}, Metrics: map[string]cetypes.MetricValue{
							"UnblendedCost": {Amount: aws.String("-1.00"), Unit: aws.String("USD")},
						}},
					},
				}},
				NextPageToken: aws.String("p2"),
			}, nil
		},
	}

	p := &Provider{costClient: mock}
	page, err := p.CostByCategory(context.Background(), provider.CostQuery{
		Window:      resource.TimeWindow{Start: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)},
		Granularity: "daily",
	}, "")

	require.NoError(t, err)
	assert.Equal(t, "p2", page.Next)
	require.Len(t, page.Items, 1)
	bucket := page.Items[0]
	assert.Equal(t, "USD", bucket.Currency)
	require.Len(t, bucket.Entries, 1, "negative amounts are dropped")
	assert.Equal(t, "Amazon EC2", bucket.Entries[0].Category)
	assert.Equal(t, "12.3456", bucket.Entries[0].Amount.String())
}

func TestCostByCategory_BadAmount(t *testing.T) {
	mock := &mockCostExplorerClient{
		GetCostAndUsageFunc: func(ctx context.Context, params *costexplorer.GetCostAndUsageInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostAndUsageOutput, error) {
			return &costexplorer.GetCostAndUsageOutput{
				ResultsByTime: []cetypes.ResultByTime{{
					Groups: []cetypes.Group{{Keys: []string{"S3"}, Metrics: map[string]cetypes.MetricValue{
						"UnblendedCost": {Amount: aws.String("n/a")},
					}}},
				}},
			}, nil
		},
	}

	p := &Provider{costClient: mock}
	_, err := p.CostByCategory(context.Background(), provider.CostQuery{}, "")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse amount")
}

func TestForecast(t *testing.T) {
	mock := &mockCostExplorerClient{
		GetCostForecastFunc: func(ctx context.Context, params *costexplorer.GetCostForecastInput, optFns ...func(*costexplorer.Options)) (*costexplorer.GetCostForecastOutput, error) {
			assert.Equal(t, cetypes.MetricUnblendedCost, params.Metric)
			return &costexplorer.GetCostForecastOutput{
				Total: &cetypes.MetricValue{Amount: aws.String("420.50"), Unit: aws.String("USD")},
			}, nil
		},
	}

	p := &Provider{costClient: mock}
	fc, err := p.Forecast(context.Background(), provider.CostQuery{})

	require.NoError(t, err)
	assert.Equal(t, "420.5", fc.Amount.String())
	assert.Equal(t, "USD", fc.Currency)
}

func TestForecastMetric(t *testing.T) {
	assert.Equal(t, cetypes.MetricUnblendedCost, forecastMetric("UnblendedCost"))
	assert.Equal(t, cetypes.MetricAmortizedCost, forecastMetric("AmortizedCost"))
	assert.Equal(t, cetypes.MetricNetUnblendedCost, forecastMetric("NetUnblendedCost"))
}

func TestClassifyBatch_MapsIndices(t *testing.T) {
	mock := &mockComprehendClient{
		BatchDetectSentimentFunc: func(ctx context.Context, params *comprehend.BatchDetectSentimentInput, optFns ...func(*comprehend.Options)) (*comprehend.BatchDetectSentimentOutput, error) {
			assert.Equal(t, []string{"great", "", "awful"}, params.TextList)
			return &comprehend.BatchDetectSentimentOutput{
				ResultList: []comprehendtypes.BatchDetectSentimentItemResult{
					{Index: aws.Int32(0), Sentiment: comprehendtypes.SentimentTypePositive, SentimentScore: &comprehendtypes.SentimentScore{Positive: aws.Float32(0.9)}},
					{Index: aws.Int32(2), Sentiment: comprehendtypes.SentimentTypeNegative},
				},
				ErrorList: []comprehendtypes.BatchItemError{
					{Index: aws.Int32(1), ErrorCode: aws.String("INVALID_REQUEST"), ErrorMessage: aws.String("empty text")},
				},
			}, nil
		},
	}

	p := &Provider{comprehendClient: mock}
	results, err := p.ClassifyBatch(context.Background(), "en", []resource.ClassificationRequest{
		{Index: 50, Text: "great"},
		{Index: 51, Text: ""},
		{Index: 52, Text: "awful"},
	})

	require.NoError(t, err)
	require.Len(t, results, 3)
	byIndex := make(map[int]resource.ClassificationResult)
	for _, r := range results {
		byIndex[r.Index] = r
	}
	assert.Equal(t, "positive", byIndex[50].Label)
	assert.InDelta(t, 0.9, byIndex[50].Scores["positive"], 0.0001)
	assert.True(t, byIndex[51].Failed())
	assert.Contains(t, byIndex[51].Error, "INVALID_REQUEST")
	assert.Equal(t, "negative", byIndex[52].Label)
}

func TestClassifyBatch_RejectsOversizedBatch(t *testing.T) {
	p := &Provider{comprehendClient: &mockComprehendClient{}}

	reqs := make([]resource.ClassificationRequest, comprehendBatchLimit+1)
	_, err := p.ClassifyBatch(context.Background(), "en", reqs)

	require.Error(t, err)
	assert.Equal(t, 25, p.MaxBatchSize())
}

func TestClassifyBatch_CallError(t *testing.T) {
	mock := &mockComprehendClient{
		BatchDetectSentimentFunc: func(ctx context.Context, params *comprehend.BatchDetectSentimentInput, optFns ...func(*comprehend.Options)) (*comprehend.BatchDetectSentimentOutput, error) {
			return nil, errors.New("throttled")
		},
	}

	p := &Provider{comprehendClient: mock}
	_, err := p.ClassifyBatch(context.Background(), "en", []resource.ClassificationRequest{{Index: 0, Text: "x"}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestCreateDeployment(t *testing.T) {
	mock := &mockCodeDeployClient{
		CreateDeploymentFunc: func(ctx context.Context, params *codedeploy.CreateDeploymentInput, optFns ...func(*codedeploy.Options)) (*codedeploy.CreateDeploymentOutput, error) {
			assert.Equal(t, "shop", aws.ToString(params.ApplicationName))
			assert.Equal(t, "prod", aws.ToString(params.DeploymentGroupName))
			require.NotNil(t, params.Revision)
			assert.Equal(t, cdtypes.RevisionLocationTypeS3, params.Revision.RevisionType)
			assert.Equal(t, cdtypes.BundleTypeZip, params.Revision.S3Location.BundleType)
			assert.Equal(t, "artifacts", aws.ToString(params.Revision.S3Location.Bucket))
			return &codedeploy.CreateDeploymentOutput{DeploymentId: aws.String("d-ABC123")}, nil
		},
	}

	p := &Provider{codeDeployClient: mock}
	id, err := p.CreateDeployment(context.Background(), resource.DeploySpec{
		Application: "shop",
		Group:       "prod",
		Bucket:      "artifacts",
		Key:         "build.zip",
		BundleType:  "ZIP",
	})

	require.NoError(t, err)
	assert.Equal(t, "d-ABC123", id)
}
