package aws

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/yairfalse/nimbus/internal/provider"
	"github.com/yairfalse/nimbus/pkg/resource"
)

// FilterEvents returns one page of events from a log group.
func (p *Provider) FilterEvents(ctx context.Context, q provider.LogQuery, cursor string) (resource.Page[resource.LogEvent], error) {
	input := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName: aws.String(q.Group),
	}
	if !q.Window.Start.IsZero() {
		input.StartTime = aws.Int64(q.Window.Start.UnixMilli())
	}
	if !q.Window.End.IsZero() {
		input.EndTime = aws.Int64(q.Window.End.UnixMilli())
	}
	if q.Pattern != "" {
		input.FilterPattern = aws.String(q.Pattern)
	}
	if q.PageSize > 0 {
		input.Limit = aws.Int32(int32(q.PageSize))
	}
	if cursor != "" {
		input.NextToken = aws.String(cursor)
	}

	output, err := p.cwLogsClient.FilterLogEvents(ctx, input)
	if err != nil {
		return resource.Page[resource.LogEvent]{}, fmt.Errorf("filter log events: %w", err)
	}

	page := resource.Page[resource.LogEvent]{
		Items: make([]resource.LogEvent, 0, len(output.Events)),
		Next:  aws.ToString(output.NextToken),
	}
	for _, event := range output.Events {
		page.Items = append(page.Items, resource.LogEvent{
			Timestamp: time.UnixMilli(aws.ToInt64(event.Timestamp)).UTC(),
			Message:   aws.ToString(event.Message),
			Stream:    aws.ToString(event.LogStreamName),
		})
	}
	return page, nil
}
