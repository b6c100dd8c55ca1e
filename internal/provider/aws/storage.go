package aws

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/yairfalse/nimbus/pkg/resource"
)

// us-east-1 is the only region that rejects an explicit location constraint.
const defaultBucketRegion = "us-east-1"

// ListContainers returns all buckets owned by the caller.
func (p *Provider) ListContainers(ctx context.Context) ([]resource.Container, error) {
	var containers []resource.Container
	var token *string

	for {
		output, err := p.s3Client.ListBuckets(ctx, &s3.ListBucketsInput{ContinuationToken: token})
		if err != nil {
			return nil, fmt.Errorf("list buckets: %w", err)
		}

		for _, bucket := range output.Buckets {
			containers = append(containers, resource.Container{
				Name:      aws.ToString(bucket.Name),
				Region:    aws.ToString(bucket.BucketRegion),
				CreatedAt: aws.ToTime(bucket.CreationDate),
			})
		}

		if aws.ToString(output.ContinuationToken) == "" {
			break
		}
		token = output.ContinuationToken
	}

	return containers, nil
}

// CreateContainer creates a bucket in region. The request is sent to that
// region's endpoint. An empty region uses the client's region.
func (p *Provider) CreateContainer(ctx context.Context, name, region string) error {
	if region == "" {
		region = p.region
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(name)}
	if region != "" && region != defaultBucketRegion {
		input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}

	var optFns []func(*s3.Options)
	if region != "" {
		optFns = append(optFns, func(o *s3.Options) { o.Region = region })
	}

	if _, err := p.s3Client.CreateBucket(ctx, input, optFns...); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

// DeleteContainer deletes an empty bucket.
func (p *Provider) DeleteContainer(ctx context.Context, name string) error {
	if _, err := p.s3Client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(name)}); err != nil {
		return fmt.Errorf("delete bucket: %w", err)
	}
	return nil
}

// ListObjects returns one page of objects under prefix.
func (p *Provider) ListObjects(ctx context.Context, container, prefix, cursor string) (resource.Page[resource.Object], error) {
	input := &s3.ListObjectsV2Input{Bucket: aws.String(container)}
	if prefix != "" {
		input.Prefix = aws.String(prefix)
	}
	if cursor != "" {
		input.ContinuationToken = aws.String(cursor)
	}

	output, err := p.s3Client.ListObjectsV2(ctx, input)
	if err != nil {
		return resource.Page[resource.Object]{}, fmt.Errorf("list objects: %w", err)
	}

	page := resource.Page[resource.Object]{Items: make([]resource.Object, 0, len(output.Contents))}
	for _, obj := range output.Contents {
		page.Items = append(page.Items, resource.Object{
			Key:          aws.ToString(obj.Key),
			Size:         aws.ToInt64(obj.Size),
			ETag:         aws.ToString(obj.ETag),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	if aws.ToBool(output.IsTruncated) {
		page.Next = aws.ToString(output.NextContinuationToken)
	}
	return page, nil
}

// PutObject uploads body, switching to multipart for large payloads.
func (p *Provider) PutObject(ctx context.Context, container, key string, body io.Reader) error {
	_, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("upload object: %w", err)
	}
	return nil
}

// GetObject downloads an object into dst and returns the bytes written.
func (p *Provider) GetObject(ctx context.Context, container, key string, dst io.WriterAt) (int64, error) {
	n, err := p.downloader.Download(ctx, dst, &s3.GetObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		return n, fmt.Errorf("download object: %w", err)
	}
	return n, nil
}

// DeleteObject removes one object.
func (p *Provider) DeleteObject(ctx context.Context, container, key string) error {
	_, err := p.s3Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(container),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
