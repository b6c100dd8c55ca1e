// Package aws implements the nimbus cloud capabilities on AWS.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy"
	"github.com/aws/aws-sdk-go-v2/service/comprehend"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/nimbus/internal/provider"
)

// Comprehend accepts at most 25 documents per batch request.
const comprehendBatchLimit = 25

// Cost Explorer is a global service served from us-east-1.
const costExplorerRegion = "us-east-1"

// Compile-time checks that Provider covers every capability.
var (
	_ provider.Compute     = (*Provider)(nil)
	_ provider.ObjectStore = (*Provider)(nil)
	_ provider.LogStore    = (*Provider)(nil)
	_ provider.Billing     = (*Provider)(nil)
	_ provider.Classifier  = (*Provider)(nil)
	_ provider.Deployer    = (*Provider)(nil)
)

// Provider talks to AWS on behalf of the orchestrator.
type Provider struct {
	region string

	// AWS clients (interfaces for testability)
	ec2Client        EC2API
	s3Client         S3API
	uploader         Uploader
	downloader       Downloader
	cwLogsClient     CloudWatchLogsAPI
	costClient       CostExplorerAPI
	comprehendClient ComprehendAPI
	codeDeployClient CodeDeployAPI
}

// Config holds AWS provider configuration.
type Config struct {
	Region  string
	Profile string
}

// New loads the shared AWS configuration and builds the service clients.
// Credentials are resolved by the SDK's default chain.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg)
	costClient := costexplorer.NewFromConfig(awsCfg, func(o *costexplorer.Options) {
		o.Region = costExplorerRegion
	})

	log.Debug().
		Str("region", awsCfg.Region).
		Str("profile", cfg.Profile).
		Msg("aws provider configured")

	return &Provider{
		region:           awsCfg.Region,
		ec2Client:        ec2.NewFromConfig(awsCfg),
		s3Client:         s3Client,
		uploader:         manager.NewUploader(s3Client),
		downloader:       manager.NewDownloader(s3Client),
		cwLogsClient:     cloudwatchlogs.NewFromConfig(awsCfg),
		costClient:       costClient,
		comprehendClient: comprehend.NewFromConfig(awsCfg),
		codeDeployClient: codedeploy.NewFromConfig(awsCfg),
	}, nil
}

// Region returns the region the clients were configured for.
func (p *Provider) Region() string {
	return p.region
}
