package aws

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codedeploy"
	cdtypes "github.com/aws/aws-sdk-go-v2/service/codedeploy/types"

	"github.com/yairfalse/nimbus/pkg/resource"
)

// CreateDeployment starts a CodeDeploy rollout of an S3-hosted bundle and
// returns its id without waiting for completion.
func (p *Provider) CreateDeployment(ctx context.Context, spec resource.DeploySpec) (string, error) {
	bundle := strings.ToLower(spec.BundleType)
	if bundle == "" {
		bundle = string(cdtypes.BundleTypeZip)
	}

	output, err := p.codeDeployClient.CreateDeployment(ctx, &codedeploy.CreateDeploymentInput{
		ApplicationName:     aws.String(spec.Application),
		DeploymentGroupName: aws.String(spec.Group),
		Revision: &cdtypes.RevisionLocation{
			RevisionType: cdtypes.RevisionLocationTypeS3,
			S3Location: &cdtypes.S3Location{
				Bucket:     aws.String(spec.Bucket),
				Key:        aws.String(spec.Key),
				BundleType: cdtypes.BundleType(bundle),
			},
		},
		IgnoreApplicationStopFailures: true,
	})
	if err != nil {
		return "", fmt.Errorf("create deployment: %w", err)
	}
	return aws.ToString(output.DeploymentId), nil
}
