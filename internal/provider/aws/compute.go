package aws

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/google/uuid"

	"github.com/yairfalse/nimbus/pkg/resource"
)

// ListInstances returns every instance in the region.
func (p *Provider) ListInstances(ctx context.Context) ([]resource.Instance, error) {
	var instances []resource.Instance
	var nextToken *string

	for {
		output, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				instances = append(instances, convertInstance(instance))
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return instances, nil
}

// DescribeInstance returns a single instance.
func (p *Provider) DescribeInstance(ctx context.Context, id resource.Handle) (resource.Instance, error) {
	output, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{id.String()},
	})
	if err != nil {
		return resource.Instance{}, fmt.Errorf("describe instance: %w", err)
	}

	for _, reservation := range output.Reservations {
		for _, instance := range reservation.Instances {
			if aws.ToString(instance.InstanceId) == id.String() {
				return convertInstance(instance), nil
			}
		}
	}
	return resource.Instance{}, fmt.Errorf("describe instance: %s not found", id)
}

// InstanceState returns the current lifecycle state of an instance, including
// instances that are not running.
func (p *Provider) InstanceState(ctx context.Context, id resource.Handle) (resource.State, error) {
	output, err := p.ec2Client.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds:         []string{id.String()},
		IncludeAllInstances: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("describe instance status: %w", err)
	}

	for _, status := range output.InstanceStatuses {
		if aws.ToString(status.InstanceId) == id.String() && status.InstanceState != nil {
			return resource.ParseState(string(status.InstanceState.Name)), nil
		}
	}
	return "", fmt.Errorf("describe instance status: %s not found", id)
}

// CreateInstance launches one instance. It returns as soon as the launch is
// accepted, normally with the instance still pending.
func (p *Provider) CreateInstance(ctx context.Context, spec resource.InstanceSpec) (resource.Instance, error) {
	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(spec.ImageID),
		InstanceType: ec2types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		ClientToken:  aws.String(uuid.NewString()),
	}
	if spec.KeyName != "" {
		input.KeyName = aws.String(spec.KeyName)
	}
	if spec.SubnetID != "" {
		input.SubnetId = aws.String(spec.SubnetID)
	}
	if len(spec.SecurityGroupIDs) > 0 {
		input.SecurityGroupIds = spec.SecurityGroupIDs
	}
	if len(spec.Tags) > 0 {
		input.TagSpecifications = []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags:         toEC2Tags(spec.Tags),
		}}
	}

	output, err := p.ec2Client.RunInstances(ctx, input)
	if err != nil {
		return resource.Instance{}, fmt.Errorf("run instances: %w", err)
	}
	if len(output.Instances) == 0 {
		return resource.Instance{}, fmt.Errorf("run instances: no instance returned")
	}
	return convertInstance(output.Instances[0]), nil
}

// StartInstance submits a start request.
func (p *Provider) StartInstance(ctx context.Context, id resource.Handle) error {
	if _, err := p.ec2Client.StartInstances(ctx, &ec2.StartInstancesInput{InstanceIds: []string{id.String()}}); err != nil {
		return fmt.Errorf("start instances: %w", err)
	}
	return nil
}

// StopInstance submits a stop request.
func (p *Provider) StopInstance(ctx context.Context, id resource.Handle) error {
	if _, err := p.ec2Client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{id.String()}}); err != nil {
		return fmt.Errorf("stop instances: %w", err)
	}
	return nil
}

// TerminateInstance submits a terminate request.
func (p *Provider) TerminateInstance(ctx context.Context, id resource.Handle) error {
	if _, err := p.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{id.String()}}); err != nil {
		return fmt.Errorf("terminate instances: %w", err)
	}
	return nil
}

// ConsoleOutput returns the most recent serial console output, decoded.
func (p *Provider) ConsoleOutput(ctx context.Context, id resource.Handle) (string, error) {
	output, err := p.ec2Client.GetConsoleOutput(ctx, &ec2.GetConsoleOutputInput{
		InstanceId: aws.String(id.String()),
		Latest:     aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("get console output: %w", err)
	}

	raw := aws.ToString(output.Output)
	if raw == "" {
		return "", nil
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", fmt.Errorf("decode console output: %w", err)
	}
	return string(decoded), nil
}

func convertInstance(instance ec2types.Instance) resource.Instance {
	r := resource.Instance{
		ID:         resource.Handle(aws.ToString(instance.InstanceId)),
		State:      resource.StateUnknown,
		Type:       string(instance.InstanceType),
		LaunchTime: aws.ToTime(instance.LaunchTime),
		PrivateIP:  aws.ToString(instance.PrivateIpAddress),
		PublicIP:   aws.ToString(instance.PublicIpAddress),
		Tags:       make(map[string]string, len(instance.Tags)),
	}
	if instance.State != nil {
		r.State = resource.ParseState(string(instance.State.Name))
	}
	for _, tag := range instance.Tags {
		r.Tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	r.Name = r.Tags["Name"]
	return r
}

func toEC2Tags(tags map[string]string) []ec2types.Tag {
	out := make([]ec2types.Tag, 0, len(tags))
	for k, v := range tags {
		out = append(out, ec2types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}
