// Package awscloud implements the cloud collaborator contracts on the EC2
// and Auto Scaling APIs.
package awscloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/cloud"
	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/event"
)

// AutoScalingAPI is the subset of the Auto Scaling client used here.
type AutoScalingAPI interface {
	DescribeTags(ctx context.Context, in *autoscaling.DescribeTagsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeTagsOutput, error)
	CompleteLifecycleAction(ctx context.Context, in *autoscaling.CompleteLifecycleActionInput, optFns ...func(*autoscaling.Options)) (*autoscaling.CompleteLifecycleActionOutput, error)
}

// EC2API is the subset of the EC2 client used here.
type EC2API interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	CreateTags(ctx context.Context, in *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
}

// TagStore reads Auto Scaling group tags and writes EC2 instance tags.
type TagStore struct {
	asg AutoScalingAPI
	ec2 EC2API
}

func NewTagStore(asg AutoScalingAPI, ec2Client EC2API) *TagStore {
	return &TagStore{asg: asg, ec2: ec2Client}
}

// GetTag fetches a single tag from an Auto Scaling group.
func (s *TagStore) GetTag(ctx context.Context, resourceID, key string) (string, bool, error) {
	out, err := s.asg.DescribeTags(ctx, &autoscaling.DescribeTagsInput{
		Filters: []asgtypes.Filter{
			{Name: aws.String("auto-scaling-group"), Values: []string{resourceID}},
			{Name: aws.String("key"), Values: []string{key}},
		},
	})
	if err != nil {
		return "", false, fmt.Errorf("awscloud: describe tags for group %s: %w", resourceID, err)
	}
	for _, tag := range out.Tags {
		if aws.ToString(tag.Key) == key {
			return aws.ToString(tag.Value), true, nil
		}
	}
	return "", false, nil
}

// SetTag writes a single tag on an EC2 instance.
func (s *TagStore) SetTag(ctx context.Context, resourceID, key, value string) error {
	_, err := s.ec2.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{resourceID},
		Tags:      []ec2types.Tag{{Key: aws.String(key), Value: aws.String(value)}},
	})
	if err != nil {
		return fmt.Errorf("awscloud: tag instance %s: %w", resourceID, err)
	}
	return nil
}

// Inventory resolves instance addresses from the EC2 API.
type Inventory struct {
	ec2 EC2API
}

func NewInventory(ec2Client EC2API) *Inventory {
	return &Inventory{ec2: ec2Client}
}

// Address returns the instance's private or public IPv4 address.
func (inv *Inventory) Address(ctx context.Context, instanceID string, public bool) (string, error) {
	out, err := inv.ec2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		if isAPIError(err, "InvalidInstanceID.NotFound") {
			return "", fmt.Errorf("awscloud: instance %s: %w", instanceID, cloud.ErrInstanceNotFound)
		}
		return "", fmt.Errorf("awscloud: describe instance %s: %w", instanceID, err)
	}

	var instance *ec2types.Instance
	for _, reservation := range out.Reservations {
		for i := range reservation.Instances {
			if aws.ToString(reservation.Instances[i].InstanceId) == instanceID {
				instance = &reservation.Instances[i]
			}
		}
	}
	if instance == nil {
		return "", fmt.Errorf("awscloud: instance %s: %w", instanceID, cloud.ErrInstanceNotFound)
	}

	addr := aws.ToString(instance.PrivateIpAddress)
	kind := "private"
	if public {
		addr = aws.ToString(instance.PublicIpAddress)
		kind = "public"
	}
	if addr == "" {
		return "", fmt.Errorf("awscloud: instance %s has no %s address: %w", instanceID, kind, cloud.ErrNoAddress)
	}
	return addr, nil
}

// Completer reports lifecycle verdicts to the Auto Scaling API.
type Completer struct {
	asg AutoScalingAPI
}

func NewCompleter(asg AutoScalingAPI) *Completer {
	return &Completer{asg: asg}
}

// Complete reports the verdict for the event's pending lifecycle action. An
// expired or already-consumed action token maps to cloud.ErrTokenExpired.
func (c *Completer) Complete(ctx context.Context, ev event.LifecycleEvent, verdict event.Verdict) error {
	in := &autoscaling.CompleteLifecycleActionInput{
		AutoScalingGroupName:  aws.String(ev.Fleet),
		LifecycleHookName:     aws.String(ev.HookName),
		InstanceId:            aws.String(ev.InstanceID),
		LifecycleActionResult: aws.String(string(verdict)),
	}
	if ev.ActionToken != "" {
		in.LifecycleActionToken = aws.String(ev.ActionToken)
	}
	_, err := c.asg.CompleteLifecycleAction(ctx, in)
	if err != nil {
		// ValidationError is what the API returns once the action has been
		// completed or its heartbeat window has elapsed.
		if isAPIError(err, "ValidationError") {
			return fmt.Errorf("awscloud: complete lifecycle action for %s: %w", ev.InstanceID, cloud.ErrTokenExpired)
		}
		return fmt.Errorf("awscloud: complete lifecycle action for %s: %w", ev.InstanceID, err)
	}
	return nil
}

func isAPIError(err error, code string) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == code
}
