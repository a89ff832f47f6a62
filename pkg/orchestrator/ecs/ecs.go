// Package ecs runs sandbox sessions as AWS ECS Fargate tasks. Public
// addresses are resolved through the task's elastic network interface.
package ecs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	awsecs "github.com/aws/aws-sdk-go-v2/service/ecs"
	"github.com/aws/aws-sdk-go-v2/service/ecs/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/txn2/devops-bootcamp/pkg/session"
)

const (
	defaultCPU             = "256"
	defaultMemory          = "512"
	defaultContainerName   = "challenge"
	defaultFamilyPrefix    = "devops-challenge-"
	defaultLogGroup        = "/ecs/devops-bootcamp"
	defaultLogStreamPrefix = "challenge"
	defaultStartedBy       = "devops-bootcamp"
	sshPort                = 22

	failureMissing      = "MISSING"
	attachmentENIDetail = "networkInterfaceId"
	eniNotFoundCode     = "InvalidNetworkInterfaceID.NotFound"
	invalidParamCode    = "InvalidParameterException"
)

// AddressMode selects which ENI address ResolveAddress returns.
type AddressMode string

// Address modes.
const (
	AddressPublic  AddressMode = "public"
	AddressPrivate AddressMode = "private"
)

// Config configures the ECS orchestrator.
type Config struct {
	Region  string `yaml:"region"`
	Cluster string `yaml:"cluster"`

	// ImageRepository is the image URI without tag; the challenge ID is the tag.
	ImageRepository string `yaml:"image_repository"`

	Subnets        []string `yaml:"subnets"`
	SecurityGroups []string `yaml:"security_groups"`

	// AssignPublicIP defaults to true. Learners reach sandboxes on the
	// public address unless address_mode is private.
	AssignPublicIP *bool `yaml:"assign_public_ip"`

	ExecutionRoleARN string `yaml:"execution_role_arn"`
	TaskRoleARN      string `yaml:"task_role_arn"`

	// AssumeRoleARN, when set, is assumed via STS for all ECS and EC2 calls.
	AssumeRoleARN string `yaml:"assume_role_arn"`

	CPU    string `yaml:"cpu"`
	Memory string `yaml:"memory"`

	LogGroup string `yaml:"log_group"`

	AddressMode AddressMode `yaml:"address_mode"`
}

func (c *Config) applyDefaults() {
	if c.CPU == "" {
		c.CPU = defaultCPU
	}
	if c.Memory == "" {
		c.Memory = defaultMemory
	}
	if c.LogGroup == "" {
		c.LogGroup = defaultLogGroup
	}
	if c.AddressMode == "" {
		c.AddressMode = AddressPublic
	}
}

// Validate checks that the fields required to run tasks are present.
func (c Config) Validate() error {
	var errs []error
	if c.Cluster == "" {
		errs = append(errs, errors.New("ecs: cluster is required"))
	}
	if c.ImageRepository == "" {
		errs = append(errs, errors.New("ecs: image_repository is required"))
	}
	if len(c.Subnets) == 0 {
		errs = append(errs, errors.New("ecs: at least one subnet is required"))
	}
	if c.ExecutionRoleARN == "" {
		errs = append(errs, errors.New("ecs: execution_role_arn is required"))
	}
	switch c.AddressMode {
	case "", AddressPublic:
		if !c.publicIP() {
			errs = append(errs, errors.New("ecs: address_mode public requires assign_public_ip"))
		}
	case AddressPrivate:
	default:
		errs = append(errs, fmt.Errorf("ecs: unknown address_mode %q", c.AddressMode))
	}
	return errors.Join(errs...)
}

func (c Config) publicIP() bool {
	return c.AssignPublicIP == nil || *c.AssignPublicIP
}

// ecsAPI is the subset of the ECS client used here.
type ecsAPI interface {
	RegisterTaskDefinition(ctx context.Context, in *awsecs.RegisterTaskDefinitionInput, opts ...func(*awsecs.Options)) (*awsecs.RegisterTaskDefinitionOutput, error)
	RunTask(ctx context.Context, in *awsecs.RunTaskInput, opts ...func(*awsecs.Options)) (*awsecs.RunTaskOutput, error)
	DescribeTasks(ctx context.Context, in *awsecs.DescribeTasksInput, opts ...func(*awsecs.Options)) (*awsecs.DescribeTasksOutput, error)
	StopTask(ctx context.Context, in *awsecs.StopTaskInput, opts ...func(*awsecs.Options)) (*awsecs.StopTaskOutput, error)
}

// ec2API is the subset of the EC2 client used here.
type ec2API interface {
	DescribeNetworkInterfaces(ctx context.Context, in *ec2.DescribeNetworkInterfacesInput, opts ...func(*ec2.Options)) (*ec2.DescribeNetworkInterfacesOutput, error)
}

// Orchestrator implements session.Orchestrator on ECS Fargate.
type Orchestrator struct {
	cfg Config
	ecs ecsAPI
	ec2 ec2API

	mu       sync.Mutex
	taskDefs map[string]string // challenge ID -> task definition ARN
}

// New loads AWS configuration and creates an Orchestrator.
func New(ctx context.Context, cfg Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return fromAWSConfig(cfg, awsCfg)
}

// fromAWSConfig builds the clients from a loaded AWS config. The region
// resolved by the SDK fills an empty cfg.Region, since the awslogs driver
// requires one.
func fromAWSConfig(cfg Config, awsCfg aws.Config) (*Orchestrator, error) {
	if cfg.Region == "" {
		cfg.Region = awsCfg.Region
	}
	if cfg.Region == "" {
		return nil, errors.New("ecs: no region configured or found in the AWS environment")
	}

	if cfg.AssumeRoleARN != "" {
		stsClient := sts.NewFromConfig(awsCfg)
		creds := stscreds.NewAssumeRoleProvider(stsClient, cfg.AssumeRoleARN)
		awsCfg.Credentials = aws.NewCredentialsCache(creds)
	}

	return newOrchestrator(cfg, awsecs.NewFromConfig(awsCfg), ec2.NewFromConfig(awsCfg)), nil
}

func newOrchestrator(cfg Config, ecsClient ecsAPI, ec2Client ec2API) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		cfg:      cfg,
		ecs:      ecsClient,
		ec2:      ec2Client,
		taskDefs: make(map[string]string),
	}
}

// StartTask registers (once per challenge) and runs a Fargate task.
func (o *Orchestrator) StartTask(ctx context.Context, spec session.TaskSpec) (string, error) {
	taskDef, err := o.taskDefinition(ctx, spec.ChallengeID)
	if err != nil {
		return "", err
	}

	assignPublicIP := types.AssignPublicIpDisabled
	if o.cfg.publicIP() {
		assignPublicIP = types.AssignPublicIpEnabled
	}

	out, err := o.ecs.RunTask(ctx, &awsecs.RunTaskInput{
		Cluster:        aws.String(o.cfg.Cluster),
		TaskDefinition: aws.String(taskDef),
		LaunchType:     types.LaunchTypeFargate,
		Count:          aws.Int32(1),
		StartedBy:      aws.String(defaultStartedBy),
		NetworkConfiguration: &types.NetworkConfiguration{
			AwsvpcConfiguration: &types.AwsVpcConfiguration{
				Subnets:        o.cfg.Subnets,
				SecurityGroups: o.cfg.SecurityGroups,
				AssignPublicIp: assignPublicIP,
			},
		},
		Overrides: &types.TaskOverride{
			ContainerOverrides: []types.ContainerOverride{{
				Name:        aws.String(defaultContainerName),
				Environment: environment(spec.Env),
			}},
		},
		Tags: []types.Tag{
			{Key: aws.String("SessionId"), Value: aws.String(spec.Env["SESSION_ID"])},
			{Key: aws.String("ChallengeId"), Value: aws.String(spec.ChallengeID)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("running task: %w", err)
	}
	if len(out.Tasks) == 0 {
		if len(out.Failures) > 0 {
			return "", fmt.Errorf("running task: %s", failureReason(out.Failures[0]))
		}
		return "", errors.New("running task: no task returned")
	}
	return aws.ToString(out.Tasks[0].TaskArn), nil
}

// taskDefinition returns the ARN of the challenge's task definition,
// registering it on first use.
func (o *Orchestrator) taskDefinition(ctx context.Context, challengeID string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if arn, ok := o.taskDefs[challengeID]; ok {
		return arn, nil
	}

	in := &awsecs.RegisterTaskDefinitionInput{
		Family:                  aws.String(defaultFamilyPrefix + challengeID),
		NetworkMode:             types.NetworkModeAwsvpc,
		RequiresCompatibilities: []types.Compatibility{types.CompatibilityFargate},
		Cpu:                     aws.String(o.cfg.CPU),
		Memory:                  aws.String(o.cfg.Memory),
		ExecutionRoleArn:        aws.String(o.cfg.ExecutionRoleARN),
		ContainerDefinitions: []types.ContainerDefinition{{
			Name:      aws.String(defaultContainerName),
			Image:     aws.String(o.cfg.ImageRepository + ":" + challengeID),
			Essential: aws.Bool(true),
			PortMappings: []types.PortMapping{{
				ContainerPort: aws.Int32(sshPort),
				Protocol:      types.TransportProtocolTcp,
			}},
			Environment: []types.KeyValuePair{
				{Name: aws.String("CHALLENGE_ID"), Value: aws.String(challengeID)},
			},
			LogConfiguration: &types.LogConfiguration{
				LogDriver: types.LogDriverAwslogs,
				Options: map[string]string{
					"awslogs-group":         o.cfg.LogGroup,
					"awslogs-region":        o.cfg.Region,
					"awslogs-stream-prefix": defaultLogStreamPrefix,
				},
			},
		}},
	}
	if o.cfg.TaskRoleARN != "" {
		in.TaskRoleArn = aws.String(o.cfg.TaskRoleARN)
	}

	out, err := o.ecs.RegisterTaskDefinition(ctx, in)
	if err != nil {
		return "", fmt.Errorf("registering task definition: %w", err)
	}
	if out.TaskDefinition == nil || out.TaskDefinition.TaskDefinitionArn == nil {
		return "", errors.New("registering task definition: no ARN returned")
	}

	arn := aws.ToString(out.TaskDefinition.TaskDefinitionArn)
	o.taskDefs[challengeID] = arn
	slog.Info("ecs: registered task definition", "challenge_id", challengeID, "arn", arn)
	return arn, nil
}

// DescribeTask reports the task state. A task ECS reports as MISSING, or
// does not return at all, no longer exists.
func (o *Orchestrator) DescribeTask(ctx context.Context, handle string) (session.Observation, error) {
	out, err := o.ecs.DescribeTasks(ctx, &awsecs.DescribeTasksInput{
		Cluster: aws.String(o.cfg.Cluster),
		Tasks:   []string{handle},
	})
	if err != nil {
		return session.Observation{}, fmt.Errorf("describing task: %w", err)
	}

	if len(out.Tasks) == 0 {
		for _, f := range out.Failures {
			if aws.ToString(f.Reason) != failureMissing {
				return session.Observation{}, fmt.Errorf("describing task: %s", failureReason(f))
			}
		}
		return session.Observation{Exists: false}, nil
	}

	task := out.Tasks[0]
	last := aws.ToString(task.LastStatus)
	return session.Observation{
		Exists:              true,
		Running:             last == "RUNNING",
		Stopped:             isStopping(last) || aws.ToString(task.DesiredStatus) == "STOPPED",
		LastStatus:          last,
		NetworkAttachmentID: eniID(task.Attachments),
	}, nil
}

// ResolveAddress returns the ENI's public (or private) IPv4 address, or ""
// while none is associated.
func (o *Orchestrator) ResolveAddress(ctx context.Context, attachmentID string) (string, error) {
	out, err := o.ec2.DescribeNetworkInterfaces(ctx, &ec2.DescribeNetworkInterfacesInput{
		NetworkInterfaceIds: []string{attachmentID},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == eniNotFoundCode {
			return "", nil
		}
		return "", fmt.Errorf("describing network interface: %w", err)
	}
	if len(out.NetworkInterfaces) == 0 {
		return "", nil
	}

	eni := out.NetworkInterfaces[0]
	if o.cfg.AddressMode == AddressPrivate {
		return aws.ToString(eni.PrivateIpAddress), nil
	}
	if eni.Association == nil {
		return "", nil
	}
	return aws.ToString(eni.Association.PublicIp), nil
}

// StopTask stops the task. A task ECS no longer knows is treated as stopped.
func (o *Orchestrator) StopTask(ctx context.Context, handle, reason string) error {
	_, err := o.ecs.StopTask(ctx, &awsecs.StopTaskInput{
		Cluster: aws.String(o.cfg.Cluster),
		Task:    aws.String(handle),
		Reason:  aws.String(reason),
	})
	if err == nil || isTaskNotFound(err) {
		return nil
	}
	return fmt.Errorf("stopping task: %w", err)
}

func isTaskNotFound(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.ErrorCode() == invalidParamCode &&
		strings.Contains(strings.ToLower(apiErr.ErrorMessage()), "not found")
}

func isStopping(lastStatus string) bool {
	switch lastStatus {
	case "DEACTIVATING", "STOPPING", "DEPROVISIONING", "STOPPED", "DELETED":
		return true
	}
	return false
}

func eniID(attachments []types.Attachment) string {
	for _, a := range attachments {
		for _, d := range a.Details {
			if aws.ToString(d.Name) == attachmentENIDetail {
				return aws.ToString(d.Value)
			}
		}
	}
	return ""
}

func environment(env map[string]string) []types.KeyValuePair {
	out := make([]types.KeyValuePair, 0, len(env))
	for k, v := range env {
		out = append(out, types.KeyValuePair{Name: aws.String(k), Value: aws.String(v)})
	}
	return out
}

func failureReason(f types.Failure) string {
	reason := aws.ToString(f.Reason)
	if detail := aws.ToString(f.Detail); detail != "" {
		return reason + ": " + detail
	}
	return reason
}

// Verify interface compliance.
var _ session.Orchestrator = (*Orchestrator)(nil)
