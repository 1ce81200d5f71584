package worker

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("prefix", "worker")

var _ VerificationWorker = (*EC2Worker)(nil)

// EC2Config selects the machine profile used for provisioned verification
// workers.
type EC2Config struct {
	Region       string
	AmiID        string
	InstanceType string
}

// EC2Worker implements VerificationWorker using EC2 instances driven through
// SSM run-command. The worker handle is the EC2 instance id.
type EC2Worker struct {
	cfg EC2Config
	ec2 *ec2.Client
	ssm *ssm.Client
}

// NewEC2Worker builds a worker driver using the ambient AWS credential
// chain.
func NewEC2Worker(ctx context.Context, cfg EC2Config) (*EC2Worker, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.Wrap(err, "could not load AWS configuration")
	}
	return &EC2Worker{
		cfg: cfg,
		ec2: ec2.NewFromConfig(awsCfg),
		ssm: ssm.NewFromConfig(awsCfg),
	}, nil
}

// Provision launches a stopped-on-boot instance running the circuit's
// bootstrap script on first start.
func (w *EC2Worker) Provision(ctx context.Context, name, bootstrapScript string) (string, error) {
	out, err := w.ec2.RunInstances(ctx, &ec2.RunInstancesInput{
		ImageId:      aws.String(w.cfg.AmiID),
		InstanceType: ec2types.InstanceType(w.cfg.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		UserData:     aws.String(base64.StdEncoding.EncodeToString([]byte(bootstrapScript))),
		TagSpecifications: []ec2types.TagSpecification{
			{
				ResourceType: ec2types.ResourceTypeInstance,
				Tags: []ec2types.Tag{
					{Key: aws.String("Name"), Value: aws.String(name)},
				},
			},
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "could not provision worker %s", name)
	}
	if len(out.Instances) == 0 {
		return "", errors.New("no instance returned by RunInstances")
	}
	handle := aws.ToString(out.Instances[0].InstanceId)
	log.WithFields(logrus.Fields{"name": name, "handle": handle}).Info("Provisioned verification worker")
	return handle, nil
}

// Start boots the instance.
func (w *EC2Worker) Start(ctx context.Context, handle string) error {
	_, err := w.ec2.StartInstances(ctx, &ec2.StartInstancesInput{
		InstanceIds: []string{handle},
	})
	return errors.Wrapf(err, "could not start worker %s", handle)
}

// Stop shuts the instance down.
func (w *EC2Worker) Stop(ctx context.Context, handle string) error {
	_, err := w.ec2.StopInstances(ctx, &ec2.StopInstancesInput{
		InstanceIds: []string{handle},
	})
	return errors.Wrapf(err, "could not stop worker %s", handle)
}

// IsRunning reports whether the instance is running and has passed its
// status checks, meaning SSM commands can reach it.
func (w *EC2Worker) IsRunning(ctx context.Context, handle string) (bool, error) {
	out, err := w.ec2.DescribeInstanceStatus(ctx, &ec2.DescribeInstanceStatusInput{
		InstanceIds:         []string{handle},
		IncludeAllInstances: aws.Bool(true),
	})
	if err != nil {
		return false, errors.Wrapf(err, "could not describe worker %s", handle)
	}
	for _, st := range out.InstanceStatuses {
		if st.InstanceState == nil || st.InstanceState.Name != ec2types.InstanceStateNameRunning {
			continue
		}
		if st.InstanceStatus != nil && st.InstanceStatus.Status == ec2types.SummaryStatusOk {
			return true, nil
		}
	}
	return false, nil
}

// Run dispatches a shell command through SSM run-command.
func (w *EC2Worker) Run(ctx context.Context, handle string, command []string) (string, error) {
	out, err := w.ssm.SendCommand(ctx, &ssm.SendCommandInput{
		DocumentName: aws.String("AWS-RunShellScript"),
		InstanceIds:  []string{handle},
		Parameters: map[string][]string{
			"commands": command,
		},
	})
	if err != nil {
		return "", errors.Wrapf(err, "could not run command on worker %s", handle)
	}
	if out.Command == nil {
		return "", errors.New("no command returned by SendCommand")
	}
	return aws.ToString(out.Command.CommandId), nil
}

// PollStatus maps the SSM invocation status onto the worker command enum.
func (w *EC2Worker) PollStatus(ctx context.Context, handle, commandID string) (CommandStatus, error) {
	out, err := w.ssm.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
		CommandId:  aws.String(commandID),
		InstanceId: aws.String(handle),
	})
	if err != nil {
		return "", errors.Wrapf(err, "could not poll command %s on worker %s", commandID, handle)
	}
	switch strings.ToUpper(string(out.Status)) {
	case "PENDING":
		return StatusPending, nil
	case "INPROGRESS", "IN_PROGRESS":
		return StatusInProgress, nil
	case "SUCCESS":
		return StatusSuccess, nil
	case "CANCELLING":
		return StatusCancelling, nil
	case "CANCELLED":
		return StatusCancelled, nil
	case "FAILED":
		return StatusFailed, nil
	case "TIMEDOUT", "TIMED_OUT":
		return StatusTimedOut, nil
	case "DELAYED":
		return StatusDelayed, nil
	default:
		return "", errors.Errorf("unknown command status %q", out.Status)
	}
}

// FetchOutput returns the standard output of a finished command.
func (w *EC2Worker) FetchOutput(ctx context.Context, handle, commandID string) (string, error) {
	out, err := w.ssm.GetCommandInvocation(ctx, &ssm.GetCommandInvocationInput{
		CommandId:  aws.String(commandID),
		InstanceId: aws.String(handle),
	})
	if err != nil {
		return "", errors.Wrapf(err, "could not fetch output of command %s on worker %s", commandID, handle)
	}
	return aws.ToString(out.StandardOutputContent), nil
}
