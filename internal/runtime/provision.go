package runtime

import (
	"context"
	"errors"

	errspkg "github.com/drblury/snsbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/snsbridge/internal/runtime/logging"
	transportpkg "github.com/drblury/snsbridge/internal/runtime/transport"
)

// ProvisionRequest names the topic/queue pair to create and link.
type ProvisionRequest struct {
	TopicName       string
	QueueName       string
	QueueAttributes transportpkg.QueueAttributes
	Logger          loggingpkg.ServiceLogger
}

// Binding identifies a provisioned topic, its subscribed queue and the link
// between them.
type Binding struct {
	TopicArn        string `json:"topic_arn"`
	QueueURL        string `json:"queue_url"`
	QueueArn        string `json:"queue_arn"`
	SubscriptionArn string `json:"subscription_arn"`
}

// Provision creates the topic and the queue, looks up the queue ARN and
// subscribes the queue to the topic. Every step is idempotent, so running it
// against existing resources returns their identifiers. Any failure carries
// ErrProvisioningFailure.
func Provision(ctx context.Context, p transportpkg.Provisioner, req ProvisionRequest) (Binding, error) {
	if p == nil {
		return Binding{}, errspkg.ErrBackendRequired
	}
	if req.TopicName == "" {
		return Binding{}, errspkg.New(errspkg.ErrProvisioningFailure, "provision", "", errspkg.ErrTopicRequired)
	}
	if req.QueueName == "" {
		return Binding{}, errspkg.New(errspkg.ErrProvisioningFailure, "provision", "", errspkg.ErrQueueRequired)
	}
	logger := req.Logger
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}

	var (
		binding Binding
		err     error
	)
	if binding.TopicArn, err = p.EnsureTopic(ctx, req.TopicName); err != nil {
		return Binding{}, provisioningError("create topic", req.TopicName, err)
	}
	logger.Debug("Topic ready", loggingpkg.LogFields{"topic_arn": binding.TopicArn})

	if binding.QueueURL, err = p.EnsureQueue(ctx, req.QueueName, req.QueueAttributes); err != nil {
		return Binding{}, provisioningError("create queue", req.QueueName, err)
	}
	logger.Debug("Queue ready", loggingpkg.LogFields{"queue_url": binding.QueueURL})

	if binding.QueueArn, err = p.QueueArn(ctx, binding.QueueURL); err != nil {
		return Binding{}, provisioningError("queue arn", binding.QueueURL, err)
	}

	if binding.SubscriptionArn, err = p.EnsureSubscription(ctx, binding.TopicArn, binding.QueueArn); err != nil {
		return Binding{}, provisioningError("subscribe", binding.QueueArn, err)
	}

	logger.Info("Provisioned topic subscription", loggingpkg.LogFields{
		"topic_arn":        binding.TopicArn,
		"queue_url":        binding.QueueURL,
		"queue_arn":        binding.QueueArn,
		"subscription_arn": binding.SubscriptionArn,
	})
	return binding, nil
}

func provisioningError(op, resource string, err error) error {
	if errors.Is(err, errspkg.ErrProvisioningFailure) {
		return err
	}
	return errspkg.New(errspkg.ErrProvisioningFailure, op, resource, err)
}
