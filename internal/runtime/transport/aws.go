package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/snsbridge/internal/runtime/config"
	errspkg "github.com/drblury/snsbridge/internal/runtime/errors"
	"github.com/drblury/snsbridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/snsbridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/snsbridge/internal/runtime/metadata"
)

// SNSAPI is the subset of the SNS client the transport calls.
type SNSAPI interface {
	CreateTopic(ctx context.Context, params *amazonsns.CreateTopicInput, optFns ...func(*amazonsns.Options)) (*amazonsns.CreateTopicOutput, error)
	Subscribe(ctx context.Context, params *amazonsns.SubscribeInput, optFns ...func(*amazonsns.Options)) (*amazonsns.SubscribeOutput, error)
	Publish(ctx context.Context, params *amazonsns.PublishInput, optFns ...func(*amazonsns.Options)) (*amazonsns.PublishOutput, error)
	ListTopics(ctx context.Context, params *amazonsns.ListTopicsInput, optFns ...func(*amazonsns.Options)) (*amazonsns.ListTopicsOutput, error)
}

// SQSAPI is the subset of the SQS client the transport calls.
type SQSAPI interface {
	CreateQueue(ctx context.Context, params *amazonsqs.CreateQueueInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.CreateQueueOutput, error)
	GetQueueUrl(ctx context.Context, params *amazonsqs.GetQueueUrlInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.GetQueueUrlOutput, error)
	GetQueueAttributes(ctx context.Context, params *amazonsqs.GetQueueAttributesInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.GetQueueAttributesOutput, error)
	SetQueueAttributes(ctx context.Context, params *amazonsqs.SetQueueAttributesInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.SetQueueAttributesOutput, error)
	ReceiveMessage(ctx context.Context, params *amazonsqs.ReceiveMessageInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.ReceiveMessageOutput, error)
	SendMessage(ctx context.Context, params *amazonsqs.SendMessageInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.SendMessageOutput, error)
	DeleteMessage(ctx context.Context, params *amazonsqs.DeleteMessageInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.DeleteMessageOutput, error)
	ListQueues(ctx context.Context, params *amazonsqs.ListQueuesInput, optFns ...func(*amazonsqs.Options)) (*amazonsqs.ListQueuesOutput, error)
}

var (
	AWSDefaultConfigLoader  = awsconfig.LoadDefaultConfig
	SNSTopicResolverFactory = sns.NewGenerateArnTopicResolver
	SNSClientFactory        = func(cfg aws.Config, optFns ...func(*amazonsns.Options)) SNSAPI {
		return amazonsns.NewFromConfig(cfg, optFns...)
	}
	SQSClientFactory = func(cfg aws.Config, optFns ...func(*amazonsqs.Options)) SQSAPI {
		return amazonsqs.NewFromConfig(cfg, optFns...)
	}
)

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12

	attributeAll = "All"
)

// AWSTransport talks to SNS and SQS through aws-sdk-go-v2.
type AWSTransport struct {
	sns    SNSAPI
	sqs    SQSAPI
	logger loggingpkg.ServiceLogger

	accountID string
	region    string
}

// NewAWSTransport loads the AWS configuration and builds SNS/SQS clients.
// A configured endpoint (LocalStack) overrides endpoint resolution for both.
func NewAWSTransport(ctx context.Context, conf *config.Config, logger loggingpkg.ServiceLogger) (*AWSTransport, error) {
	cfg, err := createAWSConfig(ctx, conf, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Created AWS config", loggingpkg.LogFields{
		"region":          safeAWSRegion(cfg),
		"custom_endpoint": hasCustomEndpoint(conf, cfg),
	})

	snsOpts, sqsOpts, err := endpointOptions(conf, cfg)
	if err != nil {
		return nil, err
	}

	accountID, region := resolveAccountAndRegion(conf, logger, safeAWSRegion(cfg))
	return &AWSTransport{
		sns:       SNSClientFactory(*cfg, snsOpts...),
		sqs:       SQSClientFactory(*cfg, sqsOpts...),
		logger:    logger,
		accountID: accountID,
		region:    region,
	}, nil
}

func (t *AWSTransport) Receive(ctx context.Context, req ReceiveRequest) ([]Message, error) {
	maxMessages := req.MaxMessages
	if maxMessages <= 0 {
		maxMessages = 1
	}

	out, err := t.sqs.ReceiveMessage(ctx, &amazonsqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(req.QueueURL),
		MaxNumberOfMessages:         maxMessages,
		WaitTimeSeconds:             seconds(req.WaitTime),
		VisibilityTimeout:           seconds(req.VisibilityTimeout),
		MessageAttributeNames:       []string{attributeAll},
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameAll},
	})
	if err != nil {
		return nil, errspkg.New(errspkg.ErrBackendUnavailable, "receive", req.QueueURL, err)
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, Message{
			MessageID:         aws.ToString(m.MessageId),
			ReceiptHandle:     aws.ToString(m.ReceiptHandle),
			Body:              aws.ToString(m.Body),
			Attributes:        m.Attributes,
			MessageAttributes: fromSQSAttributes(m.MessageAttributes),
		})
	}
	return messages, nil
}

func (t *AWSTransport) Delete(ctx context.Context, queueURL, receiptHandle string) error {
	_, err := t.sqs.DeleteMessage(ctx, &amazonsqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err == nil {
		return nil
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return errspkg.New(errspkg.ErrBackendUnavailable, "delete", queueURL, err)
	}
	switch apiErr.ErrorCode() {
	case "ReceiptHandleIsInvalid", "InvalidParameterValue":
		return errspkg.New(errspkg.ErrDeleteFailure, "delete", queueURL, fmt.Errorf("%w: %w", errspkg.ErrReceiptHandleInvalid, err))
	}
	return errspkg.New(errspkg.ErrDeleteFailure, "delete", queueURL, err)
}

func (t *AWSTransport) Publish(ctx context.Context, req PublishRequest) (string, error) {
	input := &amazonsns.PublishInput{
		TopicArn:          aws.String(req.TopicArn),
		Message:           aws.String(req.Message),
		MessageAttributes: toSNSAttributes(req.Attributes),
	}
	if req.Subject != "" {
		input.Subject = aws.String(req.Subject)
	}

	out, err := t.sns.Publish(ctx, input)
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return "", errspkg.New(errspkg.ErrPublishRejected, "publish", req.TopicArn, err)
		}
		return "", errspkg.New(errspkg.ErrBackendUnavailable, "publish", req.TopicArn, err)
	}
	if out == nil || aws.ToString(out.MessageId) == "" {
		return "", errspkg.New(errspkg.ErrPublishRejected, "publish", req.TopicArn, errors.New("no message id returned"))
	}
	return aws.ToString(out.MessageId), nil
}

func (t *AWSTransport) SendMessage(ctx context.Context, queueURL, body string) (string, error) {
	out, err := t.sqs.SendMessage(ctx, &amazonsqs.SendMessageInput{
		QueueUrl:    aws.String(queueURL),
		MessageBody: aws.String(body),
	})
	if err != nil {
		return "", errspkg.New(errspkg.ErrBackendUnavailable, "send message", queueURL, err)
	}
	return aws.ToString(out.MessageId), nil
}

func (t *AWSTransport) EnsureTopic(ctx context.Context, name string) (string, error) {
	out, err := t.sns.CreateTopic(ctx, &amazonsns.CreateTopicInput{Name: aws.String(name)})
	if err != nil {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "create topic", name, err)
	}
	topicArn := aws.ToString(out.TopicArn)
	if topicArn == "" {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "create topic", name, errors.New("no topic arn returned"))
	}
	return topicArn, nil
}

func (t *AWSTransport) EnsureQueue(ctx context.Context, name string, attrs QueueAttributes) (string, error) {
	out, err := t.sqs.CreateQueue(ctx, &amazonsqs.CreateQueueInput{
		QueueName:  aws.String(name),
		Attributes: queueAttributeMap(attrs),
	})
	if err == nil {
		return aws.ToString(out.QueueUrl), nil
	}

	// CreateQueue is only idempotent for identical attributes. An existing
	// queue with different ones is looked up and used as is.
	if !isQueueExistsError(err) {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "create queue", name, err)
	}
	t.logger.Info("Queue exists with different attributes; reusing it", loggingpkg.LogFields{"queue": name})

	existing, lookupErr := t.sqs.GetQueueUrl(ctx, &amazonsqs.GetQueueUrlInput{QueueName: aws.String(name)})
	if lookupErr != nil {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "get queue url", name, lookupErr)
	}
	return aws.ToString(existing.QueueUrl), nil
}

func (t *AWSTransport) QueueArn(ctx context.Context, queueURL string) (string, error) {
	out, err := t.sqs.GetQueueAttributes(ctx, &amazonsqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameQueueArn},
	})
	if err != nil {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "get queue arn", queueURL, err)
	}
	queueArn := out.Attributes[string(sqstypes.QueueAttributeNameQueueArn)]
	if queueArn == "" {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "get queue arn", queueURL, errors.New("QueueArn attribute missing"))
	}
	return queueArn, nil
}

// EnsureSubscription grants the topic permission to send into the queue and
// subscribes the queue. The queue policy is replaced, not merged.
func (t *AWSTransport) EnsureSubscription(ctx context.Context, topicArn, queueArn string) (string, error) {
	queueURL, err := t.queueURLFromArn(ctx, queueArn)
	if err != nil {
		return "", err
	}

	policy, err := queuePolicy(topicArn, queueArn)
	if err != nil {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "build queue policy", queueArn, err)
	}
	_, err = t.sqs.SetQueueAttributes(ctx, &amazonsqs.SetQueueAttributesInput{
		QueueUrl: aws.String(queueURL),
		Attributes: map[string]string{
			string(sqstypes.QueueAttributeNamePolicy): policy,
		},
	})
	if err != nil {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "set queue policy", queueArn, err)
	}

	out, err := t.sns.Subscribe(ctx, &amazonsns.SubscribeInput{
		TopicArn:              aws.String(topicArn),
		Protocol:              aws.String(SubscriptionProtocol),
		Endpoint:              aws.String(queueArn),
		ReturnSubscriptionArn: true,
	})
	if err != nil {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "subscribe", topicArn, err)
	}
	return aws.ToString(out.SubscriptionArn), nil
}

func (t *AWSTransport) ListTopics(ctx context.Context) ([]string, error) {
	var topics []string
	paginator := amazonsns.NewListTopicsPaginator(t.sns, &amazonsns.ListTopicsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errspkg.New(errspkg.ErrBackendUnavailable, "list topics", "", err)
		}
		for _, topic := range page.Topics {
			topics = append(topics, aws.ToString(topic.TopicArn))
		}
	}
	return topics, nil
}

func (t *AWSTransport) ListQueues(ctx context.Context) ([]string, error) {
	var queues []string
	paginator := amazonsqs.NewListQueuesPaginator(t.sqs, &amazonsqs.ListQueuesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errspkg.New(errspkg.ErrBackendUnavailable, "list queues", "", err)
		}
		queues = append(queues, page.QueueUrls...)
	}
	return queues, nil
}

// ResolveTopicArn turns a bare topic name into its ARN using the configured
// account and region. ARNs are returned unchanged.
func (t *AWSTransport) ResolveTopicArn(ctx context.Context, topic string) (string, error) {
	if strings.HasPrefix(topic, "arn:") {
		return topic, nil
	}
	resolver, err := createTopicResolver(t.accountID, t.region, t.logger)
	if err != nil {
		return "", err
	}
	topicArn, err := resolver.ResolveTopic(ctx, topic)
	if err != nil {
		return "", fmt.Errorf("resolve topic %q: %w", topic, err)
	}
	return string(topicArn), nil
}

func (t *AWSTransport) Close() error {
	return nil
}

func (t *AWSTransport) queueURLFromArn(ctx context.Context, queueArn string) (string, error) {
	parsed, err := arn.Parse(queueArn)
	if err != nil {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "parse queue arn", queueArn, err)
	}
	input := &amazonsqs.GetQueueUrlInput{QueueName: aws.String(parsed.Resource)}
	if parsed.AccountID != "" {
		input.QueueOwnerAWSAccountId = aws.String(parsed.AccountID)
	}
	out, err := t.sqs.GetQueueUrl(ctx, input)
	if err != nil {
		return "", errspkg.New(errspkg.ErrProvisioningFailure, "get queue url", queueArn, err)
	}
	return aws.ToString(out.QueueUrl), nil
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Sid       string                       `json:"Sid"`
	Effect    string                       `json:"Effect"`
	Principal map[string]string            `json:"Principal"`
	Action    string                       `json:"Action"`
	Resource  string                       `json:"Resource"`
	Condition map[string]map[string]string `json:"Condition"`
}

func queuePolicy(topicArn, queueArn string) (string, error) {
	return jsoncodec.MarshalString(policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Sid:       "AllowTopicSendMessage",
			Effect:    "Allow",
			Principal: map[string]string{"Service": "sns.amazonaws.com"},
			Action:    "sqs:SendMessage",
			Resource:  queueArn,
			Condition: map[string]map[string]string{
				"ArnEquals": {"aws:SourceArn": topicArn},
			},
		}},
	})
}

func queueAttributeMap(attrs QueueAttributes) map[string]string {
	return map[string]string{
		string(sqstypes.QueueAttributeNameVisibilityTimeout):      strconv.Itoa(attrs.VisibilityTimeoutSeconds),
		string(sqstypes.QueueAttributeNameMessageRetentionPeriod): strconv.Itoa(attrs.RetentionSeconds),
		string(sqstypes.QueueAttributeNameDelaySeconds):           strconv.Itoa(attrs.DelaySeconds),
	}
}

func isQueueExistsError(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.ErrorCode() {
	case "QueueAlreadyExists", "QueueNameExists":
		return true
	}
	return false
}

func toSNSAttributes(md metadatapkg.Metadata) map[string]snstypes.MessageAttributeValue {
	if len(md) == 0 {
		return nil
	}
	attrs := make(map[string]snstypes.MessageAttributeValue, len(md))
	for k, v := range md {
		attrs[k] = snstypes.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}
	return attrs
}

func fromSQSAttributes(attrs map[string]sqstypes.MessageAttributeValue) metadatapkg.Metadata {
	if len(attrs) == 0 {
		return nil
	}
	md := make(metadatapkg.Metadata, len(attrs))
	for k, v := range attrs {
		if v.StringValue != nil {
			md[k] = *v.StringValue
		}
	}
	return md
}

func seconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	return int32(d / time.Second)
}

func createAWSConfig(ctx context.Context, conf *config.Config, logger loggingpkg.ServiceLogger) (*aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if conf != nil {
		if conf.AWSRegion != "" {
			logger.Info("Setting AWS region from config", loggingpkg.LogFields{"region": conf.AWSRegion})
			opts = append(opts, awsconfig.WithRegion(conf.AWSRegion))
		}
		if conf.AWSAccessKeyID != "" && conf.AWSSecretAccessKey != "" {
			logger.Info("Using static AWS credentials from config", nil)
			opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentialsProvider(conf.AWSAccessKeyID, conf.AWSSecretAccessKey)))
		}
	}

	cfg, err := AWSDefaultConfigLoader(ctx, opts...)
	if err != nil {
		fields := loggingpkg.LogFields{}
		if conf != nil && conf.AWSRegion != "" {
			fields["requested_region"] = conf.AWSRegion
		}
		logger.Error("Failed to load AWS default config", err, fields)
		return nil, err
	}
	// Ensure region is set even if the loader ignores options (e.g. in tests)
	if conf != nil && conf.AWSRegion != "" {
		cfg.Region = conf.AWSRegion
	}

	return &cfg, nil
}

// endpointOptions returns client options pinning SNS and SQS to the custom
// endpoint, preferring the configured one over AWS_ENDPOINT_URL.
func endpointOptions(conf *config.Config, cfg *aws.Config) ([]func(*amazonsns.Options), []func(*amazonsqs.Options), error) {
	if !hasCustomEndpoint(conf, cfg) {
		return nil, nil, nil
	}

	parsedURL, err := awsEndpointURL(conf)
	if err != nil {
		return nil, nil, err
	}
	if parsedURL == nil {
		parsedURL, err = url.Parse(*cfg.BaseEndpoint)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse BaseEndpoint: %w", err)
		}
	}

	snsOpts := []func(*amazonsns.Options){
		amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *parsedURL},
		}),
	}
	sqsOpts := []func(*amazonsqs.Options){
		amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{
			Endpoint: smithyendpoints.Endpoint{URI: *parsedURL},
		}),
	}
	return snsOpts, sqsOpts, nil
}

func resolveAccountAndRegion(conf *config.Config, logger loggingpkg.ServiceLogger, fallbackRegion string) (string, string) {
	if conf == nil {
		return "", fallbackRegion
	}

	accountID := strings.Trim(conf.AWSAccountID, "\"' ")
	region := conf.AWSRegion
	if region == "" {
		region = fallbackRegion
	}

	if accountID == "" && useLocalstackEndpoint(conf) {
		accountID = localstackAccountID
		logger.Info("AWS account ID empty; using LocalStack default", loggingpkg.LogFields{"accountID": accountID})
		return accountID, region
	}

	if accountID != "" && len(accountID) != awsAccountIDLength && useLocalstackEndpoint(conf) {
		logger.Info("Invalid AWS account ID; falling back to LocalStack default", loggingpkg.LogFields{"accountID": accountID})
		accountID = localstackAccountID
	}

	return accountID, region
}

func useLocalstackEndpoint(conf *config.Config) bool {
	return conf != nil && conf.AWSEndpoint != ""
}

func createTopicResolver(accountID, region string, logger loggingpkg.ServiceLogger) (sns.TopicResolver, error) {
	topicResolver, err := SNSTopicResolverFactory(accountID, region)
	if err != nil {
		logger.Error("Failed to create SNS topic resolver", err, loggingpkg.LogFields{
			"accountID": accountID,
			"region":    region,
		})
		return nil, err
	}
	return topicResolver, nil
}

func awsEndpointURL(conf *config.Config) (*url.URL, error) {
	if conf == nil || conf.AWSEndpoint == "" {
		return nil, nil
	}

	parsedURL, err := url.Parse(conf.AWSEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to parse AWS endpoint: %w", err)
	}
	return parsedURL, nil
}

func safeAWSRegion(cfg *aws.Config) string {
	if cfg == nil {
		return ""
	}
	return cfg.Region
}

func hasCustomEndpoint(conf *config.Config, cfg *aws.Config) bool {
	if conf != nil && conf.AWSEndpoint != "" {
		return true
	}
	return cfg != nil && cfg.BaseEndpoint != nil && *cfg.BaseEndpoint != ""
}

func staticCredentialsProvider(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}
