package transport

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/snsbridge/internal/runtime/config"
	errspkg "github.com/drblury/snsbridge/internal/runtime/errors"
	"github.com/drblury/snsbridge/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/snsbridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/snsbridge/internal/runtime/metadata"
)

type fakeSNS struct {
	createTopicInput *amazonsns.CreateTopicInput
	subscribeInput   *amazonsns.SubscribeInput
	publishInput     *amazonsns.PublishInput

	topicArn   string
	messageID  string
	topicPages [][]string
	err        error
}

func (f *fakeSNS) CreateTopic(_ context.Context, in *amazonsns.CreateTopicInput, _ ...func(*amazonsns.Options)) (*amazonsns.CreateTopicOutput, error) {
	f.createTopicInput = in
	if f.err != nil {
		return nil, f.err
	}
	return &amazonsns.CreateTopicOutput{TopicArn: aws.String(f.topicArn)}, nil
}

func (f *fakeSNS) Subscribe(_ context.Context, in *amazonsns.SubscribeInput, _ ...func(*amazonsns.Options)) (*amazonsns.SubscribeOutput, error) {
	f.subscribeInput = in
	if f.err != nil {
		return nil, f.err
	}
	return &amazonsns.SubscribeOutput{SubscriptionArn: aws.String(aws.ToString(in.TopicArn) + ":sub-1")}, nil
}

func (f *fakeSNS) Publish(_ context.Context, in *amazonsns.PublishInput, _ ...func(*amazonsns.Options)) (*amazonsns.PublishOutput, error) {
	f.publishInput = in
	if f.err != nil {
		return nil, f.err
	}
	return &amazonsns.PublishOutput{MessageId: aws.String(f.messageID)}, nil
}

func (f *fakeSNS) ListTopics(_ context.Context, in *amazonsns.ListTopicsInput, _ ...func(*amazonsns.Options)) (*amazonsns.ListTopicsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	page := 0
	if in.NextToken != nil {
		page = len(*in.NextToken)
	}
	out := &amazonsns.ListTopicsOutput{}
	for _, topicArn := range f.topicPages[page] {
		out.Topics = append(out.Topics, snstypes.Topic{TopicArn: aws.String(topicArn)})
	}
	if page+1 < len(f.topicPages) {
		out.NextToken = aws.String(strings.Repeat("x", page+1))
	}
	return out, nil
}

type fakeSQS struct {
	createQueueInput   *amazonsqs.CreateQueueInput
	getQueueURLInput   *amazonsqs.GetQueueUrlInput
	setAttributesInput *amazonsqs.SetQueueAttributesInput
	receiveInput       *amazonsqs.ReceiveMessageInput
	deleteInput        *amazonsqs.DeleteMessageInput
	sendInput          *amazonsqs.SendMessageInput

	queueURL   string
	queueArn   string
	messages   []sqstypes.Message
	queueURLs  []string
	createErr  error
	deleteErr  error
	receiveErr error
	err        error
}

func (f *fakeSQS) CreateQueue(_ context.Context, in *amazonsqs.CreateQueueInput, _ ...func(*amazonsqs.Options)) (*amazonsqs.CreateQueueOutput, error) {
	f.createQueueInput = in
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &amazonsqs.CreateQueueOutput{QueueUrl: aws.String(f.queueURL)}, nil
}

func (f *fakeSQS) GetQueueUrl(_ context.Context, in *amazonsqs.GetQueueUrlInput, _ ...func(*amazonsqs.Options)) (*amazonsqs.GetQueueUrlOutput, error) {
	f.getQueueURLInput = in
	if f.err != nil {
		return nil, f.err
	}
	return &amazonsqs.GetQueueUrlOutput{QueueUrl: aws.String(f.queueURL)}, nil
}

func (f *fakeSQS) GetQueueAttributes(_ context.Context, _ *amazonsqs.GetQueueAttributesInput, _ ...func(*amazonsqs.Options)) (*amazonsqs.GetQueueAttributesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &amazonsqs.GetQueueAttributesOutput{Attributes: map[string]string{"QueueArn": f.queueArn}}, nil
}

func (f *fakeSQS) SetQueueAttributes(_ context.Context, in *amazonsqs.SetQueueAttributesInput, _ ...func(*amazonsqs.Options)) (*amazonsqs.SetQueueAttributesOutput, error) {
	f.setAttributesInput = in
	if f.err != nil {
		return nil, f.err
	}
	return &amazonsqs.SetQueueAttributesOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *amazonsqs.ReceiveMessageInput, _ ...func(*amazonsqs.Options)) (*amazonsqs.ReceiveMessageOutput, error) {
	f.receiveInput = in
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	return &amazonsqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) SendMessage(_ context.Context, in *amazonsqs.SendMessageInput, _ ...func(*amazonsqs.Options)) (*amazonsqs.SendMessageOutput, error) {
	f.sendInput = in
	if f.err != nil {
		return nil, f.err
	}
	return &amazonsqs.SendMessageOutput{MessageId: aws.String("sqs-1")}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *amazonsqs.DeleteMessageInput, _ ...func(*amazonsqs.Options)) (*amazonsqs.DeleteMessageOutput, error) {
	f.deleteInput = in
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return &amazonsqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ListQueues(_ context.Context, _ *amazonsqs.ListQueuesInput, _ ...func(*amazonsqs.Options)) (*amazonsqs.ListQueuesOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &amazonsqs.ListQueuesOutput{QueueUrls: f.queueURLs}, nil
}

func newTestAWSTransport(snsClient *fakeSNS, sqsClient *fakeSQS) *AWSTransport {
	return &AWSTransport{
		sns:       snsClient,
		sqs:       sqsClient,
		logger:    loggingpkg.NewNopServiceLogger(),
		accountID: "123456789012",
		region:    "us-east-1",
	}
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func TestCreateAWSConfigSetsRegion(t *testing.T) {
	origLoader := AWSDefaultConfigLoader
	t.Cleanup(func() { AWSDefaultConfigLoader = origLoader })

	AWSDefaultConfigLoader = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}

	conf := &config.Config{AWSRegion: "ap-southeast-2"}
	cfg, err := createAWSConfig(context.Background(), conf, loggingpkg.NewNopServiceLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Region != "ap-southeast-2" {
		t.Fatalf("expected region override, got %s", cfg.Region)
	}
}

func TestCreateAWSConfigReturnsError(t *testing.T) {
	origLoader := AWSDefaultConfigLoader
	t.Cleanup(func() { AWSDefaultConfigLoader = origLoader })

	AWSDefaultConfigLoader = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("boom")
	}

	conf := &config.Config{AWSRegion: "us-east-1"}
	if _, err := createAWSConfig(context.Background(), conf, loggingpkg.NewNopServiceLogger()); err == nil {
		t.Fatal("expected error when config loader fails")
	}
}

func TestStaticCredentialsProvider(t *testing.T) {
	creds, err := staticCredentialsProvider("AKID", "SECRET").Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKID", creds.AccessKeyID)
	assert.Equal(t, "SECRET", creds.SecretAccessKey)
}

func TestResolveAccountAndRegionFallsBackToAWSConfigRegion(t *testing.T) {
	logger := loggingpkg.NewNopServiceLogger()
	conf := &config.Config{}
	account, region := resolveAccountAndRegion(conf, logger, "env-region")
	if account != "" {
		t.Fatalf("expected empty account, got %s", account)
	}
	if region != "env-region" {
		t.Fatalf("expected fallback region to be used, got %s", region)
	}

	conf.AWSRegion = "explicit"
	_, region = resolveAccountAndRegion(conf, logger, "env-region")
	if region != "explicit" {
		t.Fatalf("expected explicit config region, got %s", region)
	}
}

func TestResolveAccountAndRegionLocalstack(t *testing.T) {
	logger := loggingpkg.NewNopServiceLogger()

	conf := &config.Config{AWSEndpoint: "http://localhost:4566"}
	id, _ := resolveAccountAndRegion(conf, logger, "us-east-1")
	assert.Equal(t, localstackAccountID, id)

	conf.AWSAccountID = "invalid"
	id, _ = resolveAccountAndRegion(conf, logger, "us-east-1")
	assert.Equal(t, localstackAccountID, id)

	conf.AWSAccountID = " '123456789012' "
	id, _ = resolveAccountAndRegion(conf, logger, "us-east-1")
	assert.Equal(t, "123456789012", id)
}

func TestEndpointOptions(t *testing.T) {
	aCfg := &aws.Config{}
	conf := &config.Config{}
	snsOpts, sqsOpts, err := endpointOptions(conf, aCfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snsOpts) != 0 || len(sqsOpts) != 0 {
		t.Fatalf("expected no options when no endpoint is configured")
	}

	aCfg.BaseEndpoint = aws.String("http://localhost:4566")
	snsOpts, sqsOpts, err = endpointOptions(conf, aCfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snsOpts) != 1 || len(sqsOpts) != 1 {
		t.Fatalf("expected endpoint overrides to be configured")
	}

	conf.AWSEndpoint = "http://invalid-url" + string(byte(0x7f))
	if _, _, err = endpointOptions(conf, aCfg); err == nil {
		t.Fatal("expected error for invalid endpoint")
	}
}

func TestSafeAWSRegion(t *testing.T) {
	if safeAWSRegion(nil) != "" {
		t.Fatal("expected empty string for nil config")
	}
	cfg := &aws.Config{Region: "us-west-2"}
	if safeAWSRegion(cfg) != "us-west-2" {
		t.Fatal("expected region from config")
	}
}

func TestNewAWSTransport(t *testing.T) {
	origLoader := AWSDefaultConfigLoader
	origSNS := SNSClientFactory
	origSQS := SQSClientFactory
	t.Cleanup(func() {
		AWSDefaultConfigLoader = origLoader
		SNSClientFactory = origSNS
		SQSClientFactory = origSQS
	})

	AWSDefaultConfigLoader = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}
	var snsOptCount, sqsOptCount int
	SNSClientFactory = func(cfg aws.Config, optFns ...func(*amazonsns.Options)) SNSAPI {
		snsOptCount = len(optFns)
		return &fakeSNS{}
	}
	SQSClientFactory = func(cfg aws.Config, optFns ...func(*amazonsqs.Options)) SQSAPI {
		sqsOptCount = len(optFns)
		return &fakeSQS{}
	}

	tr, err := NewAWSTransport(context.Background(), &config.Config{
		AWSEndpoint: "http://localhost:4566",
	}, loggingpkg.NewNopServiceLogger())
	require.NoError(t, err)
	assert.Equal(t, localstackAccountID, tr.accountID)
	assert.Equal(t, "us-east-1", tr.region)
	assert.Equal(t, 1, snsOptCount)
	assert.Equal(t, 1, sqsOptCount)
	assert.NoError(t, tr.Close())
}

func TestNewAWSTransportInvalidEndpoint(t *testing.T) {
	origLoader := AWSDefaultConfigLoader
	t.Cleanup(func() { AWSDefaultConfigLoader = origLoader })
	AWSDefaultConfigLoader = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{Region: "us-east-1"}, nil
	}

	_, err := NewAWSTransport(context.Background(), &config.Config{AWSEndpoint: ":invalid-url"}, loggingpkg.NewNopServiceLogger())
	if err == nil {
		t.Fatal("expected error when endpoint is invalid")
	}
}

func TestAWSReceiveRequestsOneMessageWithAllAttributes(t *testing.T) {
	sqsClient := &fakeSQS{messages: []sqstypes.Message{{
		MessageId:     aws.String("m-1"),
		ReceiptHandle: aws.String("rh-1"),
		Body:          aws.String(`{"Message":"{}"}`),
		Attributes:    map[string]string{"ApproximateReceiveCount": "2"},
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"correlation_id": {DataType: aws.String("String"), StringValue: aws.String("c-1")},
		},
	}}}
	tr := newTestAWSTransport(&fakeSNS{}, sqsClient)

	messages, err := tr.Receive(context.Background(), ReceiveRequest{
		QueueURL:          "https://sqs/q",
		WaitTime:          20 * time.Second,
		VisibilityTimeout: 30 * time.Second,
	})
	require.NoError(t, err)
	require.Len(t, messages, 1)

	in := sqsClient.receiveInput
	assert.Equal(t, int32(1), in.MaxNumberOfMessages)
	assert.Equal(t, int32(20), in.WaitTimeSeconds)
	assert.Equal(t, int32(30), in.VisibilityTimeout)
	assert.Equal(t, []string{"All"}, in.MessageAttributeNames)
	assert.Equal(t, []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameAll}, in.MessageSystemAttributeNames)

	msg := messages[0]
	assert.Equal(t, "m-1", msg.MessageID)
	assert.Equal(t, "rh-1", msg.ReceiptHandle)
	assert.Equal(t, "2", msg.Attributes["ApproximateReceiveCount"])
	assert.Equal(t, "c-1", msg.MessageAttributes.CorrelationID())
}

func TestAWSReceiveErrorIsBackendUnavailable(t *testing.T) {
	tr := newTestAWSTransport(&fakeSNS{}, &fakeSQS{receiveErr: apiError("AWS.SimpleQueueService.NonExistentQueue")})
	_, err := tr.Receive(context.Background(), ReceiveRequest{QueueURL: "q"})
	assert.ErrorIs(t, err, errspkg.ErrBackendUnavailable)
}

func TestAWSDeleteClassifiesErrors(t *testing.T) {
	sqsClient := &fakeSQS{}
	tr := newTestAWSTransport(&fakeSNS{}, sqsClient)

	require.NoError(t, tr.Delete(context.Background(), "q", "rh-1"))
	assert.Equal(t, "rh-1", aws.ToString(sqsClient.deleteInput.ReceiptHandle))

	sqsClient.deleteErr = apiError("ReceiptHandleIsInvalid")
	err := tr.Delete(context.Background(), "q", "rh-1")
	assert.ErrorIs(t, err, errspkg.ErrDeleteFailure)
	assert.ErrorIs(t, err, errspkg.ErrReceiptHandleInvalid)

	sqsClient.deleteErr = apiError("AccessDenied")
	err = tr.Delete(context.Background(), "q", "rh-1")
	assert.ErrorIs(t, err, errspkg.ErrDeleteFailure)
	assert.NotErrorIs(t, err, errspkg.ErrReceiptHandleInvalid)

	sqsClient.deleteErr = errors.New("connection reset")
	err = tr.Delete(context.Background(), "q", "rh-1")
	assert.ErrorIs(t, err, errspkg.ErrBackendUnavailable)
}

func TestAWSPublishSendsStringAttributes(t *testing.T) {
	snsClient := &fakeSNS{messageID: "sns-1"}
	tr := newTestAWSTransport(snsClient, &fakeSQS{})

	id, err := tr.Publish(context.Background(), PublishRequest{
		TopicArn:   "arn:aws:sns:us-east-1:123456789012:prices",
		Message:    `{"ticker":"ICE","price":42.5}`,
		Attributes: metadatapkg.New("correlation_id", "c-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "sns-1", id)

	in := snsClient.publishInput
	assert.Nil(t, in.Subject)
	assert.Equal(t, `{"ticker":"ICE","price":42.5}`, aws.ToString(in.Message))
	attr := in.MessageAttributes["correlation_id"]
	assert.Equal(t, "String", aws.ToString(attr.DataType))
	assert.Equal(t, "c-1", aws.ToString(attr.StringValue))
}

func TestAWSPublishErrors(t *testing.T) {
	snsClient := &fakeSNS{err: apiError("NotFound")}
	tr := newTestAWSTransport(snsClient, &fakeSQS{})

	_, err := tr.Publish(context.Background(), PublishRequest{TopicArn: "t"})
	assert.ErrorIs(t, err, errspkg.ErrPublishRejected)

	snsClient.err = errors.New("dial tcp: timeout")
	_, err = tr.Publish(context.Background(), PublishRequest{TopicArn: "t"})
	assert.ErrorIs(t, err, errspkg.ErrBackendUnavailable)

	snsClient.err = nil
	_, err = tr.Publish(context.Background(), PublishRequest{TopicArn: "t"})
	assert.ErrorIs(t, err, errspkg.ErrPublishRejected)
}

func TestAWSSendMessage(t *testing.T) {
	sqsClient := &fakeSQS{}
	tr := newTestAWSTransport(&fakeSNS{}, sqsClient)

	id, err := tr.SendMessage(context.Background(), "https://sqs/q", "not-json")
	require.NoError(t, err)
	assert.Equal(t, "sqs-1", id)
	assert.Equal(t, "not-json", aws.ToString(sqsClient.sendInput.MessageBody))

	sqsClient.err = errors.New("down")
	_, err = tr.SendMessage(context.Background(), "https://sqs/q", "x")
	assert.ErrorIs(t, err, errspkg.ErrBackendUnavailable)
}

func TestAWSEnsureQueueAttributes(t *testing.T) {
	sqsClient := &fakeSQS{queueURL: "https://sqs/q"}
	tr := newTestAWSTransport(&fakeSNS{}, sqsClient)

	url, err := tr.EnsureQueue(context.Background(), "q", QueueAttributes{
		VisibilityTimeoutSeconds: 30,
		RetentionSeconds:         300,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://sqs/q", url)
	assert.Equal(t, map[string]string{
		"VisibilityTimeout":      "30",
		"MessageRetentionPeriod": "300",
		"DelaySeconds":           "0",
	}, sqsClient.createQueueInput.Attributes)
}

func TestAWSEnsureQueueReusesExisting(t *testing.T) {
	sqsClient := &fakeSQS{queueURL: "https://sqs/q", createErr: apiError("QueueAlreadyExists")}
	tr := newTestAWSTransport(&fakeSNS{}, sqsClient)

	url, err := tr.EnsureQueue(context.Background(), "q", QueueAttributes{})
	require.NoError(t, err)
	assert.Equal(t, "https://sqs/q", url)
	assert.Equal(t, "q", aws.ToString(sqsClient.getQueueURLInput.QueueName))

	sqsClient.createErr = apiError("AccessDenied")
	_, err = tr.EnsureQueue(context.Background(), "q", QueueAttributes{})
	assert.ErrorIs(t, err, errspkg.ErrProvisioningFailure)
}

func TestAWSEnsureTopic(t *testing.T) {
	snsClient := &fakeSNS{topicArn: "arn:aws:sns:us-east-1:123456789012:prices"}
	tr := newTestAWSTransport(snsClient, &fakeSQS{})

	topicArn, err := tr.EnsureTopic(context.Background(), "prices")
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:prices", topicArn)

	snsClient.err = apiError("InvalidParameter")
	_, err = tr.EnsureTopic(context.Background(), "bad name")
	assert.ErrorIs(t, err, errspkg.ErrProvisioningFailure)
}

func TestAWSEnsureSubscriptionSetsPolicy(t *testing.T) {
	snsClient := &fakeSNS{}
	sqsClient := &fakeSQS{queueURL: "https://sqs/q"}
	tr := newTestAWSTransport(snsClient, sqsClient)

	topicArn := "arn:aws:sns:us-east-1:123456789012:prices"
	queueArn := "arn:aws:sqs:us-east-1:123456789012:q"
	subscriptionArn, err := tr.EnsureSubscription(context.Background(), topicArn, queueArn)
	require.NoError(t, err)
	assert.Equal(t, topicArn+":sub-1", subscriptionArn)

	assert.Equal(t, "q", aws.ToString(sqsClient.getQueueURLInput.QueueName))
	assert.Equal(t, "123456789012", aws.ToString(sqsClient.getQueueURLInput.QueueOwnerAWSAccountId))

	var policy policyDocument
	require.NoError(t, jsoncodec.UnmarshalString(sqsClient.setAttributesInput.Attributes["Policy"], &policy))
	require.Len(t, policy.Statement, 1)
	assert.Equal(t, "sqs:SendMessage", policy.Statement[0].Action)
	assert.Equal(t, queueArn, policy.Statement[0].Resource)
	assert.Equal(t, topicArn, policy.Statement[0].Condition["ArnEquals"]["aws:SourceArn"])

	assert.Equal(t, SubscriptionProtocol, aws.ToString(snsClient.subscribeInput.Protocol))
	assert.Equal(t, queueArn, aws.ToString(snsClient.subscribeInput.Endpoint))
	assert.True(t, snsClient.subscribeInput.ReturnSubscriptionArn)
}

func TestAWSEnsureSubscriptionInvalidQueueArn(t *testing.T) {
	tr := newTestAWSTransport(&fakeSNS{}, &fakeSQS{})
	_, err := tr.EnsureSubscription(context.Background(), "arn:aws:sns:us-east-1:1:t", "https://sqs/q")
	assert.ErrorIs(t, err, errspkg.ErrProvisioningFailure)
}

func TestAWSQueueArn(t *testing.T) {
	sqsClient := &fakeSQS{queueArn: "arn:aws:sqs:us-east-1:123456789012:q"}
	tr := newTestAWSTransport(&fakeSNS{}, sqsClient)

	queueArn, err := tr.QueueArn(context.Background(), "https://sqs/q")
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:sqs:us-east-1:123456789012:q", queueArn)

	sqsClient.queueArn = ""
	_, err = tr.QueueArn(context.Background(), "https://sqs/q")
	assert.ErrorIs(t, err, errspkg.ErrProvisioningFailure)
}

func TestAWSListTopicsFollowsPages(t *testing.T) {
	snsClient := &fakeSNS{topicPages: [][]string{{"arn:a"}, {"arn:b", "arn:c"}}}
	tr := newTestAWSTransport(snsClient, &fakeSQS{})

	topics, err := tr.ListTopics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"arn:a", "arn:b", "arn:c"}, topics)
}

func TestAWSListQueues(t *testing.T) {
	tr := newTestAWSTransport(&fakeSNS{}, &fakeSQS{queueURLs: []string{"https://sqs/a", "https://sqs/b"}})

	queues, err := tr.ListQueues(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://sqs/a", "https://sqs/b"}, queues)
}

func TestAWSResolveTopicArn(t *testing.T) {
	tr := newTestAWSTransport(&fakeSNS{}, &fakeSQS{})

	topicArn, err := tr.ResolveTopicArn(context.Background(), "prices")
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:prices", topicArn)

	topicArn, err = tr.ResolveTopicArn(context.Background(), "arn:aws:sns:eu-west-1:1:x")
	require.NoError(t, err)
	assert.Equal(t, "arn:aws:sns:eu-west-1:1:x", topicArn)
}

func TestCreateTopicResolverFails(t *testing.T) {
	origFactory := SNSTopicResolverFactory
	t.Cleanup(func() { SNSTopicResolverFactory = origFactory })

	SNSTopicResolverFactory = func(accountID, region string) (*sns.GenerateArnTopicResolver, error) {
		return nil, errors.New("resolver fail")
	}

	tr := newTestAWSTransport(&fakeSNS{}, &fakeSQS{})
	if _, err := tr.ResolveTopicArn(context.Background(), "prices"); err == nil {
		t.Fatal("expected error when topic resolver factory fails")
	}
}
