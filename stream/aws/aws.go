// Package aws provides an SNS/SQS stream. Each event type is an SNS topic;
// each group owns an SQS queue subscribed to it, so SQS holds the group's
// backlog.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/eventscore/event"
	"github.com/drblury/eventscore/stream"
	"github.com/drblury/eventscore/stream/broker"
)

// BackendName is the name used to register this backend.
const BackendName = "aws"

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// TopicResolverFactory allows overriding the topic resolver creation for testing.
var TopicResolverFactory = sns.NewGenerateArnTopicResolver

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return sns.NewSubscriber(cfg, sqsCfg, logger)
}

func init() {
	stream.RegisterWithCapabilities(BackendName, Build, stream.AWSCapabilities)
}

// Build loads AWS configuration once and derives the publisher and the
// per-group subscribers from it.
func Build(ctx context.Context, cfg stream.Config, deps stream.Dependencies) (stream.Stream, error) {
	logger := deps.Logger
	awsCfg, err := loadAWSConfig(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	endpoint, err := endpointURL(cfg)
	if err != nil {
		return nil, err
	}

	accountID, region := resolveAccountAndRegion(cfg, logger, awsCfg.Region)
	topicResolver, err := TopicResolverFactory(accountID, region)
	if err != nil {
		logger.Error("Failed to create SNS topic resolver", err, watermill.LogFields{
			"accountID": accountID,
			"region":    region,
		})
		return nil, err
	}
	logger.Info("Resolved AWS stream settings", watermill.LogFields{
		"accountID":       accountID,
		"region":          region,
		"custom_endpoint": endpoint != nil,
	})

	snsOpts, sqsOpts := endpointOptions(endpoint)

	publisher, err := PublisherFactory(sns.PublisherConfig{
		TopicResolver: topicResolver,
		AWSConfig:     awsCfg,
		OptFns:        snsOpts,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
	if err != nil {
		return nil, err
	}

	return broker.New(broker.Config{
		Name:      BackendName,
		Publisher: publisher,
		Subscribers: func(group event.Group) (message.Subscriber, error) {
			return SubscriberFactory(
				sns.SubscriberConfig{
					AWSConfig:            awsCfg,
					OptFns:               snsOpts,
					TopicResolver:        topicResolver,
					GenerateSqsQueueName: QueueNameForGroup(group),
				},
				sqs.SubscriberConfig{
					AWSConfig: awsCfg,
					OptFns:    sqsOpts,
				},
				logger,
			)
		},
		Serializer:   deps.Serializer,
		Logger:       logger,
		Capabilities: stream.AWSCapabilities,
	})
}

// QueueNameForGroup names the SQS queue "<topic>-<group>".
func QueueNameForGroup(group event.Group) func(context.Context, sns.TopicArn) (string, error) {
	return func(ctx context.Context, topicArn sns.TopicArn) (string, error) {
		topic, err := sns.ExtractTopicNameFromTopicArn(topicArn)
		if err != nil {
			return "", err
		}
		return string(topic) + "-" + string(group), nil
	}
}

// Capabilities returns the capabilities of this backend.
func Capabilities() stream.Capabilities {
	return stream.AWSCapabilities
}

func loadAWSConfig(ctx context.Context, cfg stream.Config, logger watermill.LoggerAdapter) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	region := cfg.GetAWSRegion()
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if key, secret := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); key != "" && secret != "" {
		logger.Info("Using static AWS credentials from config", nil)
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentials(key, secret)))
	}
	if endpoint := cfg.GetAWSEndpoint(); endpoint != "" {
		opts = append(opts, awsconfig.WithBaseEndpoint(endpoint))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		logger.Error("Failed to load AWS config", err, watermill.LogFields{"requested_region": region})
		return aws.Config{}, err
	}
	if region != "" {
		awsCfg.Region = region
	}
	return awsCfg, nil
}

func endpointURL(cfg stream.Config) (*url.URL, error) {
	raw := cfg.GetAWSEndpoint()
	if raw == "" {
		return nil, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse AWS endpoint: %w", err)
	}
	return parsed, nil
}

func endpointOptions(endpoint *url.URL) ([]func(*amazonsns.Options), []func(*amazonsqs.Options)) {
	if endpoint == nil {
		return nil, nil
	}
	resolved := smithyendpoints.Endpoint{URI: *endpoint}
	return []func(*amazonsns.Options){
			amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{Endpoint: resolved}),
		}, []func(*amazonsqs.Options){
			amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{Endpoint: resolved}),
		}
}

// resolveAccountAndRegion falls back to the LocalStack account when a custom
// endpoint is configured without a valid account ID.
func resolveAccountAndRegion(cfg stream.Config, logger watermill.LoggerAdapter, fallbackRegion string) (string, string) {
	accountID := strings.Trim(cfg.GetAWSAccountID(), "\"' ")
	region := cfg.GetAWSRegion()
	if region == "" {
		region = fallbackRegion
	}
	if cfg.GetAWSEndpoint() == "" {
		return accountID, region
	}
	if len(accountID) != awsAccountIDLength {
		logger.Info("Using LocalStack account ID", watermill.LogFields{"configured": accountID})
		accountID = localstackAccountID
	}
	return accountID, region
}

func staticCredentials(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
			Source:          "eventscore",
		}, nil
	})
}
