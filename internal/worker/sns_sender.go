package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"go.uber.org/zap"
)

// snsAPI is the subset of the SNS client used for mobile push.
type snsAPI interface {
	CreatePlatformEndpoint(ctx context.Context, params *sns.CreatePlatformEndpointInput, optFns ...func(*sns.Options)) (*sns.CreatePlatformEndpointOutput, error)
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSTransport sends push notifications through AWS SNS mobile push.
// Device tokens are registered as platform endpoints under one platform
// application (FCM or APNs); CreatePlatformEndpoint is idempotent per token.
type SNSTransport struct {
	client         snsAPI
	platformAppARN string
	logger         *zap.Logger
}

type SNSConfig struct {
	Region                 string
	PlatformApplicationARN string
	Endpoint               string // optional, e.g. LocalStack
}

// NewSNSTransport creates a new SNS mobile push transport
func NewSNSTransport(ctx context.Context, cfg SNSConfig, logger *zap.Logger) (*SNSTransport, error) {
	if cfg.PlatformApplicationARN == "" {
		return nil, fmt.Errorf("sns transport requires a platform application ARN")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load default AWS config for SNS: %w", err)
	}

	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return newSNSTransport(client, cfg.PlatformApplicationARN, logger), nil
}

func newSNSTransport(client snsAPI, platformAppARN string, logger *zap.Logger) *SNSTransport {
	return &SNSTransport{
		client:         client,
		platformAppARN: platformAppARN,
		logger:         logger,
	}
}

// Send registers the token as an endpoint and publishes to it.
func (s *SNSTransport) Send(ctx context.Context, msg PushMessage) (string, error) {
	endpoint, err := s.client.CreatePlatformEndpoint(ctx, &sns.CreatePlatformEndpointInput{
		PlatformApplicationArn: aws.String(s.platformAppARN),
		Token:                  aws.String(msg.Token),
	})
	if err != nil {
		return "", classifySNSError("create platform endpoint", err, true)
	}

	payload, err := snsPayload(msg)
	if err != nil {
		return "", &TransportError{Reason: ReasonUnknown, Err: err}
	}

	input := &sns.PublishInput{
		TargetArn:        endpoint.EndpointArn,
		Message:          aws.String(payload),
		MessageStructure: aws.String("json"),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.MOBILE.APNS.PRIORITY": {
				DataType:    aws.String("String"),
				StringValue: aws.String(msg.Priority.APNs),
			},
			"AWS.SNS.MOBILE.APNS.PUSH_TYPE": {
				DataType:    aws.String("String"),
				StringValue: aws.String("alert"),
			},
		},
	}

	result, err := s.client.Publish(ctx, input)
	if err != nil {
		return "", classifySNSError("sns publish", err, false)
	}

	messageID := aws.ToString(result.MessageId)
	s.logger.Debug("push sent via SNS",
		zap.String("endpoint_arn", aws.ToString(endpoint.EndpointArn)),
		zap.String("message_id", messageID),
	)

	return messageID, nil
}

func (s *SNSTransport) Name() string {
	return "sns"
}

// snsPayload renders the per-platform JSON message structure.
func snsPayload(msg PushMessage) (string, error) {
	gcm, err := json.Marshal(map[string]any{
		"fcmV1Message": map[string]any{
			"message": map[string]any{
				"notification": map[string]string{"title": msg.Title, "body": msg.Body},
				"data":         msg.Data,
				"android":      map[string]string{"priority": strings.ToUpper(msg.Priority.Android)},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal GCM payload: %w", err)
	}

	apnsBody := map[string]any{
		"aps": map[string]any{
			"alert": map[string]string{"title": msg.Title, "body": msg.Body},
			"sound": "default",
		},
	}
	for k, v := range msg.Data {
		apnsBody[k] = v
	}
	apns, err := json.Marshal(apnsBody)
	if err != nil {
		return "", fmt.Errorf("marshal APNS payload: %w", err)
	}

	out, err := json.Marshal(map[string]string{
		"default":      msg.Body,
		"GCM":          string(gcm),
		"APNS":         string(apns),
		"APNS_SANDBOX": string(apns),
	})
	if err != nil {
		return "", fmt.Errorf("marshal SNS message: %w", err)
	}
	return string(out), nil
}

// classifySNSError maps SNS API errors onto transport reasons. An invalid
// parameter while registering the endpoint means the token itself was rejected.
func classifySNSError(op string, err error, registering bool) error {
	reason := ReasonUnknown

	var (
		disabled     *types.EndpointDisabledException
		invalidParam *types.InvalidParameterException
		throttled    *types.ThrottledException
		internal     *types.InternalErrorException
		appDisabled  *types.PlatformApplicationDisabledException
	)

	switch {
	case errors.As(err, &disabled):
		reason = ReasonInvalidToken
	case errors.As(err, &invalidParam) && registering:
		reason = ReasonInvalidToken
	case errors.As(err, &throttled):
		reason = ReasonThrottled
	case errors.As(err, &internal), errors.As(err, &appDisabled):
		reason = ReasonUnavailable
	}

	return &TransportError{Reason: reason, Err: fmt.Errorf("%s: %w", op, err)}
}
