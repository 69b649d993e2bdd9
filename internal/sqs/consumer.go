// Package sqs receives tick requests from an SQS queue, typically fed by an
// EventBridge schedule.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.uber.org/zap"
)

// Config holds SQS configuration.
type Config struct {
	Region   string
	QueueURL string
	Endpoint string // optional, e.g. LocalStack
}

// sqsAPI is the subset of the SQS client the consumer uses.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// TickRequest is one queued request to evaluate the schedule.
// The body is optional; unparseable bodies still request a tick.
type TickRequest struct {
	MessageID     string    `json:"-"`
	ReceiptHandle string    `json:"-"`
	RequestedAt   time.Time `json:"requested_at"`
}

// Consumer reads tick requests from SQS.
type Consumer struct {
	client   sqsAPI
	queueURL string
	logger   *zap.Logger
}

// NewConsumer creates a new SQS consumer.
func NewConsumer(ctx context.Context, cfg Config, logger *zap.Logger) (*Consumer, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("sqs consumer requires a queue url")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	logger.Info("sqs consumer initialized",
		zap.String("queue_url", cfg.QueueURL),
	)

	return newConsumer(client, cfg.QueueURL, logger), nil
}

func newConsumer(client sqsAPI, queueURL string, logger *zap.Logger) *Consumer {
	return &Consumer{client: client, queueURL: queueURL, logger: logger}
}

// Receive long-polls for one tick request. It returns nil when the poll
// times out empty.
func (c *Consumer) Receive(ctx context.Context) (*TickRequest, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     20,
		VisibilityTimeout:   120,
	}

	result, err := c.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("sqs receive failed: %w", err)
	}

	if len(result.Messages) == 0 {
		return nil, nil
	}

	m := result.Messages[0]
	req := &TickRequest{
		MessageID:     aws.ToString(m.MessageId),
		ReceiptHandle: aws.ToString(m.ReceiptHandle),
	}
	if body := aws.ToString(m.Body); body != "" {
		if err := json.Unmarshal([]byte(body), req); err != nil {
			c.logger.Debug("tick request body is not json, ignoring it",
				zap.String("message_id", req.MessageID),
			)
		}
	}

	return req, nil
}

// Delete removes a tick request after it was served.
func (c *Consumer) Delete(ctx context.Context, receiptHandle string) error {
	input := &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}

	if _, err := c.client.DeleteMessage(ctx, input); err != nil {
		return fmt.Errorf("sqs delete failed: %w", err)
	}

	return nil
}
