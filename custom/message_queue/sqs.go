package message_queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/romana/rlog"
	"preorder_hub/custom/util"
	"preorder_hub/model"
)

const SQS_MAX_MESSAGES = int32(10)
const SQS_RETRY_DELAY = time.Second

// SQSClient is the subset of the SQS API the queue uses.
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue is a durable Queue. Messages are deleted only after the handler succeeds, so a
// failed event becomes visible again after the queue's visibility timeout.
type SQSQueue struct {
	client          SQSClient
	queueURL        string
	waitTimeSeconds int32
}

func NewSQSQueue(ctx context.Context, cfg util.SQSConfig) (*SQSQueue, error) {
	if cfg.QueueURL == "" {
		return nil, errors.New("sqs queue url is required")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return NewSQSQueueWithClient(sqs.NewFromConfig(awsCfg), cfg.QueueURL, cfg.WaitTimeSeconds), nil
}

func NewSQSQueueWithClient(client SQSClient, queueURL string, waitTimeSeconds int32) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL, waitTimeSeconds: waitTimeSeconds}
}

func (q *SQSQueue) Enqueue(ctx context.Context, event *model.PaymentEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		rlog.Errorf("Send event %s to sqs failed: %s", event.EventID, err.Error())
	}
	return err
}

func (q *SQSQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(q.queueURL),
			MaxNumberOfMessages: SQS_MAX_MESSAGES,
			WaitTimeSeconds:     q.waitTimeSeconds,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rlog.Error("Receive from sqs failed:", err.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(SQS_RETRY_DELAY):
			}
			continue
		}

		for _, msg := range out.Messages {
			event := model.PaymentEvent{}
			if err = json.Unmarshal([]byte(aws.ToString(msg.Body)), &event); err != nil {
				// undecodable messages would be redelivered forever
				rlog.Errorf("Drop malformed message %s: %s", aws.ToString(msg.MessageId), err.Error())
				q.ack(ctx, msg.ReceiptHandle)
				continue
			}
			if err = handler(ctx, &event); err != nil {
				rlog.Errorf("Handle event %s failed, leaving it for redelivery: %s", event.EventID, err.Error())
				continue
			}
			q.ack(ctx, msg.ReceiptHandle)
		}
	}
}

func (q *SQSQueue) ack(ctx context.Context, receiptHandle *string) {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		rlog.Error("Delete sqs message failed:", err.Error())
	}
}

func (q *SQSQueue) Close() error {
	return nil
}
