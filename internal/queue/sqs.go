package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSQueue is an SQS-backed reconciliation queue. Ingest enqueues a task
// per persisted log row; the sweeper receives, reconciles, and deletes.
// Delivery is at-least-once, which is safe because reconciliation is
// idempotent; a message lost before deletion is also recovered by the
// sweeper's store poll.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

// NewSQS creates an SQSQueue for the given queue URL.
func NewSQS(ctx context.Context, queueURL, region string) (*SQSQueue, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &SQSQueue{client: sqs.NewFromConfig(cfg), queueURL: queueURL}, nil
}

// NewSQSFromClient creates an SQSQueue from an existing client (tests).
func NewSQSFromClient(client *sqs.Client, queueURL string) *SQSQueue {
	return &SQSQueue{client: client, queueURL: queueURL}
}

// EnqueueReconcile publishes a reconciliation task for one log row.
func (q *SQSQueue) EnqueueReconcile(ctx context.Context, machineID, entryID string) error {
	body, err := json.Marshal(Task{MachineID: machineID, EntryID: entryID})
	if err != nil {
		return err
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("sending reconcile task: %w", err)
	}
	return nil
}

// Receive fetches up to max pending tasks.
func (q *SQSQueue) Receive(ctx context.Context, max int) ([]Task, error) {
	if max <= 0 || max > 10 {
		max = 10 // SQS batch ceiling
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(max),
		WaitTimeSeconds:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("receiving reconcile tasks: %w", err)
	}

	tasks := make([]Task, 0, len(out.Messages))
	for _, msg := range out.Messages {
		var task Task
		if msg.Body == nil || json.Unmarshal([]byte(*msg.Body), &task) != nil {
			continue // malformed message; left for the DLQ policy
		}
		if msg.ReceiptHandle != nil {
			task.receipt = *msg.ReceiptHandle
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Delete acknowledges a completed task.
func (q *SQSQueue) Delete(ctx context.Context, task Task) error {
	if task.receipt == "" {
		return nil
	}
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(task.receipt),
	})
	return err
}
