// Package queue consumes lifecycle notifications from an SQS queue and
// dispatches them to the handler.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-asg-dns/internal/event"
)

// SQSAPI is the subset of the SQS client the consumer uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// EventHandler processes one decoded lifecycle event.
type EventHandler interface {
	Handle(ctx context.Context, ev event.LifecycleEvent) (event.Verdict, error)
}

// Consumer long-polls the queue and handles each message in its own
// goroutine. Messages are deleted once the verdict is reported; a message
// whose verdict could not be reported is left for redelivery, which every
// handler step tolerates.
type Consumer struct {
	Client   SQSAPI
	QueueURL string
	Handler  EventHandler
	Log      logr.Logger

	WaitTime  int32 // long-poll seconds, default 20
	BatchSize int32 // messages per receive, default 10
}

// Run receives until the context is canceled, then waits for in-flight
// messages to finish.
func (c *Consumer) Run(ctx context.Context) error {
	waitTime := c.WaitTime
	if waitTime <= 0 {
		waitTime = 20
	}
	batchSize := c.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if ctx.Err() != nil {
			return nil
		}
		out, err := c.Client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.QueueURL),
			MaxNumberOfMessages: batchSize,
			WaitTimeSeconds:     waitTime,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Log.Error(err, "receiving messages")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range out.Messages {
			wg.Add(1)
			go func(msg types.Message) {
				defer wg.Done()
				c.handleMessage(ctx, msg)
			}(msg)
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg types.Message) {
	ev, err := event.Decode([]byte(aws.ToString(msg.Body)))
	if err != nil {
		if errors.Is(err, event.ErrTestNotification) {
			c.Log.V(1).Info("acknowledging test notification")
		} else {
			c.Log.Error(err, "dropping undecodable notification")
		}
		c.deleteMessage(ctx, msg)
		return
	}

	verdict, err := c.Handler.Handle(ctx, ev)
	if err != nil {
		c.Log.Error(err, "leaving message for redelivery",
			"fleet", ev.Fleet, "instance", ev.InstanceID)
		return
	}
	c.Log.Info("lifecycle event handled",
		"fleet", ev.Fleet, "instance", ev.InstanceID, "transition", ev.Transition, "verdict", verdict)
	c.deleteMessage(ctx, msg)
}

func (c *Consumer) deleteMessage(ctx context.Context, msg types.Message) {
	_, err := c.Client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.QueueURL),
		ReceiptHandle: msg.ReceiptHandle,
	})
	if err != nil {
		c.Log.Error(err, "deleting message", "receipt", aws.ToString(msg.ReceiptHandle))
	}
}
