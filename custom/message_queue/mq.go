package message_queue

import (
	"context"

	"github.com/romana/rlog"
	"preorder_hub/model"
)

// Handler processes one payment event. A returned error leaves the event unacknowledged.
type Handler func(ctx context.Context, event *model.PaymentEvent) error

// Queue carries normalized payment events from the webhook endpoint to the confirmation consumer.
type Queue interface {
	Enqueue(ctx context.Context, event *model.PaymentEvent) error
	// Consume delivers events to handler one at a time until ctx is done.
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

type delivery struct {
	event *model.PaymentEvent
	done  chan error
}

type MessageQueue struct {
	channel chan delivery
}

// NewMessageQueue A lightweight message queue based on Golang channel, not support message persistence.
func NewMessageQueue(size int) *MessageQueue {
	newChan := make(chan delivery, size)
	return &MessageQueue{
		channel: newChan,
	}
}

// Enqueue waits until the consumer has handled msg and returns the handler's error, so a failed
// event is reported to the sender and redelivered by the processor.
func (mq *MessageQueue) Enqueue(ctx context.Context, msg *model.PaymentEvent) error {
	d := delivery{event: msg, done: make(chan error, 1)}
	select {
	case mq.channel <- d:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-d.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume handles events in arrival order and reports each result back to its sender.
func (mq *MessageQueue) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-mq.channel:
			if !ok {
				return nil
			}
			if d.event == nil {
				d.done <- nil
				continue
			}
			err := handler(ctx, d.event)
			if err != nil {
				rlog.Errorf("Handle event %s failed: %s", d.event.EventID, err.Error())
			}
			d.done <- err
		}
	}
}

func (mq *MessageQueue) Close() error {
	close(mq.channel)
	return nil
}
