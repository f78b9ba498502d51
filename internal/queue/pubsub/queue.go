// Package pubsub backs the batch queue with a Google Cloud Pub/Sub topic and
// subscription so several service instances can share one backlog.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/zap"

	"github.com/olam-creations/lefilonao-sub001/internal/queue"
)

// Queue publishes items to a topic and hands received messages to Dequeue.
// A message is acked once a worker has taken it.
type Queue struct {
	publisher  *pubsub.Publisher
	subscriber *pubsub.Subscriber
	deliveries chan delivery
	startOnce  sync.Once
	logger     *zap.Logger
}

type delivery struct {
	item queue.Item
	msg  *pubsub.Message
}

// New builds a Queue over topic and subscription.
func New(client *pubsub.Client, topic, subscription string, logger *zap.Logger) (*Queue, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	if topic == "" || subscription == "" {
		return nil, errors.New("pubsub topic and subscription are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sub := client.Subscriber(subscription)
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	return &Queue{
		publisher:  client.Publisher(topic),
		subscriber: sub,
		deliveries: make(chan delivery),
		logger:     logger.Named("pubsub_queue"),
	}, nil
}

// Start begins receiving messages until ctx ends. It returns immediately;
// later calls are no-ops.
func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		go func() {
			err := q.subscriber.Receive(ctx, q.handle)
			if err != nil && ctx.Err() == nil {
				q.logger.Error("subscription receive stopped", zap.Error(err))
			}
		}()
	})
}

func (q *Queue) handle(ctx context.Context, msg *pubsub.Message) {
	var item queue.Item
	if err := json.Unmarshal(msg.Data, &item); err != nil {
		q.logger.Warn("dropping malformed queue message", zap.String("message_id", msg.ID), zap.Error(err))
		msg.Ack()
		return
	}
	select {
	case q.deliveries <- delivery{item: item, msg: msg}:
	case <-ctx.Done():
		msg.Nack()
	}
}

// Enqueue publishes item and waits for the server acknowledgement.
func (q *Queue) Enqueue(ctx context.Context, item queue.Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal queue item: %w", err)
	}
	if _, err := q.publisher.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx); err != nil {
		return fmt.Errorf("publish queue item: %w", err)
	}
	return nil
}

// Dequeue waits for the next received item. Start must have been called.
func (q *Queue) Dequeue(ctx context.Context) (queue.Item, error) {
	select {
	case <-ctx.Done():
		return queue.Item{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case d := <-q.deliveries:
		d.msg.Ack()
		return d.item, nil
	}
}

// Stop flushes the publisher.
func (q *Queue) Stop() {
	q.publisher.Stop()
}
