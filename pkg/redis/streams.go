package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// StreamMessage represents a message read from a Redis Stream
type StreamMessage struct {
	ID      string
	Stream  string
	Payload []byte
}

// Streams provides Redis Streams operations. Workflow commands are published
// here for the external scheduler to consume.
type Streams struct {
	client *Client
}

// NewStreams creates a new Streams instance
func NewStreams(client *Client) *Streams {
	return &Streams{client: client}
}

// Publish adds a JSON-encoded payload to a stream
func (s *Streams) Publish(ctx context.Context, stream string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal stream payload")
	}

	result, err := s.client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		s.client.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish to stream %s", stream)
		return "", err
	}

	s.client.logger.WithContext(ctx).Debugf("Published to stream %s (message ID: %s)", stream, result)
	return result, nil
}

// CreateConsumerGroup creates a consumer group for a stream
func (s *Streams) CreateConsumerGroup(ctx context.Context, stream, group string) error {
	err := s.client.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Consume reads messages from a stream using a consumer group
func (s *Streams) Consume(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]StreamMessage, error) {
	results, err := s.client.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()

	if err == redis.Nil {
		return nil, nil // No messages
	}
	if err != nil {
		return nil, err
	}

	var messages []StreamMessage
	for _, result := range results {
		for _, msg := range result.Messages {
			data, ok := msg.Values["data"].(string)
			if !ok {
				continue
			}

			messages = append(messages, StreamMessage{
				ID:      msg.ID,
				Stream:  result.Stream,
				Payload: []byte(data),
			})
		}
	}

	return messages, nil
}

// ClaimPending transfers messages that have sat pending longer than minIdle
// to the consumer so unacknowledged commands get redelivered
func (s *Streams) ClaimPending(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]StreamMessage, error) {
	claimed, _, err := s.client.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()

	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []StreamMessage
	for _, msg := range claimed {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}

		messages = append(messages, StreamMessage{
			ID:      msg.ID,
			Stream:  stream,
			Payload: []byte(data),
		})
	}

	return messages, nil
}

// Ack acknowledges a message
func (s *Streams) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return s.client.rdb.XAck(ctx, stream, group, ids...).Err()
}

// Trim trims a stream to approximately maxLen entries
func (s *Streams) Trim(ctx context.Context, stream string, maxLen int64) error {
	return s.client.rdb.XTrimMaxLenApprox(ctx, stream, maxLen, 0).Err()
}
