package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/obakengshepherd/risksentinel/configs"
)

// EventBus is the at-least-once fan-out bus for the raw/scored/alert event
// topics (§4.6): one client instance publishes rs.transactions.raw,
// rs.transactions.scored, and rs.alerts, and the DLQ monitor can consume
// from whichever dead-letter stream a caller names.
type EventBus struct {
	client     *redis.Client
	maxRetries int
}

// NewEventBus creates a new event bus client.
func NewEventBus(cfg configs.RedisConfig) (*EventBus, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Msg("event bus connected")
	return &EventBus{client: client, maxRetries: cfg.MaxRetries}, nil
}

// Publish appends payload to stream and returns the assigned message ID.
func (b *EventBus) Publish(ctx context.Context, stream string, payload interface{}) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	msgID, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to publish event: %w", err)
	}

	log.Debug().Str("stream", stream).Str("message_id", msgID).Msg("event published")
	return msgID, nil
}

// eventsDeadLetterStream collects events that could not be published after
// maxRetries attempts, for the DLQ monitor to drain and report.
const eventsDeadLetterStream = "rs.events.dlq"

// PublishAsync fires Publish on its own goroutine with its own bounded
// timeout and never blocks or fails the caller's committed write (§4.6,
// O3). Publish is attempted up to maxRetries times in total before falling
// back to the dead-letter stream; per-send failure is always isolated from
// every other event and from the caller.
func (b *EventBus) PublishAsync(stream string, payload interface{}) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var lastErr error
		attempts := b.maxRetries
		if attempts < 1 {
			attempts = 1
		}
		for i := 0; i < attempts; i++ {
			if _, err := b.Publish(ctx, stream, payload); err != nil {
				lastErr = err
				continue
			}
			return
		}

		log.Warn().Err(lastErr).Str("stream", stream).Msg("bus: publish failed after retries, routing to dead letter")
		raw, _ := json.Marshal(payload)
		if err := b.SendToDeadLetter(ctx, eventsDeadLetterStream, raw, lastErr); err != nil {
			log.Error().Err(err).Str("stream", stream).Msg("bus: failed to route event to dead letter")
		}
	}()
}

// EnsureGroup creates a stream's consumer group if it does not already
// exist, tolerating the BUSYGROUP race.
func (b *EventBus) EnsureGroup(ctx context.Context, stream, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return err
	}
	return nil
}

// Consume reads pending-then-new messages from stream under group, claiming
// anything idle for more than 30s before reading fresh entries.
func (b *EventBus) Consume(ctx context.Context, stream, group, consumerName string, count int64, blockDuration time.Duration) ([]StreamMessage, error) {
	claimed, err := b.claimPending(ctx, stream, group, consumerName, count)
	if err != nil {
		log.Warn().Err(err).Str("stream", stream).Msg("failed to claim pending messages")
	}
	if len(claimed) > 0 {
		return claimed, nil
	}

	streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumerName,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    blockDuration,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var messages []StreamMessage
	for _, s := range streams {
		for _, msg := range s.Messages {
			messages = append(messages, parseMessage(msg))
		}
	}
	return messages, nil
}

func (b *EventBus) claimPending(ctx context.Context, stream, group, consumerName string, count int64) ([]StreamMessage, error) {
	minIdleTime := 30 * time.Second

	pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
	if err != nil {
		return nil, err
	}

	var messageIDs []string
	for _, p := range pending {
		if p.Idle >= minIdleTime {
			messageIDs = append(messageIDs, p.ID)
		}
	}
	if len(messageIDs) == 0 {
		return nil, nil
	}

	claimed, err := b.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumerName,
		MinIdle:  minIdleTime,
		Messages: messageIDs,
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]StreamMessage, 0, len(claimed))
	for _, msg := range claimed {
		messages = append(messages, parseMessage(msg))
	}
	return messages, nil
}

func parseMessage(msg redis.XMessage) StreamMessage {
	data, _ := msg.Values["data"].(string)
	return StreamMessage{ID: msg.ID, Data: []byte(data)}
}

// Acknowledge marks a message processed within group.
func (b *EventBus) Acknowledge(ctx context.Context, stream, group, messageID string) error {
	if err := b.client.XAck(ctx, stream, group, messageID).Err(); err != nil {
		return fmt.Errorf("failed to acknowledge message: %w", err)
	}
	return nil
}

// SendToDeadLetter appends a failed payload plus its cause to
// deadLetterStream — used by PublishAsync once its publish attempts fail.
func (b *EventBus) SendToDeadLetter(ctx context.Context, deadLetterStream string, raw []byte, cause error) error {
	_, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: deadLetterStream,
		Values: map[string]interface{}{
			"data":  string(raw),
			"error": cause.Error(),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to send to dead letter: %w", err)
	}

	log.Warn().Str("stream", deadLetterStream).Err(cause).Msg("message sent to dead letter")
	return nil
}

// StreamInfo returns length and per-group pending count for stream.
func (b *EventBus) StreamInfo(ctx context.Context, stream, group string) (*StreamInfo, error) {
	info, err := b.client.XInfoStream(ctx, stream).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get stream info: %w", err)
	}

	groups, err := b.client.XInfoGroups(ctx, stream).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get groups info: %w", err)
	}

	var pendingCount int64
	for _, g := range groups {
		if g.Name == group {
			pendingCount = g.Pending
			break
		}
	}

	return &StreamInfo{Length: info.Length, PendingCount: pendingCount, Groups: len(groups)}, nil
}

// Close closes the underlying Redis client.
func (b *EventBus) Close() error {
	return b.client.Close()
}

// Ping reports bus liveness for GET /api/v1/health (§6): a failure here degrades
// the health response rather than failing it outright, since fan-out is
// best-effort and off the critical path (§4.6).
func (b *EventBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// StreamMessage is a raw message read off a stream, not yet unmarshaled
// into a concrete event type — the caller knows which stream it read and
// therefore which type to decode into.
type StreamMessage struct {
	ID   string
	Data []byte
}

// StreamInfo holds stream statistics (length, pending count, group count).
// GET /api/v1/health and the dashboard do not read it; health checks the bus with
// Ping.
type StreamInfo struct {
	Length       int64
	PendingCount int64
	Groups       int
}

// CacheClient provides general-purpose caching on the same Redis instance,
// used by DashboardService to cache the dashboard summary.
type CacheClient struct {
	client *redis.Client
}

// NewCacheClient creates a new cache client sharing Redis connection params.
func NewCacheClient(cfg configs.RedisConfig) (*CacheClient, error) {
	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &CacheClient{client: client}, nil
}

// SetNX sets a value only if the key does not already exist and reports
// whether it was set.
func (c *CacheClient) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, err
	}
	return c.client.SetNX(ctx, key, data, expiration).Result()
}

// Get retrieves a value from the cache.
func (c *CacheClient) Get(ctx context.Context, key string, dest interface{}) error {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Delete removes keys from the cache.
func (c *CacheClient) Delete(ctx context.Context, keys ...string) error {
	return c.client.Del(ctx, keys...).Err()
}

// Close closes the cache client's Redis connection.
func (c *CacheClient) Close() error {
	return c.client.Close()
}
