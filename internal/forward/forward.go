package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"chatrelay/pkg/types"
)

// DefaultStream is the redis stream intents are appended to
const DefaultStream = "chatrelay:forward"

// LogForwarder writes intents to the process log. It is the default sink when
// no broker is configured.
type LogForwarder struct{}

func NewLogForwarder() *LogForwarder {
	return &LogForwarder{}
}

func (LogForwarder) Forward(ctx context.Context, intent types.ForwardIntent) error {
	log.Printf("Forward intent: session=%s message=%s platforms=%v sender=%s",
		intent.SessionID, intent.MessageID, intent.Platforms, intent.Sender)
	return nil
}

func (LogForwarder) Close() error { return nil }

// RedisForwarder publishes intents to a redis stream for the extension bridge
type RedisForwarder struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewRedisForwarder connects to the broker at redisURL
func NewRedisForwarder(redisURL, stream string, maxLen int64) (*RedisForwarder, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRedisURL, err)
	}
	return NewRedisForwarderWithClient(redis.NewClient(opts), stream, maxLen), nil
}

// NewRedisForwarderWithClient wraps an existing client
func NewRedisForwarderWithClient(rdb *redis.Client, stream string, maxLen int64) *RedisForwarder {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisForwarder{rdb: rdb, stream: stream, maxLen: maxLen}
}

// Ping checks the broker is reachable
func (f *RedisForwarder) Ping(ctx context.Context) error {
	return f.rdb.Ping(ctx).Err()
}

func (f *RedisForwarder) Forward(ctx context.Context, intent types.ForwardIntent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("failed to marshal intent: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: f.stream,
		Values: map[string]interface{}{
			"type":      intent.Type,
			"sessionId": intent.SessionID,
			"intent":    string(payload),
		},
	}
	if f.maxLen > 0 {
		args.MaxLen = f.maxLen
		args.Approx = true
	}

	if err := f.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	return nil
}

func (f *RedisForwarder) Close() error {
	return f.rdb.Close()
}
