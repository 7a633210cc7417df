package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

// DefaultRedisStream is the stream events are appended to when none is
// configured.
const DefaultRedisStream = "op-behave:events"

// NewRedisClient creates a client from a redis:// URL.
func NewRedisClient(url string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// CheckRedisConnection pings the server.
func CheckRedisConnection(client redis.UniversalClient) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("error connecting to redis: %w", err)
	}
	return nil
}

// RedisStreamConfig configures a RedisStreamSink.
type RedisStreamConfig struct {
	Log    log.Logger
	Client redis.UniversalClient
	Stream string
	// MaxLen trims the stream approximately to this many entries. Zero
	// keeps every entry.
	MaxLen int64
	// Timeout bounds every write.
	Timeout time.Duration
}

// RedisStreamSink appends every event to a redis stream with XADD, so
// other processes can follow a run while it executes.
type RedisStreamSink struct {
	log     log.Logger
	client  redis.UniversalClient
	stream  string
	maxLen  int64
	timeout time.Duration
	runID   string
}

// NewRedisStreamSink creates the sink. The connection is checked up front.
func NewRedisStreamSink(cfg RedisStreamConfig) (*RedisStreamSink, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.MaxLen < 0 {
		return nil, fmt.Errorf("max length must not be negative")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	if cfg.Stream == "" {
		cfg.Stream = DefaultRedisStream
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if err := CheckRedisConnection(cfg.Client); err != nil {
		return nil, err
	}
	return &RedisStreamSink{
		log:     cfg.Log.New("component", "redis-sink", "stream", cfg.Stream),
		client:  cfg.Client,
		stream:  cfg.Stream,
		maxLen:  cfg.MaxLen,
		timeout: cfg.Timeout,
	}, nil
}

func (s *RedisStreamSink) Consume(ev *types.Event) error {
	if ev.Kind == types.EventSuiteStarted {
		s.runID = ev.RunID
	}
	payload, err := json.Marshal(NewEventRecord(s.runID, ev))
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Kind, err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"run_id":  s.runID,
			"kind":    string(ev.Kind),
			"seq":     ev.Seq,
			"payload": string(payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		s.log.Warn("Failed to publish event", "kind", ev.Kind, "seq", ev.Seq, "err", err)
		return fmt.Errorf("failed to publish %s event: %w", ev.Kind, err)
	}
	return nil
}

func (s *RedisStreamSink) Complete(runID string) error {
	s.log.Debug("Published run", "runID", runID)
	return nil
}

// Close closes the underlying client.
func (s *RedisStreamSink) Close() error {
	return s.client.Close()
}
