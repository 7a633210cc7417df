package reporting

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-behave/types"
)

func TestRedisStreamSink(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	sink, err := NewRedisStreamSink(RedisStreamConfig{
		Log:    log.NewLogger(log.DiscardHandler()),
		Client: client,
		Stream: "behave-test",
	})
	require.NoError(t, err)

	events := sampleStream()
	require.NoError(t, feed(sink, events))

	msgs, err := client.XRange(context.Background(), "behave-test", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, len(events))

	assert.Equal(t, string(types.EventSuiteStarted), msgs[0].Values["kind"])
	assert.Equal(t, "-1", msgs[0].Values["seq"])
	for i, msg := range msgs {
		assert.Equal(t, "run-1", msg.Values["run_id"])
		assert.Equal(t, string(events[i].Kind), msg.Values["kind"])
		assert.Contains(t, msg.Values["payload"], `"kind":"`+string(events[i].Kind)+`"`)
	}
}

func TestNewRedisStreamSink(t *testing.T) {
	_, err := NewRedisStreamSink(RedisStreamConfig{})
	require.Error(t, err)

	mr := miniredis.RunT(t)
	client, err := NewRedisClient("redis://" + mr.Addr())
	require.NoError(t, err)

	_, err = NewRedisStreamSink(RedisStreamConfig{Client: client, MaxLen: -1})
	require.Error(t, err)

	sink, err := NewRedisStreamSink(RedisStreamConfig{
		Log:    log.NewLogger(log.DiscardHandler()),
		Client: client,
		MaxLen: 100,
	})
	require.NoError(t, err)
	require.NoError(t, sink.Consume(&types.Event{Kind: types.EventSuiteStarted, Seq: types.SuiteSeq, RunID: "r"}))
	n, err := client.XLen(context.Background(), DefaultRedisStream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, sink.Close())

	mr.Close()
	down, err := NewRedisClient("redis://" + mr.Addr())
	require.NoError(t, err)
	_, err = NewRedisStreamSink(RedisStreamConfig{Client: down})
	require.Error(t, err)

	_, err = NewRedisClient("not a url")
	require.Error(t, err)
}
