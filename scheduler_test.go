package behave

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func TestIntervalScheduler_RunOnce(t *testing.T) {
	var calls atomic.Int32
	scheduler := NewIntervalScheduler(0, testLogger())
	scheduler.RegisterCallback(func(context.Context) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, scheduler.Start(context.Background()))
	assert.Equal(t, int32(1), calls.Load())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load(), "run-once mode must not schedule further runs")
	assert.Equal(t, 1, scheduler.Runs())
}

func TestIntervalScheduler_Periodic(t *testing.T) {
	calls := make(chan struct{}, 10)
	scheduler := NewIntervalScheduler(10*time.Millisecond, testLogger())
	scheduler.RegisterCallback(func(context.Context) error {
		calls <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, scheduler.Start(ctx))

	for i := 0; i < 4; i++ {
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for run %d", i+1)
		}
	}

	require.NoError(t, scheduler.Stop())
	assert.True(t, scheduler.Stopped())
	require.NoError(t, scheduler.WaitForShutdown(context.Background()))
	assert.GreaterOrEqual(t, scheduler.Runs(), 4)
}

func TestIntervalScheduler_FirstRunError(t *testing.T) {
	boom := errors.New("boom")
	for _, interval := range []time.Duration{0, 10 * time.Millisecond} {
		scheduler := NewIntervalScheduler(interval, testLogger())
		scheduler.RegisterCallback(func(context.Context) error { return boom })

		err := scheduler.Start(context.Background())
		assert.ErrorIs(t, err, boom)
		require.NoError(t, scheduler.WaitForShutdown(context.Background()))
		assert.Equal(t, 1, scheduler.Runs())
	}
}

func TestIntervalScheduler_LaterErrorsKeepRunning(t *testing.T) {
	var calls atomic.Int32
	scheduler := NewIntervalScheduler(5*time.Millisecond, testLogger())
	scheduler.RegisterCallback(func(context.Context) error {
		if calls.Add(1) > 1 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, scheduler.Start(context.Background()))
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.NoError(t, scheduler.Stop())
	require.NoError(t, scheduler.WaitForShutdown(context.Background()))
}

func TestIntervalScheduler_ContextCancel(t *testing.T) {
	scheduler := NewIntervalScheduler(time.Hour, testLogger())
	scheduler.RegisterCallback(func(context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, scheduler.Start(ctx))
	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, scheduler.WaitForShutdown(waitCtx))
	assert.True(t, scheduler.Stopped())
}

func TestIntervalScheduler_StopTwice(t *testing.T) {
	scheduler := NewIntervalScheduler(time.Hour, testLogger())
	scheduler.RegisterCallback(func(context.Context) error { return nil })
	require.NoError(t, scheduler.Start(context.Background()))

	require.NoError(t, scheduler.Stop())
	require.NoError(t, scheduler.Stop())
	require.NoError(t, scheduler.WaitForShutdown(context.Background()))
}

func TestIntervalScheduler_NoCallback(t *testing.T) {
	scheduler := NewIntervalScheduler(0, testLogger())
	assert.Error(t, scheduler.Start(context.Background()))
}
