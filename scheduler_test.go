package testrunner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefaultTestScheduler_RunOnce tests the scheduler in run-once mode
func TestDefaultTestScheduler_RunOnce(t *testing.T) {
	logger := log.New()
	callCount := 0

	scheduler := NewDefaultTestScheduler(0, logger)
	require.True(t, scheduler.RunsOnce())

	scheduler.RegisterCallback(func() error {
		callCount++
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := scheduler.Start(ctx)
	require.NoError(t, err)

	// In run-once mode, the callback should be called exactly once immediately
	assert.Equal(t, 1, callCount, "Expected callback to be called exactly once")

	// Wait a bit to make sure no more calls happen
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, callCount, "Expected callback to be called exactly once")
}

// TestDefaultTestScheduler_Periodic tests the scheduler in periodic mode
func TestDefaultTestScheduler_Periodic(t *testing.T) {
	logger := log.New()

	// Use a channel to synchronize and count callback executions
	callChan := make(chan struct{}, 10)
	expectedCalls := 4

	scheduler := NewDefaultTestScheduler(10*time.Millisecond, logger)
	require.False(t, scheduler.RunsOnce())

	scheduler.RegisterCallback(func() error {
		callChan <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := scheduler.Start(ctx)
	require.NoError(t, err)

	// Wait for exactly the expected number of calls
	for i := 0; i < expectedCalls; i++ {
		select {
		case <-callChan:
		case <-time.After(1 * time.Second):
			t.Fatalf("Timed out waiting for callback execution %d/%d", i+1, expectedCalls)
		}
	}

	err = scheduler.Stop()
	require.NoError(t, err)
	assert.True(t, scheduler.Stopped())

	// Verify no more calls happen after stopping
	extraCallCount := 0
	select {
	case <-callChan:
		extraCallCount++
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, extraCallCount, "Expected no more calls after stopping")

	err = scheduler.WaitForShutdown(ctx)
	assert.NoError(t, err)
}

// TestDefaultTestScheduler_CallbackError tests error handling in the callback
func TestDefaultTestScheduler_CallbackError(t *testing.T) {
	logger := log.New()
	expectedError := errors.New("test callback error")

	scheduler := NewDefaultTestScheduler(0, logger)
	scheduler.RegisterCallback(func() error {
		return expectedError
	})

	err := scheduler.Start(context.Background())
	assert.ErrorIs(t, err, expectedError)
}

// TestDefaultTestScheduler_NoCallback ensures Start refuses to run without a
// registered callback.
func TestDefaultTestScheduler_NoCallback(t *testing.T) {
	scheduler := NewDefaultTestScheduler(0, log.New())

	err := scheduler.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "callback must be registered")
}

// TestDefaultTestScheduler_StopTwice ensures Stop is idempotent.
func TestDefaultTestScheduler_StopTwice(t *testing.T) {
	scheduler := NewDefaultTestScheduler(time.Hour, log.New())
	scheduler.RegisterCallback(func() error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, scheduler.Start(ctx))
	require.NoError(t, scheduler.Stop())
	require.NoError(t, scheduler.Stop())
	assert.True(t, scheduler.Stopped())

	require.NoError(t, scheduler.WaitForShutdown(ctx))
}

// TestDefaultTestScheduler_ContextCancellation ensures the periodic goroutine
// exits when the context is canceled.
func TestDefaultTestScheduler_ContextCancellation(t *testing.T) {
	scheduler := NewDefaultTestScheduler(time.Hour, log.New())
	scheduler.RegisterCallback(func() error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, scheduler.Start(ctx))

	cancel()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	require.NoError(t, scheduler.WaitForShutdown(waitCtx))
	assert.True(t, scheduler.Stopped())
}
