package protocol

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignal_SetWakesAllWaiters(t *testing.T) {
	sig := NewSignal(nil)

	const waiters = 10

	results := make(chan WaitResult, waiters)

	var wg sync.WaitGroup

	for range waiters {
		wg.Go(func() {
			results <- sig.Wait(context.Background(), 5*time.Second)
		})
	}

	time.Sleep(10 * time.Millisecond)
	sig.Set()
	wg.Wait()
	close(results)

	for r := range results {
		require.Equal(t, WaitSignaled, r)
	}
}

func TestSignal_ClearRearms(t *testing.T) {
	sig := NewSignal(nil)

	sig.Set()
	sig.Set()
	require.True(t, sig.IsSet())
	require.Equal(t, WaitSignaled, sig.Wait(context.Background(), time.Millisecond))

	sig.Clear()
	sig.Clear()
	require.False(t, sig.IsSet())
	require.Equal(t, WaitTimedOut, sig.Wait(context.Background(), 10*time.Millisecond))

	sig.Set()
	require.Equal(t, WaitSignaled, sig.Wait(context.Background(), time.Millisecond))
}

func TestSignal_ContextBoundsWait(t *testing.T) {
	sig := NewSignal(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	require.Equal(t, WaitTimedOut, sig.Wait(ctx, 0))
	require.Less(t, time.Since(start), time.Second)
}

func TestSignal_ClosedWakesWaiter(t *testing.T) {
	closed := make(chan struct{})
	sig := NewSignal(closed)

	result := make(chan WaitResult, 1)

	go func() {
		result <- sig.Wait(context.Background(), 5*time.Second)
	}()

	time.Sleep(10 * time.Millisecond)
	close(closed)

	select {
	case r := <-result:
		require.Equal(t, WaitClosed, r)
	case <-time.After(time.Second):
		t.Fatal("waiter not woken by close")
	}

	// A set signal still reports signaled after close.
	sig.Set()
	require.Equal(t, WaitSignaled, sig.Wait(context.Background(), time.Millisecond))
}

func TestSignal_ConcurrentSetClearWait(t *testing.T) {
	// Run with: go test -race -run TestSignal_ConcurrentSetClearWait
	sig := NewSignal(nil)

	var wg sync.WaitGroup

	for range 100 {
		wg.Go(func() { sig.Set() })
		wg.Go(func() { sig.Clear() })
		wg.Go(func() { _ = sig.Wait(context.Background(), time.Millisecond) })
	}

	wg.Wait()
}

func TestParseSignalName(t *testing.T) {
	for _, name := range AllSignals {
		got, err := ParseSignalName(string(name))
		require.NoError(t, err)
		require.Equal(t, name, got)
	}

	_, err := ParseSignalName("ready")
	require.Error(t, err)
}

func TestWaitResult_String(t *testing.T) {
	for _, r := range []WaitResult{WaitSignaled, WaitTimedOut, WaitClosed} {
		parsed, err := ParseWaitResult(r.String())
		require.NoError(t, err)
		require.Equal(t, r, parsed)
	}

	require.Equal(t, "WaitResult(9)", WaitResult(9).String())

	_, err := ParseWaitResult("maybe")
	require.Error(t, err)
}
