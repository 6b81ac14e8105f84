package sf

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSingleflight_Dedup(t *testing.T) {
	g := New[int]()

	var (
		calls   atomic.Int32
		release = make(chan struct{})
		wg      sync.WaitGroup
		results = make([]int, 5)
	)

	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := g.Do("k", func() (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
			require.NoError(t, err)
			results[i] = v
		}(i)
	}

	// give all goroutines time to join the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, []int{42, 42, 42, 42, 42}, results)
}

func TestSingleflight_Error(t *testing.T) {
	g := New[string]()
	boom := errors.New("boom")

	v, err := g.Do("k", func() (string, error) { return "ignored", boom })
	require.ErrorIs(t, err, boom)
	require.Empty(t, v)

	v, err = g.Do("k", func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestSingleflight_DoContextCancelledCallerLeavesOthers(t *testing.T) {
	g := New[int]()

	var (
		calls   atomic.Int32
		started = make(chan struct{})
		release = make(chan struct{})
	)
	fn := func() (int, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return 7, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancelled := make(chan error, 1)
	go func() {
		_, err := g.DoContext(ctx, "k", fn)
		cancelled <- err
	}()
	<-started

	live := make(chan int, 1)
	go func() {
		v, err := g.DoContext(context.Background(), "k", fn)
		require.NoError(t, err)
		live <- v
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-cancelled:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller still waiting")
	}

	close(release)
	select {
	case v := <-live:
		require.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("live caller never returned")
	}
	require.Equal(t, int32(1), calls.Load())
}
