package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastDelivery(t *testing.T) {
	ch := New[int](4)
	rx1 := ch.Subscribe()
	rx2 := ch.Subscribe()

	ch.Send(42)

	v, lag, err := rx1.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Zero(t, lag)

	v, _, err = rx2.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestBroadcastDropsOldestAndReportsLag(t *testing.T) {
	ch := New[int](2)
	rx := ch.Subscribe()

	for i := 1; i <= 5; i++ {
		ch.Send(i)
	}

	v, lag, err := rx.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, v, "oldest frames dropped")
	assert.Equal(t, uint64(3), lag, "subscriber learns how many it lost")

	v, lag, err = rx.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, v)
	assert.Zero(t, lag)
}

func TestBroadcastReceiverCount(t *testing.T) {
	ch := New[string](1)
	assert.Zero(t, ch.ReceiverCount())
	rx := ch.Subscribe()
	assert.Equal(t, 1, ch.ReceiverCount())
	rx.Close()
	assert.Zero(t, ch.ReceiverCount())
}

func TestBroadcastCloseDrainsThenErrClosed(t *testing.T) {
	ch := New[int](4)
	rx := ch.Subscribe()
	ch.Send(1)
	ch.Close()

	v, _, err := rx.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	_, _, err = rx.Recv(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBroadcastRecvContextCancel(t *testing.T) {
	ch := New[int](1)
	rx := ch.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, _, err := rx.Recv(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTryRecv(t *testing.T) {
	ch := New[int](1)
	rx := ch.Subscribe()
	_, _, okRecv := rx.TryRecv()
	assert.False(t, okRecv)
	ch.Send(7)
	v, _, okRecv := rx.TryRecv()
	assert.True(t, okRecv)
	assert.Equal(t, 7, v)
}

func TestWatchCoalesces(t *testing.T) {
	w := NewWatch(0)
	rx := w.Subscribe()

	// First Changed returns the seed immediately.
	v, err := rx.Changed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	// A slow consumer sees only the latest value.
	w.Set(1)
	w.Set(2)
	w.Set(3)
	v, err = rx.Changed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestWatchBlocksUntilChange(t *testing.T) {
	w := NewWatch("a")
	rx := w.Subscribe()
	_ = rx.Latest()

	done := make(chan string, 1)
	go func() {
		v, _ := rx.Changed(context.Background())
		done <- v
	}()

	time.Sleep(10 * time.Millisecond)
	w.Set("b")
	select {
	case v := <-done:
		assert.Equal(t, "b", v)
	case <-time.After(time.Second):
		t.Fatal("Changed never woke up")
	}
}

func TestWatchGet(t *testing.T) {
	w := NewWatch(10)
	assert.Equal(t, 10, w.Get())
	w.Set(20)
	assert.Equal(t, 20, w.Get())
}
