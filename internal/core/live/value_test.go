package live

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
		panic("unreachable")
	}
}

func TestSubscribeReplaysLatest(t *testing.T) {
	v := NewValue[int]()
	v.Set(41)
	v.Set(42)

	ch, cancel := v.Subscribe()
	defer cancel()

	assert.Equal(t, 42, recv(t, ch))
}

func TestSubscribeBeforeFirstSet(t *testing.T) {
	v := NewValue[string]()

	ch, cancel := v.Subscribe()
	defer cancel()

	select {
	case got := <-ch:
		t.Fatalf("expected no value before first Set, got %q", got)
	default:
	}

	v.Set("hello")
	assert.Equal(t, "hello", recv(t, ch))
}

func TestSlowSubscriberGetsLatestOnly(t *testing.T) {
	v := NewValue[int]()
	ch, cancel := v.Subscribe()
	defer cancel()

	// Subscriber does not drain between sets; newest wins.
	v.Set(1)
	v.Set(2)
	v.Set(3)

	assert.Equal(t, 3, recv(t, ch))
}

func TestGet(t *testing.T) {
	v := NewValue[int]()
	_, ok := v.Get()
	require.False(t, ok)

	v.Set(7)
	got, ok := v.Get()
	require.True(t, ok)
	assert.Equal(t, 7, got)
}

func TestCancelStopsDelivery(t *testing.T) {
	v := NewValue[int]()
	ch, cancel := v.Subscribe()
	cancel()
	cancel() // safe to call twice

	v.Set(1)

	_, open := <-ch
	assert.False(t, open, "channel should be closed after cancel")
}

func TestCloseTerminatesSubscribers(t *testing.T) {
	v := NewValue[int]()
	v.Set(1)
	ch, cancel := v.Subscribe()
	defer cancel()

	assert.Equal(t, 1, recv(t, ch))
	v.Close()
	v.Set(2) // ignored

	_, open := <-ch
	assert.False(t, open)
}
