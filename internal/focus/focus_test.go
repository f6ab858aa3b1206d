package focus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return 0
	}
}

func TestBroadcaster_FansOut(t *testing.T) {
	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := b.Subscribe(ctx)
	require.NoError(t, err)
	c, err := b.Subscribe(ctx)
	require.NoError(t, err)

	b.Publish(FocusLost)

	assert.Equal(t, FocusLost, recv(t, a))
	assert.Equal(t, FocusLost, recv(t, c))
}

func TestBroadcaster_CancelReleasesSubscription(t *testing.T) {
	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, b.Subscribers())

	cancel()

	require.Eventually(t, func() bool { return b.Subscribers() == 0 }, time.Second, time.Millisecond)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcaster_SlowSubscriberKeepsNewest(t *testing.T) {
	b := NewBroadcaster()
	ch, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	for i := 0; i < subscriberBuffer; i++ {
		b.Publish(FocusGained)
	}
	b.Publish(FocusLost)

	var last Event
	for i := 0; i < subscriberBuffer; i++ {
		last = recv(t, ch)
	}
	assert.Equal(t, FocusLost, last)
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster()
	ch, err := b.Subscribe(context.Background())
	require.NoError(t, err)

	b.Close()

	_, ok := <-ch
	assert.False(t, ok)
	_, err = b.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
