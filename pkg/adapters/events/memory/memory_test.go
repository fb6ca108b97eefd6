package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/dagflow/pkg/domain"
	"github.com/aescanero/dagflow/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var _ ports.EventBus = (*InMemoryEventBus)(nil)

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) handle(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, len(r.events))
	for i, e := range r.events {
		ids[i] = e.ID
	}
	return ids
}

func TestInMemoryEventBus_DeliversInOrder(t *testing.T) {
	bus := NewInMemoryEventBus(zap.NewNop())
	defer bus.Close()
	ctx := context.Background()

	a, b := &recorder{}, &recorder{}
	require.NoError(t, bus.Subscribe(ctx, domain.TopicNodeEvents, a.handle))
	require.NoError(t, bus.Subscribe(ctx, domain.TopicNodeEvents, b.handle))

	var want []string
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("e%02d", i)
		want = append(want, id)
		require.NoError(t, bus.Publish(ctx, domain.TopicNodeEvents, domain.Event{ID: id}))
	}
	require.NoError(t, bus.Publish(ctx, domain.TopicRunEvents, domain.Event{ID: "other"}))

	require.Eventually(t, func() bool { return len(a.ids()) == 20 && len(b.ids()) == 20 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, want, a.ids())
	assert.Equal(t, want, b.ids())
}

func TestInMemoryEventBus_ContextEndsSubscription(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	keep := &recorder{}
	require.NoError(t, bus.Subscribe(ctx, "t", (&recorder{}).handle))
	require.NoError(t, bus.Subscribe(context.Background(), "t", keep.handle))
	assert.Equal(t, 2, bus.Subscribers("t"))

	cancel()
	require.Eventually(t, func() bool { return bus.Subscribers("t") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, bus.Publish(context.Background(), "t", domain.Event{ID: "x"}))
	require.Eventually(t, func() bool { return len(keep.ids()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestInMemoryEventBus_UnsubscribeAndClose(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	ctx := context.Background()

	rec := &recorder{}
	require.NoError(t, bus.Subscribe(ctx, "t", rec.handle))
	require.NoError(t, bus.Unsubscribe(ctx, "t"))
	assert.Zero(t, bus.Subscribers("t"))
	require.NoError(t, bus.Publish(ctx, "t", domain.Event{ID: "x"}))

	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Subscribe(ctx, "t", rec.handle), ErrBusClosed)
	assert.Empty(t, rec.ids())
}
