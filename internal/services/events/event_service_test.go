package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/custos/internal/interfaces"
)

func TestService_PublishReachesSubscribers(t *testing.T) {
	service := NewService(arbor.NewLogger())

	var received atomic.Int32
	handler := func(ctx context.Context, event interfaces.Event) error {
		received.Add(1)
		return nil
	}

	require.NoError(t, service.Subscribe(interfaces.EventJobProgress, handler))
	require.NoError(t, service.Subscribe(interfaces.EventJobProgress, handler))

	require.NoError(t, service.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobProgress}))

	require.Eventually(t, func() bool {
		return received.Load() == 2
	}, time.Second, 5*time.Millisecond)
}

func TestService_PublishSkipsOtherEventTypes(t *testing.T) {
	service := NewService(arbor.NewLogger())

	var received atomic.Int32
	require.NoError(t, service.Subscribe(interfaces.EventRunStarted, func(ctx context.Context, event interfaces.Event) error {
		received.Add(1)
		return nil
	}))

	require.NoError(t, service.Publish(context.Background(), interfaces.Event{Type: interfaces.EventRunCompleted}))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), received.Load())
}

func TestService_PublishSyncWaitsAndReturnsFirstError(t *testing.T) {
	service := NewService(arbor.NewLogger())

	wantErr := errors.New("handler failed")
	require.NoError(t, service.Subscribe(interfaces.EventJobTerminal, func(ctx context.Context, event interfaces.Event) error {
		return wantErr
	}))

	var done atomic.Bool
	require.NoError(t, service.Subscribe(interfaces.EventJobTerminal, func(ctx context.Context, event interfaces.Event) error {
		done.Store(true)
		return nil
	}))

	err := service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobTerminal})
	assert.ErrorIs(t, err, wantErr)
	assert.True(t, done.Load(), "PublishSync waits for every handler")
}

func TestService_RejectsNilHandler(t *testing.T) {
	service := NewService(arbor.NewLogger())
	assert.Error(t, service.Subscribe(interfaces.EventJobProgress, nil))
}

func TestService_ClosedServiceRejectsUse(t *testing.T) {
	service := NewService(arbor.NewLogger())
	require.NoError(t, service.Close())

	assert.Error(t, service.Subscribe(interfaces.EventJobProgress, func(ctx context.Context, event interfaces.Event) error {
		return nil
	}))
	assert.Error(t, service.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobProgress}))
}
