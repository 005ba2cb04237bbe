package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/claviger/internal/interfaces"
)

func TestPublishSyncDeliversToAllSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var count int32
	handler := func(ctx context.Context, event interfaces.Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	}

	assert.NoError(t, svc.Subscribe(interfaces.EventRunState, handler))
	assert.NoError(t, svc.Subscribe(interfaces.EventRunState, handler))

	err := svc.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventRunState,
		Payload: map[string]string{"state": "awaiting_otp"},
	})
	assert.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&count))
}

func TestPublishIsAsync(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	err := svc.Subscribe(interfaces.EventOtpReceived, func(ctx context.Context, event interfaces.Event) error {
		defer wg.Done()
		return nil
	})
	assert.NoError(t, err)

	assert.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventOtpReceived}))

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handler never ran")
	}
}

func TestPublishWithNoSubscribers(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	assert.NoError(t, svc.Publish(context.Background(), interfaces.Event{Type: interfaces.EventRunCompleted}))
	assert.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventRunCompleted}))
}

func TestSubscribeNilHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	assert.Error(t, svc.Subscribe(interfaces.EventRunStarted, nil))
}

func TestUnsubscribeRemovesHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	var count int32
	handler := func(ctx context.Context, event interfaces.Event) error {
		atomic.AddInt32(&count, 1)
		return nil
	}

	assert.NoError(t, svc.Subscribe(interfaces.EventRunCompleted, handler))
	assert.NoError(t, svc.Unsubscribe(interfaces.EventRunCompleted, handler))

	assert.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventRunCompleted}))
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
}

func TestUnsubscribeUnknownHandler(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	handler := func(ctx context.Context, event interfaces.Event) error { return nil }
	assert.Error(t, svc.Unsubscribe(interfaces.EventRunCompleted, handler))
}

func TestPublishSyncCollectsHandlerErrors(t *testing.T) {
	svc := NewService(arbor.NewLogger())
	defer svc.Close()

	assert.NoError(t, svc.Subscribe(interfaces.EventRunState, func(ctx context.Context, event interfaces.Event) error {
		return assert.AnError
	}))

	err := svc.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventRunState})
	assert.Error(t, err)
}
