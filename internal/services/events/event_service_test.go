package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/optiscan/internal/common"
	"github.com/ternarybob/optiscan/internal/interfaces"
)

func TestPublish_ReachesAllSubscribers(t *testing.T) {
	svc := NewService(common.GetLogger())
	var count int64
	var wg sync.WaitGroup
	wg.Add(2)

	handler := func(ctx context.Context, event interfaces.Event) error {
		defer wg.Done()
		atomic.AddInt64(&count, 1)
		return nil
	}
	require.NoError(t, svc.Subscribe(interfaces.EventScanStarted, handler))
	require.NoError(t, svc.Subscribe(interfaces.EventScanStarted, handler))

	require.NoError(t, svc.Publish(context.Background(), interfaces.Event{
		Type: interfaces.EventScanStarted,
	}))

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers not invoked")
	}
	assert.Equal(t, int64(2), atomic.LoadInt64(&count))
}

func TestPublish_NoSubscribersIsNoop(t *testing.T) {
	svc := NewService(common.GetLogger())
	assert.NoError(t, svc.Publish(context.Background(), interfaces.Event{
		Type: interfaces.EventImageFound,
	}))
}

func TestPublishSync_PropagatesErrors(t *testing.T) {
	svc := NewService(common.GetLogger())
	require.NoError(t, svc.Subscribe(interfaces.EventScanFailed,
		func(ctx context.Context, event interfaces.Event) error {
			return errors.New("boom")
		}))

	err := svc.PublishSync(context.Background(), interfaces.Event{
		Type: interfaces.EventScanFailed,
	})
	assert.Error(t, err)
}

func TestPublishSync_WaitsForHandlers(t *testing.T) {
	svc := NewService(common.GetLogger())
	var done int64
	require.NoError(t, svc.Subscribe(interfaces.EventScanCompleted,
		func(ctx context.Context, event interfaces.Event) error {
			time.Sleep(50 * time.Millisecond)
			atomic.StoreInt64(&done, 1)
			return nil
		}))

	require.NoError(t, svc.PublishSync(context.Background(), interfaces.Event{
		Type: interfaces.EventScanCompleted,
	}))
	assert.Equal(t, int64(1), atomic.LoadInt64(&done))
}

func TestSubscribe_NilHandler(t *testing.T) {
	svc := NewService(common.GetLogger())
	assert.Error(t, svc.Subscribe(interfaces.EventScanStarted, nil))
}
