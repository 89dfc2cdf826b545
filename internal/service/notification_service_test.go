package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lab-booking-api/internal/models"
)

type broadcastCall struct {
	event interface{}
	labs  []string
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
}

func (r *recordingBroadcaster) Broadcast(event interface{}, labs ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, broadcastCall{event: event, labs: labs})
	return nil
}

func (r *recordingBroadcaster) snapshot() []broadcastCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]broadcastCall{}, r.calls...)
}

func TestNotificationServiceDispatchesSlotAndSummaryEvents(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	metrics := NewMetricsService()
	svc := NewNotificationService(broadcaster, metrics, NotificationConfig{Enabled: true, Workers: 1, BufferSize: 8}, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Publish(models.BookingEvent{Action: models.EventCreate, LabCode: "CSE-1", Date: "2025-05-20", Period: 1})
	svc.Publish(models.BookingEvent{Action: models.EventRecurring, RecurrenceID: "rec-1", LabCodes: []string{"CSE-1", "CSE-2"}, Count: 4})

	require.Eventually(t, func() bool { return len(broadcaster.snapshot()) == 2 }, time.Second, 10*time.Millisecond)

	calls := broadcaster.snapshot()
	byAction := make(map[models.BookingEventAction][]string)
	for _, call := range calls {
		event, ok := call.event.(models.BookingEvent)
		require.True(t, ok)
		byAction[event.Action] = call.labs
	}
	assert.Equal(t, []string{"CSE-1"}, byAction[models.EventCreate])
	assert.Equal(t, []string{"CSE-1", "CSE-2"}, byAction[models.EventRecurring])
}

func TestNotificationServiceDisabled(t *testing.T) {
	broadcaster := &recordingBroadcaster{}
	svc := NewNotificationService(broadcaster, nil, NotificationConfig{Enabled: false, Workers: 1, BufferSize: 1}, nil)
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Publish(models.BookingEvent{Action: models.EventCreate, LabCode: "CSE-1"})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, broadcaster.snapshot())

	var nilSvc *NotificationService
	assert.NotPanics(t, func() { nilSvc.Publish(models.BookingEvent{}) })
}

type blockingBroadcaster struct {
	release chan struct{}
}

func (b *blockingBroadcaster) Broadcast(interface{}, ...string) error {
	<-b.release
	return nil
}

func TestNotificationServiceDropsWhenBufferFull(t *testing.T) {
	broadcaster := &blockingBroadcaster{release: make(chan struct{})}
	svc := NewNotificationService(broadcaster, NewMetricsService(), NotificationConfig{Enabled: true, Workers: 1, BufferSize: 1}, nil)
	svc.Start(context.Background())
	defer svc.Stop()
	defer close(broadcaster.release)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			svc.Publish(models.BookingEvent{Action: models.EventDelete, LabCode: "CSE-1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
}
