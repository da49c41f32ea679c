package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, sub *Subscription, n int) []Event {
	t.Helper()
	events := make([]Event, 0, n)
	for range n {
		select {
		case e, ok := <-sub.Events():
			require.True(t, ok, "stream closed early")
			events = append(events, e)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d of %d", len(events)+1, n)
		}
	}
	return events
}

func TestPublishPreservesPerJobOrder(t *testing.T) {
	bus := NewBus(50 * time.Millisecond)
	bus.CreateChannel("job-1")
	sub := bus.Subscribe("job-1")

	bus.Publish("job-1", "uploading", 10, "uploading image", nil)
	bus.Publish("job-1", "extracting", 20, "extracting text", nil)
	bus.Publish("job-1", "forensics", 40, "running forensics", nil)

	events := drain(t, sub, 3)
	assert.Equal(t, []string{"uploading", "extracting", "forensics"},
		[]string{events[0].Stage, events[1].Stage, events[2].Stage})
	assert.Equal(t, 40, events[2].Percent)
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	bus := NewBus(50 * time.Millisecond)
	bus.CreateChannel("job-1")
	first := bus.Subscribe("job-1")
	second := bus.Subscribe("job-1")

	bus.Publish("job-1", "scoring", 80, "scoring", nil)

	assert.Equal(t, "scoring", drain(t, first, 1)[0].Stage)
	assert.Equal(t, "scoring", drain(t, second, 1)[0].Stage)
}

func TestLateSubscriberGetsLastKnownStateOnly(t *testing.T) {
	bus := NewBus(50 * time.Millisecond)
	bus.CreateChannel("job-1")

	bus.Publish("job-1", "uploading", 10, "uploading", nil)
	bus.Publish("job-1", "forensics", 40, "forensics", nil)

	sub := bus.Subscribe("job-1")
	events := drain(t, sub, 1)
	assert.Equal(t, "forensics", events[0].Stage)

	select {
	case e, ok := <-sub.Events():
		require.True(t, ok)
		t.Fatalf("unexpected replayed event: %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishAfterTerminalIsNoop(t *testing.T) {
	bus := NewBus(time.Hour) // long grace so teardown does not interfere
	bus.CreateChannel("job-1")
	sub := bus.Subscribe("job-1")

	bus.Publish("job-1", StageComplete, 100, "done", nil)
	bus.Publish("job-1", "forensics", 40, "should be dropped", nil)

	events := drain(t, sub, 1)
	assert.Equal(t, StageComplete, events[0].Stage)

	select {
	case e := <-sub.Events():
		t.Fatalf("event delivered after terminal: %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTerminalEventClosesStreamAfterGrace(t *testing.T) {
	bus := NewBus(10 * time.Millisecond)
	bus.CreateChannel("job-1")
	sub := bus.Subscribe("job-1")

	bus.Publish("job-1", StageFailed, 100, "analysis failed", nil)

	events := drain(t, sub, 1)
	assert.Equal(t, StageFailed, events[0].Stage)

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "stream should be closed")
	case <-time.After(time.Second):
		t.Fatal("stream not closed after grace period")
	}
}

func TestPublishToUnknownJobIsNoop(t *testing.T) {
	bus := NewBus(time.Minute)
	bus.Publish("missing", "uploading", 10, "x", nil) // must not panic
}

func TestCloseIsIdempotentWithTeardown(t *testing.T) {
	bus := NewBus(5 * time.Millisecond)
	bus.CreateChannel("job-1")
	sub := bus.Subscribe("job-1")

	bus.Publish("job-1", StageComplete, 100, "done", nil)
	time.Sleep(30 * time.Millisecond) // let teardown run
	sub.Close()                       // must not double-close
}

func TestTerminalPayloadTravelsWithEvent(t *testing.T) {
	bus := NewBus(time.Minute)
	bus.CreateChannel("job-1")
	sub := bus.Subscribe("job-1")

	record := map[string]any{"trust_score": 92}
	bus.Publish("job-1", StageComplete, 100, "done", record)

	events := drain(t, sub, 1)
	assert.Equal(t, record, events[0].Payload)
}

func TestSlowSubscriberDoesNotBlockPublisher(t *testing.T) {
	bus := NewBus(time.Minute)
	bus.CreateChannel("job-1")
	_ = bus.Subscribe("job-1") // never drained

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range subscriberBuffer * 4 {
			bus.Publish("job-1", "forensics", i%100, "progress", nil)
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
}
