package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("conn.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindConnStatus, Payload: "test"})

	select {
	case evt := <-ch:
		if evt.Kind != KindConnStatus {
			t.Errorf("got kind %q, want %q", evt.Kind, KindConnStatus)
		}
		if evt.Timestamp.IsZero() {
			t.Error("Publish should stamp events with a timestamp")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestNamespaceFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("message.", 10)
	defer unsub()

	b.Publish(Event{Kind: KindConnStatus})
	b.Publish(Event{Kind: KindSendAck})

	select {
	case evt := <-ch:
		if evt.Kind != KindSendAck {
			t.Errorf("got kind %q, want %q", evt.Kind, KindSendAck)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	// The conn event must not have been delivered.
	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 10)
	unsub()
	unsub() // idempotent

	b.Publish(Event{Kind: KindMessageStored})

	select {
	case evt := <-ch:
		t.Errorf("unexpected event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFullSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe("", 1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Kind: KindMessageStored})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
}

func TestClose(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe("", 10)
	b.Close()
	b.Publish(Event{Kind: KindSendAck})

	select {
	case evt := <-ch:
		t.Errorf("unexpected event after close: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}
