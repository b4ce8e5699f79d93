package events

import (
	"testing"
	"time"
)

func TestSubscribeReceivesEvents(t *testing.T) {
	b := NewBroadcaster(8)
	sub := b.Subscribe()
	defer sub.Close()

	b.Publish(Event{Type: TypeStart, Data: StartData{Total: 5, SMTPCount: 2}})

	select {
	case evt := <-sub.C:
		if evt.Type != TypeStart {
			t.Errorf("event type = %v, want start", evt.Type)
		}
		data, ok := evt.Data.(StartData)
		if !ok {
			t.Fatalf("event data type = %T, want StartData", evt.Data)
		}
		if data.Total != 5 || data.SMTPCount != 2 {
			t.Errorf("data = %+v, want total 5 smtpCount 2", data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFanOut(t *testing.T) {
	b := NewBroadcaster(8)
	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer sub1.Close()
	defer sub2.Close()

	if got := b.SubscriberCount(); got != 2 {
		t.Errorf("SubscriberCount() = %v, want 2", got)
	}

	b.Publish(Event{Type: TypeSent})

	for i, sub := range []*Subscription{sub1, sub2} {
		select {
		case evt := <-sub.C:
			if evt.Type != TypeSent {
				t.Errorf("subscriber %d got type %v, want sent", i, evt.Type)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroadcaster(2)
	sub := b.Subscribe()
	defer sub.Close()

	// Nobody reads; buffer holds 2, the rest must be dropped
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish(Event{Type: TypeSending})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if dropped := b.Dropped(); dropped != 8 {
		t.Errorf("Dropped() = %v, want 8", dropped)
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	b := NewBroadcaster(8)
	sub := b.Subscribe()
	sub.Close()

	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() after close = %v, want 0", got)
	}

	// Double close is a no-op
	sub.Close()

	// Publishing to nobody is fine
	b.Publish(Event{Type: TypeComplete})

	// Channel is closed after drain
	if _, ok := <-sub.C; ok {
		t.Error("expected closed channel after Close()")
	}
}

func TestLateSubscriberSeesNoHistory(t *testing.T) {
	b := NewBroadcaster(8)
	b.Publish(Event{Type: TypeStart})

	sub := b.Subscribe()
	defer sub.Close()

	select {
	case evt := <-sub.C:
		t.Errorf("late subscriber received %v, want nothing", evt.Type)
	case <-time.After(50 * time.Millisecond):
	}
}
