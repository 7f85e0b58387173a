package realtime

import (
	"testing"

	"github.com/trezcool/mnada/core/auction"
)

type nopLogger struct{}

func (nopLogger) Enable(bool)                  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func TestHub_SubscribePublish(t *testing.T) {
	hub := NewHub(nopLogger{})

	ch1, cancel1 := hub.Subscribe("auc-1")
	defer cancel1()
	ch2, cancel2 := hub.Subscribe("auc-1")
	defer cancel2()
	other, cancelOther := hub.Subscribe("auc-2")
	defer cancelOther()

	if got := hub.Watchers("auc-1"); got != 2 {
		t.Fatalf("Watchers() = %d, want 2", got)
	}

	ev := auction.Event{Type: auction.EventBidAccepted, AuctionID: "auc-1"}
	hub.Publish(ev)

	for i, ch := range []<-chan auction.Event{ch1, ch2} {
		select {
		case got := <-ch:
			if got.Type != ev.Type || got.AuctionID != ev.AuctionID {
				t.Errorf("subscriber %d received %+v, want %+v", i, got, ev)
			}
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}
	select {
	case got := <-other:
		t.Errorf("auc-2 subscriber received %+v", got)
	default:
	}

	// publishing to an auction nobody watches is a no-op
	hub.Publish(auction.Event{Type: auction.EventStatusChanged, AuctionID: "ghost"})
}

func TestHub_Cancel(t *testing.T) {
	hub := NewHub(nopLogger{})

	ch, cancel := hub.Subscribe("auc-1")
	if got := hub.Watchers("auc-1"); got != 1 {
		t.Fatalf("Watchers() = %d, want 1", got)
	}

	cancel()
	cancel() // idempotent

	if got := hub.Watchers("auc-1"); got != 0 {
		t.Errorf("Watchers() = %d, want 0", got)
	}
	if _, ok := <-ch; ok {
		t.Error("expected the channel to be closed")
	}

	// events after cancellation go nowhere
	hub.Publish(auction.Event{Type: auction.EventBidAccepted, AuctionID: "auc-1"})
}

func TestHub_SlowSubscriber(t *testing.T) {
	hub := NewHub(nopLogger{})

	ch, cancel := hub.Subscribe("auc-1")
	defer cancel()

	// fill the subscriber's buffer without draining it
	for i := 0; i < subscriberBuffer; i++ {
		hub.Publish(auction.Event{Type: auction.EventAuctionExtended, AuctionID: "auc-1"})
	}

	// non-critical events are skipped, the subscriber stays
	hub.Publish(auction.Event{Type: auction.EventBidRejected, AuctionID: "auc-1"})
	if got := hub.Watchers("auc-1"); got != 1 {
		t.Fatalf("Watchers() = %d, want 1 after a skipped event", got)
	}

	// a critical event evicts the laggard
	hub.Publish(auction.Event{Type: auction.EventBidAccepted, AuctionID: "auc-1"})
	if got := hub.Watchers("auc-1"); got != 0 {
		t.Fatalf("Watchers() = %d, want 0 after eviction", got)
	}

	// the buffered events are still readable, then the channel closes
	var received int
	for range ch {
		received++
	}
	if received != subscriberBuffer {
		t.Errorf("received %d buffered events, want %d", received, subscriberBuffer)
	}
}
