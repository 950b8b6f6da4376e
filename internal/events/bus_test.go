package events

import (
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"charging-kiosk/internal/domain"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func event(cardID string) domain.CardEvent {
	return domain.CardEvent{
		Type:      domain.EventCardDetected,
		CardID:    cardID,
		Timestamp: time.Now(),
	}
}

func TestPublishWithoutSubscribersNeverBlocks(t *testing.T) {
	bus := NewBus(2, quietLogger())
	defer bus.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(event(fmt.Sprintf("card-%d", i)))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked")
	}
}

func TestFullSubscriberDropsNewest(t *testing.T) {
	bus := NewBus(3, quietLogger())
	defer bus.Close()
	sub := bus.Subscribe()

	for i := 0; i < 5; i++ {
		bus.Publish(event(fmt.Sprintf("card-%d", i)))
	}

	var received []string
	for {
		select {
		case evt := <-sub.C:
			received = append(received, evt.CardID)
			continue
		default:
		}
		break
	}

	// capacity 3: the oldest three are retained, the overflow discarded
	want := []string{"card-0", "card-1", "card-2"}
	if len(received) != len(want) {
		t.Fatalf("received %v, want %v", received, want)
	}
	for i := range want {
		if received[i] != want[i] {
			t.Fatalf("received %v, want %v", received, want)
		}
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	bus := NewBus(10, quietLogger())
	defer bus.Close()

	a := bus.Subscribe()
	b := bus.Subscribe()
	bus.Publish(event("card-1"))

	for _, sub := range []*Subscriber{a, b} {
		select {
		case evt := <-sub.C:
			if evt.CardID != "card-1" {
				t.Fatalf("got %q", evt.CardID)
			}
		default:
			t.Fatal("subscriber missed the event")
		}
	}
}

func TestSlowSubscriberDoesNotAffectOthers(t *testing.T) {
	bus := NewBus(1, quietLogger())
	defer bus.Close()

	slow := bus.Subscribe()
	fast := bus.Subscribe()

	bus.Publish(event("card-1"))
	bus.Publish(event("card-2")) // overflows slow's buffer

	<-fast.C
	select {
	case evt := <-fast.C:
		if evt.CardID != "card-2" {
			t.Fatalf("fast subscriber got %q", evt.CardID)
		}
	default:
		t.Fatal("fast subscriber missed the second event")
	}

	if evt := <-slow.C; evt.CardID != "card-1" {
		t.Fatalf("slow subscriber got %q, want the retained oldest", evt.CardID)
	}
}

func TestSubscriberCloseDetaches(t *testing.T) {
	bus := NewBus(10, quietLogger())
	defer bus.Close()

	sub := bus.Subscribe()
	sub.Close()
	sub.Close() // idempotent

	if _, ok := <-sub.C; ok {
		t.Fatal("channel should be closed")
	}
	bus.Publish(event("card-1")) // must not panic on the closed channel
}

func TestBusCloseClosesSubscribers(t *testing.T) {
	bus := NewBus(10, quietLogger())
	sub := bus.Subscribe()

	bus.Close()
	if _, ok := <-sub.C; ok {
		t.Fatal("channel should be closed after bus shutdown")
	}
	if late := bus.Subscribe(); late != nil {
		if _, ok := <-late.C; ok {
			t.Fatal("late subscriber should get a closed channel")
		}
	}
	bus.Publish(event("card-1")) // no-op after close
}
