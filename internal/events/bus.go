package events

import (
	"sync"

	"github.com/sirupsen/logrus"

	"charging-kiosk/internal/domain"
)

// Bus broadcasts card/session events to live subscribers. Each subscriber
// owns a bounded buffer; Publish never blocks the producer. When a buffer is
// full the newest event is dropped for that subscriber.
type Bus struct {
	capacity int
	logger   *logrus.Logger

	mu     sync.Mutex
	subs   map[*Subscriber]struct{}
	closed bool
}

// Subscriber receives events on C until Close (or bus shutdown) closes it.
type Subscriber struct {
	C   <-chan domain.CardEvent
	ch  chan domain.CardEvent
	bus *Bus
}

func NewBus(capacity int, logger *logrus.Logger) *Bus {
	if capacity <= 0 {
		capacity = 10
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		capacity: capacity,
		logger:   logger,
		subs:     make(map[*Subscriber]struct{}),
	}
}

// Publish fans the event out to all subscribers without blocking.
func (b *Bus) Publish(evt domain.CardEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			b.logger.Debugf("subscriber buffer full, dropping %s event", evt.Type)
		}
	}
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscriber {
	ch := make(chan domain.CardEvent, b.capacity)
	sub := &Subscriber{C: ch, ch: ch, bus: b}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub] = struct{}{}
	return sub
}

// Close detaches the subscriber and closes its channel.
func (s *Subscriber) Close() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s]; !ok {
		return
	}
	delete(s.bus.subs, s)
	close(s.ch)
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}
