package realtime

import (
	"sync"

	"github.com/trezcool/mnada/core"
	"github.com/trezcool/mnada/core/auction"
)

const subscriberBuffer = 256

type (
	subscriber struct {
		ch chan auction.Event
	}

	// Hub fans auction events out to WebSocket subscribers, keyed by auction.
	// It implements auction.Publisher.
	Hub struct {
		mu     sync.RWMutex
		subs   map[string]map[*subscriber]struct{} // auctionID → subscribers
		logger core.Logger
	}
)

var _ auction.Publisher = (*Hub)(nil)

func NewHub(logger core.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		logger: logger,
	}
}

// Subscribe registers a watcher on an auction. The returned cancel func must
// be called when the client goes away; the channel is closed by the hub.
func (h *Hub) Subscribe(auctionID string) (<-chan auction.Event, func()) {
	sub := &subscriber{ch: make(chan auction.Event, subscriberBuffer)}

	h.mu.Lock()
	set, ok := h.subs[auctionID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[auctionID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[auctionID]; ok {
				if _, ok = set[sub]; ok {
					delete(set, sub)
					close(sub.ch)
				}
				if len(set) == 0 {
					delete(h.subs, auctionID)
				}
			}
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish never blocks. Slow subscribers are evicted on critical events
// (accepted bids, status changes) and skipped otherwise; clients recover
// missed state from the snapshot on reconnect.
func (h *Hub) Publish(ev auction.Event) {
	critical := ev.Type == auction.EventBidAccepted || ev.Type == auction.EventStatusChanged

	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[ev.AuctionID]
	if !ok {
		return
	}
	for sub := range set {
		select {
		case sub.ch <- ev:
		default:
			if critical {
				delete(set, sub)
				close(sub.ch)
				h.logger.Warn("evicting slow auction subscriber")
			}
		}
	}
	if len(set) == 0 {
		delete(h.subs, ev.AuctionID)
	}
}

// Watchers reports the number of subscribers currently watching an auction.
func (h *Hub) Watchers(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[auctionID])
}
