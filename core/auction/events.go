package auction

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventBidAccepted     EventType = "bid_accepted"
	EventBidRejected     EventType = "bid_rejected"
	EventAuctionExtended EventType = "auction_extended"
	EventStatusChanged   EventType = "status_changed"
)

// Event is fanned out to realtime subscribers watching an auction.
type Event struct {
	Type      EventType   `json:"type"`
	AuctionID string      `json:"auction_id"`
	ArtworkID string      `json:"artwork_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Publisher delivers auction events to interested parties (eg. the
// realtime WebSocket hub). Publish must not block.
type Publisher interface {
	Publish(ev Event)
}

// NopPublisher drops all events.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) {}

// event payloads

type BidAcceptedPayload struct {
	BidID        string          `json:"bid_id"`
	BidderID     string          `json:"bidder_id"`
	Amount       decimal.Decimal `json:"amount"`
	BidCount     int             `json:"bid_count"`
	EndsAt       time.Time       `json:"ends_at"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

type BidRejectedPayload struct {
	BidderID string          `json:"bidder_id"`
	Amount   decimal.Decimal `json:"amount"`
	Reason   string          `json:"reason"`
	MinNext  decimal.Decimal `json:"min_next_bid,omitempty"`
}

type AuctionExtendedPayload struct {
	EndsAt time.Time `json:"ends_at"`
}

type StatusChangedPayload struct {
	Status Status `json:"status"`
}
