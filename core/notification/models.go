package notification

import (
	"encoding/json"
	"time"
)

type Kind string

const (
	KindOutbid       Kind = "OUTBID"
	KindBidReceived  Kind = "BID_RECEIVED"
	KindAuctionLive  Kind = "AUCTION_LIVE"
	KindAuctionEnded Kind = "AUCTION_ENDED"
	KindAuctionWon   Kind = "AUCTION_WON"
)

type Notification struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Read      bool            `json:"read"`
	CreatedAt time.Time       `json:"created_at"` // UTC
}

// NewNotification contains information needed to queue a new Notification.
type NewNotification struct {
	UserID  string
	Kind    Kind
	Payload interface{}
}
