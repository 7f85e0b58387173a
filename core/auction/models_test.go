package auction

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{name: "draft to pending", from: StatusDraft, to: StatusPendingApproval, want: true},
		{name: "draft to cancelled", from: StatusDraft, to: StatusCancelled, want: true},
		{name: "draft to live", from: StatusDraft, to: StatusLive},
		{name: "pending to approved", from: StatusPendingApproval, to: StatusApproved, want: true},
		{name: "pending back to draft (rejection)", from: StatusPendingApproval, to: StatusDraft, want: true},
		{name: "approved to live", from: StatusApproved, to: StatusLive, want: true},
		{name: "approved to ended", from: StatusApproved, to: StatusEnded},
		{name: "live to ended", from: StatusLive, to: StatusEnded, want: true},
		{name: "live back to draft", from: StatusLive, to: StatusDraft},
		{name: "ended is terminal", from: StatusEnded, to: StatusLive},
		{name: "cancelled is terminal", from: StatusCancelled, to: StatusDraft},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo() = %v, want %v", got, tt.want)
			}
		})
	}

	for _, s := range []Status{StatusDraft, StatusPendingApproval, StatusApproved, StatusLive} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
	for _, s := range []Status{StatusEnded, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
}

func TestMinNextBid(t *testing.T) {
	auc := Auction{MinIncrement: decimal.NewFromInt(5)}
	art := Artwork{StartingPrice: decimal.NewFromInt(50)}

	// no bids yet: the starting price stands
	if got := MinNextBid(auc, art); !got.Equal(decimal.NewFromInt(50)) {
		t.Errorf("MinNextBid() = %v, want 50", got)
	}

	art.BidCount = 3
	art.CurrentPrice = decimal.NewFromInt(80)
	if got := MinNextBid(auc, art); !got.Equal(decimal.NewFromInt(85)) {
		t.Errorf("MinNextBid() = %v, want 85", got)
	}
}

func TestValidateBid(t *testing.T) {
	now := time.Now().UTC()
	auc := Auction{
		Status:       StatusLive,
		EndsAt:       now.Add(time.Hour),
		MinIncrement: decimal.NewFromInt(5),
		CreatedBy:    "seller",
	}
	art := Artwork{
		StartingPrice: decimal.NewFromInt(50),
		CurrentPrice:  decimal.NewFromInt(60),
		BidCount:      2,
	}

	tests := []struct {
		name       string
		auc        Auction
		art        Artwork
		bidderID   string
		amount     decimal.Decimal
		wantReason string
	}{
		{
			name: "auction not live", bidderID: "alice", amount: decimal.NewFromInt(100),
			auc: Auction{Status: StatusApproved, EndsAt: now.Add(time.Hour)}, art: art,
			wantReason: ReasonAuctionNotLive,
		},
		{
			name: "auction past its end", bidderID: "alice", amount: decimal.NewFromInt(100),
			auc: Auction{Status: StatusLive, EndsAt: now.Add(-time.Minute)}, art: art,
			wantReason: ReasonAuctionClosed,
		},
		{
			name: "seller bids on own artwork", bidderID: "seller", amount: decimal.NewFromInt(100),
			auc: auc, art: art,
			wantReason: ReasonSellerBid,
		},
		{
			name: "below minimum increment", bidderID: "alice", amount: decimal.NewFromInt(64),
			auc: auc, art: art,
			wantReason: ReasonBelowMinIncrement,
		},
		{
			name: "first bid below starting price", bidderID: "alice", amount: decimal.NewFromInt(49),
			auc: auc, art: Artwork{StartingPrice: decimal.NewFromInt(50)},
			wantReason: ReasonBelowMinIncrement,
		},
		{
			name: "first bid at starting price", bidderID: "alice", amount: decimal.NewFromInt(50),
			auc: auc, art: Artwork{StartingPrice: decimal.NewFromInt(50)},
		},
		{name: "exact minimum accepted", bidderID: "alice", amount: decimal.NewFromInt(65), auc: auc, art: art},
		{name: "above minimum accepted", bidderID: "alice", amount: decimal.NewFromInt(100), auc: auc, art: art},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rej := ValidateBid(tt.auc, tt.art, tt.bidderID, tt.amount, now)
			if tt.wantReason == "" {
				if rej != nil {
					t.Errorf("ValidateBid() = %v, want accepted", rej)
				}
				return
			}
			if rej == nil {
				t.Fatalf("ValidateBid() accepted, want %q", tt.wantReason)
			}
			if rej.Reason != tt.wantReason {
				t.Errorf("ValidateBid() reason = %q, want %q", rej.Reason, tt.wantReason)
			}
		})
	}
}

func TestBidRejectedError(t *testing.T) {
	err := &BidRejectedError{Reason: ReasonSellerBid}
	if got := err.Error(); got != ReasonSellerBid {
		t.Errorf("Error() = %q, want %q", got, ReasonSellerBid)
	}

	err = &BidRejectedError{Reason: ReasonBelowMinIncrement, MinNext: decimal.NewFromFloat(65.5)}
	want := "bid is below the minimum increment (minimum next bid: 65.50)"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestSoftCloseDeadline(t *testing.T) {
	now := time.Now().UTC()
	auc := Auction{
		EndsAt:             now.Add(time.Minute),
		SoftCloseWindow:    2 * time.Minute,
		SoftCloseExtension: 3 * time.Minute,
	}

	t.Run("within the window", func(t *testing.T) {
		end, extended := SoftCloseDeadline(auc, now)
		if !extended {
			t.Fatal("SoftCloseDeadline() not extended, want extension")
		}
		if want := auc.EndsAt.Add(3 * time.Minute); !end.Equal(want) {
			t.Errorf("SoftCloseDeadline() = %v, want %v", end, want)
		}
	})

	t.Run("outside the window", func(t *testing.T) {
		far := auc
		far.EndsAt = now.Add(time.Hour)
		end, extended := SoftCloseDeadline(far, now)
		if extended || !end.Equal(far.EndsAt) {
			t.Errorf("SoftCloseDeadline() = (%v, %v), want unchanged end", end, extended)
		}
	})

	t.Run("soft close disabled", func(t *testing.T) {
		off := auc
		off.SoftCloseWindow = 0
		end, extended := SoftCloseDeadline(off, now)
		if extended || !end.Equal(off.EndsAt) {
			t.Errorf("SoftCloseDeadline() = (%v, %v), want unchanged end", end, extended)
		}
	})
}
