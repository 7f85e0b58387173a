package auction

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trezcool/mnada/core"
)

// Status is an Auction's lifecycle state.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusLive            Status = "LIVE"
	StatusEnded           Status = "ENDED"
	StatusCancelled       Status = "CANCELLED"
)

// lifecycle edges; terminal states have no outgoing edge except none.
var transitions = map[Status][]Status{
	StatusDraft:           {StatusPendingApproval, StatusCancelled},
	StatusPendingApproval: {StatusApproved, StatusDraft, StatusCancelled},
	StatusApproved:        {StatusLive, StatusCancelled},
	StatusLive:            {StatusEnded, StatusCancelled},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool { return s == StatusEnded || s == StatusCancelled }

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingApproval, StatusApproved, StatusLive, StatusEnded, StatusCancelled:
		return true
	}
	return false
}

var (
	// errors
	ErrNotFound        = errors.New("auction not found")
	ErrArtworkNotFound = errors.New("artwork not found")

	ErrInvalidTransition = errors.New("invalid auction status transition")
	// ErrTransitionConflict is returned by repositories when a guarded
	// transition UPDATE matched no row (the status changed concurrently).
	ErrTransitionConflict = errors.New("auction status changed concurrently")

	ErrNotEditable = errors.New("auction can only be edited while in draft")
)

type Auction struct {
	ID                 string          `json:"id"`
	SchoolID           string          `json:"school_id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Status             Status          `json:"status"`
	RejectReason       string          `json:"reject_reason,omitempty"`
	StartsAt           time.Time       `json:"starts_at"` // UTC
	EndsAt             time.Time       `json:"ends_at"`   // UTC
	MinIncrement       decimal.Decimal `json:"min_increment"`
	SoftCloseWindow    time.Duration   `json:"soft_close_window"`
	SoftCloseExtension time.Duration   `json:"soft_close_extension"`
	CreatedBy          string          `json:"created_by"`
	CreatedAt          time.Time       `json:"created_at"` // UTC
	UpdatedAt          time.Time       `json:"updated_at"` // UTC
}

type Artwork struct {
	ID            string          `json:"id"`
	AuctionID     string          `json:"auction_id"`
	Title         string          `json:"title"`
	ArtistName    string          `json:"artist_name"`
	Description   string          `json:"description"`
	ImageURL      string          `json:"image_url,omitempty"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	LeaderID      string          `json:"leader_id,omitempty"`
	BidCount      int             `json:"bid_count"`
	CreatedAt     time.Time       `json:"created_at"` // UTC
	UpdatedAt     time.Time       `json:"updated_at"` // UTC
}

type Bid struct {
	ID        string          `json:"id"`
	ArtworkID string          `json:"artwork_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	Accepted  bool            `json:"accepted"`
	Reason    string          `json:"reason,omitempty"`
	CreatedAt time.Time       `json:"created_at"` // UTC
}

// NewAuction contains information needed to create a new Auction (as DRAFT).
type NewAuction struct {
	SchoolID     string          `json:"school_id" validate:"required"`
	Title        string          `json:"title" validate:"required"`
	Description  string          `json:"description"`
	StartsAt     time.Time       `json:"starts_at" validate:"required"`
	EndsAt       time.Time       `json:"ends_at" validate:"required,gtfield=StartsAt"`
	MinIncrement decimal.Decimal `json:"min_increment" validate:"omitempty,decimalgt0"`
}

func (na *NewAuction) Validate(svc *Service) error {
	na.Title = core.CleanString(na.Title)
	na.Description = core.CleanString(na.Description)
	return svc.validate.Struct(na)
}

// UpdateAuction defines what may be modified on a DRAFT Auction.
type UpdateAuction struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	StartsAt     time.Time       `json:"starts_at"`
	EndsAt       time.Time       `json:"ends_at"`
	MinIncrement decimal.Decimal `json:"min_increment" validate:"omitempty,decimalgt0"`
}

func (ua *UpdateAuction) Validate(orig Auction, svc *Service) error {
	if title := core.CleanString(ua.Title); title != "" {
		ua.Title = title
	} else {
		ua.Title = orig.Title
	}
	ua.Description = core.CleanString(ua.Description)

	if ua.StartsAt.IsZero() {
		ua.StartsAt = orig.StartsAt
	}
	if ua.EndsAt.IsZero() {
		ua.EndsAt = orig.EndsAt
	}
	if ua.MinIncrement.IsZero() {
		ua.MinIncrement = orig.MinIncrement
	}

	if err := svc.validate.Struct(ua); err != nil {
		return err
	}
	if !ua.EndsAt.After(ua.StartsAt) {
		return core.NewValidationError(nil, core.FieldError{Field: "ends_at", Error: "must be after starts_at"})
	}
	return nil
}

// NewArtwork contains information needed to add an Artwork to a DRAFT Auction.
type NewArtwork struct {
	Title         string          `json:"title" validate:"required"`
	ArtistName    string          `json:"artist_name" validate:"required"`
	Description   string          `json:"description"`
	ImageURL      string          `json:"image_url" validate:"omitempty,url"`
	StartingPrice decimal.Decimal `json:"starting_price" validate:"required,decimalgt0"`
}

func (na *NewArtwork) Validate(svc *Service) error {
	na.Title = core.CleanString(na.Title)
	na.ArtistName = core.CleanString(na.ArtistName)
	na.Description = core.CleanString(na.Description)
	return svc.validate.Struct(na)
}

// UpdateArtwork defines what may be modified on an Artwork of a DRAFT Auction.
type UpdateArtwork struct {
	Title         string          `json:"title"`
	ArtistName    string          `json:"artist_name"`
	Description   string          `json:"description"`
	ImageURL      string          `json:"image_url" validate:"omitempty,url"`
	StartingPrice decimal.Decimal `json:"starting_price" validate:"omitempty,decimalgt0"`
}

func (ua *UpdateArtwork) Validate(orig Artwork, svc *Service) error {
	if title := core.CleanString(ua.Title); title != "" {
		ua.Title = title
	} else {
		ua.Title = orig.Title
	}
	if artist := core.CleanString(ua.ArtistName); artist != "" {
		ua.ArtistName = artist
	} else {
		ua.ArtistName = orig.ArtistName
	}
	ua.Description = core.CleanString(ua.Description)
	if ua.StartingPrice.IsZero() {
		ua.StartingPrice = orig.StartingPrice
	}
	return svc.validate.Struct(ua)
}

// NewBid contains information needed to place a bid on an Artwork.
type NewBid struct {
	Amount decimal.Decimal `json:"amount" validate:"required,decimalgt0"`
}

func (nb *NewBid) Validate(svc *Service) error { return svc.validate.Struct(nb) }

type QueryFilter struct {
	SchoolID string   `query:"school_id"`
	Statuses []Status `query:"status"`
}

func (qf *QueryFilter) IsEmpty() bool { return qf.SchoolID == "" && len(qf.Statuses) == 0 }

// Bid rejection

// BidRejectedError carries the reason a bid was refused; rejected bids are
// still persisted for the audit trail.
type BidRejectedError struct {
	Reason  string
	MinNext decimal.Decimal
}

func (e *BidRejectedError) Error() string {
	if e.MinNext.IsPositive() {
		return fmt.Sprintf("%s (minimum next bid: %s)", e.Reason, e.MinNext.StringFixed(2))
	}
	return e.Reason
}

// rejection reasons (persisted on the bid row)
const (
	ReasonAuctionNotLive    = "auction is not live"
	ReasonAuctionClosed     = "auction has closed"
	ReasonSellerBid         = "the auction owner cannot bid on their own artworks"
	ReasonBelowMinIncrement = "bid is below the minimum increment"
)

// MinNextBid is the lowest acceptable bid amount for an artwork.
func MinNextBid(auc Auction, art Artwork) decimal.Decimal {
	if art.BidCount == 0 {
		return art.StartingPrice
	}
	return art.CurrentPrice.Add(auc.MinIncrement)
}

// ValidateBid applies the bidding rules. It MUST be called with the artwork
// row locked so that CurrentPrice cannot move under our feet.
func ValidateBid(auc Auction, art Artwork, bidderID string, amount decimal.Decimal, now time.Time) *BidRejectedError {
	if auc.Status != StatusLive {
		return &BidRejectedError{Reason: ReasonAuctionNotLive}
	}
	if now.After(auc.EndsAt) {
		return &BidRejectedError{Reason: ReasonAuctionClosed}
	}
	if bidderID == auc.CreatedBy {
		return &BidRejectedError{Reason: ReasonSellerBid}
	}
	if min := MinNextBid(auc, art); amount.LessThan(min) {
		return &BidRejectedError{Reason: ReasonBelowMinIncrement, MinNext: min}
	}
	return nil
}

// SoftCloseDeadline reports whether an accepted bid at `now` falls within the
// soft-close window and, if so, the extended end time. The extension never
// shortens EndsAt.
func SoftCloseDeadline(auc Auction, now time.Time) (time.Time, bool) {
	if auc.SoftCloseWindow <= 0 || auc.SoftCloseExtension <= 0 {
		return auc.EndsAt, false
	}
	if auc.EndsAt.Sub(now) > auc.SoftCloseWindow {
		return auc.EndsAt, false
	}
	return auc.EndsAt.Add(auc.SoftCloseExtension), true
}
