package auction

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/mnada/core"
	"github.com/trezcool/mnada/core/notification"
	"github.com/trezcool/mnada/core/user"
)

type (
	// BidResult is everything a transactional bid placement produced;
	// the service fans it out to events and notifications.
	BidResult struct {
		Bid          Bid
		Artwork      Artwork
		Auction      Auction
		PrevLeaderID string
		Extended     bool
	}

	Repository interface {
		CreateAuction(ctx context.Context, auc Auction) (Auction, error)
		GetAuctionByID(ctx context.Context, id string) (Auction, error)
		QueryAuctions(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]Auction, error)
		// UpdateAuction only touches the DRAFT-editable fields.
		UpdateAuction(ctx context.Context, auc Auction) (Auction, error)
		// TransitionAuction performs a guarded status UPDATE (WHERE status = from);
		// it returns ErrTransitionConflict when no row matched.
		TransitionAuction(ctx context.Context, id string, from, to Status, rejectReason string) (Auction, error)
		// CancelAuction transitions any non-terminal auction to CANCELLED.
		CancelAuction(ctx context.Context, id string) (Auction, error)
		// StartDueAuctions flips APPROVED auctions whose StartsAt has passed to LIVE.
		StartDueAuctions(ctx context.Context, now time.Time) ([]Auction, error)
		// EndDueAuctions flips LIVE auctions whose EndsAt has passed to ENDED.
		EndDueAuctions(ctx context.Context, now time.Time) ([]Auction, error)

		CreateArtwork(ctx context.Context, art Artwork) (Artwork, error)
		GetArtworkByID(ctx context.Context, id string) (Artwork, error)
		QueryArtworksByAuction(ctx context.Context, auctionID string) ([]Artwork, error)
		UpdateArtwork(ctx context.Context, art Artwork) (Artwork, error)
		DeleteArtworksByID(ctx context.Context, ids ...string) error

		// PlaceBid runs the whole bid placement in one transaction with the
		// artwork row locked: validation, bid insert (accepted or rejected),
		// artwork price/leader update and soft-close extension.
		// A *BidRejectedError is returned for refused bids.
		PlaceBid(ctx context.Context, artworkID, bidderID string, amount decimal.Decimal, now time.Time) (BidResult, error)
		QueryBidsByArtwork(ctx context.Context, artworkID string) ([]Bid, error)
	}

	// UserDirectory is the thin slice of the user service needed to email
	// bidders about auction outcomes.
	UserDirectory interface {
		GetByID(ctx context.Context, id string) (user.User, error)
	}

	Service struct {
		repo      Repository
		publisher Publisher
		notifSvc  *notification.Service
		users     UserDirectory
		mailSvc   core.EmailService
		logger    core.Logger
		validate  *validator.Validate
	}
)

func NewService(
	repo Repository,
	publisher Publisher,
	notifSvc *notification.Service,
	users UserDirectory,
	mailSvc core.EmailService,
	logger core.Logger,
	validate *validator.Validate,
) *Service {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		notifSvc:  notifSvc,
		users:     users,
		mailSvc:   mailSvc,
		logger:    logger,
		validate:  validate,
	}
}

func (svc *Service) Create(ctx context.Context, na NewAuction, createdBy user.User) (Auction, error) {
	now := time.Now().UTC()
	minIncr := na.MinIncrement
	if minIncr.IsZero() {
		minIncr = core.Conf.Auction.DefaultMinIncrement
	}
	auc := Auction{
		SchoolID:           na.SchoolID,
		Title:              na.Title,
		Description:        na.Description,
		Status:             StatusDraft,
		StartsAt:           na.StartsAt.UTC(),
		EndsAt:             na.EndsAt.UTC(),
		MinIncrement:       minIncr,
		SoftCloseWindow:    core.Conf.Auction.SoftCloseWindow,
		SoftCloseExtension: core.Conf.Auction.SoftCloseExtension,
		CreatedBy:          createdBy.ID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return svc.repo.CreateAuction(ctx, auc)
}

func (svc *Service) Query(ctx context.Context, filter *QueryFilter, ordering ...core.DBOrdering) ([]Auction, error) {
	return svc.repo.QueryAuctions(ctx, filter, ordering...)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Auction, error) {
	return svc.repo.GetAuctionByID(ctx, id)
}

// Update modifies a DRAFT auction.
func (svc *Service) Update(ctx context.Context, orig Auction, ua UpdateAuction) (Auction, error) {
	if orig.Status != StatusDraft {
		return Auction{}, core.NewValidationError(ErrNotEditable)
	}
	auc := orig
	auc.Title = ua.Title
	auc.Description = ua.Description
	auc.StartsAt = ua.StartsAt.UTC()
	auc.EndsAt = ua.EndsAt.UTC()
	auc.MinIncrement = ua.MinIncrement
	auc.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateAuction(ctx, auc)
}

// Status transitions

func (svc *Service) transition(ctx context.Context, id string, to Status, rejectReason string) (Auction, error) {
	auc, err := svc.repo.GetAuctionByID(ctx, id)
	if err != nil {
		return Auction{}, err
	}
	if !auc.Status.CanTransitionTo(to) {
		return Auction{}, core.NewValidationError(
			fmt.Errorf("%w: %s → %s", ErrInvalidTransition, auc.Status, to))
	}
	auc, err = svc.repo.TransitionAuction(ctx, id, auc.Status, to, rejectReason)
	if err != nil {
		if err == ErrTransitionConflict {
			return Auction{}, core.NewValidationError(ErrInvalidTransition)
		}
		return Auction{}, err
	}
	svc.publishStatus(auc)
	return auc, nil
}

func (svc *Service) publishStatus(auc Auction) {
	svc.publisher.Publish(Event{
		Type:      EventStatusChanged,
		AuctionID: auc.ID,
		Payload:   StatusChangedPayload{Status: auc.Status},
	})
}

// Submit sends a DRAFT auction for approval.
func (svc *Service) Submit(ctx context.Context, id string) (Auction, error) {
	return svc.transition(ctx, id, StatusPendingApproval, "")
}

// Approve marks a PENDING_APPROVAL auction as APPROVED.
func (svc *Service) Approve(ctx context.Context, id string) (Auction, error) {
	return svc.transition(ctx, id, StatusApproved, "")
}

// Reject sends a PENDING_APPROVAL auction back to DRAFT with a reason.
func (svc *Service) Reject(ctx context.Context, id, reason string) (Auction, error) {
	return svc.transition(ctx, id, StatusDraft, core.CleanString(reason))
}

// GoLive manually starts an APPROVED auction.
func (svc *Service) GoLive(ctx context.Context, id string) (Auction, error) {
	auc, err := svc.transition(ctx, id, StatusLive, "")
	if err != nil {
		return Auction{}, err
	}
	svc.notify(ctx, auc.CreatedBy, notification.KindAuctionLive, auc)
	return auc, nil
}

// Cancel aborts any non-terminal auction.
func (svc *Service) Cancel(ctx context.Context, id string) (Auction, error) {
	auc, err := svc.repo.CancelAuction(ctx, id)
	if err != nil {
		if err == ErrTransitionConflict {
			return Auction{}, core.NewValidationError(ErrInvalidTransition)
		}
		return Auction{}, err
	}
	svc.publishStatus(auc)
	return auc, nil
}

// Artworks

func (svc *Service) AddArtwork(ctx context.Context, auc Auction, na NewArtwork) (Artwork, error) {
	if auc.Status != StatusDraft {
		return Artwork{}, core.NewValidationError(ErrNotEditable)
	}
	now := time.Now().UTC()
	art := Artwork{
		AuctionID:     auc.ID,
		Title:         na.Title,
		ArtistName:    na.ArtistName,
		Description:   na.Description,
		ImageURL:      na.ImageURL,
		StartingPrice: na.StartingPrice,
		CurrentPrice:  decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return svc.repo.CreateArtwork(ctx, art)
}

func (svc *Service) GetArtworkByID(ctx context.Context, id string) (Artwork, error) {
	return svc.repo.GetArtworkByID(ctx, id)
}

func (svc *Service) Artworks(ctx context.Context, auctionID string) ([]Artwork, error) {
	return svc.repo.QueryArtworksByAuction(ctx, auctionID)
}

func (svc *Service) UpdateArtwork(ctx context.Context, auc Auction, orig Artwork, ua UpdateArtwork) (Artwork, error) {
	if auc.Status != StatusDraft {
		return Artwork{}, core.NewValidationError(ErrNotEditable)
	}
	art := orig
	art.Title = ua.Title
	art.ArtistName = ua.ArtistName
	art.Description = ua.Description
	art.ImageURL = ua.ImageURL
	art.StartingPrice = ua.StartingPrice
	art.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateArtwork(ctx, art)
}

func (svc *Service) DeleteArtwork(ctx context.Context, auc Auction, id string) error {
	if auc.Status != StatusDraft {
		return core.NewValidationError(ErrNotEditable)
	}
	return svc.repo.DeleteArtworksByID(ctx, id)
}

// Bidding

// PlaceBid places a bid on behalf of the bidder and fans out the outcome.
func (svc *Service) PlaceBid(ctx context.Context, artworkID string, bidder user.User, nb NewBid) (Bid, error) {
	now := time.Now().UTC()
	res, err := svc.repo.PlaceBid(ctx, artworkID, bidder.ID, nb.Amount, now)
	if err != nil {
		if rej, ok := err.(*BidRejectedError); ok {
			svc.publisher.Publish(Event{
				Type:      EventBidRejected,
				AuctionID: res.Auction.ID,
				ArtworkID: artworkID,
				Payload: BidRejectedPayload{
					BidderID: bidder.ID,
					Amount:   nb.Amount,
					Reason:   rej.Reason,
					MinNext:  rej.MinNext,
				},
			})
			return Bid{}, core.NewValidationError(rej, core.FieldError{Field: "amount", Error: rej.Error()})
		}
		return Bid{}, err
	}

	svc.publisher.Publish(Event{
		Type:      EventBidAccepted,
		AuctionID: res.Auction.ID,
		ArtworkID: res.Artwork.ID,
		Payload: BidAcceptedPayload{
			BidID:        res.Bid.ID,
			BidderID:     res.Bid.BidderID,
			Amount:       res.Bid.Amount,
			BidCount:     res.Artwork.BidCount,
			EndsAt:       res.Auction.EndsAt,
			CurrentPrice: res.Artwork.CurrentPrice,
		},
	})
	if res.Extended {
		svc.publisher.Publish(Event{
			Type:      EventAuctionExtended,
			AuctionID: res.Auction.ID,
			Payload:   AuctionExtendedPayload{EndsAt: res.Auction.EndsAt},
		})
	}

	if res.PrevLeaderID != "" && res.PrevLeaderID != bidder.ID {
		svc.notify(ctx, res.PrevLeaderID, notification.KindOutbid, res.Artwork)
		svc.emailOutbid(ctx, res)
	}
	svc.notify(ctx, res.Auction.CreatedBy, notification.KindBidReceived, res.Artwork)

	return res.Bid, nil
}

func (svc *Service) Bids(ctx context.Context, artworkID string) ([]Bid, error) {
	return svc.repo.QueryBidsByArtwork(ctx, artworkID)
}

// Sweeper

// Sweep runs one pass of the scheduled transitions: due APPROVED auctions go
// LIVE and due LIVE auctions are ENDED (both idempotent UPDATEs). Ending an
// auction determines per-artwork winners and notifies them.
func (svc *Service) Sweep(ctx context.Context) error {
	now := time.Now().UTC()

	started, err := svc.repo.StartDueAuctions(ctx, now)
	if err != nil {
		return err
	}
	for _, auc := range started {
		svc.publishStatus(auc)
		svc.notify(ctx, auc.CreatedBy, notification.KindAuctionLive, auc)
	}

	ended, err := svc.repo.EndDueAuctions(ctx, now)
	if err != nil {
		return err
	}
	for _, auc := range ended {
		svc.publishStatus(auc)
		svc.notify(ctx, auc.CreatedBy, notification.KindAuctionEnded, auc)
		svc.notifyWinners(ctx, auc)
	}
	return nil
}

// RunSweeper runs Sweep on a ticker until ctx is cancelled.
func (svc *Service) RunSweeper(ctx context.Context) {
	interval := core.Conf.Auction.SweepInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := svc.Sweep(ctx); err != nil {
				svc.logger.Error(fmt.Sprintf("sweeping auctions: %v", err), err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (svc *Service) notifyWinners(ctx context.Context, auc Auction) {
	artworks, err := svc.repo.QueryArtworksByAuction(ctx, auc.ID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("querying artworks for ended auction %s: %v", auc.ID, err), err)
		return
	}
	for _, art := range artworks {
		if art.LeaderID == "" {
			continue
		}
		svc.notify(ctx, art.LeaderID, notification.KindAuctionWon, art)
		svc.emailWinner(ctx, auc, art)
	}
}

func (svc *Service) notify(ctx context.Context, userID string, kind notification.Kind, payload interface{}) {
	if svc.notifSvc == nil {
		return
	}
	if _, err := svc.notifSvc.Notify(ctx, notification.NewNotification{
		UserID:  userID,
		Kind:    kind,
		Payload: payload,
	}); err != nil {
		svc.logger.Error(fmt.Sprintf("queuing %s notification: %v", kind, err), err)
	}
}

func (svc *Service) emailOutbid(ctx context.Context, res BidResult) {
	usr, err := svc.users.GetByID(ctx, res.PrevLeaderID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("finding outbid user %s: %v", res.PrevLeaderID, err), err)
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "You have been outbid",
		TemplateName: "outbid",
		TemplateData: struct {
			Name         string
			ArtworkTitle string
			CurrentPrice string
		}{usr.Name, res.Artwork.Title, res.Artwork.CurrentPrice.StringFixed(2)},
	})
}

func (svc *Service) emailWinner(ctx context.Context, auc Auction, art Artwork) {
	usr, err := svc.users.GetByID(ctx, art.LeaderID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("finding winning user %s: %v", art.LeaderID, err), err)
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "You won an auction!",
		TemplateName: "auction_won",
		TemplateData: struct {
			Name         string
			ArtworkTitle string
			AuctionTitle string
			FinalPrice   string
		}{usr.Name, art.Title, auc.Title, art.CurrentPrice.StringFixed(2)},
	})
}
