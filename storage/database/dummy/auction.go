package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trezcool/mnada/core"
	"github.com/trezcool/mnada/core/auction"
)

type auctionRepository struct {
	db *auctionTable
}

var _ auction.Repository = (*auctionRepository)(nil) // interface compliance check

func NewAuctionRepository(db *DB) auction.Repository {
	return &auctionRepository{db: db.auction}
}

// Auctions

func (repo *auctionRepository) CreateAuction(_ context.Context, auc auction.Auction) (auction.Auction, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	auc.ID = uuid.New().String()
	repo.db.auctions[auc.ID] = &auc
	return auc, nil
}

func (repo *auctionRepository) GetAuctionByID(_ context.Context, id string) (auction.Auction, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if auc, ok := repo.db.auctions[id]; ok {
		return *auc, nil
	}
	return auction.Auction{}, auction.ErrNotFound
}

func (repo *auctionRepository) QueryAuctions(_ context.Context, filter *auction.QueryFilter, _ ...core.DBOrdering) ([]auction.Auction, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	aucs := make([]auction.Auction, 0, len(repo.db.auctions))
	for _, auc := range repo.db.auctions {
		if filter != nil {
			if filter.SchoolID != "" && auc.SchoolID != filter.SchoolID {
				continue
			}
			if len(filter.Statuses) > 0 {
				var match bool
				for _, s := range filter.Statuses {
					if auc.Status == s {
						match = true
						break
					}
				}
				if !match {
					continue
				}
			}
		}
		aucs = append(aucs, *auc)
	}
	sort.Slice(aucs, func(i, j int) bool { return aucs[i].StartsAt.After(aucs[j].StartsAt) })
	return aucs, nil
}

func (repo *auctionRepository) UpdateAuction(_ context.Context, auc auction.Auction) (auction.Auction, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.auctions[auc.ID]
	if !ok {
		return auction.Auction{}, auction.ErrNotFound
	}
	orig.Title = auc.Title
	orig.Description = auc.Description
	orig.StartsAt = auc.StartsAt
	orig.EndsAt = auc.EndsAt
	orig.MinIncrement = auc.MinIncrement
	orig.UpdatedAt = auc.UpdatedAt
	return *orig, nil
}

func (repo *auctionRepository) TransitionAuction(_ context.Context, id string, from, to auction.Status, rejectReason string) (auction.Auction, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	auc, ok := repo.db.auctions[id]
	if !ok || auc.Status != from {
		return auction.Auction{}, auction.ErrTransitionConflict
	}
	auc.Status = to
	auc.RejectReason = rejectReason
	auc.UpdatedAt = time.Now().UTC()
	return *auc, nil
}

func (repo *auctionRepository) CancelAuction(_ context.Context, id string) (auction.Auction, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	auc, ok := repo.db.auctions[id]
	if !ok {
		return auction.Auction{}, auction.ErrNotFound
	}
	if auc.Status.Terminal() {
		return auction.Auction{}, auction.ErrTransitionConflict
	}
	auc.Status = auction.StatusCancelled
	auc.UpdatedAt = time.Now().UTC()
	return *auc, nil
}

func (repo *auctionRepository) sweepTransition(from, to auction.Status, due func(auction.Auction) bool) []auction.Auction {
	repo.db.Lock()
	defer repo.db.Unlock()

	var swept []auction.Auction
	for _, auc := range repo.db.auctions {
		if auc.Status == from && due(*auc) {
			auc.Status = to
			auc.UpdatedAt = time.Now().UTC()
			swept = append(swept, *auc)
		}
	}
	return swept
}

func (repo *auctionRepository) StartDueAuctions(_ context.Context, now time.Time) ([]auction.Auction, error) {
	return repo.sweepTransition(auction.StatusApproved, auction.StatusLive,
		func(a auction.Auction) bool { return !a.StartsAt.After(now) }), nil
}

func (repo *auctionRepository) EndDueAuctions(_ context.Context, now time.Time) ([]auction.Auction, error) {
	return repo.sweepTransition(auction.StatusLive, auction.StatusEnded,
		func(a auction.Auction) bool { return !a.EndsAt.After(now) }), nil
}

// Artworks

func (repo *auctionRepository) CreateArtwork(_ context.Context, art auction.Artwork) (auction.Artwork, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	art.ID = uuid.New().String()
	repo.db.artworks[art.ID] = &art
	return art, nil
}

func (repo *auctionRepository) GetArtworkByID(_ context.Context, id string) (auction.Artwork, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if art, ok := repo.db.artworks[id]; ok {
		return *art, nil
	}
	return auction.Artwork{}, auction.ErrArtworkNotFound
}

func (repo *auctionRepository) QueryArtworksByAuction(_ context.Context, auctionID string) ([]auction.Artwork, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var arts []auction.Artwork
	for _, art := range repo.db.artworks {
		if art.AuctionID == auctionID {
			arts = append(arts, *art)
		}
	}
	sort.Slice(arts, func(i, j int) bool { return arts[i].CreatedAt.Before(arts[j].CreatedAt) })
	return arts, nil
}

func (repo *auctionRepository) UpdateArtwork(_ context.Context, art auction.Artwork) (auction.Artwork, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	orig, ok := repo.db.artworks[art.ID]
	if !ok {
		return auction.Artwork{}, auction.ErrArtworkNotFound
	}
	orig.Title = art.Title
	orig.ArtistName = art.ArtistName
	orig.Description = art.Description
	orig.ImageURL = art.ImageURL
	orig.StartingPrice = art.StartingPrice
	orig.UpdatedAt = art.UpdatedAt
	return *orig, nil
}

func (repo *auctionRepository) DeleteArtworksByID(_ context.Context, ids ...string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	for _, id := range ids {
		delete(repo.db.artworks, id)
	}
	return nil
}

// Bidding

func (repo *auctionRepository) PlaceBid(_ context.Context, artworkID, bidderID string, amount decimal.Decimal, now time.Time) (auction.BidResult, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	var res auction.BidResult

	art, ok := repo.db.artworks[artworkID]
	if !ok {
		return res, auction.ErrArtworkNotFound
	}
	auc, ok := repo.db.auctions[art.AuctionID]
	if !ok {
		return res, auction.ErrNotFound
	}

	res.Auction = *auc
	res.Artwork = *art

	insertBid := func(accepted bool, reason string) auction.Bid {
		bid := auction.Bid{
			ID:        uuid.New().String(),
			ArtworkID: art.ID,
			BidderID:  bidderID,
			Amount:    amount,
			Accepted:  accepted,
			Reason:    reason,
			CreatedAt: now,
		}
		repo.db.bids[bid.ID] = &bid
		return bid
	}

	if rej := auction.ValidateBid(*auc, *art, bidderID, amount, now); rej != nil {
		res.Bid = insertBid(false, rej.Reason)
		return res, rej
	}

	res.PrevLeaderID = art.LeaderID
	res.Bid = insertBid(true, "")

	art.CurrentPrice = amount
	art.LeaderID = bidderID
	art.BidCount++
	art.UpdatedAt = now
	res.Artwork = *art

	if newEnd, extended := auction.SoftCloseDeadline(*auc, now); extended {
		auc.EndsAt = newEnd
		auc.UpdatedAt = now
		res.Auction.EndsAt = newEnd
		res.Extended = true
	}
	return res, nil
}

func (repo *auctionRepository) QueryBidsByArtwork(_ context.Context, artworkID string) ([]auction.Bid, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var bids []auction.Bid
	for _, bid := range repo.db.bids {
		if bid.ArtworkID == artworkID {
			bids = append(bids, *bid)
		}
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].CreatedAt.After(bids[j].CreatedAt) })
	return bids, nil
}
