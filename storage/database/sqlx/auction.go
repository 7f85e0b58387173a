package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/mnada/core"
	"github.com/trezcool/mnada/core/auction"
)

type auctionRow struct {
	ID                 string          `db:"id"`
	SchoolID           string          `db:"school_id"`
	Title              string          `db:"title"`
	Description        string          `db:"description"`
	Status             string          `db:"status"`
	RejectReason       string          `db:"reject_reason"`
	StartsAt           time.Time       `db:"starts_at"`
	EndsAt             time.Time       `db:"ends_at"`
	MinIncrement       decimal.Decimal `db:"min_increment"`
	SoftCloseWindow    int64           `db:"soft_close_window"`    // seconds
	SoftCloseExtension int64           `db:"soft_close_extension"` // seconds
	CreatedBy          string          `db:"created_by"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

func (r auctionRow) toAuction() auction.Auction {
	return auction.Auction{
		ID:                 r.ID,
		SchoolID:           r.SchoolID,
		Title:              r.Title,
		Description:        r.Description,
		Status:             auction.Status(r.Status),
		RejectReason:       r.RejectReason,
		StartsAt:           r.StartsAt.UTC(),
		EndsAt:             r.EndsAt.UTC(),
		MinIncrement:       r.MinIncrement,
		SoftCloseWindow:    time.Duration(r.SoftCloseWindow) * time.Second,
		SoftCloseExtension: time.Duration(r.SoftCloseExtension) * time.Second,
		CreatedBy:          r.CreatedBy,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

type artworkRow struct {
	ID            string          `db:"id"`
	AuctionID     string          `db:"auction_id"`
	Title         string          `db:"title"`
	ArtistName    string          `db:"artist_name"`
	Description   string          `db:"description"`
	ImageURL      string          `db:"image_url"`
	StartingPrice decimal.Decimal `db:"starting_price"`
	CurrentPrice  decimal.Decimal `db:"current_price"`
	LeaderID      sql.NullString  `db:"leader_id"`
	BidCount      int             `db:"bid_count"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

func (r artworkRow) toArtwork() auction.Artwork {
	return auction.Artwork{
		ID:            r.ID,
		AuctionID:     r.AuctionID,
		Title:         r.Title,
		ArtistName:    r.ArtistName,
		Description:   r.Description,
		ImageURL:      r.ImageURL,
		StartingPrice: r.StartingPrice,
		CurrentPrice:  r.CurrentPrice,
		LeaderID:      r.LeaderID.String,
		BidCount:      r.BidCount,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

type bidRow struct {
	ID        string          `db:"id"`
	ArtworkID string          `db:"artwork_id"`
	BidderID  string          `db:"bidder_id"`
	Amount    decimal.Decimal `db:"amount"`
	Accepted  bool            `db:"accepted"`
	Reason    string          `db:"reason"`
	CreatedAt time.Time       `db:"created_at"`
}

func (r bidRow) toBid() auction.Bid {
	return auction.Bid{
		ID:        r.ID,
		ArtworkID: r.ArtworkID,
		BidderID:  r.BidderID,
		Amount:    r.Amount,
		Accepted:  r.Accepted,
		Reason:    r.Reason,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

const (
	auctionColumns = `id, school_id, title, description, status, reject_reason, starts_at, ends_at,
		min_increment, soft_close_window, soft_close_extension, created_by, created_at, updated_at`
	artworkColumns = `id, auction_id, title, artist_name, description, image_url,
		starting_price, current_price, leader_id, bid_count, created_at, updated_at`
	bidColumns = `id, artwork_id, bidder_id, amount, accepted, reason, created_at`
)

type auctionRepository struct {
	db *sqlx.DB
}

var _ auction.Repository = (*auctionRepository)(nil) // interface compliance check

func NewAuctionRepository(db *sqlx.DB) *auctionRepository {
	return &auctionRepository{db: db}
}

func trapAuctionNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return auction.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

// Auctions

func (repo auctionRepository) CreateAuction(ctx context.Context, auc auction.Auction) (auction.Auction, error) {
	auc.ID = uuid.New().String()

	q := `
	INSERT INTO auction (id, school_id, title, description, status, reject_reason, starts_at, ends_at,
		min_increment, soft_close_window, soft_close_extension, created_by, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err := repo.db.ExecContext(ctx, q,
		auc.ID, auc.SchoolID, auc.Title, auc.Description, string(auc.Status), auc.RejectReason,
		auc.StartsAt, auc.EndsAt, auc.MinIncrement,
		int64(auc.SoftCloseWindow/time.Second), int64(auc.SoftCloseExtension/time.Second),
		auc.CreatedBy, auc.CreatedAt, auc.UpdatedAt,
	)
	if err != nil {
		return auction.Auction{}, errors.Wrap(err, "inserting auction")
	}
	return auc, nil
}

func (repo auctionRepository) GetAuctionByID(ctx context.Context, id string) (auction.Auction, error) {
	var row auctionRow
	q := fmt.Sprintf(`SELECT %s FROM auction WHERE id = $1`, auctionColumns)
	if err := repo.db.GetContext(ctx, &row, q, id); err != nil {
		return auction.Auction{}, trapAuctionNoRowsErr(err, "getting auction by ID")
	}
	return row.toAuction(), nil
}

func (repo auctionRepository) QueryAuctions(ctx context.Context, filter *auction.QueryFilter, ordering ...core.DBOrdering) ([]auction.Auction, error) {
	var conds []string
	var args []interface{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter != nil {
		if filter.SchoolID != "" {
			conds = append(conds, "school_id = "+arg(filter.SchoolID))
		}
		if len(filter.Statuses) > 0 {
			statuses := make([]string, 0, len(filter.Statuses))
			for _, s := range filter.Statuses {
				statuses = append(statuses, string(s))
			}
			conds = append(conds, "status = ANY("+arg(pq.Array(statuses))+")")
		}
	}

	q := fmt.Sprintf(`SELECT %s FROM auction`, auctionColumns)
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += orderBy(ordering, "starts_at DESC")

	var rows []auctionRow
	if err := repo.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "querying auctions")
	}

	aucs := make([]auction.Auction, 0, len(rows))
	for _, row := range rows {
		aucs = append(aucs, row.toAuction())
	}
	return aucs, nil
}

func (repo auctionRepository) UpdateAuction(ctx context.Context, auc auction.Auction) (auction.Auction, error) {
	q := fmt.Sprintf(`
	UPDATE auction
	SET title = $1, description = $2, starts_at = $3, ends_at = $4, min_increment = $5, updated_at = $6
	WHERE id = $7
	RETURNING %s`, auctionColumns)

	var row auctionRow
	err := repo.db.GetContext(ctx, &row, q,
		auc.Title, auc.Description, auc.StartsAt, auc.EndsAt, auc.MinIncrement, auc.UpdatedAt, auc.ID)
	if err != nil {
		return auction.Auction{}, trapAuctionNoRowsErr(err, "updating auction")
	}
	return row.toAuction(), nil
}

func (repo auctionRepository) TransitionAuction(ctx context.Context, id string, from, to auction.Status, rejectReason string) (auction.Auction, error) {
	q := fmt.Sprintf(`
	UPDATE auction
	SET status = $1, reject_reason = $2, updated_at = $3
	WHERE id = $4 AND status = $5
	RETURNING %s`, auctionColumns)

	var row auctionRow
	err := repo.db.GetContext(ctx, &row, q, string(to), rejectReason, time.Now().UTC(), id, string(from))
	if err != nil {
		if err == sql.ErrNoRows {
			return auction.Auction{}, auction.ErrTransitionConflict
		}
		return auction.Auction{}, errors.Wrap(err, "transitioning auction")
	}
	return row.toAuction(), nil
}

func (repo auctionRepository) CancelAuction(ctx context.Context, id string) (auction.Auction, error) {
	q := fmt.Sprintf(`
	UPDATE auction
	SET status = $1, updated_at = $2
	WHERE id = $3 AND status NOT IN ($4, $5)
	RETURNING %s`, auctionColumns)

	var row auctionRow
	err := repo.db.GetContext(ctx, &row, q,
		string(auction.StatusCancelled), time.Now().UTC(), id,
		string(auction.StatusEnded), string(auction.StatusCancelled))
	if err != nil {
		if err == sql.ErrNoRows {
			// disambiguate: missing vs already terminal
			if _, gerr := repo.GetAuctionByID(ctx, id); gerr != nil {
				return auction.Auction{}, gerr
			}
			return auction.Auction{}, auction.ErrTransitionConflict
		}
		return auction.Auction{}, errors.Wrap(err, "cancelling auction")
	}
	return row.toAuction(), nil
}

func (repo auctionRepository) sweepTransition(ctx context.Context, from, to auction.Status, timeCol string, now time.Time) ([]auction.Auction, error) {
	q := fmt.Sprintf(`
	UPDATE auction
	SET status = $1, updated_at = $2
	WHERE status = $3 AND %s <= $4
	RETURNING %s`, timeCol, auctionColumns)

	var rows []auctionRow
	err := repo.db.SelectContext(ctx, &rows, q, string(to), now, string(from), now)
	if err != nil {
		return nil, errors.Wrapf(err, "sweeping auctions %s → %s", from, to)
	}

	aucs := make([]auction.Auction, 0, len(rows))
	for _, row := range rows {
		aucs = append(aucs, row.toAuction())
	}
	return aucs, nil
}

func (repo auctionRepository) StartDueAuctions(ctx context.Context, now time.Time) ([]auction.Auction, error) {
	return repo.sweepTransition(ctx, auction.StatusApproved, auction.StatusLive, "starts_at", now)
}

func (repo auctionRepository) EndDueAuctions(ctx context.Context, now time.Time) ([]auction.Auction, error) {
	return repo.sweepTransition(ctx, auction.StatusLive, auction.StatusEnded, "ends_at", now)
}

// Artworks

func (repo auctionRepository) CreateArtwork(ctx context.Context, art auction.Artwork) (auction.Artwork, error) {
	art.ID = uuid.New().String()

	q := `
	INSERT INTO artwork (id, auction_id, title, artist_name, description, image_url,
		starting_price, current_price, leader_id, bid_count, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := repo.db.ExecContext(ctx, q,
		art.ID, art.AuctionID, art.Title, art.ArtistName, art.Description, art.ImageURL,
		art.StartingPrice, art.CurrentPrice, nullStr(art.LeaderID), art.BidCount,
		art.CreatedAt, art.UpdatedAt,
	)
	if err != nil {
		return auction.Artwork{}, errors.Wrap(err, "inserting artwork")
	}
	return art, nil
}

func (repo auctionRepository) GetArtworkByID(ctx context.Context, id string) (auction.Artwork, error) {
	var row artworkRow
	q := fmt.Sprintf(`SELECT %s FROM artwork WHERE id = $1`, artworkColumns)
	if err := repo.db.GetContext(ctx, &row, q, id); err != nil {
		if err == sql.ErrNoRows {
			return auction.Artwork{}, auction.ErrArtworkNotFound
		}
		return auction.Artwork{}, errors.Wrap(err, "getting artwork by ID")
	}
	return row.toArtwork(), nil
}

func (repo auctionRepository) QueryArtworksByAuction(ctx context.Context, auctionID string) ([]auction.Artwork, error) {
	q := fmt.Sprintf(`SELECT %s FROM artwork WHERE auction_id = $1 ORDER BY created_at ASC`, artworkColumns)

	var rows []artworkRow
	if err := repo.db.SelectContext(ctx, &rows, q, auctionID); err != nil {
		return nil, errors.Wrap(err, "querying artworks")
	}

	arts := make([]auction.Artwork, 0, len(rows))
	for _, row := range rows {
		arts = append(arts, row.toArtwork())
	}
	return arts, nil
}

func (repo auctionRepository) UpdateArtwork(ctx context.Context, art auction.Artwork) (auction.Artwork, error) {
	q := fmt.Sprintf(`
	UPDATE artwork
	SET title = $1, artist_name = $2, description = $3, image_url = $4, starting_price = $5, updated_at = $6
	WHERE id = $7
	RETURNING %s`, artworkColumns)

	var row artworkRow
	err := repo.db.GetContext(ctx, &row, q,
		art.Title, art.ArtistName, art.Description, art.ImageURL, art.StartingPrice, art.UpdatedAt, art.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return auction.Artwork{}, auction.ErrArtworkNotFound
		}
		return auction.Artwork{}, errors.Wrap(err, "updating artwork")
	}
	return row.toArtwork(), nil
}

func (repo auctionRepository) DeleteArtworksByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := repo.db.ExecContext(ctx, `DELETE FROM artwork WHERE id = ANY($1)`, pq.Array(ids))
	return errors.Wrap(err, "deleting artworks")
}

// Bidding

// PlaceBid locks the artwork and auction rows, validates the bid and applies
// all resulting updates in a single transaction. Rejected bids are persisted
// for the audit trail and reported as *auction.BidRejectedError.
func (repo auctionRepository) PlaceBid(ctx context.Context, artworkID, bidderID string, amount decimal.Decimal, now time.Time) (auction.BidResult, error) {
	var res auction.BidResult

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return res, errors.Wrap(err, "beginning bid transaction")
	}
	defer func() { _ = tx.Rollback() }()

	// lock the artwork row; current_price cannot move until we commit
	var artRow artworkRow
	q := fmt.Sprintf(`SELECT %s FROM artwork WHERE id = $1 FOR UPDATE`, artworkColumns)
	if err = tx.GetContext(ctx, &artRow, q, artworkID); err != nil {
		if err == sql.ErrNoRows {
			return res, auction.ErrArtworkNotFound
		}
		return res, errors.Wrap(err, "locking artwork")
	}
	art := artRow.toArtwork()

	// lock the auction row too; ends_at may be extended below
	var aucRow auctionRow
	q = fmt.Sprintf(`SELECT %s FROM auction WHERE id = $1 FOR UPDATE`, auctionColumns)
	if err = tx.GetContext(ctx, &aucRow, q, art.AuctionID); err != nil {
		return res, trapAuctionNoRowsErr(err, "locking auction")
	}
	auc := aucRow.toAuction()

	res.Auction = auc
	res.Artwork = art

	insertBid := func(accepted bool, reason string) (auction.Bid, error) {
		bid := auction.Bid{
			ID:        uuid.New().String(),
			ArtworkID: art.ID,
			BidderID:  bidderID,
			Amount:    amount,
			Accepted:  accepted,
			Reason:    reason,
			CreatedAt: now,
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO bid (id, artwork_id, bidder_id, amount, accepted, reason, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			bid.ID, bid.ArtworkID, bid.BidderID, bid.Amount, bid.Accepted, bid.Reason, bid.CreatedAt)
		return bid, errors.Wrap(err, "inserting bid")
	}

	if rej := auction.ValidateBid(auc, art, bidderID, amount, now); rej != nil {
		if res.Bid, err = insertBid(false, rej.Reason); err != nil {
			return res, err
		}
		if err = tx.Commit(); err != nil {
			return res, errors.Wrap(err, "committing rejected bid")
		}
		return res, rej
	}

	res.PrevLeaderID = art.LeaderID

	if res.Bid, err = insertBid(true, ""); err != nil {
		return res, err
	}

	q = fmt.Sprintf(`
	UPDATE artwork
	SET current_price = $1, leader_id = $2, bid_count = bid_count + 1, updated_at = $3
	WHERE id = $4
	RETURNING %s`, artworkColumns)
	if err = tx.GetContext(ctx, &artRow, q, amount, bidderID, now, art.ID); err != nil {
		return res, errors.Wrap(err, "updating artwork price")
	}
	res.Artwork = artRow.toArtwork()

	if newEnd, extended := auction.SoftCloseDeadline(auc, now); extended {
		if _, err = tx.ExecContext(ctx,
			`UPDATE auction SET ends_at = $1, updated_at = $2 WHERE id = $3`, newEnd, now, auc.ID); err != nil {
			return res, errors.Wrap(err, "extending auction")
		}
		res.Auction.EndsAt = newEnd
		res.Extended = true
	}

	if err = tx.Commit(); err != nil {
		return res, errors.Wrap(err, "committing bid")
	}
	return res, nil
}

func (repo auctionRepository) QueryBidsByArtwork(ctx context.Context, artworkID string) ([]auction.Bid, error) {
	q := fmt.Sprintf(`SELECT %s FROM bid WHERE artwork_id = $1 ORDER BY created_at DESC`, bidColumns)

	var rows []bidRow
	if err := repo.db.SelectContext(ctx, &rows, q, artworkID); err != nil {
		return nil, errors.Wrap(err, "querying bids")
	}

	bids := make([]auction.Bid, 0, len(rows))
	for _, row := range rows {
		bids = append(bids, row.toBid())
	}
	return bids, nil
}
