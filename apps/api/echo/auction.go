package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mnada/core"
	"github.com/trezcool/mnada/core/auction"
	"github.com/trezcool/mnada/core/user"
)

var (
	errAucNotFoundInCtx = errors.New("auction object not found in echo.Context")

	// publicStatuses are the lifecycle states visible to anonymous browsers;
	// drafts and pending submissions stay private to their school.
	publicStatuses = []auction.Status{auction.StatusApproved, auction.StatusLive, auction.StatusEnded}
)

type auctionApi struct {
	svc      *auction.Service
	userSvc  *user.Service
	validate *validator.Validate
}

func registerAuctionAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := auctionApi{
		svc:      deps.AuctionSvc,
		userSvc:  deps.UserSvc,
		validate: deps.Validate,
	}

	aucg := g.Group("/auctions")

	// public browsing
	aucg.GET("", api.query)
	aucg.GET("/all", api.queryAll, jwt, fullAuthMiddleware(), adminMiddleware())
	aucg.POST("", api.create, jwt, fullAuthMiddleware(), staffMiddleware())

	// detail endpoints
	dg := aucg.Group("/:id", auctionObjectMiddleware(api.svc))
	dg.GET("", api.retrieve, configureOptionalAuth())
	dg.GET("/artworks", api.artworks, configureOptionalAuth())

	// owner/admin management
	og := dg.Group("", jwt, fullAuthMiddleware())
	og.PUT("", api.update)
	og.POST("/submit", api.submit)
	og.POST("/artworks", api.addArtwork)

	// moderation
	og.POST("/approve", api.approve, adminMiddleware())
	og.POST("/reject", api.reject, adminMiddleware())
	og.POST("/golive", api.goLive, adminMiddleware())
	og.POST("/cancel", api.cancel, adminMiddleware())

	// artworks & bids
	artg := g.Group("/artworks/:id", artworkObjectMiddleware(api.svc))
	artg.GET("", api.retrieveArtwork, configureOptionalAuth())
	artg.GET("/bids", api.bids, configureOptionalAuth())
	artg.PUT("", api.updateArtwork, jwt, fullAuthMiddleware())
	artg.DELETE("", api.destroyArtwork, jwt, fullAuthMiddleware())
	artg.POST("/bids", api.placeBid, jwt, fullAuthMiddleware())
}

// Handlers

func (api *auctionApi) query(ctx echo.Context) error {
	filter := new(auction.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []auction.Auction{})
	}

	// anonymous browsing only sees public lifecycle states
	if len(filter.Statuses) == 0 {
		filter.Statuses = publicStatuses
	} else {
		var statuses []auction.Status
		for _, s := range filter.Statuses {
			for _, pub := range publicStatuses {
				if s == pub {
					statuses = append(statuses, s)
					break
				}
			}
		}
		filter.Statuses = statuses
		if len(filter.Statuses) == 0 {
			return ctx.JSON(http.StatusOK, []auction.Auction{})
		}
	}

	ordering := new(Ordering)
	ordering.Bind(ctx)

	aucs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying auctions")
	}
	if aucs == nil {
		aucs = []auction.Auction{}
	}
	return ctx.JSON(http.StatusOK, aucs)
}

func (api *auctionApi) queryAll(ctx echo.Context) error {
	filter := new(auction.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []auction.Auction{})
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	aucs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings...)
	if err != nil {
		return errors.Wrap(err, "querying auctions")
	}
	if aucs == nil {
		aucs = []auction.Auction{}
	}
	return ctx.JSON(http.StatusOK, aucs)
}

func (api *auctionApi) create(ctx echo.Context) error {
	var data auction.NewAuction
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAuction")
	}
	if err := data.Validate(api.svc); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	// teachers can only run auctions for their own school
	if !ctxUsr.IsAdmin() && data.SchoolID != ctxUsr.SchoolID {
		return errHttpForbidden
	}

	auc, err := api.svc.Create(ctx.Request().Context(), data, ctxUsr)
	if err != nil {
		return errors.Wrap(err, "creating auction")
	}
	return ctx.JSON(http.StatusCreated, auc)
}

func (api *auctionApi) retrieve(ctx echo.Context) error {
	auc, ok := ctx.Get("object").(auction.Auction)
	if !ok {
		return errors.Wrap(errAucNotFoundInCtx, "retrieving object from context")
	}
	if err := api.checkVisibility(ctx, auc); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, auc)
}

func (api *auctionApi) update(ctx echo.Context) error {
	auc, ok := ctx.Get("object").(auction.Auction)
	if !ok {
		return errors.Wrap(errAucNotFoundInCtx, "retrieving object from context")
	}
	if err := api.checkOwnerOrAdmin(ctx, auc); err != nil {
		return err
	}

	var data auction.UpdateAuction
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateAuction")
	}
	if err := data.Validate(auc, api.svc); err != nil {
		return err
	}

	auc, err := api.svc.Update(ctx.Request().Context(), auc, data)
	if err != nil {
		return errors.Wrap(err, "updating auction")
	}
	return ctx.JSON(http.StatusOK, auc)
}

// Transitions

func (api *auctionApi) submit(ctx echo.Context) error {
	auc, ok := ctx.Get("object").(auction.Auction)
	if !ok {
		return errors.Wrap(errAucNotFoundInCtx, "retrieving object from context")
	}
	if err := api.checkOwnerOrAdmin(ctx, auc); err != nil {
		return err
	}

	auc, err := api.svc.Submit(ctx.Request().Context(), auc.ID)
	if err != nil {
		return errors.Wrap(err, "submitting auction")
	}
	return ctx.JSON(http.StatusOK, auc)
}

func (api *auctionApi) approve(ctx echo.Context) error {
	auc, ok := ctx.Get("object").(auction.Auction)
	if !ok {
		return errors.Wrap(errAucNotFoundInCtx, "retrieving object from context")
	}
	auc, err := api.svc.Approve(ctx.Request().Context(), auc.ID)
	if err != nil {
		return errors.Wrap(err, "approving auction")
	}
	return ctx.JSON(http.StatusOK, auc)
}

func (api *auctionApi) reject(ctx echo.Context) error {
	auc, ok := ctx.Get("object").(auction.Auction)
	if !ok {
		return errors.Wrap(errAucNotFoundInCtx, "retrieving object from context")
	}

	var data RejectRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RejectRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	auc, err := api.svc.Reject(ctx.Request().Context(), auc.ID, data.Reason)
	if err != nil {
		return errors.Wrap(err, "rejecting auction")
	}
	return ctx.JSON(http.StatusOK, auc)
}

func (api *auctionApi) goLive(ctx echo.Context) error {
	auc, ok := ctx.Get("object").(auction.Auction)
	if !ok {
		return errors.Wrap(errAucNotFoundInCtx, "retrieving object from context")
	}
	auc, err := api.svc.GoLive(ctx.Request().Context(), auc.ID)
	if err != nil {
		return errors.Wrap(err, "starting auction")
	}
	return ctx.JSON(http.StatusOK, auc)
}

func (api *auctionApi) cancel(ctx echo.Context) error {
	auc, ok := ctx.Get("object").(auction.Auction)
	if !ok {
		return errors.Wrap(errAucNotFoundInCtx, "retrieving object from context")
	}

	auc, err := api.svc.Cancel(ctx.Request().Context(), auc.ID)
	if err != nil {
		return errors.Wrap(err, "cancelling auction")
	}
	return ctx.JSON(http.StatusOK, auc)
}

// Artworks

func (api *auctionApi) artworks(ctx echo.Context) error {
	auc, ok := ctx.Get("object").(auction.Auction)
	if !ok {
		return errors.Wrap(errAucNotFoundInCtx, "retrieving object from context")
	}
	if err := api.checkVisibility(ctx, auc); err != nil {
		return err
	}

	arts, err := api.svc.Artworks(ctx.Request().Context(), auc.ID)
	if err != nil {
		return errors.Wrap(err, "querying artworks")
	}
	if arts == nil {
		arts = []auction.Artwork{}
	}
	return ctx.JSON(http.StatusOK, arts)
}

func (api *auctionApi) addArtwork(ctx echo.Context) error {
	auc, ok := ctx.Get("object").(auction.Auction)
	if !ok {
		return errors.Wrap(errAucNotFoundInCtx, "retrieving object from context")
	}
	if err := api.checkOwnerOrAdmin(ctx, auc); err != nil {
		return err
	}

	var data auction.NewArtwork
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewArtwork")
	}
	if err := data.Validate(api.svc); err != nil {
		return err
	}

	art, err := api.svc.AddArtwork(ctx.Request().Context(), auc, data)
	if err != nil {
		return errors.Wrap(err, "adding artwork")
	}
	return ctx.JSON(http.StatusCreated, art)
}

func (api *auctionApi) retrieveArtwork(ctx echo.Context) error {
	art, ok := ctx.Get("object").(auction.Artwork)
	if !ok {
		return errors.Wrap(errAucNotFoundInCtx, "retrieving object from context")
	}
	auc, err := api.svc.GetByID(ctx.Request().Context(), art.AuctionID)
	if err != nil {
		return errors.Wrap(err, "finding auction by ID")
	}
	if err = api.checkVisibility(ctx, auc); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, art)
}

func (api *auctionApi) updateArtwork(ctx echo.Context) error {
	art, ok := ctx.Get("object").(auction.Artwork)
	if !ok {
		return errors.Wrap(errAucNotFoundInCtx, "retrieving object from context")
	}
	auc, err := api.svc.GetByID(ctx.Request().Context(), art.AuctionID)
	if err != nil {
		return errors.Wrap(err, "finding auction by ID")
	}
	if err = api.checkOwnerOrAdmin(ctx, auc); err != nil {
		return err
	}

	var data auction.UpdateArtwork
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateArtwork")
	}
	if err = data.Validate(art, api.svc); err != nil {
		return err
	}

	art, err = api.svc.UpdateArtwork(ctx.Request().Context(), auc, art, data)
	if err != nil {
		return errors.Wrap(err, "updating artwork")
	}
	return ctx.JSON(http.StatusOK, art)
}

func (api *auctionApi) destroyArtwork(ctx echo.Context) error {
	art, ok := ctx.Get("object").(auction.Artwork)
	if !ok {
		return errors.Wrap(errAucNotFoundInCtx, "retrieving object from context")
	}
	auc, err := api.svc.GetByID(ctx.Request().Context(), art.AuctionID)
	if err != nil {
		return errors.Wrap(err, "finding auction by ID")
	}
	if err = api.checkOwnerOrAdmin(ctx, auc); err != nil {
		return err
	}

	if err = api.svc.DeleteArtwork(ctx.Request().Context(), auc, art.ID); err != nil {
		return errors.Wrap(err, "deleting artwork")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// Bids

func (api *auctionApi) placeBid(ctx echo.Context) error {
	art, ok := ctx.Get("object").(auction.Artwork)
	if !ok {
		return errors.Wrap(errAucNotFoundInCtx, "retrieving object from context")
	}

	var data auction.NewBid
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewBid")
	}
	if err := data.Validate(api.svc); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}

	bid, err := api.svc.PlaceBid(ctx.Request().Context(), art.ID, ctxUsr, data)
	if err != nil {
		return errors.Wrap(err, "placing bid")
	}
	return ctx.JSON(http.StatusCreated, bid)
}

func (api *auctionApi) bids(ctx echo.Context) error {
	art, ok := ctx.Get("object").(auction.Artwork)
	if !ok {
		return errors.Wrap(errAucNotFoundInCtx, "retrieving object from context")
	}
	auc, err := api.svc.GetByID(ctx.Request().Context(), art.AuctionID)
	if err != nil {
		return errors.Wrap(err, "finding auction by ID")
	}
	if err = api.checkVisibility(ctx, auc); err != nil {
		return err
	}

	bids, err := api.svc.Bids(ctx.Request().Context(), art.ID)
	if err != nil {
		return errors.Wrap(err, "querying bids")
	}
	if bids == nil {
		bids = []auction.Bid{}
	}
	return ctx.JSON(http.StatusOK, bids)
}

// checkVisibility hides auctions in private lifecycle states from everyone
// but their owner and admins. Private objects read as 404, not 403, so their
// existence does not leak.
func (api *auctionApi) checkVisibility(ctx echo.Context, auc auction.Auction) error {
	if auc.Status == auction.StatusDraft || auc.Status == auction.StatusPendingApproval {
		if err := api.checkOwnerOrAdmin(ctx, auc); err != nil {
			return errHttpNotFound
		}
	}
	return nil
}

// checkOwnerOrAdmin authorizes management actions on an auction.
func (api *auctionApi) checkOwnerOrAdmin(ctx echo.Context, auc auction.Auction) error {
	ctxUsr, err := getContextUser(ctx, api.userSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if ctxUsr.IsAdmin() || ctxUsr.ID == auc.CreatedBy {
		return nil
	}
	return errHttpForbidden
}

func auctionObjectMiddleware(svc *auction.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			auc, err := svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == auction.ErrNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding auction by ID")
			}
			ctx.Set("object", auc)
			return next(ctx)
		}
	}
}

func artworkObjectMiddleware(svc *auction.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			art, err := svc.GetArtworkByID(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == auction.ErrArtworkNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding artwork by ID")
			}
			ctx.Set("object", art)
			return next(ctx)
		}
	}
}

type RejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (rr *RejectRequest) Validate(validate *validator.Validate) error {
	rr.Reason = core.CleanString(rr.Reason)
	return validate.Struct(rr)
}
