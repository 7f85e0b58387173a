package echoapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mnada/core"
	"github.com/trezcool/mnada/core/auction"
	"github.com/trezcool/mnada/realtime"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the stream is public auction state; authenticated clients additionally
	// receive rejections of their own bids
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsApi struct {
	svc    *auction.Service
	hub    *realtime.Hub
	logger core.Logger
}

func registerWsAPI(g *echo.Group, deps ServerDeps) {
	api := wsApi{
		svc:    deps.AuctionSvc,
		hub:    deps.Hub,
		logger: deps.Logger,
	}
	g.GET("/auctions/:id", api.watchAuction, configureOptionalAuth())
}

// wsSnapshot is sent once on join so late subscribers start from the
// current auction state before streaming live events.
type wsSnapshot struct {
	Auction  auction.Auction   `json:"auction"`
	Artworks []auction.Artwork `json:"artworks"`
	Watchers int               `json:"watchers"`
}

func (api *wsApi) watchAuction(ctx echo.Context) error {
	auc, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == auction.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding auction by ID")
	}
	// anonymous watchers are fine; a known identity scopes bid rejections
	var watcherID string
	var watcherIsAdmin bool
	if claims, err := getContextClaims(ctx); err == nil {
		watcherID = claims.Subject
		watcherIsAdmin = claims.IsAdmin
	}

	// private lifecycle states never stream to outsiders
	if auc.Status == auction.StatusDraft || auc.Status == auction.StatusPendingApproval {
		if !watcherIsAdmin && watcherID != auc.CreatedBy {
			return errHttpNotFound
		}
	}

	arts, err := api.svc.Artworks(ctx.Request().Context(), auc.ID)
	if err != nil {
		return errors.Wrap(err, "querying artworks")
	}

	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		return nil
	}

	events, cancel := api.hub.Subscribe(auc.ID)
	defer func() {
		cancel()
		_ = conn.Close()
	}()

	// read pump: consume control frames and detect the client going away
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err = conn.WriteJSON(wsSnapshot{
		Auction:  auc,
		Artworks: arts,
		Watchers: api.hub.Watchers(auc.ID),
	}); err != nil {
		return nil
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// evicted by the hub (too slow); the client reconnects for a fresh snapshot
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "event stream overflow"),
					time.Now().Add(wsWriteWait))
				return nil
			}
			// bid rejections only go to the bidder who placed them
			if rej, ok := ev.Payload.(auction.BidRejectedPayload); ok && rej.BidderID != watcherID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err = conn.WriteJSON(ev); err != nil {
				api.logger.Debug(fmt.Sprintf("writing auction event: %v", err))
				return nil
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err = conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		case <-done:
			return nil
		}
	}
}
