package echoapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/trezcool/mnada/core/auction"
	"github.com/trezcool/mnada/core/user"
)

func dialWatcher(t *testing.T, srv *httptest.Server, auctionID, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/auctions/" + auctionID
	var hdr http.Header
	if token != "" {
		hdr = http.Header{"Authorization": {"Bearer " + token}}
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}

	// every watcher starts with a state snapshot
	var snap wsSnapshot
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err = conn.ReadJSON(&snap); err != nil {
		t.Fatalf("reading snapshot failed: %v", err)
	}
	if snap.Auction.ID != auctionID {
		t.Fatalf("snapshot auction = %v; want %v", snap.Auction.ID, auctionID)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) auction.Event {
	t.Helper()

	var ev auction.Event
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("reading event failed: %v", err)
	}
	return ev
}

func Test_wsApi_watchAuction(t *testing.T) {
	app := setup(t)
	srv := httptest.NewServer(app)
	defer srv.Close()

	sch := createSchool(t, "Mlimani Primary", "mlimani-primary", true)
	owner := createUser(t, "Teacher", "teacher", "teacher@test.tz", "", user.TeacherRoles, true, sch.ID)
	alice := createUser(t, "Alice", "alice1", "alice@test.tz", "", user.BidderRoles, true)

	now := time.Now().UTC()
	live := createAuction(t, sch.ID, "Live Gala", owner.ID, auction.StatusLive, now.Add(-time.Hour), now.Add(7*time.Hour))
	art := createArtwork(t, live.ID, "Sunset over Kilimanjaro", decimal.NewFromInt(50))

	// unknown auctions never upgrade
	req, rec := newRequest(http.MethodGet, "/ws/auctions/lol")
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("watching an unknown auction! code = %v", rec.Code)
	}

	aliceConn := dialWatcher(t, srv, live.ID, getToken(t, alice))
	defer func() { _ = aliceConn.Close() }()
	anonConn := dialWatcher(t, srv, live.ID, "")
	defer func() { _ = anonConn.Close() }()

	placeBid := func(t *testing.T, amount int64, wantCode int) {
		t.Helper()
		req, rec := newAuthRequest(http.MethodPost, "/v1/artworks/"+art.ID+"/bids", getToken(t, alice),
			marchallObj(t, auction.NewBid{Amount: decimal.NewFromInt(amount)}))
		app.ServeHTTP(rec, req)
		if rec.Code != wantCode {
			t.Fatalf("placeBid failed! code = %v; want %v; body = %v", rec.Code, wantCode, rec.Body.String())
		}
	}

	// a rejected bid, then an accepted one
	placeBid(t, 40, http.StatusBadRequest)
	placeBid(t, 50, http.StatusCreated)

	// alice sees her own rejection followed by the accepted bid
	if ev := readEvent(t, aliceConn); ev.Type != auction.EventBidRejected || ev.ArtworkID != art.ID {
		t.Errorf("alice event = %+v; want %v on artwork %v", ev, auction.EventBidRejected, art.ID)
	}
	if ev := readEvent(t, aliceConn); ev.Type != auction.EventBidAccepted {
		t.Errorf("alice event = %+v; want %v", ev, auction.EventBidAccepted)
	}

	// the anonymous watcher never sees the rejection; its first event is the
	// accepted bid
	if ev := readEvent(t, anonConn); ev.Type != auction.EventBidAccepted || ev.ArtworkID != art.ID {
		t.Errorf("anonymous event = %+v; want %v on artwork %v", ev, auction.EventBidAccepted, art.ID)
	}
}
