package echoapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/trezcool/mnada/core/notification"
	"github.com/trezcool/mnada/core/user"
)

func seedNotification(t *testing.T, userID string, kind notification.Kind, createdAt time.Time) notification.Notification {
	t.Helper()

	n, err := notifRepo.CreateNotification(context.Background(), notification.Notification{
		UserID:    userID,
		Kind:      kind,
		Payload:   json.RawMessage(`{"artwork_id":"lol"}`),
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("seedNotification() failed: %v", err)
	}
	return n
}

func Test_notificationApi_query(t *testing.T) {
	app := setup(t)

	alice := createUser(t, "Alice", "alice1", "alice@test.tz", "", user.BidderRoles, true)
	bob := createUser(t, "Bob", "bob001", "bob@test.tz", "", user.BidderRoles, true)

	now := time.Now().UTC()
	older := seedNotification(t, alice.ID, notification.KindOutbid, now.Add(-time.Hour))
	newer := seedNotification(t, alice.ID, notification.KindAuctionWon, now)
	seedNotification(t, bob.ID, notification.KindBidReceived, now)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "own notifications only, newest first", token: getToken(t, alice),
			wantCode: http.StatusOK, wantData: marchallList(t, newer, older),
		},
		{
			name: "empty inbox", token: getToken(t, createUser(t, "Carol", "carol1", "carol@test.tz", "", user.BidderRoles, true)),
			wantCode: http.StatusOK, wantData: marchallList(t),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		tt.path = "/v1/notifications"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_notificationApi_markRead(t *testing.T) {
	app := setup(t)
	ctx := context.Background()

	alice := createUser(t, "Alice", "alice1", "alice@test.tz", "", user.BidderRoles, true)
	bob := createUser(t, "Bob", "bob001", "bob@test.tz", "", user.BidderRoles, true)

	n := seedNotification(t, alice.ID, notification.KindOutbid, time.Now().UTC())

	t.Run("unknown notification", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/notifications/lol/read", getToken(t, alice))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})}, rec)
	})

	t.Run("cannot read someone else's", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/notifications/"+n.ID+"/read", getToken(t, bob))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"})}, rec)
	})

	t.Run("owner marks read", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/notifications/"+n.ID+"/read", getToken(t, alice))
		app.ServeHTTP(rec, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("failed! code = %v; wantCode %v", rec.Code, http.StatusNoContent)
		}

		refreshed, err := notifRepo.GetNotificationByID(ctx, n.ID)
		if err != nil {
			t.Fatalf("GetNotificationByID() failed: %v", err)
		}
		if !refreshed.Read {
			t.Error("failed! notification still unread")
		}
	})
}
