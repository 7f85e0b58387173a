package auction_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/trezcool/mnada/core"
	"github.com/trezcool/mnada/core/auction"
	"github.com/trezcool/mnada/core/notification"
	"github.com/trezcool/mnada/core/user"
	appfs "github.com/trezcool/mnada/fs"
	emailsvc "github.com/trezcool/mnada/services/email"
	dummydb "github.com/trezcool/mnada/storage/database/dummy"
)

type nopLogger struct{}

func (nopLogger) Enable(bool)                  {}
func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

// recordingPublisher captures published events for assertions.
type recordingPublisher struct {
	mu     sync.Mutex
	events []auction.Event
}

func (p *recordingPublisher) Publish(ev auction.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) all() []auction.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]auction.Event(nil), p.events...)
}

func TestService_Sweep(t *testing.T) {
	conf := core.NewConfig()
	conf.Debug = false
	conf.TestMode = true

	logger := nopLogger{}
	core.ParseEmailTemplates(appfs.FS, logger)

	validate := validator.New()
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	core.InitValidators(validate, translator)

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}
	usrRepo := dummydb.NewUserRepository(db)
	aucRepo := dummydb.NewAuctionRepository(db)
	notifRepo := dummydb.NewNotificationRepository(db)

	mailSvc := emailsvc.NewConsoleServiceMock()
	notifSvc := notification.NewService(notifRepo, nil /* broker */, logger)
	usrSvc := user.NewService(usrRepo, mailSvc, validate)
	pub := &recordingPublisher{}
	svc := auction.NewService(aucRepo, pub, notifSvc, usrSvc, mailSvc, logger, validate)

	ctx := context.Background()
	now := time.Now().UTC()

	createUser := func(name, uname, email string) user.User {
		usr := user.User{Name: name, Username: uname, Email: email, CreatedAt: now, UpdatedAt: now}
		usr.SetActive(true)
		usr, err := usrRepo.CreateUser(ctx, usr)
		if err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
		return usr
	}
	teacher := createUser("Teacher", "teacher", "teacher@test.tz")
	alice := createUser("Alice", "alice1", "alice@test.tz")

	createAuction := func(title string, status auction.Status, startsAt, endsAt time.Time) auction.Auction {
		auc := auction.Auction{
			SchoolID:     "sch-1",
			Title:        title,
			Status:       status,
			StartsAt:     startsAt,
			EndsAt:       endsAt,
			MinIncrement: decimal.NewFromInt(5),
			CreatedBy:    teacher.ID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		auc, err := aucRepo.CreateAuction(ctx, auc)
		if err != nil {
			t.Fatalf("CreateAuction() failed: %v", err)
		}
		return auc
	}

	// due to go live; ends in the future
	dueLive := createAuction("Morning Gala", auction.StatusApproved, now.Add(-time.Minute), now.Add(time.Hour))
	// past its end; alice leads one artwork, the other got no bids
	dueEnd := createAuction("Evening Gala", auction.StatusLive, now.Add(-2*time.Hour), now.Add(-time.Minute))
	won := auction.Artwork{
		AuctionID:     dueEnd.ID,
		Title:         "Sunset over Kilimanjaro",
		ArtistName:    "Grade 6 Art Club",
		StartingPrice: decimal.NewFromInt(50),
		CurrentPrice:  decimal.NewFromInt(75),
		LeaderID:      alice.ID,
		BidCount:      3,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err = aucRepo.CreateArtwork(ctx, won); err != nil {
		t.Fatalf("CreateArtwork() failed: %v", err)
	}
	unsold := auction.Artwork{
		AuctionID:     dueEnd.ID,
		Title:         "Clay Pot Study",
		ArtistName:    "Grade 4",
		StartingPrice: decimal.NewFromInt(20),
		CurrentPrice:  decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err = aucRepo.CreateArtwork(ctx, unsold); err != nil {
		t.Fatalf("CreateArtwork() failed: %v", err)
	}

	mailsBefore := len(emailsvc.SentMessages)

	if err = svc.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}

	// due transitions ran
	if auc, _ := aucRepo.GetAuctionByID(ctx, dueLive.ID); auc.Status != auction.StatusLive {
		t.Errorf("status = %v; want %v", auc.Status, auction.StatusLive)
	}
	if auc, _ := aucRepo.GetAuctionByID(ctx, dueEnd.ID); auc.Status != auction.StatusEnded {
		t.Errorf("status = %v; want %v", auc.Status, auction.StatusEnded)
	}

	// the creator hears about both transitions
	notifs, err := notifRepo.QueryNotificationsByUser(ctx, teacher.ID)
	if err != nil {
		t.Fatalf("QueryNotificationsByUser() failed: %v", err)
	}
	kinds := make(map[notification.Kind]int)
	for _, n := range notifs {
		kinds[n.Kind]++
	}
	if kinds[notification.KindAuctionLive] != 1 || kinds[notification.KindAuctionEnded] != 1 {
		t.Errorf("teacher notifications = %v; want one AUCTION_LIVE and one AUCTION_ENDED", kinds)
	}

	// the leading bidder won
	notifs, err = notifRepo.QueryNotificationsByUser(ctx, alice.ID)
	if err != nil {
		t.Fatalf("QueryNotificationsByUser() failed: %v", err)
	}
	if len(notifs) != 1 || notifs[0].Kind != notification.KindAuctionWon {
		t.Errorf("alice notifications = %+v; want one AUCTION_WON", notifs)
	}

	// and got the winner email; the artwork without bids emailed nobody
	mails := emailsvc.SentMessages[mailsBefore:]
	if len(mails) != 1 {
		t.Fatalf("sent mails = %d; want 1", len(mails))
	}
	if mails[0].Subject != "You won an auction!" || mails[0].To[0].Address != alice.Email {
		t.Errorf("mail = %q to %v; want winner mail to alice", mails[0].Subject, mails[0].To)
	}

	// watchers were told about both status changes
	events := pub.all()
	if len(events) != 2 {
		t.Fatalf("events = %+v; want 2 status changes", events)
	}
	for _, ev := range events {
		if ev.Type != auction.EventStatusChanged {
			t.Errorf("event type = %v; want %v", ev.Type, auction.EventStatusChanged)
		}
	}

	// a second pass finds nothing due; no duplicate side effects
	if err = svc.Sweep(ctx); err != nil {
		t.Fatalf("Sweep() failed: %v", err)
	}
	if got := len(pub.all()); got != 2 {
		t.Errorf("events after resweep = %d; want 2", got)
	}
	if got := len(emailsvc.SentMessages[mailsBefore:]); got != 1 {
		t.Errorf("mails after resweep = %d; want 1", got)
	}
	notifs, _ = notifRepo.QueryNotificationsByUser(ctx, alice.ID)
	if len(notifs) != 1 {
		t.Errorf("alice notifications after resweep = %d; want 1", len(notifs))
	}
}
