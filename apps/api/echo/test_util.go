package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/trezcool/mnada/core"
	"github.com/trezcool/mnada/core/auction"
	"github.com/trezcool/mnada/core/notification"
	"github.com/trezcool/mnada/core/school"
	"github.com/trezcool/mnada/core/user"
	appfs "github.com/trezcool/mnada/fs"
	"github.com/trezcool/mnada/realtime"
	emailsvc "github.com/trezcool/mnada/services/email"
	logsvc "github.com/trezcool/mnada/services/logger"
	dummydb "github.com/trezcool/mnada/storage/database/dummy"
)

var (
	usrRepo   user.Repository
	schRepo   school.Repository
	aucRepo   auction.Repository
	notifRepo notification.Repository

	errMissingToken = httpErr{Error: "missing or malformed jwt"}
)

func setup(t *testing.T) Server {
	t.Helper()

	conf := core.NewConfig()
	conf.Debug = false
	conf.TestMode = true

	logger := logsvc.NewRollbarLogger(log.New(io.Discard, "", 0), conf)
	logger.Enable(false)

	validate := validator.New()
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	school.InitValidators(validate, translator)

	core.ParseEmailTemplates(appfs.FS, logger)

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	usrRepo = dummydb.NewUserRepository(db)
	schRepo = dummydb.NewSchoolRepository(db)
	aucRepo = dummydb.NewAuctionRepository(db)
	notifRepo = dummydb.NewNotificationRepository(db)

	mailSvc := emailsvc.NewConsoleServiceMock()
	hub := realtime.NewHub(logger)

	usrSvc := user.NewService(usrRepo, mailSvc, validate)
	schSvc := school.NewService(schRepo, logger, validate)
	notifSvc := notification.NewService(notifRepo, nil /* broker */, logger)
	aucSvc := auction.NewService(aucRepo, hub, notifSvc, usrSvc, mailSvc, logger, validate)

	return NewServer(ServerDeps{
		Conf:           conf,
		Logger:         logger,
		UserSvc:        usrSvc,
		SchoolSvc:      schSvc,
		AuctionSvc:     aucSvc,
		NotifSvc:       notifSvc,
		Hub:            hub,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})
}

// Fixtures

func createUser(
	t *testing.T,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	schoolID ...string,
) user.User {
	t.Helper()

	now := time.Now().UTC()
	usr := user.User{
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(schoolID) > 0 {
		usr.SchoolID = schoolID[0]
	}
	usr.SetActive(isActive)
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := usrRepo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func createSchool(t *testing.T, name, slug string, isActive bool) school.School {
	t.Helper()

	now := time.Now().UTC()
	sch := school.School{
		Name:      name,
		Slug:      slug,
		CreatedAt: now,
		UpdatedAt: now,
	}
	sch.SetActive(isActive)
	sch, err := schRepo.CreateSchool(context.Background(), sch)
	if err != nil {
		t.Fatalf("createSchool() failed: %v", err)
	}
	return sch
}

func createAuction(
	t *testing.T,
	schoolID, title, createdBy string,
	status auction.Status,
	startsAt, endsAt time.Time,
) auction.Auction {
	t.Helper()

	now := time.Now().UTC()
	auc := auction.Auction{
		SchoolID:     schoolID,
		Title:        title,
		Status:       status,
		StartsAt:     startsAt.UTC(),
		EndsAt:       endsAt.UTC(),
		MinIncrement: decimal.NewFromInt(5),
		CreatedBy:    createdBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	auc, err := aucRepo.CreateAuction(context.Background(), auc)
	if err != nil {
		t.Fatalf("createAuction() failed: %v", err)
	}
	return auc
}

func createArtwork(t *testing.T, auctionID, title string, startingPrice decimal.Decimal) auction.Artwork {
	t.Helper()

	now := time.Now().UTC()
	art := auction.Artwork{
		AuctionID:     auctionID,
		Title:         title,
		ArtistName:    "Young Master",
		StartingPrice: startingPrice,
		CurrentPrice:  decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	art, err := aucRepo.CreateArtwork(context.Background(), art)
	if err != nil {
		t.Fatalf("createArtwork() failed: %v", err)
	}
	return art
}

// HTTP helpers

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, usr user.User) string {
	claims := GetUserClaims(usr)
	token, err := GenerateToken(claims)
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{} // handlers return [], not null
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	if reflect.DeepEqual(j1, j2) {
		return true, nil
	}
	if j1 == nil || j2 == nil {
		return false, nil
	}
	return assert.ElementsMatch(t, j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	if rec.Code != tt.wantCode {
		t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}
