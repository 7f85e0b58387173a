package echoapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pquerna/otp/totp"

	"github.com/trezcool/mnada/core"
	"github.com/trezcool/mnada/core/user"
)

func Test_userApi_login(t *testing.T) {
	app := setup(t)

	bidder := createUser(t, "Hero", "hero", "hero@test.tz", "LordOfTheRings", user.BidderRoles, true)
	createUser(t, "N Dog", "ndog", "ndog@test.tz", "LordOfTheRings", user.BidderRoles, false) // deactivated

	tests := []httpTest{
		{
			name: "required fields", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, LoginRequest{Username: "this field is required", Password: "this field is required"}),
		},
		{
			name: "unknown user", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, LoginRequest{Username: "lol", Password: "lol"}),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "wrong password", wantCode: http.StatusBadRequest,
			body:     marchallObj(t, LoginRequest{Username: bidder.Username, Password: "lol"}),
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "deactivated account", wantCode: http.StatusForbidden,
			body:     marchallObj(t, LoginRequest{Username: "ndog", Password: "LordOfTheRings"}),
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name: "login with username", wantCode: http.StatusOK,
			body: marchallObj(t, LoginRequest{Username: bidder.Username, Password: "LordOfTheRings"}),
		},
		{
			name: "login with email", wantCode: http.StatusOK,
			body: marchallObj(t, LoginRequest{Username: bidder.Email, Password: "LordOfTheRings"}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/login"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(tt.method, tt.path, tt.body)
			app.ServeHTTP(rec, req)

			// cannot guess the token.. just check that it's not empty
			if tt.wantCode == http.StatusOK {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
				}
				var respData LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Errorf("json.Unmarshal() failed! err %v", err)
				}
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				if respData.OTPRequired {
					t.Error("failed! unexpected otp_required")
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_loginOTP(t *testing.T) {
	app := setup(t)
	ctx := context.Background()

	bidder := createUser(t, "Hero", "hero", "hero@test.tz", "LordOfTheRings", user.BidderRoles, true)

	key, err := totp.Generate(totp.GenerateOpts{Issuer: core.Conf.AppName, AccountName: bidder.Email})
	if err != nil {
		t.Fatalf("totp.Generate() failed: %v", err)
	}
	if err = usrRepo.SetTOTP(ctx, bidder.ID, key.Secret(), true); err != nil {
		t.Fatalf("SetTOTP() failed: %v", err)
	}

	// step 1: password login hands out a short-lived pre-auth token
	req, rec := newRequest(http.MethodPost, "/v1/users/login",
		marchallObj(t, LoginRequest{Username: bidder.Username, Password: "LordOfTheRings"}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login failed! code = %v; body = %v", rec.Code, rec.Body.String())
	}
	var step1 LoginResponse
	if err = json.Unmarshal(rec.Body.Bytes(), &step1); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if !step1.OTPRequired {
		t.Fatal("failed! expected otp_required")
	}
	if step1.Token == "" {
		t.Fatal("failed! empty pre-auth token")
	}

	// the pre-auth token cannot access regular endpoints
	req, rec = newAuthRequest(http.MethodGet, "/v1/notifications", step1.Token)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("pre-auth token accepted! code = %v; want %v", rec.Code, http.StatusUnauthorized)
	}

	// a full session token cannot be used for the OTP step
	req, rec = newAuthRequest(http.MethodPost, "/v1/users/login/otp", getToken(t, bidder),
		marchallObj(t, OTPLoginRequest{Code: "123456"}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("full token accepted for OTP step! code = %v; want %v", rec.Code, http.StatusUnauthorized)
	}

	// step 2: a wrong code is refused
	req, rec = newAuthRequest(http.MethodPost, "/v1/users/login/otp", step1.Token,
		marchallObj(t, OTPLoginRequest{Code: "000000"}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("wrong code accepted! code = %v; want %v", rec.Code, http.StatusBadRequest)
	}

	// step 2: a valid code yields the session token
	code, err := totp.GenerateCode(key.Secret(), time.Now())
	if err != nil {
		t.Fatalf("totp.GenerateCode() failed: %v", err)
	}
	req, rec = newAuthRequest(http.MethodPost, "/v1/users/login/otp", step1.Token,
		marchallObj(t, OTPLoginRequest{Code: code}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("OTP login failed! code = %v; body = %v", rec.Code, rec.Body.String())
	}
	var step2 LoginResponse
	if err = json.Unmarshal(rec.Body.Bytes(), &step2); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if step2.Token == "" || step2.OTPRequired {
		t.Error("failed! expected a full session token")
	}

	// the session token works
	req, rec = newAuthRequest(http.MethodGet, "/v1/notifications", step2.Token)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("session token rejected! code = %v; want %v", rec.Code, http.StatusOK)
	}
}

func Test_userApi_totpManagement(t *testing.T) {
	app := setup(t)

	bidder := createUser(t, "Hero", "hero", "hero@test.tz", "LordOfTheRings", user.BidderRoles, true)
	token := getToken(t, bidder)

	// setup returns the secret once
	req, rec := newAuthRequest(http.MethodPost, "/v1/users/totp/setup", token)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("setup failed! code = %v; body = %v", rec.Code, rec.Body.String())
	}
	var totpSetup user.TOTPSetup
	if err := json.Unmarshal(rec.Body.Bytes(), &totpSetup); err != nil {
		t.Fatalf("json.Unmarshal() failed! err %v", err)
	}
	if totpSetup.Secret == "" || totpSetup.URL == "" {
		t.Fatal("failed! empty TOTP setup")
	}

	// enable rejects a wrong code
	req, rec = newAuthRequest(http.MethodPost, "/v1/users/totp/enable", token,
		marchallObj(t, OTPLoginRequest{Code: "000000"}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("wrong code accepted! code = %v; want %v", rec.Code, http.StatusBadRequest)
	}

	// enable with a valid code
	code, err := totp.GenerateCode(totpSetup.Secret, time.Now())
	if err != nil {
		t.Fatalf("totp.GenerateCode() failed: %v", err)
	}
	req, rec = newAuthRequest(http.MethodPost, "/v1/users/totp/enable", token,
		marchallObj(t, OTPLoginRequest{Code: code}))
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("enable failed! code = %v; body = %v", rec.Code, rec.Body.String())
	}

	refreshed, err := usrRepo.GetUserByID(context.Background(), bidder.ID)
	if err != nil {
		t.Fatalf("GetUserByID() failed: %v", err)
	}
	if !refreshed.TOTPEnabled {
		t.Error("failed! TOTP not enabled")
	}

	// disable discards the secret
	req, rec = newAuthRequest(http.MethodPost, "/v1/users/totp/disable", token)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("disable failed! code = %v; body = %v", rec.Code, rec.Body.String())
	}
	refreshed, err = usrRepo.GetUserByID(context.Background(), bidder.ID)
	if err != nil {
		t.Fatalf("GetUserByID() failed: %v", err)
	}
	if refreshed.TOTPEnabled || refreshed.TOTPSecret != "" {
		t.Error("failed! TOTP still set")
	}
}

func Test_userApi_refreshToken(t *testing.T) {
	app := setup(t)

	naughty := createUser(t, "N Dog", "ndog", "ndog@test.tz", "", user.BidderRoles, false)
	bidder := createUser(t, "Hero", "hero", "hero@test.tz", "", user.BidderRoles, true)

	now := time.Now()
	unrefreshableClaims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    core.Conf.AppName,
			Subject:   bidder.ID,
			Audience:  "Marketplace",
			ExpiresAt: now.Add(core.Conf.Server.JWTExpirationDelta).Unix(),
			IssuedAt:  now.Unix(),
		},
		OrigIssuedAt: now.Add(-2 * core.Conf.Server.JWTRefreshExpirationDelta).Unix(), // older than threshold
		IsBidder:     bidder.IsBidder(),
		Roles:        bidder.Roles,
	}
	unrefreshableToken, err := GenerateToken(unrefreshableClaims)
	if err != nil {
		t.Fatalf("GenerateToken() failed: %v", err)
	}

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Inactive user not allowed", token: getToken(t, naughty), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name: "Refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "refresh has expired"}),
		},
		{name: "Token refreshed", token: getToken(t, bidder), wantCode: http.StatusOK},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/token-refresh"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusOK {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
				}
				var respData LoginResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Errorf("json.Unmarshal() failed! err %v", err)
				}
				if respData.Token == "" {
					t.Error("failed! empty token")
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_query(t *testing.T) {
	app := setup(t)

	path := func(search string, isActive *bool, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if isActive != nil {
			v.Add("is_active", strconv.FormatBool(*isActive))
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/v1/users?" + v.Encode()
	}
	bPtr := func(b bool) *bool { return &b }

	bidder := createUser(t, "Hero", "hero", "hero@test.tz", "", user.BidderRoles, true)
	teacher := createUser(t, "Teacher", "teacher", "teacher@test.tz", "", user.TeacherRoles, true)
	admin := createUser(t, "Admin", "admin", "admin@test.tz", "", user.AllRoles, true)
	naughty := createUser(t, "N Dog", "ndog", "ndog@test.tz", "", user.BidderRoles, false)

	adminToken := getToken(t, admin)
	empty := marchallList(t)

	tests := []httpTest{
		{name: "Auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/v1/users", token: getToken(t, bidder), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "Get all", path: "/v1/users", token: adminToken,
			wantData: marchallList(t, bidder, teacher, admin, naughty),
		},
		{name: "search (unknown)", path: path("lol", nil), token: adminToken, wantData: empty},
		{name: "search=her", path: path("her", nil), token: adminToken, wantData: marchallList(t, bidder)},
		{name: "role=teacher:", path: path("", nil, user.RoleTeacher), token: adminToken, wantData: marchallList(t, teacher)},
		{
			name: "role=bidder:", path: path("", nil, user.RoleBidder), token: adminToken,
			wantData: marchallList(t, bidder, naughty, admin),
		},
		{
			name: "is_active=true", path: path("", bPtr(true)), token: adminToken,
			wantData: marchallList(t, bidder, teacher, admin),
		},
		{name: "is_active=false", path: path("", bPtr(false)), token: adminToken, wantData: marchallList(t, naughty)},
	}
	for _, tt := range tests {
		tt.method = http.MethodGet
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_register(t *testing.T) {
	app := setup(t)

	sch := createSchool(t, "Mlimani Primary", "mlimani-primary", true)
	admin := createUser(t, "Admin", "admin", "admin@test.tz", "", user.AllRoles, true)
	schoolAdmin := createUser(t, "Sch Admin", "schadmin", "schadmin@test.tz", "",
		[]string{user.RoleAdminSchool}, true, sch.ID)
	bidder := createUser(t, "Hero", "hero", "hero@test.tz", "", user.BidderRoles, true)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", token: getToken(t, bidder), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "cannot grant a role above own", token: getToken(t, schoolAdmin), wantCode: http.StatusBadRequest,
			body: marchallObj(t, user.NewUser{
				Name: "Sneaky", Username: "sneaky", Email: "sneaky@test.tz",
				Password: "LordOfTheRings", PasswordConfirm: "LordOfTheRings",
				Roles: []string{user.RoleAdminOwner}, SchoolID: sch.ID,
			}),
			wantData: marchallObj(t, map[string]string{"roles": errNoPermsToSetRoles}),
		},
		{
			name: "user created", token: getToken(t, admin), wantCode: http.StatusCreated,
			body: marchallObj(t, user.NewUser{
				Name: "New Bidder", Username: "newbie", Email: "newbie@test.tz",
				Password: "LordOfTheRings", PasswordConfirm: "LordOfTheRings",
				Roles: user.BidderRoles, SchoolID: sch.ID,
			}),
		},
		{
			name: "duplicate email", token: getToken(t, admin), wantCode: http.StatusBadRequest,
			body: marchallObj(t, user.NewUser{
				Name: "Copy Cat", Username: "copycat", Email: "hero@test.tz",
				Password: "LordOfTheRings", PasswordConfirm: "LordOfTheRings",
				Roles: user.BidderRoles, SchoolID: sch.ID,
			}),
			wantData: marchallObj(t, map[string]string{"email": user.ErrEmailExists.Error()}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		tt.path = "/v1/users/register"

		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)

			if tt.wantCode == http.StatusCreated {
				if rec.Code != tt.wantCode {
					t.Errorf("failed! code = %v; wantCode %v", rec.Code, tt.wantCode)
				}
				var respData user.User
				if err := json.Unmarshal(rec.Body.Bytes(), &respData); err != nil {
					t.Errorf("json.Unmarshal() failed! err %v", err)
				}
				if respData.ID == "" {
					t.Error("failed! empty user ID")
				}
				return
			}
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_userApi_detail(t *testing.T) {
	app := setup(t)

	admin := createUser(t, "Admin", "admin", "admin@test.tz", "", user.AllRoles, true)
	bidder := createUser(t, "Hero", "hero", "hero@test.tz", "", user.BidderRoles, true)
	other := createUser(t, "Other", "other", "other@test.tz", "", user.BidderRoles, true)

	adminToken := getToken(t, admin)
	bidderToken := getToken(t, bidder)

	tests := []httpTest{
		{
			name: "Auth required", method: http.MethodGet, path: "/v1/users/" + bidder.ID,
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken),
		},
		{
			name: "owner can retrieve themselves", method: http.MethodGet, path: "/v1/users/" + bidder.ID,
			token: bidderToken, wantCode: http.StatusOK, wantData: marchallObj(t, bidder),
		},
		{
			name: "non-admin cannot see others", method: http.MethodGet, path: "/v1/users/" + other.ID,
			token: bidderToken, wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "admin can retrieve anyone", method: http.MethodGet, path: "/v1/users/" + other.ID,
			token: adminToken, wantCode: http.StatusOK, wantData: marchallObj(t, other),
		},
		{
			name: "non-admin cannot change roles", method: http.MethodPut, path: "/v1/users/" + bidder.ID,
			token: bidderToken, body: marchallObj(t, user.UpdateUser{Roles: user.AllRoles}),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "non-admin cannot delete", method: http.MethodDelete, path: "/v1/users/" + bidder.ID,
			token: bidderToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "no self-delete", method: http.MethodDelete, path: "/v1/users/" + admin.ID,
			token: adminToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(tt.method, tt.path, tt.token, tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	// admin deletes another user
	req, rec := newAuthRequest(http.MethodDelete, "/v1/users/"+other.ID, adminToken)
	app.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("delete failed! code = %v; want %v", rec.Code, http.StatusNoContent)
	}
	if _, err := usrRepo.GetUserByID(context.Background(), other.ID); err != user.ErrNotFound {
		t.Errorf("expected user to be gone, got err = %v", err)
	}
}
