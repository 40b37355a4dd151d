package echoapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/campus/apps/api/echo"
	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/authz"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/tests"
)

const strongPwd = "Sup3r-S3cret!"

func Test_userApi_userQuery(t *testing.T) {
	db.Reset()

	path := func(search, ordering string, isActive *bool, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if ordering != "" {
			v.Add("ordering", ordering)
		}
		if isActive != nil {
			v.Add("is_active", strconv.FormatBool(*isActive))
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/v1/admin/users?" + v.Encode()
	}

	t0 := time.Now().Add(-10 * time.Hour)
	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin01", "admin@test.cd", "", authz.RoleAdmin, authz.Scoped(authz.CapUsers), true, t0.Add(1*time.Hour))
	editor := testutil.CreateUser(t, usrRepo, "Editor", "editor01", "editor@test.cd", "", authz.RoleEditor, authz.Scoped(authz.CapNews), true, t0.Add(2*time.Hour))
	naughty := testutil.CreateUser(t, usrRepo, "N Dog", "ndog01", "ndog@test.cd", "", authz.RoleEditor, authz.Scoped(authz.CapNews), false, t0.Add(3*time.Hour)) // 😂
	plain := testutil.CreateUser(t, usrRepo, "Plain User", "plain01", "plain@test.cd", "", "", authz.Permissions{}, true, t0.Add(4*time.Hour))

	adminToken := getToken(t, admin)
	accs := func(users ...user.User) []byte {
		objs := make([]interface{}, len(users))
		for i, usr := range users {
			objs[i] = getAccount(t, usr)
		}
		return marchallList(t, objs...)
	}

	tests := []httpTest{
		{name: "Auth required", path: "/v1/admin/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Capability required", path: "/v1/admin/users", token: getToken(t, editor), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "permission denied"}),
		},
		{name: "Get all", path: "/v1/admin/users", token: adminToken, wantData: accs(plain, naughty, editor, admin)},
		// filtering
		{name: "search (unknown)", path: path("lol", "", nil), token: adminToken, wantData: accs()},
		{name: "search=EDIT", path: path("EDIT", "", nil), token: adminToken, wantData: accs(editor)},
		{name: "role (unknown)", path: path("", "", nil, "lol"), token: adminToken, wantData: accs()},
		{name: "role=editor", path: path("", "", nil, authz.RoleEditor), token: adminToken, wantData: accs(naughty, editor)},
		{name: "is_active=false", path: path("", "", bPtr(false)), token: adminToken, wantData: accs(naughty)},
		{name: "is_active=true", path: path("", "", bPtr(true)), token: adminToken, wantData: accs(plain, editor, admin)},
		// ordering
		{name: "order by name", path: path("", "name", nil), token: adminToken, wantData: accs(admin, editor, naughty, plain)},
		{name: "order by is_active,-name", path: path("", "is_active,-name", nil), token: adminToken, wantData: accs(naughty, plain, editor, admin)},
		{name: "order by unknown field", path: path("", "password_hash", nil), token: adminToken, wantData: accs(plain, naughty, editor, admin)},
		// filtering & ordering
		{name: "filtering & ordering", path: path("", "created_at", nil, authz.RoleEditor), token: adminToken, wantData: accs(editor, naughty)},
	}
	for i := range tests {
		tests[i].method = http.MethodGet
	}
	runHTTPTests(t, tests)
}

func Test_userApi_userLogin(t *testing.T) {
	db.Reset()

	testutil.CreateUser(t, usrRepo, "N Dog", "ndog01", "ndog@test.cd", strongPwd, authz.RoleEditor, authz.Permissions{}, false)
	editor := testutil.CreateUser(t, usrRepo, "Editor", "editor01", "editor@test.cd", strongPwd, authz.RoleEditor, authz.Permissions{}, true)

	body := func(uname, pwd string) []byte {
		return marchallObj(t, LoginRequest{Username: uname, Password: pwd})
	}

	tests := []httpTest{
		{
			name: "Fields required", body: body("", ""), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"username": "this field is required", "password": "this field is required"}),
		},
		{
			name: "Unknown user", body: body("nobody", strongPwd), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "Wrong password", body: body("editor01", "wrong"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "authentication failed"}),
		},
		{
			name: "Inactive user not allowed", body: body("ndog01", strongPwd), wantCode: http.StatusForbidden,
			wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/users/login"
	}
	runHTTPTests(t, tests)

	t.Run("Login opens a session", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/users/login", body("  Editor@Test.cd ", strongPwd))
		req.Header.Set("User-Agent", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) Mobile/15E148")
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp LoginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		claims := new(Claims)
		_, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(core.Conf.SecretKey), nil
		})
		require.NoError(t, err)
		assert.Equal(t, editor.ID, claims.Subject)
		assert.Equal(t, resp.SessionID, claims.SessionID)

		ctx := context.Background()
		s, err := sessRepo.GetSession(ctx, claims.SessionID)
		require.NoError(t, err)
		assert.Equal(t, session.StatusActive, s.Status)
		assert.Equal(t, session.DeviceMobile, s.Device)
		assert.Equal(t, editor.Email, s.Email)

		acts, err := sessRepo.QueryActivities(ctx, s.ID, 10)
		require.NoError(t, err)
		require.Len(t, acts, 1)
		assert.Equal(t, session.ActionLogin, acts[0].Action)

		usr, err := usrRepo.GetUser(ctx, user.GetFilter{ID: editor.ID})
		require.NoError(t, err)
		assert.True(t, usr.LastLogin.Valid)
	})
}

func Test_userApi_userLogout(t *testing.T) {
	db.Reset()

	editor := testutil.CreateUser(t, usrRepo, "Editor", "editor01", "editor@test.cd", "", authz.RoleEditor, authz.Scoped(authz.CapNews), true)
	token, s := getTokenAndSession(t, editor)

	req, rec := newAuthRequest(http.MethodPost, "/v1/users/logout", token)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	stored, err := sessRepo.GetSession(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsRevoked())

	runHTTPTests(t, []httpTest{
		{
			name: "Token is dead after logout", method: http.MethodGet, path: "/v1/admin/me", token: token,
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "session revoked"}),
		},
		{
			name: "Cannot refresh after logout", method: http.MethodPost, path: "/v1/users/token-refresh", token: token,
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "session revoked"}),
		},
	})
}

func Test_userApi_userRefreshToken(t *testing.T) {
	db.Reset()

	naughty := testutil.CreateUser(t, usrRepo, "N Dog", "ndog01", "ndog@test.cd", "", authz.RoleEditor, authz.Permissions{}, false) // 😂
	editor := testutil.CreateUser(t, usrRepo, "Editor", "editor01", "editor@test.cd", "", authz.RoleEditor, authz.Permissions{}, true)

	s := testutil.CreateSession(t, sessRepo, editor, time.Now())
	unrefreshableClaims := GetUserClaims(editor, s.ID, time.Now().Add(-2*core.Conf.Server.JWTRefreshExpirationDelta).Unix())
	unrefreshableToken, err := GenerateToken(unrefreshableClaims)
	if err != nil {
		t.Fatalf("GenerateToken(): %v", err)
	}
	sessionless, err := GenerateToken(GetUserClaims(editor, ""))
	if err != nil {
		t.Fatalf("GenerateToken(): %v", err)
	}

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Session required", token: sessionless, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "session revoked"})},
		{name: "Inactive user not allowed", token: getToken(t, naughty), wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"})},
		{name: "Refresh period expired", token: unrefreshableToken, wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"})},
		{name: "Token refreshed", token: getToken(t, editor), wantCode: http.StatusOK},
	}
	for i := range tests {
		tests[i].method = http.MethodPost
		tests[i].path = "/v1/users/token-refresh"
	}
	runHTTPTests(t, tests)
}

func Test_userApi_userCreate(t *testing.T) {
	db.Reset()

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin01", "admin@test.cd", "", authz.RoleAdmin, authz.Scoped(authz.CapUsers), true)
	token := getToken(t, admin)

	body := func(role string, perms ...string) []byte {
		return marchallObj(t, user.NewUser{
			Name:            "New Editor",
			Username:        "neweditor",
			Email:           "new.editor@test.cd",
			Password:        strongPwd,
			PasswordConfirm: strongPwd,
			Role:            role,
			Permissions:     perms,
		})
	}

	tests := []httpTest{
		{
			name: "Validation", body: marchallObj(t, user.NewUser{}), wantCode: http.StatusBadRequest,
			extra: []string{"name", "password", "role"},
		},
		{
			name: "Role above own", body: body(authz.RoleSuperAdmin), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"role": "not enough rights to set these roles"}),
		},
		{
			name: "Capability not held", body: body(authz.RoleEditor, "news"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"permissions": "not enough rights to grant these permissions"}),
		},
		{
			name: "Unrestricted not held", body: body(authz.RoleEditor, "all"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"permissions": "not enough rights to grant these permissions"}),
		},
		{name: "Created", body: body(authz.RoleEditor, "users"), wantCode: http.StatusCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodPost, "/v1/admin/users", token, tt.body)
			app.ServeHTTP(rec, req)
			if tt.wantData != nil {
				checkCodeAndData(t, tt, rec)
				return
			}
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if fields, ok := tt.extra.([]string); ok {
				var errs map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errs))
				for _, f := range fields {
					assert.Contains(t, errs, f)
				}
			}
		})
	}

	usr, err := usrRepo.GetUser(context.Background(), user.GetFilter{Username: "neweditor"})
	require.NoError(t, err)
	prof, err := usrRepo.GetProfile(context.Background(), usr.ID)
	require.NoError(t, err)
	assert.Equal(t, authz.RoleEditor, prof.Role)
	assert.True(t, prof.Permissions.Equal(authz.Scoped(authz.CapUsers)))
}

func Test_userApi_userUpdate(t *testing.T) {
	db.Reset()

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin01", "admin@test.cd", "", authz.RoleAdmin, authz.Scoped(authz.CapUsers), true)
	editor := testutil.CreateUser(t, usrRepo, "Editor", "editor01", "editor@test.cd", "", authz.RoleEditor, authz.Scoped(authz.CapNews), true)
	boss := testutil.CreateUser(t, usrRepo, "Boss", "boss01", "boss@test.cd", "", authz.RoleSuperAdmin, authz.Unrestricted(), true)
	token := getToken(t, admin)

	runHTTPTests(t, []httpTest{
		{
			name: "Unknown user", method: http.MethodPut, path: "/v1/admin/users/unknown", token: token,
			body: marchallObj(t, user.UpdateUser{Name: "X"}), wantCode: http.StatusNotFound,
			wantData: marchallObj(t, httpErr{Error: "not found"}),
		},
		{
			name: "Outranked user", method: http.MethodPut, path: "/v1/admin/users/" + boss.ID, token: token,
			body: marchallObj(t, user.UpdateUser{Name: "X"}), wantCode: http.StatusForbidden,
		},
		{
			name: "Duplicate email", method: http.MethodPut, path: "/v1/admin/users/" + editor.ID, token: token,
			body: marchallObj(t, user.UpdateUser{Email: "admin@test.cd"}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"email": user.ErrEmailExists.Error()}),
		},
	})

	isActive := false
	req, rec := newAuthRequest(http.MethodPut, "/v1/admin/users/"+editor.ID, token, marchallObj(t, user.UpdateUser{
		Name:        "Chief Editor",
		IsActive:    &isActive,
		Permissions: []string{"users"},
	}))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var acc user.Account
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acc))
	assert.Equal(t, "Chief Editor", acc.Name)
	assert.False(t, acc.IsActive)
	require.NotNil(t, acc.Profile)
	assert.Equal(t, authz.RoleEditor, acc.Profile.Role)
	assert.True(t, acc.Profile.Permissions.Equal(authz.Scoped(authz.CapUsers)))
}

func Test_userApi_userDelete(t *testing.T) {
	db.Reset()

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin01", "admin@test.cd", "", authz.RoleAdmin, authz.Scoped(authz.CapUsers), true)
	editor := testutil.CreateUser(t, usrRepo, "Editor", "editor01", "editor@test.cd", "", authz.RoleEditor, authz.Scoped(authz.CapNews), true)
	other := testutil.CreateUser(t, usrRepo, "Other", "other01", "other@test.cd", "", authz.RoleEditor, authz.Scoped(authz.CapNews), true)
	boss := testutil.CreateUser(t, usrRepo, "Boss", "boss01", "boss@test.cd", "", authz.RoleSuperAdmin, authz.Unrestricted(), true)
	token := getToken(t, admin)
	editorToken, editorSession := getTokenAndSession(t, editor)

	runHTTPTests(t, []httpTest{
		{name: "Say No to Suicide!", method: http.MethodDelete, path: "/v1/admin/users/" + admin.ID, token: token, wantCode: http.StatusForbidden},
		{
			name: "Say No to Suicide! (multiple)", method: http.MethodDelete, path: "/v1/admin/users?id=" + other.ID + "&id=" + admin.ID,
			token: token, wantCode: http.StatusForbidden,
		},
		{name: "Outranked user", method: http.MethodDelete, path: "/v1/admin/users/" + boss.ID, token: token, wantCode: http.StatusForbidden},
		{name: "Deleted", method: http.MethodDelete, path: "/v1/admin/users/" + editor.ID, token: token, wantCode: http.StatusNoContent},
		{name: "Deleted (multiple)", method: http.MethodDelete, path: "/v1/admin/users?id=" + other.ID, token: token, wantCode: http.StatusNoContent},
		{name: "Unknown ids are skipped", method: http.MethodDelete, path: "/v1/admin/users?id=unknown", token: token, wantCode: http.StatusNoContent},
		{name: "Gone", method: http.MethodGet, path: "/v1/admin/users/" + editor.ID, token: token, wantCode: http.StatusNotFound},
		{name: "Deleted user is signed out", method: http.MethodGet, path: "/v1/admin/me", token: editorToken, wantCode: http.StatusUnauthorized},
	})

	s, err := sessRepo.GetSession(context.Background(), editorSession.ID)
	require.NoError(t, err)
	assert.True(t, s.IsRevoked())
	assert.Equal(t, admin.ID, s.RevokedBy.String)
}

func Test_userApi_userRoles(t *testing.T) {
	db.Reset()

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin01", "admin@test.cd", "", authz.RoleAdmin, authz.Scoped(authz.CapUsers), true)
	runHTTPTests(t, []httpTest{
		{name: "Roles", method: http.MethodGet, path: "/v1/admin/users/roles", token: getToken(t, admin), wantData: marchallObj(t, authz.Roles)},
	})
}

func Test_userApi_passwordReset(t *testing.T) {
	db.Reset()

	editor := testutil.CreateUser(t, usrRepo, "Editor", "editor01", "editor@test.cd", strongPwd, authz.RoleEditor, authz.Permissions{}, true)
	success := marchallObj(t, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})

	runHTTPTests(t, []httpTest{
		{
			name: "Invalid email", method: http.MethodPost, path: "/v1/users/password-reset",
			body: marchallObj(t, PasswordResetRequest{Email: "nope"}), wantCode: http.StatusBadRequest,
		},
		{
			name: "Unknown email", method: http.MethodPost, path: "/v1/users/password-reset",
			body: marchallObj(t, PasswordResetRequest{Email: "ghost@test.cd"}), wantData: success,
		},
		{
			name: "Known email", method: http.MethodPost, path: "/v1/users/password-reset",
			body: marchallObj(t, PasswordResetRequest{Email: " EDITOR@test.cd"}), wantData: success,
		},
	})

	var data map[string]interface{}
	require.Eventually(t, func() bool {
		for _, msg := range mailSvc.Sent() {
			if msg.TemplateName == "password_reset" && len(msg.To) > 0 && msg.To[0].Address == editor.Email {
				data, _ = msg.TemplateData.(map[string]interface{})
				return data != nil
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	newPwd := "An0ther-Secr3t?"
	confirm := func(token string) []byte {
		return marchallObj(t, user.ResetUserPassword{
			UID:             data["UID"].(string),
			Token:           token,
			Password:        newPwd,
			PasswordConfirm: newPwd,
		})
	}
	runHTTPTests(t, []httpTest{
		{
			name: "Bad token", method: http.MethodPost, path: "/v1/users/password-reset-confirm",
			body: confirm("bad-token"), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: user.ErrInvalidToken.Error()}),
		},
		{
			name: "Reset", method: http.MethodPost, path: "/v1/users/password-reset-confirm",
			body: confirm(data["Token"].(string)),
			wantData: marchallObj(t, SuccessResponse{Success: "Password has been reset with the new password."}),
		},
	})

	req, rec := newRequest(http.MethodPost, "/v1/users/login", marchallObj(t, LoginRequest{Username: "editor01", Password: newPwd}))
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.False(t, strings.Contains(rec.Body.String(), "error"))
}
