package echoapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/campus/apps/api/echo"
	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/authz"
	"github.com/trezcool/campus/core/content"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/settings"
	"github.com/trezcool/campus/tests"
)

func Test_gateApi_me(t *testing.T) {
	db.Reset()

	editor := testutil.CreateUser(t, usrRepo, "Editor", "editor01", "editor@test.cd", "", authz.RoleEditor, authz.Scoped(authz.CapNews, authz.CapEvents), true)
	orphan := testutil.CreateUser(t, usrRepo, "Orphan", "orphan01", "orphan@test.cd", "", "", authz.Permissions{}, true)
	boss := testutil.CreateUser(t, usrRepo, "Boss", "boss01", "boss@test.cd", "", "", authz.Permissions{}, true)

	origSuperAdmin := core.Conf.SuperAdminEmail
	core.Conf.SuperAdminEmail = boss.Email
	t.Cleanup(func() { core.Conf.SuperAdminEmail = origSuperAdmin })

	decide := func(token, path string) authz.Decision {
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/gate?path="+path, token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var d authz.Decision
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
		return d
	}

	t.Run("Profile missing", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/me", getToken(t, orphan))
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "profile missing"})}, rec)
	})

	t.Run("Session record gone", func(t *testing.T) {
		token, err := GenerateToken(GetUserClaims(editor, "does-not-exist"))
		require.NoError(t, err)
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/me", token)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "session revoked"})}, rec)
	})

	t.Run("User deleted", func(t *testing.T) {
		ghost := testutil.CreateUser(t, usrRepo, "Ghost", "ghost01", "ghost@test.cd", "", authz.RoleEditor, authz.Scoped(authz.CapNews), true)
		token := getToken(t, ghost)
		_, err := usrRepo.DeleteUsersByID(context.Background(), ghost.ID)
		require.NoError(t, err)

		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/me", token)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "user not authenticated"})}, rec)
	})

	t.Run("Super admin without profile", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/me?path=/admin/backup", getToken(t, boss))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var me MeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
		assert.Equal(t, boss.ID, me.User.ID)
		assert.Equal(t, authz.RoleSuperAdmin, me.Profile.Role)
		assert.True(t, me.Profile.Synthesized)
		assert.True(t, me.Decision.Allowed)
		assert.True(t, me.Decision.SuperAdmin)
		assert.Len(t, me.Decision.Menu, len(authz.DefaultTable().Menu))
	})

	t.Run("Scoped editor", func(t *testing.T) {
		token := getToken(t, editor)

		d := decide(token, "/admin/news/42")
		assert.True(t, d.Allowed)
		require.NotNil(t, d.Route)
		assert.Equal(t, authz.CapNews, d.Route.Capability)
		assert.Equal(t, []string{"/admin/events", "/admin/news"}, menuPaths(d))

		d = decide(token, "/admin/users")
		assert.False(t, d.Allowed)
		assert.Equal(t, "/admin/events", d.Fallback)

		d = decide(token, "/elsewhere")
		assert.True(t, d.Allowed)
		assert.Nil(t, d.Route)
	})
}

func menuPaths(d authz.Decision) []string {
	paths := make([]string, len(d.Menu))
	for i, item := range d.Menu {
		paths[i] = item.Path
	}
	return paths
}

func Test_sessionApi(t *testing.T) {
	db.Reset()

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin01", "admin@test.cd", "", authz.RoleAdmin, authz.Scoped(authz.CapSessions), true)
	editor := testutil.CreateUser(t, usrRepo, "Editor", "editor01", "editor@test.cd", "", authz.RoleEditor, authz.Scoped(authz.CapNews), true)

	now := time.Now().UTC()
	old := testutil.CreateSession(t, sessRepo, editor, now.Add(-time.Hour))
	editorToken, editorSession := getTokenAndSession(t, editor)
	token, current := getTokenAndSession(t, admin)

	t.Run("Capability required", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/sessions", editorToken)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("Heartbeat", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodPost, "/v1/admin/sessions/current/heartbeat", editorToken)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		s, err := sessRepo.GetSession(context.Background(), editorSession.ID)
		require.NoError(t, err)
		assert.True(t, s.LastActive.Valid)
	})

	t.Run("List recent", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/sessions", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var views []session.View
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
		require.Len(t, views, 3)
		assert.Equal(t, old.ID, views[2].ID)
		for _, v := range views {
			assert.Equal(t, v.ID == current.ID, v.Current, v.ID)
		}
		assert.Equal(t, session.PresenceOnline, views[0].Presence)
		assert.Equal(t, session.PresenceAway, views[2].Presence)
	})

	runHTTPTests(t, []httpTest{
		{
			name: "Cannot revoke own session", method: http.MethodPost, path: "/v1/admin/sessions/" + current.ID + "/revoke", token: token,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "the current session cannot be revoked from here"}),
		},
		{name: "Unknown session", method: http.MethodPost, path: "/v1/admin/sessions/unknown/revoke", token: token, wantCode: http.StatusNotFound},
		{name: "Revoke", method: http.MethodPost, path: "/v1/admin/sessions/" + editorSession.ID + "/revoke", token: token},
		{name: "Revoke again", method: http.MethodPost, path: "/v1/admin/sessions/" + editorSession.ID + "/revoke", token: token},
		{
			name: "Revoked token", method: http.MethodPost, path: "/v1/admin/sessions/current/heartbeat", token: editorToken,
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "session revoked"}),
		},
	})

	t.Run("Revoked record", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/sessions/"+editorSession.ID, token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var s session.Session
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
		assert.Equal(t, session.StatusRevoked, s.Status)
		assert.Equal(t, admin.ID, s.RevokedBy.String)
	})

	t.Run("Activity of the acting session", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/sessions/"+current.ID+"/activity", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var acts []session.Activity
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &acts))
		require.NotEmpty(t, acts)
		assert.Equal(t, session.ActionRevoke, acts[0].Action)
		assert.Equal(t, "session "+editorSession.ID, acts[0].Target)
	})

	t.Run("List excludes revoked by default", func(t *testing.T) {
		for query, want := range map[string]int{"": 2, "?include_revoked=true": 3} {
			req, rec := newAuthRequest(http.MethodGet, "/v1/admin/sessions"+query, token)
			app.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var views []session.View
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
			assert.Len(t, views, want, query)
		}
	})
}

func Test_settingsApi(t *testing.T) {
	db.Reset()

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin01", "admin@test.cd", "", authz.RoleAdmin, authz.Scoped(authz.CapSettings, authz.CapSEO), true)
	editor := testutil.CreateUser(t, usrRepo, "Editor", "editor01", "editor@test.cd", "", authz.RoleEditor, authz.Scoped(authz.CapNews), true)
	token := getToken(t, admin)

	defaults := settings.DefaultSecurity()
	updated := settings.Security{
		IsActive:  true,
		RateLimit: settings.RateLimit{MaxRefreshes: 5, RefreshWindowSeconds: 10, BlockDurationMinutes: 1},
	}

	runHTTPTests(t, []httpTest{
		{name: "Capability required", method: http.MethodGet, path: "/v1/admin/settings/security", token: getToken(t, editor), wantCode: http.StatusForbidden},
		{name: "Defaults", method: http.MethodGet, path: "/v1/admin/settings/security", token: token, wantData: marchallObj(t, defaults)},
		{
			name: "Invalid rate limit", method: http.MethodPut, path: "/v1/admin/settings/security", token: token,
			body:     []byte(`{"rate_limit": {"max_refreshes": 0, "refresh_window_seconds": 10, "block_duration_minutes": 1}}`),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "Invalid SEO", method: http.MethodPut, path: "/v1/admin/settings/seo", token: token,
			body:     marchallObj(t, settings.SEO{SiteTitle: strings.Repeat("a", 71)}),
			wantCode: http.StatusBadRequest,
		},
	})

	req, rec := newAuthRequest(http.MethodPut, "/v1/admin/settings/security", token,
		[]byte(`{"is_active": true, "rate_limit": {"max_refreshes": 5, "refresh_window_seconds": 10, "block_duration_minutes": 1}}`))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sec, err := settingsSvc.Security(context.Background())
	require.NoError(t, err)
	assert.Equal(t, updated.IsActive, sec.IsActive)
	assert.Equal(t, updated.RateLimit, sec.RateLimit)
	assert.False(t, sec.MigrationMode)
	assert.Equal(t, admin.ID, sec.UpdatedBy)

	req, rec = newAuthRequest(http.MethodPut, "/v1/admin/settings/seo", token,
		marchallObj(t, settings.SEO{SiteTitle: " Campus ", Keywords: []string{" College", ""}, RobotsIndex: true}))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	seo, err := settingsSvc.SEO(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Campus", seo.SiteTitle)
	assert.Equal(t, []string{"college"}, seo.Keywords)
}

func Test_migrationMode(t *testing.T) {
	db.Reset()

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin01", "admin@test.cd", "", authz.RoleAdmin, authz.Unrestricted(), true)
	migrator := testutil.CreateUser(t, usrRepo, "Migrator", "migrator01", "migrator@test.cd", "", authz.RoleMigration, authz.Permissions{}, true)
	token := getToken(t, admin)
	locked := marchallObj(t, httpErr{Error: "migration mode: only backups are available"})

	runHTTPTests(t, []httpTest{
		{name: "Migration role locked out of content", method: http.MethodGet, path: "/v1/admin/content/news", token: getToken(t, migrator), wantCode: http.StatusLocked, wantData: locked},
		{name: "Migration role can back up", method: http.MethodGet, path: "/v1/admin/backup", token: getToken(t, migrator)},
		{name: "Toggle off: content", method: http.MethodGet, path: "/v1/admin/content/news", token: token},
	})

	saveSecurity(t, settings.UpdateSecurity{MigrationMode: bPtr(true)})
	t.Cleanup(func() { saveSecurity(t, settings.UpdateSecurity{MigrationMode: bPtr(false)}) })

	runHTTPTests(t, []httpTest{
		{name: "Toggle on: content", method: http.MethodGet, path: "/v1/admin/content/news", token: token, wantCode: http.StatusLocked, wantData: locked},
		{name: "Toggle on: settings", method: http.MethodGet, path: "/v1/admin/settings/security", token: token, wantCode: http.StatusLocked, wantData: locked},
		{name: "Toggle on: backup", method: http.MethodGet, path: "/v1/admin/backup", token: token},
		{name: "Toggle on: heartbeat", method: http.MethodPost, path: "/v1/admin/sessions/current/heartbeat", token: token, wantCode: http.StatusNoContent},
	})

	t.Run("Toggle on: me redirects to backup", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/admin/me?path=/admin/news", token)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var me MeResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
		assert.True(t, me.Decision.MigrationMode)
		assert.False(t, me.Decision.Allowed)
		assert.Equal(t, "/admin/backup", me.Decision.Redirect)
		assert.Equal(t, []string{"/admin/backup"}, menuPaths(me.Decision))
	})
}

func Test_contentApi(t *testing.T) {
	db.Reset()

	editor := testutil.CreateUser(t, usrRepo, "Editor", "editor01", "editor@test.cd", "", authz.RoleEditor, authz.Scoped(authz.CapNews), true)
	token, s := getTokenAndSession(t, editor)

	news := content.DocumentInput{
		Title:     "Convocation 2026",
		Summary:   "The annual convocation.",
		Body:      "All graduates are welcome.",
		Published: true,
	}

	runHTTPTests(t, []httpTest{
		{name: "Unknown collection", method: http.MethodGet, path: "/v1/admin/content/gossip", token: token, wantCode: http.StatusNotFound},
		{name: "Capability required", method: http.MethodGet, path: "/v1/admin/content/events", token: token, wantCode: http.StatusForbidden},
		{name: "Empty", method: http.MethodGet, path: "/v1/admin/content/news", token: token, wantData: marchallList(t)},
		{
			name: "Summary required for news", method: http.MethodPost, path: "/v1/admin/content/news", token: token,
			body: marchallObj(t, content.DocumentInput{Title: "No summary"}), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"summary": "a summary is required for news"}),
		},
	})

	req, rec := newAuthRequest(http.MethodPost, "/v1/admin/content/news", token, marchallObj(t, news))
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var doc content.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "convocation-2026", doc.Slug)
	assert.Equal(t, editor.ID, doc.CreatedBy)

	news.Title = "Convocation 2026 (updated)"
	news.Slug = "convocation-2026"
	runHTTPTests(t, []httpTest{
		{
			name: "Slug taken", method: http.MethodPost, path: "/v1/admin/content/news", token: token,
			body: marchallObj(t, news), wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, map[string]string{"slug": content.ErrSlugExists.Error()}),
		},
		{name: "Get", method: http.MethodGet, path: "/v1/admin/content/news/" + doc.ID, token: token, wantData: marchallObj(t, doc)},
		{name: "Get unknown", method: http.MethodGet, path: "/v1/admin/content/news/unknown", token: token, wantCode: http.StatusNotFound},
		{name: "Update", method: http.MethodPut, path: "/v1/admin/content/news/" + doc.ID, token: token, body: marchallObj(t, news)},
		{name: "Delete", method: http.MethodDelete, path: "/v1/admin/content/news/" + doc.ID, token: token, wantCode: http.StatusNoContent},
		{name: "Deleted", method: http.MethodGet, path: "/v1/admin/content/news/" + doc.ID, token: token, wantCode: http.StatusNotFound},
	})

	acts, err := sessRepo.QueryActivities(context.Background(), s.ID, 10)
	require.NoError(t, err)
	actions := make([]string, len(acts))
	for i, a := range acts {
		actions[i] = a.Action
	}
	assert.Equal(t, []string{session.ActionDelete, session.ActionUpdate, session.ActionCreate}, actions)
}

func Test_backupApi(t *testing.T) {
	db.Reset()

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin01", "admin@test.cd", "", authz.RoleAdmin, authz.Scoped(authz.CapBackup), true)
	editor := testutil.CreateUser(t, usrRepo, "Editor", "editor01", "editor@test.cd", "", authz.RoleEditor, authz.Scoped(authz.CapNews), true)
	token := getToken(t, admin)

	_, err := contentSvc.Create(context.Background(), content.News, content.DocumentInput{
		Title: "Results", Summary: "Semester results are out.", Published: true,
	}, session.Actor{UserID: editor.ID})
	require.NoError(t, err)

	req, rec := newAuthRequest(http.MethodGet, "/v1/admin/backup", getToken(t, editor))
	app.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req, rec = newAuthRequest(http.MethodGet, "/v1/admin/backup", token)
	app.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment; filename=\"campus-backup-")

	var backup Backup
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &backup))
	assert.Len(t, backup.Content, len(content.AllCollections))
	require.Len(t, backup.Content[content.News], 1)
	assert.Equal(t, "results", backup.Content[content.News][0].Slug)
	assert.Empty(t, backup.Content[content.Events])
	assert.Equal(t, settings.DefaultSecurity().RateLimit, backup.Settings.Security.RateLimit)
}
