package echoapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core/authz"
	"github.com/trezcool/campus/core/panel"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/settings"
	"github.com/trezcool/campus/tests"
)

// readDirective reads directives until match accepts one.
func readDirective(t *testing.T, conn *websocket.Conn, match func(panel.Directive) bool) panel.Directive {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var d panel.Directive
		require.NoError(t, conn.ReadJSON(&d))
		if match(d) {
			return d
		}
	}
}

func isState(allowed bool) func(panel.Directive) bool {
	return func(d panel.Directive) bool {
		return d.Type == panel.DirectiveState && d.State != nil && d.State.Allowed == allowed
	}
}

func Test_panelApi(t *testing.T) {
	db.Reset()
	srv := httptest.NewServer(app)
	defer srv.Close()

	editor := testutil.CreateUser(t, usrRepo, "Editor", "editor01", "editor@test.cd", "", authz.RoleEditor, authz.Scoped(authz.CapNews), true)

	t.Run("Missing token", func(t *testing.T) {
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/admin/panel"), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("Revoked token", func(t *testing.T) {
		token, s := getTokenAndSession(t, editor)
		_, err := sessSvc.Revoke(context.Background(), s.ID, session.Actor{UserID: "admin"})
		require.NoError(t, err)

		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/admin/panel?token="+token), nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	token, s := getTokenAndSession(t, editor)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/v1/admin/panel?path=/admin/news&token="+token), nil)
	require.NoError(t, err)
	defer conn.Close()

	d := readDirective(t, conn, isState(true))
	assert.Equal(t, "/admin/news", d.State.Path)
	assert.Equal(t, authz.RoleEditor, d.State.Role)
	require.Len(t, d.State.Menu, 1)

	// opening the panel counts as a heartbeat
	stored, err := sessSvc.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, stored.LastActive.Valid)

	t.Run("Navigate to a denied page", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(panel.ClientMessage{Type: panel.MessageNavigate, Path: "/admin/users"}))
		d := readDirective(t, conn, isState(false))
		assert.Equal(t, "/admin/users", d.State.Path)
		assert.Equal(t, "/admin/news", d.State.Fallback)
	})

	t.Run("Migration mode", func(t *testing.T) {
		saveSecurity(t, settings.UpdateSecurity{MigrationMode: bPtr(true)})
		t.Cleanup(func() { saveSecurity(t, settings.UpdateSecurity{MigrationMode: bPtr(false)}) })

		d := readDirective(t, conn, func(d panel.Directive) bool { return d.Type == panel.DirectiveNavigate })
		assert.Equal(t, "/admin/backup", d.Path)
	})

	t.Run("Revoked from elsewhere", func(t *testing.T) {
		_, err := sessSvc.Revoke(context.Background(), s.ID, session.Actor{UserID: "admin"})
		require.NoError(t, err)

		d := readDirective(t, conn, func(d panel.Directive) bool { return d.Type == panel.DirectiveLogout })
		assert.Equal(t, panel.ReasonSessionRevoked, d.Reason)

		_, _, err = conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err)
	})
}
