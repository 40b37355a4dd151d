package panel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/authz"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/settings"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/tests"
)

// fakeStreams feeds snapshots to the controller by hand.
type fakeStreams struct {
	sessions chan core.Snapshot[session.Session]
	profiles chan core.Snapshot[user.Profile]
	security chan core.Snapshot[settings.Security]

	mu         sync.Mutex
	heartbeats int
	stopped    int
}

func newFakeStreams() *fakeStreams {
	return &fakeStreams{
		sessions: make(chan core.Snapshot[session.Session]),
		profiles: make(chan core.Snapshot[user.Profile]),
		security: make(chan core.Snapshot[settings.Security]),
	}
}

func (f *fakeStreams) stop() {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
}

func (f *fakeStreams) Heartbeat(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heartbeats++
	return nil
}

func (f *fakeStreams) Watch(context.Context, string) (<-chan core.Snapshot[session.Session], func()) {
	return f.sessions, f.stop
}

func (f *fakeStreams) WatchProfile(context.Context, string) (<-chan core.Snapshot[user.Profile], func()) {
	return f.profiles, f.stop
}

func (f *fakeStreams) WatchSecurity(context.Context) (<-chan core.Snapshot[settings.Security], func()) {
	return f.security, f.stop
}

func (f *fakeStreams) counts() (heartbeats, stopped int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heartbeats, f.stopped
}

type harness struct {
	streams    *fakeStreams
	msgs       chan ClientMessage
	directives chan Directive
	done       chan error
	cancel     func()
}

func startController(t *testing.T, email, path string, interval time.Duration) *harness {
	t.Helper()
	h := &harness{
		streams:    newFakeStreams(),
		msgs:       make(chan ClientMessage),
		directives: make(chan Directive, 16),
		done:       make(chan error, 1),
	}
	ctrl := NewController(Options{
		SessionID:         "s1",
		UserID:            "u1",
		Email:             email,
		Path:              path,
		Table:             authz.DefaultTable(),
		HeartbeatInterval: interval,
		Sessions:          h.streams,
		Profiles:          h.streams,
		Settings:          h.streams,
		Logger:            testutil.NewLogger(t),
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.done <- ctrl.Run(ctx, h.msgs, func(d Directive) error {
			h.directives <- d
			return nil
		})
	}()
	t.Cleanup(cancel)
	return h
}

func (h *harness) next(t *testing.T) Directive {
	t.Helper()
	select {
	case d := <-h.directives:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("no directive received")
		return Directive{}
	}
}

func (h *harness) none(t *testing.T) {
	t.Helper()
	select {
	case d := <-h.directives:
		t.Fatalf("unexpected directive: %+v", d)
	case <-time.After(50 * time.Millisecond):
	}
}

func (h *harness) stopped(t *testing.T) {
	t.Helper()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("controller did not stop")
	}
}

func profileSnap(role string, perms authz.Permissions) core.Snapshot[user.Profile] {
	return core.Snapshot[user.Profile]{Found: true, Value: user.Profile{UserID: "u1", Role: role, Permissions: perms}}
}

func securitySnap(migration bool) core.Snapshot[settings.Security] {
	sec := settings.DefaultSecurity()
	sec.MigrationMode = migration
	return core.Snapshot[settings.Security]{Found: true, Value: sec}
}

func activeSession() core.Snapshot[session.Session] {
	return core.Snapshot[session.Session]{Found: true, Value: session.Session{ID: "s1", Status: session.StatusActive}}
}

func TestController_MigrationToggleRedirectsEditor(t *testing.T) {
	h := startController(t, "editor@campus.test", "/admin/events", time.Hour)

	h.streams.security <- securitySnap(false)
	h.none(t) // profile unknown, nothing to render yet

	h.streams.profiles <- profileSnap(authz.RoleEditor, authz.Scoped(authz.CapEvents, authz.CapNews))
	d := h.next(t)
	require.Equal(t, DirectiveState, d.Type)
	assert.True(t, d.State.Allowed)
	assert.Equal(t, "/admin/events", d.State.Path)

	h.streams.security <- securitySnap(true)
	d = h.next(t)
	require.Equal(t, DirectiveState, d.Type)
	assert.True(t, d.State.MigrationMode)
	assert.False(t, d.State.Allowed)
	d = h.next(t)
	assert.Equal(t, Directive{Type: DirectiveNavigate, Path: "/admin/backup"}, d)

	// the same inputs do not navigate again
	h.streams.security <- securitySnap(true)
	h.msgs <- ClientMessage{Type: MessageNavigate, Path: "/admin/events"}
	h.none(t)

	// the panel follows the redirect
	h.msgs <- ClientMessage{Type: MessageNavigate, Path: "/admin/backup"}
	d = h.next(t)
	require.Equal(t, DirectiveState, d.Type)
	assert.True(t, d.State.Allowed)
	h.none(t)

	// a new path change is redirected once more
	h.msgs <- ClientMessage{Type: MessageNavigate, Path: "/admin/news"}
	assert.Equal(t, DirectiveState, h.next(t).Type)
	assert.Equal(t, Directive{Type: DirectiveNavigate, Path: "/admin/backup"}, h.next(t))
	h.none(t)
}

func TestController_MigrationBeforeProfile(t *testing.T) {
	h := startController(t, "editor@campus.test", "/admin/news", time.Hour)

	h.streams.security <- securitySnap(true)
	assert.Equal(t, Directive{Type: DirectiveNavigate, Path: "/admin/backup"}, h.next(t))

	// the profile arriving later does not navigate again for the same path
	h.streams.profiles <- profileSnap(authz.RoleEditor, authz.Scoped(authz.CapNews))
	assert.Equal(t, DirectiveState, h.next(t).Type)
	h.none(t)
}

func TestController_DeniedRouteFallsBack(t *testing.T) {
	h := startController(t, "editor@campus.test", "/admin/students", time.Hour)

	h.streams.profiles <- profileSnap(authz.RoleEditor, authz.Scoped(authz.CapEvents, authz.CapNews))
	d := h.next(t)
	require.Equal(t, DirectiveState, d.Type)
	assert.False(t, d.State.Allowed)
	assert.Equal(t, "/admin/events", d.State.Fallback)
	h.none(t)
}

func TestController_RevokedSessionLogsOutOnce(t *testing.T) {
	h := startController(t, "editor@campus.test", "/admin", time.Hour)

	h.streams.sessions <- activeSession()
	h.none(t)

	revoked := activeSession()
	revoked.Value.Status = session.StatusRevoked
	h.streams.sessions <- revoked
	assert.Equal(t, Directive{Type: DirectiveLogout, Reason: ReasonSessionRevoked}, h.next(t))
	h.stopped(t)
	h.none(t)

	_, stopped := h.streams.counts()
	assert.Equal(t, 3, stopped, "every watch is torn down")
}

func TestController_DeletedSessionLogsOut(t *testing.T) {
	h := startController(t, "editor@campus.test", "/admin", time.Hour)

	h.streams.sessions <- core.Snapshot[session.Session]{}
	assert.Equal(t, Directive{Type: DirectiveLogout, Reason: ReasonSessionRevoked}, h.next(t))
	h.stopped(t)
}

func TestController_SessionReadErrorKeepsPanel(t *testing.T) {
	h := startController(t, "editor@campus.test", "/admin", time.Hour)

	h.streams.sessions <- core.Snapshot[session.Session]{Err: errors.New("connection reset")}
	h.none(t)
	h.streams.sessions <- activeSession()
	h.none(t)
}

func TestController_MissingProfile(t *testing.T) {
	core.Conf.SuperAdminEmail = "owner@campus.test"
	defer func() { core.Conf.SuperAdminEmail = "" }()

	t.Run("logs out once", func(t *testing.T) {
		h := startController(t, "editor@campus.test", "/admin", time.Hour)
		h.streams.profiles <- core.Snapshot[user.Profile]{Err: errors.New("permission denied")}
		h.none(t)

		h.streams.profiles <- core.Snapshot[user.Profile]{}
		assert.Equal(t, Directive{Type: DirectiveLogout, Reason: ReasonUnauthorized}, h.next(t))
		h.stopped(t)
	})

	t.Run("super admin fail-safe", func(t *testing.T) {
		h := startController(t, "Owner@Campus.test", "/admin/users", time.Hour)
		h.streams.profiles <- core.Snapshot[user.Profile]{}
		d := h.next(t)
		require.Equal(t, DirectiveState, d.Type)
		assert.Equal(t, authz.RoleSuperAdmin, d.State.Role)
		assert.True(t, d.State.Permissions.IsUnrestricted())
		assert.True(t, d.State.Allowed)

		h.streams.profiles <- core.Snapshot[user.Profile]{Err: errors.New("permission denied")}
		h.none(t)
	})
}

func TestController_Heartbeat(t *testing.T) {
	h := startController(t, "editor@campus.test", "/admin", 20*time.Millisecond)

	assert.Eventually(t, func() bool {
		beats, _ := h.streams.counts()
		return beats >= 3
	}, 2*time.Second, 10*time.Millisecond)

	h.cancel()
	h.stopped(t)
	beats, stopped := h.streams.counts()
	assert.Equal(t, 3, stopped)

	time.Sleep(60 * time.Millisecond)
	after, _ := h.streams.counts()
	assert.Equal(t, beats, after, "no heartbeat after teardown")
}

func TestController_ImmediateHeartbeat(t *testing.T) {
	h := startController(t, "editor@campus.test", "/admin", time.Hour)
	assert.Eventually(t, func() bool {
		beats, _ := h.streams.counts()
		return beats == 1
	}, time.Second, 5*time.Millisecond)
}

func TestController_ClientDisconnect(t *testing.T) {
	h := startController(t, "editor@campus.test", "/admin", time.Hour)
	close(h.msgs)
	h.stopped(t)
}
