package panel

import (
	"context"
	"reflect"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/authz"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/settings"
	"github.com/trezcool/campus/core/user"
)

// Directive types
const (
	DirectiveState    = "state"
	DirectiveNavigate = "navigate"
	DirectiveLogout   = "logout"
)

// Logout reasons
const (
	ReasonSessionRevoked = "session_revoked"
	ReasonUnauthorized   = "unauthorized"
)

// MessageNavigate is sent by the panel whenever its current route changes.
const MessageNavigate = "navigate"

type (
	Sessions interface {
		Heartbeat(ctx context.Context, id string) error
		Watch(ctx context.Context, id string) (<-chan core.Snapshot[session.Session], func())
	}

	Profiles interface {
		WatchProfile(ctx context.Context, userID string) (<-chan core.Snapshot[user.Profile], func())
	}

	Settings interface {
		WatchSecurity(ctx context.Context) (<-chan core.Snapshot[settings.Security], func())
	}

	// ClientMessage is a message from the panel.
	ClientMessage struct {
		Type string `json:"type"`
		Path string `json:"path"`
	}

	// Directive is a message to the panel.
	Directive struct {
		Type   string `json:"type"`
		State  *State `json:"state,omitempty"`
		Path   string `json:"path,omitempty"`
		Reason string `json:"reason,omitempty"`
	}

	State struct {
		Path        string            `json:"path"`
		Role        string            `json:"role"`
		Permissions authz.Permissions `json:"permissions"`
		authz.Decision
	}

	Options struct {
		SessionID string
		UserID    string
		Email     string
		Path      string // initial route

		Table             authz.Table
		HeartbeatInterval time.Duration

		Sessions Sessions
		Profiles Profiles
		Settings Settings
		Logger   core.Logger
	}

	// Controller drives one open admin panel: it heartbeats its session,
	// and turns session, profile and security settings changes into directives.
	Controller struct {
		opts Options

		path           string
		migrationMode  bool
		profiles       *user.ProfileSync
		lastState      *State
		redirectedFrom string
	}
)

func NewController(opts Options) *Controller {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = core.Conf.Session.HeartbeatInterval
	}
	return &Controller{
		opts:     opts,
		path:     authz.NormalizePath(opts.Path),
		profiles: user.NewProfileSync(opts.UserID, opts.Email),
	}
}

// Run drives the panel until ctx is done, msgs is closed, send fails or the panel is logged out.
// Every watch and the heartbeat ticker are stopped when Run returns.
func (c *Controller) Run(ctx context.Context, msgs <-chan ClientMessage, send func(Directive) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sessions, stopSession := c.opts.Sessions.Watch(ctx, c.opts.SessionID)
	defer stopSession()
	profiles, stopProfile := c.opts.Profiles.WatchProfile(ctx, c.opts.UserID)
	defer stopProfile()
	security, stopSecurity := c.opts.Settings.WatchSecurity(ctx)
	defer stopSecurity()

	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	c.heartbeat(ctx)

	for {
		var (
			directives []Directive
			logout     bool
		)

		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			c.heartbeat(ctx)

		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			if msg.Type != MessageNavigate {
				continue
			}
			c.path = authz.NormalizePath(msg.Path)
			directives = c.evaluate()

		case snap, ok := <-sessions:
			if !ok {
				sessions = nil
				continue
			}
			switch {
			case snap.Err != nil:
				c.opts.Logger.Warn("watching session", snap.Err, map[string]interface{}{"session": c.opts.SessionID})
			case !snap.Found || snap.Value.IsRevoked():
				directives, logout = []Directive{{Type: DirectiveLogout, Reason: ReasonSessionRevoked}}, true
			}

		case snap, ok := <-profiles:
			if !ok {
				profiles = nil
				continue
			}
			if snap.Err != nil {
				c.opts.Logger.Warn("watching profile", snap.Err, map[string]interface{}{"user": c.opts.UserID})
			}
			switch c.profiles.Apply(snap) {
			case user.SyncChanged:
				directives = c.evaluate()
			case user.SyncLogout:
				directives, logout = []Directive{{Type: DirectiveLogout, Reason: ReasonUnauthorized}}, true
			}

		case snap, ok := <-security:
			if !ok {
				security = nil
				continue
			}
			if snap.Err != nil {
				c.opts.Logger.Warn("watching security settings", snap.Err)
				continue
			}
			c.migrationMode = snap.Value.MigrationMode
			directives = c.evaluate()
		}

		for _, d := range directives {
			if err := send(d); err != nil {
				return errors.Wrap(err, "sending directive")
			}
		}
		if logout {
			return nil
		}
	}
}

func (c *Controller) heartbeat(ctx context.Context) {
	if err := c.opts.Sessions.Heartbeat(ctx, c.opts.SessionID); err != nil {
		c.opts.Logger.Warn("heartbeat", err, map[string]interface{}{"session": c.opts.SessionID})
	}
}

// evaluate runs the gate for the current inputs. The state is sent when it changed,
// a forced navigation once per path.
func (c *Controller) evaluate() []Directive {
	var directives []Directive
	prof, known := c.profiles.Profile()

	var redirect string
	if known {
		d := authz.Evaluate(authz.Input{
			Role:          prof.Role,
			Permissions:   prof.Permissions,
			MigrationMode: c.migrationMode,
			Path:          c.path,
		}, c.opts.Table)
		redirect = d.Redirect

		state := &State{Path: c.path, Role: prof.Role, Permissions: prof.Permissions, Decision: d}
		if c.lastState == nil || !reflect.DeepEqual(*c.lastState, *state) {
			c.lastState = state
			directives = append(directives, Directive{Type: DirectiveState, State: state})
		}
	} else if c.migrationMode && c.path != authz.NormalizePath(c.opts.Table.BackupPath) {
		// the role is unknown yet but the global toggle is enough to lock the panel down
		redirect = c.opts.Table.BackupPath
	}

	switch {
	case redirect == "":
		c.redirectedFrom = ""
	case c.redirectedFrom != c.path:
		c.redirectedFrom = c.path
		directives = append(directives, Directive{Type: DirectiveNavigate, Path: redirect})
	}
	return directives
}
