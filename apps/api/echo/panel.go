package echoapi

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/authz"
	"github.com/trezcool/campus/core/panel"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/settings"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/services/metrics"
)

type panelApi struct {
	sessions *session.Service
	users    *user.Service
	settings *settings.Service
	table    authz.Table
	logger   core.Logger
}

func registerPanelAPI(v1 *echo.Group, opts *Options) {
	api := panelApi{
		sessions: opts.SessionSvc,
		users:    opts.UserSvc,
		settings: opts.SettingsSvc,
		table:    opts.Table,
		logger:   opts.Logger,
	}
	v1.GET("/admin/panel", api.serve,
		middleware.JWTWithConfig(panelJWTConfig),
		sessionMiddleware(opts.SessionSvc),
		profileMiddleware(opts.UserSvc),
	)
}

// meteredSessions counts the heartbeats of open panels.
type meteredSessions struct {
	*session.Service
}

func (s meteredSessions) Heartbeat(ctx context.Context, id string) error {
	err := s.Service.Heartbeat(ctx, id)
	metrics.RecordHeartbeat(err)
	return err
}

// serve runs a panel controller for the lifetime of the websocket.
func (api *panelApi) serve(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(ctx.Response(), ctx.Request(), nil)
	if err != nil {
		return nil // the upgrader replied already
	}
	defer conn.Close()

	metrics.PanelConnections.Inc()
	defer metrics.PanelConnections.Dec()

	pctx, cancel := context.WithCancel(ctx.Request().Context())
	defer cancel()

	conn.SetReadLimit(wsMaxMessageBytes)
	msgs := make(chan panel.ClientMessage)
	go func() {
		defer close(msgs)
		for {
			var msg panel.ClientMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case msgs <- msg:
			case <-pctx.Done():
				return
			}
		}
	}()

	c := panel.NewController(panel.Options{
		SessionID:         claims.SessionID,
		UserID:            claims.Subject,
		Email:             claims.Email,
		Path:              ctx.QueryParam("path"),
		Table:             api.table,
		HeartbeatInterval: core.Conf.Session.HeartbeatInterval,
		Sessions:          meteredSessions{api.sessions},
		Profiles:          api.users,
		Settings:          api.settings,
		Logger:            api.logger,
	})
	err = c.Run(pctx, msgs, func(d panel.Directive) error {
		if d.Type == panel.DirectiveLogout {
			metrics.PanelLogoutsTotal.WithLabelValues(d.Reason).Inc()
		}
		return writeJSON(conn, d)
	})
	if err != nil {
		api.logger.Debug("panel connection lost", err, map[string]interface{}{"session": claims.SessionID})
		return nil
	}
	closeNormally(conn)
	return nil
}
