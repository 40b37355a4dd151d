package echoapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/services/metrics"
)

var errCannotRevokeSelf = echo.NewHTTPError(http.StatusForbidden, "the current session cannot be revoked from here")

type sessionApi struct {
	svc *session.Service
}

func registerSessionAPI(admin *echo.Group, opts *Options) {
	api := sessionApi{svc: opts.SessionSvc}

	sg := admin.Group("/sessions")
	// own session: reachable in migration mode
	sg.POST("/current/heartbeat", api.heartbeat)

	mg := sg.Group("", gateMiddleware(opts.Table, opts.Security, page("/admin/security")))
	mg.GET("", api.query)
	mg.GET("/:id", api.retrieve)
	mg.POST("/:id/revoke", api.revoke)
	mg.GET("/:id/activity", api.activity)
}

func (api *sessionApi) heartbeat(ctx echo.Context) error {
	s, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	err = api.svc.Heartbeat(ctx.Request().Context(), s.ID)
	metrics.RecordHeartbeat(err)
	if err != nil {
		if errors.Cause(err) == session.ErrNotActive {
			return errSessionRevoked
		}
		return errors.Wrap(err, "heartbeat")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *sessionApi) query(ctx echo.Context) error {
	includeRevoked, _ := strconv.ParseBool(ctx.QueryParam("include_revoked"))
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	views, err := api.svc.ListRecent(ctx.Request().Context(), includeRevoked, claims.SessionID)
	if err != nil {
		return errors.Wrap(err, "listing recent sessions")
	}
	return ctx.JSON(http.StatusOK, views)
}

func (api *sessionApi) retrieve(ctx echo.Context) error {
	s, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting session")
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *sessionApi) revoke(ctx echo.Context) error {
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	s, err := api.svc.Revoke(ctx.Request().Context(), ctx.Param("id"), actor)
	if err != nil {
		if errors.Cause(err) == session.ErrSelfRevoke {
			return errCannotRevokeSelf
		}
		return errors.Wrap(err, "revoking session")
	}
	metrics.SessionsRevokedTotal.Inc()
	return ctx.JSON(http.StatusOK, s)
}

func (api *sessionApi) activity(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	s, err := api.svc.Get(rctx, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting session")
	}
	acts, err := api.svc.Activities(rctx, s.ID)
	if err != nil {
		return errors.Wrap(err, "getting activities")
	}
	if acts == nil {
		acts = []session.Activity{}
	}
	return ctx.JSON(http.StatusOK, acts)
}
