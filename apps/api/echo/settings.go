package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/settings"
)

type settingsApi struct {
	svc      *settings.Service
	sessions *session.Service
}

func registerSettingsAPI(admin *echo.Group, opts *Options) {
	api := settingsApi{svc: opts.SettingsSvc, sessions: opts.SessionSvc}

	sg := admin.Group("/settings")
	sec := sg.Group("/security", gateMiddleware(opts.Table, opts.Security, page("/admin/settings")))
	sec.GET("", api.getSecurity)
	sec.PUT("", api.updateSecurity)

	seo := sg.Group("/seo", gateMiddleware(opts.Table, opts.Security, page("/admin/seo")))
	seo.GET("", api.getSEO)
	seo.PUT("", api.updateSEO)
}

func (api *settingsApi) getSecurity(ctx echo.Context) error {
	sec, err := api.svc.Security(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "getting security settings")
	}
	return ctx.JSON(http.StatusOK, sec)
}

func (api *settingsApi) updateSecurity(ctx echo.Context) error {
	var data settings.UpdateSecurity
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateSecurity")
	}
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	rctx := ctx.Request().Context()
	sec, err := api.svc.UpdateSecurity(rctx, data, actor.UserID)
	if err != nil {
		return errors.Wrap(err, "updating security settings")
	}
	api.sessions.RecordActivity(rctx, actor.SessionID, session.ActionUpdate, "settings/"+settings.KeySecurity, "")
	return ctx.JSON(http.StatusOK, sec)
}

func (api *settingsApi) getSEO(ctx echo.Context) error {
	seo, err := api.svc.SEO(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "getting seo settings")
	}
	return ctx.JSON(http.StatusOK, seo)
}

func (api *settingsApi) updateSEO(ctx echo.Context) error {
	var data settings.SEO
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SEO")
	}
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	rctx := ctx.Request().Context()
	seo, err := api.svc.UpdateSEO(rctx, data, actor.UserID)
	if err != nil {
		return errors.Wrap(err, "updating seo settings")
	}
	api.sessions.RecordActivity(rctx, actor.SessionID, session.ActionUpdate, "settings/"+settings.KeySEO, seo.SiteTitle)
	return ctx.JSON(http.StatusOK, seo)
}
