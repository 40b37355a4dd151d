package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/authz"
	"github.com/trezcool/campus/core/settings"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/services/metrics"
)

type gateApi struct {
	users    *user.Service
	security settings.SecuritySource
	table    authz.Table
}

func registerGateAPI(admin *echo.Group, opts *Options) {
	api := gateApi{users: opts.UserSvc, security: opts.Security, table: opts.Table}

	// reachable in migration mode: the panel needs them to find the backup page
	admin.GET("/me", api.me)
	admin.GET("/gate", api.gate)
}

type MeResponse struct {
	User     user.User      `json:"user"`
	Profile  user.Profile   `json:"profile"`
	Decision authz.Decision `json:"decision"`
}

func (api *gateApi) decide(ctx echo.Context) (authz.Decision, user.Profile, error) {
	prof, err := getContextProfile(ctx)
	if err != nil {
		return authz.Decision{}, user.Profile{}, err
	}
	sec, err := api.security.Security(ctx.Request().Context())
	if err != nil {
		return authz.Decision{}, user.Profile{}, errors.Wrap(err, "getting security settings")
	}
	d := authz.Evaluate(authz.Input{
		Role:          prof.Role,
		Permissions:   prof.Permissions,
		MigrationMode: sec.MigrationMode,
		Path:          ctx.QueryParam("path"),
	}, api.table)
	metrics.RecordGateDecision(d.Allowed)
	return d, prof, nil
}

func (api *gateApi) me(ctx echo.Context) error {
	d, prof, err := api.decide(ctx)
	if err != nil {
		return err
	}
	usr, err := getContextUser(ctx, api.users)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	return ctx.JSON(http.StatusOK, MeResponse{User: usr, Profile: prof, Decision: d})
}

func (api *gateApi) gate(ctx echo.Context) error {
	d, _, err := api.decide(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, d)
}
