package echoapi

import (
	"net/http"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/authz"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/user"
)

var (
	errUsrNotFoundInCtx  = errors.New("user object not found in echo.Context")
	errNoPermsToSetRoles = "not enough rights to set these roles"
	errNoPermsToGrant    = "not enough rights to grant these permissions"
)

type userApi struct {
	svc      *user.Service
	sessions *session.Service
	validate *validator.Validate
}

func registerUserAPI(v1, admin *echo.Group, jwt, loginLimit echo.MiddlewareFunc, opts *Options) {
	api := userApi{
		svc:      opts.UserSvc,
		sessions: opts.SessionSvc,
		validate: opts.Validate,
	}

	ug := v1.Group("/users")

	// un-authed endpoints share one per-IP budget
	ug.POST("/login", api.login, loginLimit)
	ug.POST("/password-reset", api.resetPassword, loginLimit)
	ug.POST("/password-reset-confirm", api.confirmPasswordReset, loginLimit)

	// authed endpoints
	ag := ug.Group("", jwt, sessionMiddleware(opts.SessionSvc))
	ag.POST("/token-refresh", api.refreshToken)
	ag.POST("/logout", api.logout)

	// identity management
	mg := admin.Group("/users", gateMiddleware(opts.Table, opts.Security, page("/admin/users")))
	mg.GET("", api.query)
	mg.POST("", api.create)
	mg.DELETE("", api.destroyMultiple)
	mg.GET("/roles", api.queryRoles)

	// detail endpoints
	dg := mg.Group("/:id", objectMiddleware(api.svc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
}

// Handlers

func (api *userApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	usr, err := authenticate(rctx, data.Username, data.Password, api.svc)
	if err != nil {
		return errors.Wrap(err, "authenticating")
	}
	s, err := api.sessions.Create(rctx, session.NewSession{
		UserID:    usr.ID,
		Name:      usr.Name,
		Email:     usr.Email,
		UserAgent: ctx.Request().UserAgent(),
		IP:        ctx.RealIP(),
	})
	if err != nil {
		return errors.Wrap(err, "opening session")
	}
	token, err := GenerateToken(GetUserClaims(usr, s.ID))
	if err != nil {
		return errors.Wrap(err, "generating token")
	}

	return ctx.JSON(http.StatusOK, LoginResponse{Token: token, SessionID: s.ID})
}

func (api *userApi) logout(ctx echo.Context) error {
	s, err := getContextSession(ctx)
	if err != nil {
		return err
	}
	// signing out is not a remote revocation: no acting session
	if _, err = api.sessions.Revoke(ctx.Request().Context(), s.ID, session.Actor{UserID: s.UserID}); err != nil {
		return errors.Wrap(err, "revoking session")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *userApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email); !(err == nil || core.IsNotFound(err)) {
		// do not return errors to attackers
		ctx.Logger().Errorf("%+v", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
}

func (api *userApi) confirmPasswordReset(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

func (api *userApi) refreshToken(ctx echo.Context) error {
	token, err := refreshToken(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "refreshing token")
	}
	return ctx.JSON(http.StatusOK, LoginResponse{Token: token})
}

func (api *userApi) create(ctx echo.Context) error {
	var data user.NewUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewUser")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, api.validate, api.svc); err != nil {
		return err
	}
	if err := checkGrants(ctx, data.Role, data.Permissions); err != nil {
		return err
	}

	acc, err := api.svc.Create(rctx, data)
	if err != nil {
		return errors.Wrap(err, "creating user")
	}
	api.recordActivity(ctx, session.ActionCreate, acc.User)

	return ctx.JSON(http.StatusCreated, acc)
}

func (api *userApi) query(ctx echo.Context) error {
	filter := new(user.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []user.Account{})
	}
	filter.Clean()
	ordering := new(Ordering)
	ordering.Bind(ctx)

	accs, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	return ctx.JSON(http.StatusOK, accs)
}

func (api *userApi) retrieve(ctx echo.Context) error {
	acc, ok := ctx.Get("object").(user.Account)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, acc)
}

func (api *userApi) update(ctx echo.Context) error {
	acc, ok := ctx.Get("object").(user.Account)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	var data user.UpdateUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUser")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, acc.User, api.validate, api.svc); err != nil {
		return err
	}
	if err := checkOutranks(ctx, acc); err != nil {
		return err
	}
	if err := checkGrants(ctx, data.Role, data.Permissions); err != nil {
		return err
	}

	acc, err := api.svc.Update(rctx, acc.ID, data)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	api.recordActivity(ctx, session.ActionUpdate, acc.User)

	return ctx.JSON(http.StatusOK, acc)
}

func (api *userApi) destroy(ctx echo.Context) error {
	acc, ok := ctx.Get("object").(user.Account)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	// Say No to Suicide! ctxUser cannot delete themselves
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	if acc.ID == actor.UserID {
		return errHttpForbidden
	}
	if err = checkOutranks(ctx, acc); err != nil {
		return err
	}

	if err = api.svc.Delete(ctx.Request().Context(), actor.UserID, acc.ID); err != nil {
		return errors.Wrap(err, "deleting user")
	}
	api.recordActivity(ctx, session.ActionDelete, acc.User)
	return ctx.NoContent(http.StatusNoContent)
}

func (api *userApi) destroyMultiple(ctx echo.Context) error {
	var query DestroyMultipleRequest
	if err := ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to DestroyMultipleRequest")
	}
	if query.IDs == nil {
		return ctx.NoContent(http.StatusNoContent)
	}

	// Say No to Suicide! ctxUser cannot delete themselves
	actor, err := getActor(ctx)
	if err != nil {
		return err
	}
	sort.Strings(query.IDs)
	if i := sort.SearchStrings(query.IDs, actor.UserID); i < len(query.IDs) {
		if match := query.IDs[i]; actor.UserID == match {
			return errHttpForbidden
		}
	}

	rctx := ctx.Request().Context()
	var deleted []user.User
	for _, id := range query.IDs {
		acc, err := api.svc.GetAccount(rctx, id)
		if err != nil {
			if errors.Cause(err) == user.ErrNotFound {
				continue
			}
			return errors.Wrap(err, "getting account")
		}
		if err = checkOutranks(ctx, acc); err != nil {
			return err
		}
		deleted = append(deleted, acc.User)
	}

	if err = api.svc.Delete(rctx, actor.UserID, query.IDs...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	for _, usr := range deleted {
		api.recordActivity(ctx, session.ActionDelete, usr)
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *userApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, authz.Roles)
}

func (api *userApi) recordActivity(ctx echo.Context, action string, usr user.User) {
	if actor, err := getActor(ctx); err == nil {
		api.sessions.RecordActivity(ctx.Request().Context(), actor.SessionID, action, "users/"+usr.Username, usr.Email)
	}
}

// checkGrants rejects roles above the context user's own, and capabilities they do not hold.
func checkGrants(ctx echo.Context, role string, perms []string) error {
	prof, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	if role != "" && authz.RolePriority(role) > user.MaxRolePriority(&prof) {
		return core.NewValidationError(nil, core.FieldError{Field: "role", Error: errNoPermsToSetRoles})
	}
	if perms == nil || prof.Role == authz.RoleSuperAdmin || prof.Permissions.IsUnrestricted() {
		return nil
	}
	granted := authz.ParsePermissions(perms...)
	if granted.IsUnrestricted() {
		return core.NewValidationError(nil, core.FieldError{Field: "permissions", Error: errNoPermsToGrant})
	}
	for _, c := range granted.Capabilities() {
		if !prof.Permissions.Has(c) {
			return core.NewValidationError(nil, core.FieldError{Field: "permissions", Error: errNoPermsToGrant})
		}
	}
	return nil
}

// checkOutranks forbids managing an identity whose role is above the context user's own.
func checkOutranks(ctx echo.Context, target user.Account) error {
	prof, err := getContextProfile(ctx)
	if err != nil {
		return err
	}
	if user.MaxRolePriority(target.Profile) > user.MaxRolePriority(&prof) {
		return errHttpForbidden
	}
	return nil
}

func objectMiddleware(svc *user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			acc, err := svc.GetAccount(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == user.ErrNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "getting account")
			}
			ctx.Set("object", acc)
			return next(ctx)
		}
	}
}

type (
	LoginRequest struct {
		Username string `json:"username" validate:"required"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Token     string `json:"token"`
		SessionID string `json:"session_id,omitempty"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}

	DestroyMultipleRequest struct {
		IDs []string `query:"id"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Username = core.CleanString(lr.Username, true /* lower */)
	return validate.Struct(lr)
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return validate.Struct(pr)
}
