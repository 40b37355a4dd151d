package echoapi

import (
	"math"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campus/core/authz"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/settings"
	"github.com/trezcool/campus/core/shield"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/services/metrics"
)

// sessionMiddleware rejects tokens whose session was revoked.
func sessionMiddleware(svc *session.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.SessionID == "" {
				return errSessionRevoked
			}
			s, err := svc.Get(ctx.Request().Context(), claims.SessionID)
			if err != nil {
				if errors.Cause(err) == session.ErrNotFound {
					return errSessionRevoked
				}
				return errors.Wrap(err, "getting session")
			}
			if !s.IsActive() || s.UserID != claims.Subject {
				return errSessionRevoked
			}
			ctx.Set(contextSessionKey, s)
			return next(ctx)
		}
	}
}

// profileMiddleware loads the effective profile of the context user.
func profileMiddleware(svc *user.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx, svc)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			if !usr.IsActive {
				return errAccountDeactivated
			}
			prof, err := svc.EffectiveProfile(ctx.Request().Context(), usr)
			if err != nil {
				if errors.Cause(err) == user.ErrProfileNotFound {
					return errProfileMissing
				}
				return errors.Wrap(err, "getting effective profile")
			}
			ctx.Set(contextProfileKey, prof)
			return next(ctx)
		}
	}
}

// gateMiddleware runs the authorization gate for the admin page an endpoint belongs to.
// Migration mode locks everything but the backup page.
func gateMiddleware(table authz.Table, security settings.SecuritySource, pagePath func(echo.Context) string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			prof, err := getContextProfile(ctx)
			if err != nil {
				return err
			}
			sec, err := security.Security(ctx.Request().Context())
			if err != nil {
				return errors.Wrap(err, "getting security settings")
			}

			d := authz.Evaluate(authz.Input{
				Role:          prof.Role,
				Permissions:   prof.Permissions,
				MigrationMode: sec.MigrationMode,
				Path:          pagePath(ctx),
			}, table)
			metrics.RecordGateDecision(d.Allowed)

			switch {
			case d.Redirect != "":
				return errMigrationMode
			case !d.Allowed:
				return errHttpForbidden
			}
			return next(ctx)
		}
	}
}

func page(path string) func(echo.Context) string {
	return func(echo.Context) string { return path }
}

// shieldMiddleware throttles page refreshes per client IP while the login shield is active.
func shieldMiddleware(sh *shield.Shield, security settings.SecuritySource) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			sec, err := security.Security(ctx.Request().Context())
			if err != nil {
				return errors.Wrap(err, "getting security settings")
			}
			v := sh.Check(ctx.Request().Context(), ctx.RealIP(), sec)
			if !v.Allowed {
				metrics.ShieldBlocksTotal.Inc()
				secs := int(math.Ceil(v.RetryAfter.Seconds()))
				ctx.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				return errTooManyRequests
			}
			return next(ctx)
		}
	}
}

func maintenanceMiddleware(security settings.SecuritySource) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			sec, err := security.Security(ctx.Request().Context())
			if err != nil {
				return errors.Wrap(err, "getting security settings")
			}
			if sec.MaintenanceMode {
				return errMaintenance
			}
			return next(ctx)
		}
	}
}

// metricsMiddleware records the count and duration of requests per route.
func metricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		start := time.Now()
		if err := next(ctx); err != nil {
			ctx.Error(err)
		}
		metrics.RecordHTTPRequest(ctx.Request().Method, ctx.Path(), ctx.Response().Status, time.Since(start))
		return nil
	}
}
