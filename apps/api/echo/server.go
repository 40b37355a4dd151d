package echoapi

import (
	"context"
	"net/http"

	"github.com/go-chi/httprate"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/authz"
	"github.com/trezcool/campus/core/content"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/settings"
	"github.com/trezcool/campus/core/shield"
	"github.com/trezcool/campus/core/user"
)

type (
	Options struct {
		Address        string
		DisableReqLogs bool
		// LoginRateLimit is the number of login attempts allowed per IP and LoginRateWindow; 0 disables the limit.
		LoginRateLimit int

		UserSvc     *user.Service
		SessionSvc  *session.Service
		SettingsSvc *settings.Service
		ContentSvc  *content.Service
		Shield      *shield.Shield
		// Security provides the settings read on every request; defaults to SettingsSvc.
		Security settings.SecuritySource
		Table    authz.Table

		Validate       *validator.Validate
		Translator     ut.Translator
		Logger         core.Logger
		SignalShutdown func()
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	if opts.Security == nil {
		opts.Security = opts.SettingsSvc
	}
	if opts.Table.Menu == nil {
		opts.Table = authz.DefaultTable()
	}
	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	debug := core.Conf.Debug

	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(debug || core.Conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}
	s.app.Use(metricsMiddleware)

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, s.opts.SignalShutdown)
	s.app.HideBanner = true
	s.app.Debug = debug

	s.app.GET("/", home)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(appJWTConfig)
	loginLimit := func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	if s.opts.LoginRateLimit > 0 {
		loginLimit = echo.WrapMiddleware(httprate.LimitByIP(s.opts.LoginRateLimit, core.Conf.Server.LoginRateWindow))
	}

	// authenticated admin endpoints run on an active session with a known profile
	admin := v1.Group("/admin", jwt, sessionMiddleware(s.opts.SessionSvc), profileMiddleware(s.opts.UserSvc))

	registerUserAPI(v1, admin, jwt, loginLimit, s.opts)
	registerGateAPI(admin, s.opts)
	registerSessionAPI(admin, s.opts)
	registerSettingsAPI(admin, s.opts)
	registerContentAPI(admin, s.opts)
	registerBackupAPI(admin, s.opts)
	registerPanelAPI(v1, s.opts)
	registerPublicAPI(v1, s.opts)
}

func (s *server) Start() error {
	return s.app.Start(s.opts.Address)
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to "+core.Conf.AppName+" API!")
}
