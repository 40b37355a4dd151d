package main

import (
	"context"
	"expvar"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	echoapi "github.com/trezcool/campus/apps/api/echo"
	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/authz"
	"github.com/trezcool/campus/core/content"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/core/settings"
	"github.com/trezcool/campus/core/shield"
	"github.com/trezcool/campus/core/user"
	"github.com/trezcool/campus/services/email"
	"github.com/trezcool/campus/services/logger"
	"github.com/trezcool/campus/services/pubsub"
	"github.com/trezcool/campus/storage/database"
	"github.com/trezcool/campus/storage/database/inmem"
	"github.com/trezcool/campus/storage/database/sqlxrepos"
	"github.com/trezcool/campus/storage/mongodb"
	"github.com/trezcool/campus/storage/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "api: %v\n", err)
		os.Exit(1)
	}
}

type repositories struct {
	users    user.Repository
	sessions session.Repository
	settings settings.Repository
	content  content.Repository
}

func run() error {
	// =========================================================================
	// Set up Dependencies

	conf := core.Conf

	zlog, err := logsvc.NewZap(conf)
	if err != nil {
		return err
	}
	logger := logsvc.NewRollbarLogger(zlog, conf)
	logger.Enable(!conf.Debug)
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bus := pubsub.NewBus(logger)
	defer func() { _ = bus.Close() }()

	repos, closeDB, err := setUpDatabase(ctx, conf, bus, logger)
	if err != nil {
		return errors.Wrap(err, "setting up database")
	}
	defer closeDB()

	if repos.content == nil {
		if repos.content, err = setUpContent(ctx, conf, bus, logger); err != nil {
			return errors.Wrap(err, "setting up content store")
		}
	}

	shieldStore, err := setUpShieldStore(ctx, conf, logger)
	if err != nil {
		return errors.Wrap(err, "setting up shield store")
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	content.InitValidators(validate, translator)

	core.ParseEmailTemplates(logger)

	sessSvc := session.NewService(repos.sessions, bus, mailSvc, logger)
	usrSvc := user.NewService(repos.users, bus, sessSvc, mailSvc, logger)
	settingsSvc := settings.NewService(repos.settings, bus, validate)
	contentSvc := content.NewService(repos.content, bus, sessSvc, validate)

	// the public site reads the security settings on every request
	security := settings.NewSecurityCache()
	go security.Run(ctx, settingsSvc, logger)
	select {
	case <-security.Ready():
	case <-ctx.Done():
		return nil
	}

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugAddress, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	shutdown := make(chan struct{}, 1)
	server := echoapi.NewServer(&echoapi.Options{
		Address:        conf.Server.Address,
		LoginRateLimit: conf.Server.LoginRateLimit,
		UserSvc:        usrSvc,
		SessionSvc:     sessSvc,
		SettingsSvc:    settingsSvc,
		ContentSvc:     contentSvc,
		Shield:         shield.New(shieldStore, logger),
		Security:       security,
		Table:          authz.DefaultTable(),
		Validate:       validate,
		Translator:     translator,
		Logger:         logger,
		SignalShutdown: func() {
			select {
			case shutdown <- struct{}{}:
			default:
			}
		},
	})

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("API listening on " + conf.Server.Address)
		serverErrors <- server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-serverErrors:
		return errors.Wrap(err, "server error")
	case <-shutdown:
		logger.Info("integrity issue: start shutdown...")
	case <-ctx.Done():
		logger.Info("signal received: start shutdown...")
	}

	// give outstanding requests a deadline for completion
	sctx, scancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
	defer scancel()

	if err = server.Stop(sctx); err != nil {
		return errors.Wrap(err, "could not stop server gracefully")
	}
	return nil
}

// setUpDatabase opens the relational store. The postgres engine also relays its change notifications to the bus.
// The content repository is only set by the memory engine.
func setUpDatabase(ctx context.Context, conf *core.Config, bus *pubsub.Bus, logger core.Logger) (repositories, func(), error) {
	if conf.Database.Engine == "memory" {
		logger.Warn("using the in-memory database: nothing is persisted")
		db := inmemdb.NewDB(bus)
		return repositories{
			users:    inmemdb.NewUserRepository(db),
			sessions: inmemdb.NewSessionRepository(db),
			settings: inmemdb.NewSettingsRepository(db),
			content:  inmemdb.NewContentRepository(db),
		}, func() {}, nil
	}

	if err := database.CreateIfNotExist(ctx, conf); err != nil {
		return repositories{}, nil, err
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		return repositories{}, nil, err
	}
	closeDB := func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", err)
		}
	}
	if err = database.Migrate(db.DB); err != nil {
		closeDB()
		return repositories{}, nil, err
	}

	go func() {
		if err := database.Listen(ctx, conf, bus, logger); err != nil {
			logger.Error("database listener stopped", err)
		}
	}()
	return sqlRepositories(db), closeDB, nil
}

func sqlRepositories(db *sqlx.DB) repositories {
	return repositories{
		users:    sqlxrepos.NewUserRepository(db),
		sessions: sqlxrepos.NewSessionRepository(db),
		settings: sqlxrepos.NewSettingsRepository(db),
	}
}

func setUpContent(ctx context.Context, conf *core.Config, bus *pubsub.Bus, logger core.Logger) (content.Repository, error) {
	mdb, err := mongodb.Database(ctx, conf)
	if err != nil {
		return nil, err
	}
	// writes are announced by the change stream when it runs
	var pub core.Publisher = bus
	if conf.Mongo.ChangeStreams {
		pub = nil
	}
	repo, err := mongodb.NewContentRepository(mdb, pub)
	if err != nil {
		return nil, err
	}
	if conf.Mongo.ChangeStreams {
		go func() {
			if err := mongodb.WatchChanges(ctx, mdb, bus, logger); err != nil {
				logger.Error("content change stream stopped", err)
			}
		}()
	}
	return repo, nil
}

// setUpShieldStore shares the shield counters through Redis when configured.
func setUpShieldStore(ctx context.Context, conf *core.Config, logger core.Logger) (shield.Store, error) {
	if conf.Redis.URL == "" {
		logger.Info("no redis configured: the refresh shield counts per instance")
		return shield.NewMemoryStore(), nil
	}
	client, err := redis.NewClient(ctx, conf)
	if err != nil {
		return nil, err
	}
	return redis.NewShieldStore(client), nil
}
