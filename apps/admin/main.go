package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/trezcool/campus/core"
	"github.com/trezcool/campus/core/session"
	"github.com/trezcool/campus/services/email"
	"github.com/trezcool/campus/services/logger"
	"github.com/trezcool/campus/services/pubsub"
	"github.com/trezcool/campus/storage/database"
	"github.com/trezcool/campus/storage/database/sqlxrepos"
)

func main() {
	conf := core.Conf

	zlog, err := logsvc.NewZap(conf)
	if err != nil {
		zlog = zap.NewExample()
	}
	logger := logsvc.NewRollbarLogger(zlog.Named("admin"), conf)
	logger.Enable(false)
	defer logger.Sync()

	// set up DB
	ctx := context.Background()
	if err = database.CreateIfNotExist(ctx, conf); err != nil {
		logger.Fatal("setting up database", err)
	}
	db, err := database.Open(ctx, conf)
	if err != nil {
		logger.Fatal("opening database", err)
	}
	defer func() { _ = db.Close() }()

	bus := pubsub.NewBus(logger)
	defer func() { _ = bus.Close() }()
	sessRepo := sqlxrepos.NewSessionRepository(db)

	// start CLI
	cli := commandLine{
		db:       db.DB,
		usrRepo:  sqlxrepos.NewUserRepository(db),
		sessions: session.NewService(sessRepo, bus, emailsvc.NewConsoleService(logger), logger),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			logger.Error("command failed", err)
		}
		os.Exit(1)
	}
}
