package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"

	echoapi "github.com/trezcool/mnada/apps/api/echo"
	"github.com/trezcool/mnada/core"
	"github.com/trezcool/mnada/core/auction"
	"github.com/trezcool/mnada/core/notification"
	"github.com/trezcool/mnada/core/school"
	"github.com/trezcool/mnada/core/user"
	appfs "github.com/trezcool/mnada/fs"
	"github.com/trezcool/mnada/realtime"
	brokersvc "github.com/trezcool/mnada/services/broker"
	emailsvc "github.com/trezcool/mnada/services/email"
	logsvc "github.com/trezcool/mnada/services/logger"
	"github.com/trezcool/mnada/storage/database"
	sqlxrepos "github.com/trezcool/mnada/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error("failed to close DB", err)
		}
	}()

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}

	// notification broker is optional; notifications are still persisted without it
	var broker notification.Broker
	if !conf.Broker.Disabled {
		amqpBroker, err := brokersvc.NewAMQPBroker(conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up broker: %v", err), err)
		}
		defer func() { _ = amqpBroker.Close() }()
		broker = amqpBroker
	}

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	school.InitValidators(validate, translator)

	core.ParseEmailTemplates(appfs.FS, logger)

	hub := realtime.NewHub(logger)

	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), mailSvc, validate)
	schSvc := school.NewService(sqlxrepos.NewSchoolRepository(db), logger, validate)
	notifSvc := notification.NewService(sqlxrepos.NewNotificationRepository(db), broker, logger)
	aucSvc := auction.NewService(
		sqlxrepos.NewAuctionRepository(db), hub, notifSvc, usrSvc, mailSvc, logger, validate)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	// scheduled transitions: due auctions go live, expired auctions end
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go aucSvc.RunSweeper(sweepCtx)

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(echoapi.ServerDeps{
		Conf:       conf,
		Logger:     logger,
		UserSvc:    usrSvc,
		SchoolSvc:  schSvc,
		AuctionSvc: aucSvc,
		NotifSvc:   notifSvc,
		Hub:        hub,
		Validate:   validate,
		Translator: translator,
	})

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))
		stopSweeper()

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
